package engine

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copytrader/dedupe"
	"github.com/web3guy0/copytrader/ledger"
	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DECISION ENGINE - Mirrors the target's behavior into order intents
// ═══════════════════════════════════════════════════════════════════════════════
//
// Per trade, in one serialized pass:
//   1. Update the target's estimated position (clamped at zero)
//   2. Opening BUY on an empty ledger → open intent, subject to capacity
//   3. SELL on an OPEN ledger → full-exit close intent when the sold
//      fraction of the target's pre-trade position reaches the threshold,
//      or when the target fully exits (threshold override)
//
// The consumer drains the queue one trade at a time, so decisions are never
// concurrent; the ledger store's per-market lock additionally fences the
// reconciliation worker.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Submitter hands an order intent to the execution service. Declared here
// to avoid an import cycle with the execution package.
type Submitter interface {
	Submit(ctx context.Context, intent ledger.OrderIntent) error
}

// PriceSource supplies a live price hint for markets whose trade events
// carry a zero/unknown price. May be nil.
type PriceSource interface {
	GetPrice(market string) decimal.Decimal
}

// Config holds the sizing and capacity rules.
type Config struct {
	FixedAmountUSDC   decimal.Decimal
	MaxActiveLedgers  int
	CloseThresholdPct decimal.Decimal // percentage, e.g. 80
	FullExitEpsilon   decimal.Decimal
}

// Engine decides open/close actions per incoming trade.
type Engine struct {
	store     *ledger.Store
	submitter Submitter
	prices    PriceSource
	seen      *dedupe.Set
	cfg       Config
}

// New creates a decision engine. prices may be nil.
func New(store *ledger.Store, submitter Submitter, prices PriceSource, cfg Config) *Engine {
	return &Engine{
		store:     store,
		submitter: submitter,
		prices:    prices,
		seen:      dedupe.NewSet(2048),
		cfg:       cfg,
	}
}

// Process evaluates one trade. Redelivery of an already processed trade ID
// is a no-op; the engine is the final dedup authority behind the tracker's
// at-least-once delivery. Execution failures are translated into ledger
// rollbacks and notifications by the execution service, never surfaced here.
func (e *Engine) Process(ctx context.Context, trade types.TrackedTrade) {
	if trade.Size.LessThanOrEqual(decimal.Zero) {
		log.Debug().Str("trade_id", trade.ID).Msg("Skipping trade with no size")
		return
	}
	if trade.Side != types.SideBuy && trade.Side != types.SideSell {
		log.Debug().Str("trade_id", trade.ID).Str("side", string(trade.Side)).Msg("Skipping unknown side")
		return
	}
	if e.seen.Contains(trade.ID) {
		log.Debug().Str("trade_id", trade.ID).Msg("Duplicate trade, ignoring")
		return
	}
	e.seen.Add(trade.ID)

	// Feeds that support per-market subscriptions start watching on the
	// first trade, so a price is usually cached before we need a hint.
	if w, ok := e.prices.(interface{ Watch(market string) }); ok {
		w.Watch(trade.Market)
	}

	var intent *ledger.OrderIntent
	err := e.store.With(trade.Market, func(l *ledger.Ledger) error {
		intent = e.decide(l, trade)
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("market", trade.Market).Msg("Ledger update failed")
		return
	}

	if intent != nil {
		if err := e.submitter.Submit(ctx, *intent); err != nil {
			log.Warn().
				Err(err).
				Str("market", intent.Market).
				Str("kind", string(intent.Kind)).
				Msg("Order intent not executed")
		}
	}
}

// decide updates the target estimate and returns an order intent, or nil
// for a no-op. Runs under the ledger's per-market lock.
func (e *Engine) decide(l *ledger.Ledger, trade types.TrackedTrade) *ledger.OrderIntent {
	pre := l.TargetPosition

	// Target estimate: BUY adds, SELL subtracts clamped at zero. Tracking
	// may have started mid-position, so a sell against a zero base means
	// the base is unknown, not negative.
	if trade.Side == types.SideBuy {
		l.TargetPosition = pre.Add(trade.Size)
	} else {
		next := pre.Sub(trade.Size)
		if next.Sign() < 0 {
			next = decimal.Zero
		}
		l.TargetPosition = next
	}

	switch {
	case trade.Side == types.SideBuy && (l.State == ledger.StateNone || l.State == ledger.StateClosed):
		return e.decideOpen(l, trade)

	case trade.Side == types.SideSell && l.State == ledger.StateOpen:
		return e.decideClose(l, trade, pre)

	case l.State == ledger.StatePendingOpen || l.State == ledger.StatePendingClose:
		log.Debug().
			Str("market", trade.Market).
			Str("state", string(l.State)).
			Msg("Order outstanding, estimate updated only")
	}
	return nil
}

func (e *Engine) decideOpen(l *ledger.Ledger, trade types.TrackedTrade) *ledger.OrderIntent {
	if l.InFlight {
		// In-flight on a NONE/CLOSED ledger means a pending order exists
		// without a pending state. Refuse rather than double-act.
		log.Error().
			Str("market", trade.Market).
			Str("state", string(l.State)).
			Msg("🚨 Invariant breach: in-flight ledger outside pending state, open refused")
		return nil
	}
	if e.store.ActiveCount() >= e.cfg.MaxActiveLedgers {
		log.Info().
			Str("market", trade.Market).
			Int("max", e.cfg.MaxActiveLedgers).
			Msg("At capacity, open skipped")
		return nil
	}

	price := trade.Price
	if price.LessThanOrEqual(decimal.Zero) && e.prices != nil {
		price = e.prices.GetPrice(trade.Market)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		log.Warn().
			Str("market", trade.Market).
			Str("trade_id", trade.ID).
			Msg("No usable price, open skipped")
		return nil
	}

	prev := l.Snapshot()
	if l.State == ledger.StateClosed {
		// Reopen: a closed ledger behaves like NONE for a fresh BUY.
		l.OwnSize = decimal.Zero
		l.OwnEntryPrice = decimal.Zero
	}
	size := e.cfg.FixedAmountUSDC.Div(price)
	l.State = ledger.StatePendingOpen

	log.Info().
		Str("market", trade.Market).
		Str("size", size.StringFixed(4)).
		Str("price", price.StringFixed(4)).
		Msg("🟢 Opening position")

	return &ledger.OrderIntent{
		Kind:      ledger.IntentOpen,
		Market:    trade.Market,
		Side:      types.SideBuy,
		Size:      size,
		PriceHint: price,
		Prev:      prev,
	}
}

func (e *Engine) decideClose(l *ledger.Ledger, trade types.TrackedTrade, pre decimal.Decimal) *ledger.OrderIntent {
	if pre.Sign() <= 0 {
		log.Debug().
			Str("market", trade.Market).
			Msg("Sell against unknown target base, no close decision")
		return nil
	}

	closedFraction := trade.Size.Div(pre)
	fullExit := l.TargetPosition.LessThanOrEqual(e.cfg.FullExitEpsilon)
	threshold := e.cfg.CloseThresholdPct.Div(decimal.NewFromInt(100))

	if !fullExit && closedFraction.LessThan(threshold) {
		log.Debug().
			Str("market", trade.Market).
			Str("fraction", closedFraction.StringFixed(4)).
			Str("threshold", threshold.StringFixed(4)).
			Msg("Partial trim below threshold, not mirrored")
		return nil
	}

	if l.InFlight {
		log.Error().
			Str("market", trade.Market).
			Msg("🚨 Close refused: order already in flight")
		return nil
	}

	priceHint := trade.Price
	if priceHint.LessThanOrEqual(decimal.Zero) && e.prices != nil {
		priceHint = e.prices.GetPrice(trade.Market)
	}

	prev := l.Snapshot()
	l.State = ledger.StatePendingClose

	reason := "threshold"
	if fullExit {
		reason = "full exit"
	}
	log.Info().
		Str("market", trade.Market).
		Str("own_size", l.OwnSize.StringFixed(4)).
		Str("fraction", closedFraction.StringFixed(4)).
		Str("reason", reason).
		Msg("🔴 Closing position")

	// Full-exit policy: always sell the entire own position, never a
	// proportional trim.
	return &ledger.OrderIntent{
		Kind:      ledger.IntentClose,
		Market:    trade.Market,
		Side:      types.SideSell,
		Size:      l.OwnSize,
		PriceHint: priceHint,
		Prev:      prev,
	}
}
