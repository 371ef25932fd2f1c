package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copytrader/ledger"
	"github.com/web3guy0/copytrader/polymarket"
	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION SERVICE - Order submission and lifecycle
// ═══════════════════════════════════════════════════════════════════════════════
//
// Order flow:
//   Engine intent → mark ledger in-flight → submit (bounded retries)
//                       ↓ permanent failure            ↓ success
//                  rollback + notify            PendingOrder SUBMITTED
//                                                      ↓
//                                            reconciliation worker
//
// The in-flight flag is set BEFORE the adapter call, closing the race where
// a second trade for the same market is decided before the first order
// confirms.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderPlacer is the order placement adapter.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, market string, side types.Side, size, priceHint decimal.Decimal) (string, error)
}

// OrderStatusSource is the order status adapter.
type OrderStatusSource interface {
	OrderStatus(ctx context.Context, orderID string) (types.StatusReport, error)
}

// Journal persists the pending-order set so a restart resumes
// reconciliation instead of abandoning in-flight orders. May be nil.
type Journal interface {
	SavePendingOrder(o PendingOrder) error
	DeletePendingOrder(id string) error
}

// OrderStatus is the lifecycle state of a pending order.
type OrderStatus string

const (
	StatusSubmitted       OrderStatus = "SUBMITTED"
	StatusConfirmed       OrderStatus = "CONFIRMED"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusTimedOut        OrderStatus = "TIMED_OUT"
)

// PendingOrder is a submitted but unconfirmed action. Created by Submit,
// mutated only by the reconciliation worker, removed once terminal.
type PendingOrder struct {
	ID          string // exchange order ID, or LocalID until assigned
	LocalID     string
	Market      string
	Kind        ledger.IntentKind
	Side        types.Side
	Size        decimal.Decimal
	PriceHint   decimal.Decimal
	Status      OrderStatus
	SubmittedAt time.Time
	AppliedFill decimal.Decimal // fill size already folded into the ledger
	Prev        ledger.Snapshot // rollback point on rejection/timeout
}

// ExecutionError is a terminal submission failure, surfaced after the
// ledger has been rolled back and the sink notified.
type ExecutionError struct {
	Market string
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed for %s: %s", e.Market, e.Reason)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Config holds execution and reconciliation settings.
type Config struct {
	MaxRetries        int
	RetryBackoff      time.Duration
	ReconcileInterval time.Duration
	OrderTimeout      time.Duration
}

// Service submits order intents and tracks them until reconciled.
type Service struct {
	mu      sync.Mutex
	pending map[string]*PendingOrder

	cfg      Config
	store    *ledger.Store
	placer   OrderPlacer
	status   OrderStatusSource
	journal  Journal
	notifier types.Notifier
}

// NewService creates the execution service. journal and notifier may be nil.
func NewService(store *ledger.Store, placer OrderPlacer, status OrderStatusSource, journal Journal, notifier types.Notifier, cfg Config) *Service {
	return &Service{
		pending:  make(map[string]*PendingOrder),
		cfg:      cfg,
		store:    store,
		placer:   placer,
		status:   status,
		journal:  journal,
		notifier: notifier,
	}
}

// Load seeds the pending set with persisted orders on startup.
func (s *Service) Load(orders []PendingOrder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range orders {
		o := orders[i]
		s.pending[o.ID] = &o
	}
	if len(orders) > 0 {
		log.Warn().Int("count", len(orders)).Msg("⚠️ Pending orders recovered, resuming reconciliation")
	}
}

// RepairLedgers rolls back any ledger stranded in a pending state with no
// matching recovered order. A crash between a decision and its order being
// journaled leaves the ledger PENDING_* with nothing for the reconciler to
// resolve; no fill can have been recorded in that window, so the prior
// state is restored. Call after Load, before the loops start.
func (s *Service) RepairLedgers() {
	s.mu.Lock()
	covered := make(map[string]bool, len(s.pending))
	for _, o := range s.pending {
		covered[o.Market] = true
	}
	s.mu.Unlock()

	for _, l := range s.store.All() {
		if l.State != ledger.StatePendingOpen && l.State != ledger.StatePendingClose {
			continue
		}
		if covered[l.Market] {
			continue
		}
		market := l.Market
		err := s.store.With(market, func(l *ledger.Ledger) error {
			prev := l.State
			switch l.State {
			case ledger.StatePendingOpen:
				l.State = ledger.StateNone
				l.OwnSize = decimal.Zero
				l.OwnEntryPrice = decimal.Zero
			case ledger.StatePendingClose:
				l.State = ledger.StateOpen
			default:
				return nil
			}
			l.InFlight = false
			log.Warn().
				Str("market", market).
				Str("from", string(prev)).
				Str("to", string(l.State)).
				Msg("⚠️ Stranded pending ledger rolled back, review recommended")
			return nil
		})
		if err != nil {
			log.Error().Err(err).Str("market", market).Msg("🚨 Ledger repair failed")
		}
	}
}

// Pending returns a snapshot of the outstanding orders.
func (s *Service) Pending() []PendingOrder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingOrder, 0, len(s.pending))
	for _, o := range s.pending {
		out = append(out, *o)
	}
	return out
}

// Submit marks the intent's ledger in-flight, places the order with
// bounded retries on transient failures, and registers a PendingOrder.
// Permanent failures (rejection, exhausted retries) roll the ledger back
// to its pre-intent state, clear in-flight and notify the sink.
func (s *Service) Submit(ctx context.Context, intent ledger.OrderIntent) error {
	err := s.store.With(intent.Market, func(l *ledger.Ledger) error {
		if l.InFlight {
			return ledger.ErrInFlight
		}
		l.InFlight = true
		return nil
	})
	if err != nil {
		// Two in-flight orders for one ledger is a programming-level
		// fault: refuse the action rather than apply it.
		log.Error().Err(err).Str("market", intent.Market).Msg("🚨 Submit refused")
		return &ExecutionError{Market: intent.Market, Reason: "ledger already in flight", Err: err}
	}

	localID := ulid.Make().String()
	orderID, placeErr := s.placeWithRetry(ctx, intent)
	if placeErr != nil {
		s.rollback(intent, placeErr.Error())
		return &ExecutionError{Market: intent.Market, Reason: placeErr.Error(), Err: placeErr}
	}
	if orderID == "" {
		orderID = localID
	}

	order := &PendingOrder{
		ID:          orderID,
		LocalID:     localID,
		Market:      intent.Market,
		Kind:        intent.Kind,
		Side:        intent.Side,
		Size:        intent.Size,
		PriceHint:   intent.PriceHint,
		Status:      StatusSubmitted,
		SubmittedAt: time.Now().UTC(),
		AppliedFill: decimal.Zero,
		Prev:        intent.Prev,
	}

	s.mu.Lock()
	s.pending[order.ID] = order
	s.mu.Unlock()
	s.persist(order)

	log.Info().
		Str("order_id", order.ID).
		Str("market", intent.Market).
		Str("side", string(intent.Side)).
		Str("size", intent.Size.StringFixed(4)).
		Msg("📤 Order submitted")

	return nil
}

// placeWithRetry calls the placement adapter, retrying transient failures
// with linear backoff up to the configured attempt count. Rejections are
// returned immediately.
func (s *Service) placeWithRetry(ctx context.Context, intent ledger.OrderIntent) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxRetries; attempt++ {
		orderID, err := s.placer.PlaceOrder(ctx, intent.Market, intent.Side, intent.Size, intent.PriceHint)
		if err == nil {
			return orderID, nil
		}
		lastErr = err

		if !polymarket.IsTransient(err) {
			return "", err
		}

		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Str("market", intent.Market).
			Msg("⚠️ Order submission failed, retrying")

		if attempt < s.cfg.MaxRetries {
			select {
			case <-time.After(s.cfg.RetryBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
	}
	return "", fmt.Errorf("retries exhausted: %w", lastErr)
}

// rollback restores the pre-intent ledger state and notifies the sink.
func (s *Service) rollback(intent ledger.OrderIntent, reason string) {
	err := s.store.With(intent.Market, func(l *ledger.Ledger) error {
		l.Restore(intent.Prev)
		l.InFlight = false
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("market", intent.Market).Msg("Rollback failed")
	}

	log.Warn().
		Str("market", intent.Market).
		Str("kind", string(intent.Kind)).
		Str("reason", reason).
		Msg("↩️ Intent rolled back")

	s.notify(types.Event{
		Kind:   types.EventFailed,
		Market: intent.Market,
		Side:   intent.Side,
		Size:   intent.Size,
		Reason: reason,
	})
}

func (s *Service) persist(o *PendingOrder) {
	if s.journal == nil {
		return
	}
	if err := s.journal.SavePendingOrder(*o); err != nil {
		log.Error().Err(err).Str("order_id", o.ID).Msg("Failed to persist pending order")
	}
}

func (s *Service) unpersist(id string) {
	if s.journal == nil {
		return
	}
	if err := s.journal.DeletePendingOrder(id); err != nil {
		log.Error().Err(err).Str("order_id", id).Msg("Failed to delete pending order")
	}
}

// notify delivers fire-and-forget; a nil sink is fine.
func (s *Service) notify(ev types.Event) {
	if s.notifier != nil {
		s.notifier.Notify(ev)
	}
}
