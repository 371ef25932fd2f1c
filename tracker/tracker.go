package tracker

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/copytrader/dedupe"
	"github.com/web3guy0/copytrader/queue"
	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRACKER - Deduplicating polling loop
// ═══════════════════════════════════════════════════════════════════════════════
//
// Polls the trade source at a fixed interval, filters trades whose ID was
// already seen, sorts survivors chronologically and enqueues them. The seen
// set is updated only AFTER a successful enqueue: a crash between fetch and
// enqueue re-observes the trade on the next poll (at-least-once delivery;
// the engine is the final dedup authority).
//
// ═══════════════════════════════════════════════════════════════════════════════

// TradeSource supplies raw trade records for the tracked account.
type TradeSource interface {
	FetchRecentTrades(ctx context.Context, wallet string, limit int) ([]types.TrackedTrade, error)
}

// SeenPersister records dedup identifiers durably, keeping at most keep
// rows. Implemented by storage.Database.
type SeenPersister interface {
	SaveSeenTrade(tradeID string, keep int) error
}

// Tracker polls a wallet's trades and feeds the queue.
type Tracker struct {
	source   TradeSource
	queue    *queue.Queue
	seen     *dedupe.Set
	wallet   string
	interval time.Duration
	limit    int

	persist     SeenPersister // may be nil
	persistKeep int
}

// WithPersistence enables durable seen-trade recording so a restart does
// not re-copy already mirrored trades.
func (t *Tracker) WithPersistence(p SeenPersister, keep int) *Tracker {
	t.persist = p
	t.persistKeep = keep
	return t
}

// New creates a tracker. seen may already hold identifiers recovered from
// storage so a restart does not re-copy mirrored trades.
func New(source TradeSource, q *queue.Queue, seen *dedupe.Set, wallet string, interval time.Duration, limit int) *Tracker {
	return &Tracker{
		source:   source,
		queue:    q,
		seen:     seen,
		wallet:   wallet,
		interval: interval,
		limit:    limit,
	}
}

// Run polls until ctx is cancelled, then closes the queue so the consumer
// drains and stops. The first poll only establishes a baseline: trades that
// predate startup are marked seen, never mirrored.
func (t *Tracker) Run(ctx context.Context) error {
	defer t.queue.Close()

	t.baseline(ctx)

	log.Info().
		Str("wallet", maskWallet(t.wallet)).
		Dur("interval", t.interval).
		Int("limit", t.limit).
		Msg("👀 Tracker started")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Tracker stopped")
			return nil
		case <-ticker.C:
			if err := t.poll(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrClosed) {
					return nil
				}
				// Adapter errors never terminate the loop.
				log.Warn().Err(err).Msg("Poll failed, retrying next tick")
			}
		}
	}
}

// baseline marks the wallet's current trades as seen without enqueuing.
// Skipped when the seen set was recovered non-empty from storage.
func (t *Tracker) baseline(ctx context.Context) {
	if t.seen.Len() > 0 {
		log.Info().Int("recovered", t.seen.Len()).Msg("📥 Seen-trade baseline recovered")
		return
	}
	trades, err := t.source.FetchRecentTrades(ctx, t.wallet, t.limit)
	if err != nil {
		log.Warn().Err(err).Msg("Baseline fetch failed, starting empty")
		return
	}
	for _, tr := range trades {
		t.seen.Add(tr.ID)
		t.persistSeen(tr.ID)
	}
	log.Info().Int("count", len(trades)).Msg("Baseline established")
}

// poll fetches once and enqueues unseen trades in chronological order.
func (t *Tracker) poll(ctx context.Context) error {
	trades, err := t.source.FetchRecentTrades(ctx, t.wallet, t.limit)
	if err != nil {
		return err
	}

	fresh := make([]types.TrackedTrade, 0, len(trades))
	for _, tr := range trades {
		if !t.seen.Contains(tr.ID) {
			fresh = append(fresh, tr)
		}
	}
	if len(fresh) == 0 {
		return nil
	}

	// Deterministic downstream ordering: timestamp ascending, ties by ID.
	sort.Slice(fresh, func(i, j int) bool {
		if fresh[i].Timestamp.Equal(fresh[j].Timestamp) {
			return fresh[i].ID < fresh[j].ID
		}
		return fresh[i].Timestamp.Before(fresh[j].Timestamp)
	})

	for _, tr := range fresh {
		if err := t.queue.Put(ctx, tr); err != nil {
			return err
		}
		t.seen.Add(tr.ID)
		t.persistSeen(tr.ID)
		log.Debug().
			Str("trade_id", tr.ID).
			Str("market", tr.Market).
			Str("side", string(tr.Side)).
			Str("size", tr.Size.String()).
			Msg("New trade enqueued")
	}

	log.Info().Int("count", len(fresh)).Msg("🔎 New trades observed")
	return nil
}

// persistSeen records the ID durably; failures only log.
func (t *Tracker) persistSeen(id string) {
	if t.persist == nil {
		return
	}
	if err := t.persist.SaveSeenTrade(id, t.persistKeep); err != nil {
		log.Warn().Err(err).Str("trade_id", id).Msg("Failed to persist seen trade")
	}
}

func maskWallet(w string) string {
	if len(w) < 10 {
		return w
	}
	return w[:6] + "..." + w[len(w)-4:]
}
