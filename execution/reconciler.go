package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copytrader/ledger"
	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION WORKER - Pending order → terminal ledger state
// ═══════════════════════════════════════════════════════════════════════════════

// RunReconciler polls the status of every pending order on a fixed interval
// until the context is cancelled. Each order resolves to exactly one of:
// confirmed (ledger transitions to its terminal state), rejected (ledger
// rolls back), or timed out (rolled back and flagged for manual review).
// Partial fills fold into the ledger incrementally and stay pending.
func (s *Service) RunReconciler(ctx context.Context) error {
	log.Info().
		Dur("interval", s.cfg.ReconcileInterval).
		Dur("timeout", s.cfg.OrderTimeout).
		Msg("🔄 Reconciliation worker started")

	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("🛑 Reconciliation worker stopped")
			return ctx.Err()
		case <-ticker.C:
			s.reconcileOnce(ctx)
		}
	}
}

// reconcileOnce resolves each pending order independently: one order's
// status failure never blocks the rest.
func (s *Service) reconcileOnce(ctx context.Context) {
	for _, snapshot := range s.Pending() {
		s.mu.Lock()
		order, ok := s.pending[snapshot.ID]
		s.mu.Unlock()
		if !ok {
			continue
		}

		report, err := s.status.OrderStatus(ctx, order.ID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", order.ID).Msg("⚠️ Order status check failed")
			report = types.StatusReport{Outcome: types.OutcomeUnknown}
		}

		switch report.Outcome {
		case types.OutcomeConfirmed:
			s.confirm(order, report)
		case types.OutcomePartiallyFilled:
			s.applyPartial(order, report)
		case types.OutcomeRejected:
			s.reject(order)
		default:
			s.checkTimeout(order)
		}
	}
}

// confirm applies the final fill and moves the ledger to its terminal
// state. Fill already folded in via partial updates is not re-applied.
func (s *Service) confirm(order *PendingOrder, report types.StatusReport) {
	delta := report.FillSize.Sub(order.AppliedFill)

	err := s.store.With(order.Market, func(l *ledger.Ledger) error {
		switch order.Kind {
		case ledger.IntentOpen:
			if delta.IsPositive() {
				l.OwnSize = l.OwnSize.Add(delta)
			}
			// The exchange's average fill price supersedes any
			// partial-fill estimate.
			if report.FillPrice.IsPositive() {
				l.OwnEntryPrice = report.FillPrice
			}
			l.State = ledger.StateOpen
		case ledger.IntentClose:
			l.OwnSize = decimal.Zero
			l.State = ledger.StateClosed
		}
		l.InFlight = false
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Confirm failed")
		return
	}

	s.remove(order)

	kind := types.EventOpened
	if order.Kind == ledger.IntentClose {
		kind = types.EventClosed
	}
	log.Info().
		Str("order_id", order.ID).
		Str("market", order.Market).
		Str("fill_size", report.FillSize.StringFixed(4)).
		Str("fill_price", report.FillPrice.StringFixed(4)).
		Msg("✅ Order confirmed")

	s.notify(types.Event{
		Kind:    kind,
		Market:  order.Market,
		Side:    order.Side,
		Size:    report.FillSize,
		Price:   report.FillPrice,
		OrderID: order.ID,
	})
}

// applyPartial folds the newly filled portion into the ledger at the
// intent price hint. The order stays pending and in-flight until a
// terminal status arrives.
func (s *Service) applyPartial(order *PendingOrder, report types.StatusReport) {
	delta := report.FillSize.Sub(order.AppliedFill)
	if !delta.IsPositive() {
		return
	}

	err := s.store.With(order.Market, func(l *ledger.Ledger) error {
		switch order.Kind {
		case ledger.IntentOpen:
			l.OwnSize = l.OwnSize.Add(delta)
			if l.OwnEntryPrice.IsZero() {
				l.OwnEntryPrice = order.PriceHint
			}
		case ledger.IntentClose:
			l.OwnSize = decimal.Max(decimal.Zero, l.OwnSize.Sub(delta))
		}
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Partial fill update failed")
		return
	}

	s.mu.Lock()
	order.AppliedFill = report.FillSize
	order.Status = StatusPartiallyFilled
	s.mu.Unlock()
	s.persist(order)

	log.Info().
		Str("order_id", order.ID).
		Str("market", order.Market).
		Str("filled", report.FillSize.StringFixed(4)).
		Str("total", order.Size.StringFixed(4)).
		Msg("🔸 Partial fill applied")
}

// reject restores the exact pre-intent ledger state, including any size
// applied from earlier partial fills of this order.
func (s *Service) reject(order *PendingOrder) {
	err := s.store.With(order.Market, func(l *ledger.Ledger) error {
		l.Restore(order.Prev)
		l.InFlight = false
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Rejection rollback failed")
		return
	}

	s.remove(order)

	log.Warn().
		Str("order_id", order.ID).
		Str("market", order.Market).
		Msg("❌ Order rejected, ledger rolled back")

	s.notify(types.Event{
		Kind:    types.EventFailed,
		Market:  order.Market,
		Side:    order.Side,
		Size:    order.Size,
		OrderID: order.ID,
		Reason:  "order rejected by exchange",
	})
}

// checkTimeout gives up on an order whose status has been unknown for
// longer than the configured timeout. The ledger rolls back as if
// rejected, but the real position is unverified: flag for manual review.
func (s *Service) checkTimeout(order *PendingOrder) {
	if time.Since(order.SubmittedAt) < s.cfg.OrderTimeout {
		return
	}

	err := s.store.With(order.Market, func(l *ledger.Ledger) error {
		l.Restore(order.Prev)
		l.InFlight = false
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Timeout rollback failed")
		return
	}

	s.mu.Lock()
	order.Status = StatusTimedOut
	s.mu.Unlock()
	s.remove(order)

	log.Error().
		Str("order_id", order.ID).
		Str("market", order.Market).
		Dur("age", time.Since(order.SubmittedAt)).
		Msg("🚨 Order status unknown past timeout, MANUAL REVIEW required")

	s.notify(types.Event{
		Kind:    types.EventTimedOut,
		Market:  order.Market,
		Side:    order.Side,
		Size:    order.Size,
		OrderID: order.ID,
		Reason:  "order status unresolved past timeout",
	})
}

// remove drops the order from the pending set and the journal.
func (s *Service) remove(order *PendingOrder) {
	s.mu.Lock()
	delete(s.pending, order.ID)
	s.mu.Unlock()
	s.unpersist(order.ID)
}
