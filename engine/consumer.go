package engine

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/copytrader/queue"
)

// RunConsumer drains the queue one trade at a time, blocking on each
// decision (and its synchronous order submission) before taking the next.
// That single-consumer discipline is what serializes the decision engine:
// trades are never evaluated concurrently, in or across markets.
//
// On shutdown the trade currently being processed is finished; only the
// wait for the next trade is interrupted.
func (e *Engine) RunConsumer(ctx context.Context, q *queue.Queue) error {
	log.Info().Msg("⚙️ Consumer started")
	for {
		trade, ok := q.Get(ctx)
		if !ok {
			log.Info().Msg("Consumer stopped")
			return nil
		}
		e.Process(ctx, trade)
	}
}
