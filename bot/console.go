package bot

import (
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/copytrader/types"
)

// ConsoleNotifier logs events instead of sending them anywhere. Used when
// Telegram is not configured so the pipeline always has a sink.
type ConsoleNotifier struct{}

// Notify implements types.Notifier.
func (ConsoleNotifier) Notify(event types.Event) {
	ev := log.Info()
	if event.Kind == types.EventFailed || event.Kind == types.EventTimedOut {
		ev = log.Warn()
	}
	ev.
		Str("kind", string(event.Kind)).
		Str("market", event.Market).
		Str("size", event.Size.StringFixed(4)).
		Str("order_id", event.OrderID).
		Str("reason", event.Reason).
		Msg("🔔 Event")
}
