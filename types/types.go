package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side is the direction of a trade or order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// TrackedTrade is an observed trade of the target wallet. Immutable once
// created by the trade source adapter; the ID is the dedup key.
type TrackedTrade struct {
	ID        string
	Market    string // CLOB token ID of the outcome token
	Side      Side
	Size      decimal.Decimal
	Price     decimal.Decimal
	Timestamp time.Time
	Wallet    string
}

// EventKind classifies a terminal notification event.
type EventKind string

const (
	EventOpened   EventKind = "OPENED"
	EventClosed   EventKind = "CLOSED"
	EventFailed   EventKind = "FAILED"
	EventTimedOut EventKind = "TIMED_OUT"
)

// Event is a terminal outcome delivered to the notification sink.
type Event struct {
	Kind    EventKind
	Market  string
	Side    Side
	Size    decimal.Decimal
	Price   decimal.Decimal
	OrderID string
	Reason  string
}

// Notifier delivers terminal events. Fire-and-forget: implementations must
// never let delivery failures affect pipeline state.
type Notifier interface {
	Notify(event Event)
}

// OrderOutcome is the exchange-side resolution of a submitted order as
// reported by the order status adapter.
type OrderOutcome string

const (
	OutcomeConfirmed       OrderOutcome = "CONFIRMED"
	OutcomePartiallyFilled OrderOutcome = "PARTIALLY_FILLED"
	OutcomeRejected        OrderOutcome = "REJECTED"
	OutcomeUnknown         OrderOutcome = "UNKNOWN"
)

// StatusReport is one order-status poll result. FillPrice is only
// meaningful for OutcomeConfirmed; partial fills report size only.
type StatusReport struct {
	Outcome   OrderOutcome
	FillSize  decimal.Decimal
	FillPrice decimal.Decimal
}
