package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/copytrader/types"
)

// State is the lifecycle state of a position ledger.
//
//	None → PendingOpen → Open → PendingClose → Closed → (None on reopen)
//
// Error path: PendingOpen|PendingClose roll back to the pre-intent state
// when the order is rejected.
type State string

const (
	StateNone         State = "NONE"
	StatePendingOpen  State = "PENDING_OPEN"
	StateOpen         State = "OPEN"
	StatePendingClose State = "PENDING_CLOSE"
	StateClosed       State = "CLOSED"
)

// Active reports whether the state counts against the active-ledger capacity.
func (s State) Active() bool {
	return s == StatePendingOpen || s == StateOpen || s == StatePendingClose
}

// Ledger is the single authoritative position record for one market.
// TargetPosition is the target's estimated cumulative exposure derived
// solely from observed trades; it may underestimate a position opened
// before tracking started.
type Ledger struct {
	Market         string
	TargetPosition decimal.Decimal
	OwnSize        decimal.Decimal
	OwnEntryPrice  decimal.Decimal
	State          State
	InFlight       bool
	UpdatedAt      time.Time
}

// Snapshot captures the rollback point of a ledger before an order intent.
// A rejected order restores exactly these fields.
type Snapshot struct {
	State         State
	OwnSize       decimal.Decimal
	OwnEntryPrice decimal.Decimal
}

// Snapshot returns the current rollback point.
func (l *Ledger) Snapshot() Snapshot {
	return Snapshot{State: l.State, OwnSize: l.OwnSize, OwnEntryPrice: l.OwnEntryPrice}
}

// Restore resets the rollback fields. The target estimate is not part of
// the snapshot: it reflects observed trades, not our own orders.
func (l *Ledger) Restore(s Snapshot) {
	l.State = s.State
	l.OwnSize = s.OwnSize
	l.OwnEntryPrice = s.OwnEntryPrice
}

// IntentKind distinguishes open from close intents.
type IntentKind string

const (
	IntentOpen  IntentKind = "OPEN"
	IntentClose IntentKind = "CLOSE"
)

// OrderIntent is the decision engine's instruction to the execution
// service: place one order for one market. Prev carries the pre-intent
// ledger snapshot so a rejection can be rolled back exactly.
type OrderIntent struct {
	Kind      IntentKind
	Market    string
	Side      types.Side
	Size      decimal.Decimal
	PriceHint decimal.Decimal
	Prev      Snapshot
}
