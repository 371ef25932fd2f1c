package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ═══════════════════════════════════════════════════════════════════════════════
// LEDGER STORE - Single source of truth for open/close decisions
// ═══════════════════════════════════════════════════════════════════════════════
//
// The store exclusively owns all ledger records. The decision engine and
// the reconciliation worker mutate them only through With, which holds a
// per-market lock for the duration of the callback. That is the lock that
// prevents the engine and the reconciler from racing on the same ledger's
// state and in-flight flag.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Persister saves ledger records after each mutation. Implemented by
// storage.Database; a nil Persister disables persistence.
type Persister interface {
	SaveLedger(l Ledger) error
}

// Store holds one ledger per market with per-market exclusive access.
type Store struct {
	mu        sync.Mutex // guards the maps and the active counter
	ledgers   map[string]*Ledger
	locks     map[string]*sync.Mutex
	active    int // ledgers in an active state, maintained by Load and With
	persister Persister
}

// NewStore creates an empty store. persister may be nil.
func NewStore(persister Persister) *Store {
	return &Store{
		ledgers:   make(map[string]*Ledger),
		locks:     make(map[string]*sync.Mutex),
		persister: persister,
	}
}

// Load seeds the store with persisted ledgers on startup. Must be called
// before the pipeline loops start.
func (s *Store) Load(ledgers []Ledger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range ledgers {
		l := ledgers[i]
		s.ledgers[l.Market] = &l
		s.locks[l.Market] = &sync.Mutex{}
		if l.State.Active() {
			s.active++
		}
	}
	if len(ledgers) > 0 {
		log.Info().Int("count", len(ledgers)).Msg("📥 Ledgers recovered")
	}
}

// With runs fn with exclusive access to the market's ledger, creating a
// fresh StateNone ledger if none exists. The mutated ledger is persisted
// after fn returns nil; an error from fn leaves the record unchanged.
func (s *Store) With(market string, fn func(l *Ledger) error) error {
	s.mu.Lock()
	l, ok := s.ledgers[market]
	if !ok {
		l = &Ledger{Market: market, State: StateNone}
		s.ledgers[market] = l
		s.locks[market] = &sync.Mutex{}
	}
	lock := s.locks[market]
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()

	before := *l
	if err := fn(l); err != nil {
		*l = before
		return err
	}
	l.UpdatedAt = time.Now().UTC()

	if before.State.Active() != l.State.Active() {
		s.mu.Lock()
		if l.State.Active() {
			s.active++
		} else {
			s.active--
		}
		s.mu.Unlock()
	}

	if s.persister != nil {
		if err := s.persister.SaveLedger(*l); err != nil {
			log.Error().Err(err).Str("market", market).Msg("Failed to persist ledger")
		}
	}
	return nil
}

// Get returns a copy of the market's ledger, if one exists.
func (s *Store) Get(market string) (Ledger, bool) {
	s.mu.Lock()
	l, ok := s.ledgers[market]
	lock := s.locks[market]
	s.mu.Unlock()
	if !ok {
		return Ledger{}, false
	}
	lock.Lock()
	defer lock.Unlock()
	return *l, true
}

// ActiveCount returns the number of ledgers in PENDING_OPEN, OPEN or
// PENDING_CLOSE. The capacity invariant requires it stays at or below the
// configured maximum; only the serialized decision engine increases it.
// The counter is maintained under s.mu by Load and With, never derived by
// reading ledger fields, so it is safe to call while holding a per-market
// lock (the engine calls it from inside With).
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// All returns copies of every ledger, for diagnostics and tests. Each copy
// is taken under its market's lock, so it is a consistent snapshot of that
// ledger even while With mutates others.
func (s *Store) All() []Ledger {
	s.mu.Lock()
	markets := make([]string, 0, len(s.ledgers))
	for m := range s.ledgers {
		markets = append(markets, m)
	}
	s.mu.Unlock()

	out := make([]Ledger, 0, len(markets))
	for _, m := range markets {
		if l, ok := s.Get(m); ok {
			out = append(out, l)
		}
	}
	return out
}

// ErrInFlight is returned by transitions refused because the ledger
// already has an outstanding order.
var ErrInFlight = fmt.Errorf("ledger: order already in flight")
