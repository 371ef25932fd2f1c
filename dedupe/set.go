package dedupe

import "sync"

// Set is a bounded set of recently seen identifiers. When capacity is
// exceeded the oldest entry is evicted, so memory stays flat while
// near-duplicates across adjacent polls are still caught.
type Set struct {
	mu    sync.Mutex
	cap   int
	items map[string]struct{}
	order []string // insertion order, oldest first
}

// NewSet creates a set that retains at most capacity identifiers.
// A capacity below 1 defaults to 1.
func NewSet(capacity int) *Set {
	if capacity < 1 {
		capacity = 1
	}
	return &Set{
		cap:   capacity,
		items: make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
	}
}

// Contains reports whether id has been seen and not yet evicted.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// Add records id, evicting the oldest entry when at capacity.
// Adding an existing id is a no-op.
func (s *Set) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; ok {
		return
	}
	if len(s.order) >= s.cap {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.items, oldest)
	}
	s.items[id] = struct{}{}
	s.order = append(s.order, id)
}

// Len returns the number of retained identifiers.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Snapshot returns the retained identifiers, oldest first. Used for
// persistence so a restart does not re-copy already mirrored trades.
func (s *Set) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
