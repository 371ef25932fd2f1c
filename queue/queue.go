package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TRADE QUEUE - Bounded FIFO hand-off between tracker and consumer
// ═══════════════════════════════════════════════════════════════════════════════
//
// Backpressure over dropping: a full queue blocks the producer instead of
// discarding trades, since a dropped trade is a silently missed copy action.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ErrClosed is returned by Put after Close.
var ErrClosed = errors.New("queue: closed")

// Queue is a bounded, strictly ordered, single-consumer trade queue.
type Queue struct {
	mu     sync.Mutex
	ch     chan types.TrackedTrade
	closed bool
}

// New creates a queue with the given capacity. Capacity below 1 defaults to 1.
func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan types.TrackedTrade, capacity)}
}

// Put enqueues a trade, blocking while the queue is full. Returns ErrClosed
// after Close, or the context error on cancellation.
func (q *Queue) Put(ctx context.Context, t types.TrackedTrade) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	ch := q.ch
	q.mu.Unlock()

	select {
	case ch <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get dequeues the next trade in arrival order, blocking until one is
// available. ok is false when the queue is closed and drained, or the
// context is cancelled.
func (q *Queue) Get(ctx context.Context) (types.TrackedTrade, bool) {
	select {
	case t, open := <-q.ch:
		return t, open
	case <-ctx.Done():
		return types.TrackedTrade{}, false
	}
}

// Close stops accepting new trades. Already enqueued trades remain
// consumable until drained. Idempotent. Must be called by the producer
// after its final Put; the tracker closes the queue when its loop exits.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Len returns the number of queued trades.
func (q *Queue) Len() int {
	return len(q.ch)
}
