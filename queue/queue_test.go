package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copytrader/types"
)

func trade(id string) types.TrackedTrade {
	return types.TrackedTrade{ID: id, Market: "m1"}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q := New(8)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, trade("t1")))
	require.NoError(t, q.Put(ctx, trade("t2")))
	require.NoError(t, q.Put(ctx, trade("t3")))
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"t1", "t2", "t3"} {
		got, ok := q.Get(ctx)
		require.True(t, ok)
		assert.Equal(t, want, got.ID)
	}
}

func TestQueuePutBlocksWhenFull(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, trade("t1")))

	// The second Put must block until the consumer makes room.
	unblocked := make(chan error, 1)
	go func() {
		unblocked <- q.Put(ctx, trade("t2"))
	}()

	select {
	case <-unblocked:
		t.Fatal("Put returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	got, ok := q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "t1", got.ID)

	select {
	case err := <-unblocked:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Put did not unblock after Get")
	}
}

func TestQueuePutCancelled(t *testing.T) {
	t.Parallel()

	q := New(1)
	require.NoError(t, q.Put(context.Background(), trade("t1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Put(ctx, trade("t2"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueCloseDrains(t *testing.T) {
	t.Parallel()

	q := New(4)
	ctx := context.Background()
	require.NoError(t, q.Put(ctx, trade("t1")))
	require.NoError(t, q.Put(ctx, trade("t2")))

	q.Close()
	q.Close() // idempotent

	assert.ErrorIs(t, q.Put(ctx, trade("t3")), ErrClosed)

	// Enqueued trades remain consumable after Close.
	got, ok := q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "t1", got.ID)
	got, ok = q.Get(ctx)
	require.True(t, ok)
	assert.Equal(t, "t2", got.ID)

	_, ok = q.Get(ctx)
	assert.False(t, ok)
}

func TestQueueGetCancelled(t *testing.T) {
	t.Parallel()

	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := q.Get(ctx)
	assert.False(t, ok)
}
