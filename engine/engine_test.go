package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copytrader/ledger"
	"github.com/web3guy0/copytrader/types"
)

type fakeSubmitter struct {
	intents []ledger.OrderIntent
	// applyPending mimics the execution service setting the in-flight flag.
	store *ledger.Store
}

func (f *fakeSubmitter) Submit(ctx context.Context, intent ledger.OrderIntent) error {
	f.intents = append(f.intents, intent)
	if f.store != nil {
		return f.store.With(intent.Market, func(l *ledger.Ledger) error {
			l.InFlight = true
			return nil
		})
	}
	return nil
}

type fixedPrices struct {
	price decimal.Decimal
}

func (f fixedPrices) GetPrice(market string) decimal.Decimal { return f.price }

func defaultConfig() Config {
	return Config{
		FixedAmountUSDC:   decimal.NewFromInt(10),
		MaxActiveLedgers:  5,
		CloseThresholdPct: decimal.NewFromInt(80),
		FullExitEpsilon:   decimal.NewFromFloat(0.000001),
	}
}

func buy(id, market string, size, price float64) types.TrackedTrade {
	return types.TrackedTrade{
		ID:        id,
		Market:    market,
		Side:      types.SideBuy,
		Size:      decimal.NewFromFloat(size),
		Price:     decimal.NewFromFloat(price),
		Timestamp: time.Now(),
	}
}

func sell(id, market string, size, price float64) types.TrackedTrade {
	t := buy(id, market, size, price)
	t.Side = types.SideSell
	return t
}

func TestBuyOpensPosition(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	e.Process(context.Background(), buy("t1", "m1", 100, 0.50))

	require.Len(t, sub.intents, 1)
	in := sub.intents[0]
	assert.Equal(t, ledger.IntentOpen, in.Kind)
	assert.Equal(t, types.SideBuy, in.Side)
	// $10 at 0.50 → 20 shares, regardless of the target's 100.
	assert.True(t, in.Size.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, ledger.StateNone, in.Prev.State)

	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StatePendingOpen, l.State)
	assert.True(t, l.TargetPosition.Equal(decimal.NewFromInt(100)))
}

func TestSellAtThresholdCloses(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	// Target holds 100 observed; our ledger is OPEN with 20 shares.
	store.Load([]ledger.Ledger{{
		Market:         "m1",
		TargetPosition: decimal.NewFromInt(100),
		OwnSize:        decimal.NewFromInt(20),
		OwnEntryPrice:  decimal.NewFromFloat(0.50),
		State:          ledger.StateOpen,
	}})

	// Selling 90 of 100 → 90% ≥ 80% threshold.
	e.Process(context.Background(), sell("t1", "m1", 90, 0.60))

	require.Len(t, sub.intents, 1)
	in := sub.intents[0]
	assert.Equal(t, ledger.IntentClose, in.Kind)
	assert.Equal(t, types.SideSell, in.Side)
	// Close is always the full own position.
	assert.True(t, in.Size.Equal(decimal.NewFromInt(20)))

	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StatePendingClose, l.State)
	assert.True(t, l.TargetPosition.Equal(decimal.NewFromInt(10)))
}

func TestSellBelowThresholdIgnored(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	store.Load([]ledger.Ledger{{
		Market:         "m1",
		TargetPosition: decimal.NewFromInt(100),
		OwnSize:        decimal.NewFromInt(20),
		State:          ledger.StateOpen,
	}})

	// Selling 50 of 100 → 50% < 80%: hold, estimate still updates.
	e.Process(context.Background(), sell("t1", "m1", 50, 0.60))

	assert.Empty(t, sub.intents)
	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StateOpen, l.State)
	assert.True(t, l.TargetPosition.Equal(decimal.NewFromInt(50)))
}

func TestFullExitOverridesThreshold(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	// Dust remainder: selling 60% of a 2e-6 base is below the 80%
	// threshold, but the post-trade estimate lands under the epsilon,
	// so the target is effectively flat and we close anyway.
	store.Load([]ledger.Ledger{{
		Market:         "m1",
		TargetPosition: decimal.NewFromFloat(0.000002),
		OwnSize:        decimal.NewFromInt(20),
		State:          ledger.StateOpen,
	}})

	e.Process(context.Background(), sell("t1", "m1", 0.0000012, 0.60))

	require.Len(t, sub.intents, 1)
	in := sub.intents[0]
	assert.Equal(t, ledger.IntentClose, in.Kind)
	assert.True(t, in.Size.Equal(decimal.NewFromInt(20)))
}

func TestCapacityBlocksNewOpens(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	cfg := defaultConfig()
	cfg.MaxActiveLedgers = 1
	e := New(store, sub, nil, cfg)

	ctx := context.Background()
	e.Process(ctx, buy("t1", "mX", 100, 0.50))
	require.Len(t, sub.intents, 1)

	// Market Y arrives while X is active: estimate updates, no order.
	e.Process(ctx, buy("t2", "mY", 100, 0.50))
	require.Len(t, sub.intents, 1)

	l, ok := store.Get("mY")
	require.True(t, ok)
	assert.Equal(t, ledger.StateNone, l.State)
	assert.True(t, l.TargetPosition.Equal(decimal.NewFromInt(100)))
}

func TestZeroPriceFallsBackToFeed(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, fixedPrices{decimal.NewFromFloat(0.25)}, defaultConfig())

	e.Process(context.Background(), buy("t1", "m1", 100, 0))

	require.Len(t, sub.intents, 1)
	// $10 at feed price 0.25 → 40 shares.
	assert.True(t, sub.intents[0].Size.Equal(decimal.NewFromInt(40)))
}

func TestZeroPriceNoFeedSkips(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	e.Process(context.Background(), buy("t1", "m1", 100, 0))

	assert.Empty(t, sub.intents)
	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StateNone, l.State)
	// The estimate still advanced.
	assert.True(t, l.TargetPosition.Equal(decimal.NewFromInt(100)))
}

func TestDuplicateTradeIgnored(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	trade := buy("t1", "m1", 100, 0.50)
	ctx := context.Background()
	e.Process(ctx, trade)
	e.Process(ctx, trade)

	require.Len(t, sub.intents, 1)
	l, _ := store.Get("m1")
	// Estimate applied exactly once.
	assert.True(t, l.TargetPosition.Equal(decimal.NewFromInt(100)))
}

func TestBuyWhilePendingUpdatesEstimateOnly(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	ctx := context.Background()
	e.Process(ctx, buy("t1", "m1", 100, 0.50))
	require.Len(t, sub.intents, 1)

	// Ledger is PENDING_OPEN and in flight: second buy is estimate-only.
	e.Process(ctx, buy("t2", "m1", 50, 0.55))
	require.Len(t, sub.intents, 1)

	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StatePendingOpen, l.State)
	assert.True(t, l.TargetPosition.Equal(decimal.NewFromInt(150)))
}

func TestBuyOnOpenLedgerIsNoOp(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	store.Load([]ledger.Ledger{{
		Market:         "m1",
		TargetPosition: decimal.NewFromInt(100),
		OwnSize:        decimal.NewFromInt(20),
		State:          ledger.StateOpen,
	}})

	// Fixed sizing: no add-on buys while OPEN.
	e.Process(context.Background(), buy("t1", "m1", 50, 0.55))

	assert.Empty(t, sub.intents)
	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StateOpen, l.State)
	assert.True(t, l.OwnSize.Equal(decimal.NewFromInt(20)))
	assert.True(t, l.TargetPosition.Equal(decimal.NewFromInt(150)))
}

func TestClosedLedgerReopens(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	store.Load([]ledger.Ledger{{
		Market:        "m1",
		OwnSize:       decimal.Zero,
		OwnEntryPrice: decimal.NewFromFloat(0.50),
		State:         ledger.StateClosed,
	}})

	e.Process(context.Background(), buy("t1", "m1", 100, 0.40))

	require.Len(t, sub.intents, 1)
	in := sub.intents[0]
	assert.Equal(t, ledger.IntentOpen, in.Kind)
	assert.Equal(t, ledger.StateClosed, in.Prev.State)

	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StatePendingOpen, l.State)
	assert.True(t, l.OwnEntryPrice.IsZero())
}

func TestSellAgainstUnknownBaseIgnored(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	store.Load([]ledger.Ledger{{
		Market:         "m1",
		TargetPosition: decimal.Zero,
		OwnSize:        decimal.NewFromInt(20),
		State:          ledger.StateOpen,
	}})

	// Position predates tracking: zero base means the sold fraction is
	// incomputable, so no close decision.
	e.Process(context.Background(), sell("t1", "m1", 50, 0.60))

	assert.Empty(t, sub.intents)
	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StateOpen, l.State)
	assert.True(t, l.TargetPosition.IsZero())
}

func TestEstimateClampsAtZero(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{store: store}
	e := New(store, sub, nil, defaultConfig())

	store.Load([]ledger.Ledger{{
		Market:         "m1",
		TargetPosition: decimal.NewFromInt(10),
		State:          ledger.StateNone,
	}})

	e.Process(context.Background(), sell("t1", "m1", 50, 0.60))

	l, _ := store.Get("m1")
	assert.True(t, l.TargetPosition.IsZero())
}

func TestInFlightOpenRefused(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{}
	e := New(store, sub, nil, defaultConfig())

	// Inconsistent recovery artifact: in-flight without a pending state.
	store.Load([]ledger.Ledger{{
		Market:   "m1",
		State:    ledger.StateNone,
		InFlight: true,
	}})

	e.Process(context.Background(), buy("t1", "m1", 100, 0.50))

	assert.Empty(t, sub.intents)
	l, _ := store.Get("m1")
	assert.Equal(t, ledger.StateNone, l.State)
}

func TestZeroSizeTradeSkipped(t *testing.T) {
	t.Parallel()

	store := ledger.NewStore(nil)
	sub := &fakeSubmitter{}
	e := New(store, sub, nil, defaultConfig())

	e.Process(context.Background(), buy("t1", "m1", 0, 0.50))

	assert.Empty(t, sub.intents)
	_, ok := store.Get("m1")
	assert.False(t, ok)
}
