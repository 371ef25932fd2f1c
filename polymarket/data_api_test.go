package polymarket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/web3guy0/copytrader/types"
)

func TestFetchRecentTrades(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/trades", r.URL.Path)
		assert.Equal(t, "0xabc", r.URL.Query().Get("user"))
		assert.Equal(t, "20", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"transactionHash":"0xdead","conditionId":"c1","asset":"tok1","side":"BUY","size":100.5,"price":0.42,"timestamp":1700000100,"proxyWallet":"0xabc","outcome":"Yes"},
			{"conditionId":"c2","asset":"tok2","side":"SELL","size":50,"price":0.80,"timestamp":1700000000,"proxyWallet":"0xabc","outcome":"No"}
		]`))
	}))
	defer srv.Close()

	c := NewDataAPIClient(srv.URL)
	trades, err := c.FetchRecentTrades(context.Background(), "0xabc", 20)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	first := trades[0]
	assert.Equal(t, "tx:0xdead", first.ID)
	assert.Equal(t, "tok1", first.Market)
	assert.Equal(t, types.SideBuy, first.Side)
	assert.True(t, first.Size.Equal(decimal.NewFromFloat(100.5)))
	assert.True(t, first.Price.Equal(decimal.NewFromFloat(0.42)))
	assert.Equal(t, time.Unix(1700000100, 0).UTC(), first.Timestamp)

	// Without a transaction hash the key is a composite of the
	// identifying fields.
	second := trades[1]
	assert.Equal(t, "cmp:1700000000|c2|No|0.8|50", second.ID)
	assert.Equal(t, types.SideSell, second.Side)
}

func TestFetchRecentTradesServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewDataAPIClient(srv.URL)
	_, err := c.FetchRecentTrades(context.Background(), "0xabc", 20)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestFetchRecentTradesClientErrorIsPermanent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewDataAPIClient(srv.URL)
	_, err := c.FetchRecentTrades(context.Background(), "0xabc", 20)
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestFetchRecentTradesNetworkErrorIsTransient(t *testing.T) {
	t.Parallel()

	c := NewDataAPIClient("http://127.0.0.1:1")
	_, err := c.FetchRecentTrades(context.Background(), "0xabc", 20)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}
