package feeds

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessPriceChange(t *testing.T) {
	t.Parallel()

	f := NewPriceFeed("ws://unused")
	f.processMessage([]byte(`{"event_type":"price_change","asset_id":"tok1","price":"0.63"}`))

	assert.True(t, f.GetPrice("tok1").Equal(decimal.NewFromFloat(0.63)))
}

func TestProcessMessageArray(t *testing.T) {
	t.Parallel()

	f := NewPriceFeed("ws://unused")
	f.processMessage([]byte(`[
		{"event_type":"last_trade_price","asset_id":"tok1","price":"0.41"},
		{"event_type":"price_change","asset_id":"tok2","price":"0.77"}
	]`))

	assert.True(t, f.GetPrice("tok1").Equal(decimal.NewFromFloat(0.41)))
	assert.True(t, f.GetPrice("tok2").Equal(decimal.NewFromFloat(0.77)))
}

func TestProcessBookCachesMid(t *testing.T) {
	t.Parallel()

	f := NewPriceFeed("ws://unused")
	f.processMessage([]byte(`{
		"event_type":"book",
		"asset_id":"tok1",
		"bids":[["0.40","100"],["0.39","500"]],
		"asks":[["0.44","120"]]
	}`))

	assert.True(t, f.GetPrice("tok1").Equal(decimal.NewFromFloat(0.42)))
}

func TestMalformedMessagesIgnored(t *testing.T) {
	t.Parallel()

	f := NewPriceFeed("ws://unused")
	f.processMessage([]byte(`not json`))
	f.processMessage([]byte(`{"event_type":"price_change","asset_id":"tok1","price":"garbage"}`))
	f.processMessage([]byte(`{"event_type":"price_change","asset_id":"tok1","price":"-1"}`))
	f.processMessage([]byte(`{"event_type":"book","asset_id":"tok1","bids":[],"asks":[["0.5","10"]]}`))

	assert.True(t, f.GetPrice("tok1").IsZero())
}

func TestUnknownAssetIsZero(t *testing.T) {
	t.Parallel()

	f := NewPriceFeed("ws://unused")
	assert.True(t, f.GetPrice("nope").IsZero())
}

// wsTestServer upgrades incoming connections and drains every frame so the
// client side can write freely.
func wsTestServer(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConcurrentSubscribeWrites(t *testing.T) {
	t.Parallel()

	f := NewPriceFeed(wsTestServer(t))
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Watch from many goroutines must not race the connection writer.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			f.sendSubscribe(conn, []string{fmt.Sprintf("tok%d", n)})
		}(i)
	}
	wg.Wait()
}

func TestPingLoopEndsWithConnection(t *testing.T) {
	t.Parallel()

	f := NewPriceFeed(wsTestServer(t))
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		f.pingLoop(conn, done)
		close(exited)
	}()

	close(done)
	select {
	case <-exited:
	case <-time.After(time.Second):
		t.Fatal("ping loop kept running after its connection ended")
	}
}
