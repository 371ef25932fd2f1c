package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// POLYMARKET PRICE FEED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Connects to Polymarket WebSocket for live price updates
// Maintains a per-token price cache used as the fallback when a tracked
// trade arrives without a usable price
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// PriceFeed manages the WebSocket connection and price cache.
type PriceFeed struct {
	mu sync.RWMutex

	// Serializes all writes to the current connection; gorilla/websocket
	// does not allow concurrent writers.
	writeMu sync.Mutex

	wsURL     string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	// Token IDs to subscribe on (re)connect
	assets map[string]bool

	// Last known price per token ID
	prices map[string]decimal.Decimal
}

// NewPriceFeed creates a new feed instance.
func NewPriceFeed(wsURL string) *PriceFeed {
	return &PriceFeed{
		wsURL:  wsURL,
		stopCh: make(chan struct{}),
		assets: make(map[string]bool),
		prices: make(map[string]decimal.Decimal),
	}
}

// Start connects and begins processing
func (f *PriceFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Msg("📡 Price feed started")
}

// Stop closes the connection
func (f *PriceFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}

	f.running = false
	close(f.stopCh)

	if f.conn != nil {
		f.conn.Close()
	}

	log.Info().Msg("Price feed stopped")
}

// GetPrice returns the last known price for a token, or zero if none
// has been observed yet.
func (f *PriceFeed) GetPrice(market string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prices[market]
}

// Watch subscribes to price updates for a token ID. Safe to call before
// the connection is up; the subscription replays on reconnect.
func (f *PriceFeed) Watch(market string) {
	f.mu.Lock()
	f.assets[market] = true
	conn := f.conn
	f.mu.Unlock()

	if conn != nil {
		f.sendSubscribe(conn, []string{market})
	}
}

// connectionLoop maintains the WebSocket connection
func (f *PriceFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		conn, err := f.connect()
		if err != nil {
			log.Error().Err(err).Msg("Feed connection failed, retrying...")
			time.Sleep(reconnectDelay)
			continue
		}

		// The ping loop lives and dies with this connection.
		done := make(chan struct{})
		go f.pingLoop(conn, done)
		f.readLoop()
		close(done)

		time.Sleep(reconnectDelay)
	}
}

// connect establishes the WebSocket connection and replays subscriptions.
func (f *PriceFeed) connect() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	assets := make([]string, 0, len(f.assets))
	for a := range f.assets {
		assets = append(assets, a)
	}
	f.mu.Unlock()

	log.Info().Int("assets", len(assets)).Msg("🔌 Price feed connected")

	if len(assets) > 0 {
		f.sendSubscribe(conn, assets)
	}

	return conn, nil
}

func (f *PriceFeed) sendSubscribe(conn *websocket.Conn, assets []string) {
	msg := map[string]interface{}{
		"type":       "subscribe",
		"channel":    "market",
		"assets_ids": assets,
	}

	f.writeMu.Lock()
	err := conn.WriteJSON(msg)
	f.writeMu.Unlock()

	if err != nil {
		log.Warn().Err(err).Msg("Subscribe failed")
	}
}

// pingLoop sends periodic pings on conn to keep it alive until done closes.
func (f *PriceFeed) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-done:
			return
		case <-ticker.C:
			f.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			f.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// readLoop reads messages from WebSocket
func (f *PriceFeed) readLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Feed read error")
			f.mu.Lock()
			f.connected = false
			f.mu.Unlock()
			return
		}

		f.processMessage(message)
	}
}

// wsMessage represents a WebSocket message from Polymarket
type wsMessage struct {
	EventType string          `json:"event_type"`
	Asset     string          `json:"asset_id"`
	Price     string          `json:"price"`
	Bids      [][]interface{} `json:"bids"`
	Asks      [][]interface{} `json:"asks"`
}

// processMessage handles incoming WebSocket messages
func (f *PriceFeed) processMessage(data []byte) {
	var msgs []wsMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		// Try single message
		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		msgs = []wsMessage{msg}
	}

	for _, msg := range msgs {
		switch msg.EventType {
		case "book":
			f.handleBook(msg)
		case "price_change", "last_trade_price":
			f.handlePrice(msg)
		}
	}
}

// handleBook caches the mid price from a book snapshot.
func (f *PriceFeed) handleBook(msg wsMessage) {
	bid := bestLevel(msg.Bids)
	ask := bestLevel(msg.Asks)
	if bid.IsZero() || ask.IsZero() {
		return
	}

	mid := bid.Add(ask).Div(decimal.NewFromInt(2))

	f.mu.Lock()
	f.prices[msg.Asset] = mid
	f.mu.Unlock()
}

// handlePrice caches a direct price event.
func (f *PriceFeed) handlePrice(msg wsMessage) {
	price, err := decimal.NewFromString(msg.Price)
	if err != nil || !price.IsPositive() {
		return
	}

	f.mu.Lock()
	f.prices[msg.Asset] = price
	f.mu.Unlock()
}

// bestLevel extracts the price from the first [price, size] level.
func bestLevel(levels [][]interface{}) decimal.Decimal {
	if len(levels) == 0 || len(levels[0]) == 0 {
		return decimal.Zero
	}
	s, ok := levels[0][0].(string)
	if !ok {
		return decimal.Zero
	}
	p, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return p
}
