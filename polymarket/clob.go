package polymarket

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CLOB CLIENT - Order placement and status adapter
// ═══════════════════════════════════════════════════════════════════════════════
//
// Talks to the Polymarket CLOB API. Supports DRY_RUN mode where orders are
// assigned local IDs and confirmed synthetically, so the whole pipeline runs
// without credentials.
//
// ═══════════════════════════════════════════════════════════════════════════════

// ClobClient places orders and reports their status.
type ClobClient struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	address    string
	apiKey     string
	apiSecret  string
	passphrase string
	dryRun     bool
	httpClient *http.Client

	mu        sync.Mutex
	dryOrders map[string]dryOrder // DRY_RUN fills, keyed by local order ID
}

type dryOrder struct {
	size  decimal.Decimal
	price decimal.Decimal
}

// ClobConfig holds CLOB client settings.
type ClobConfig struct {
	BaseURL    string
	PrivateKey string
	APIKey     string
	APISecret  string
	Passphrase string
	DryRun     bool
}

// NewClobClient creates a CLOB client.
func NewClobClient(cfg ClobConfig) (*ClobClient, error) {
	client := &ClobClient{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		passphrase: cfg.Passphrase,
		dryRun:     cfg.DryRun,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		dryOrders:  make(map[string]dryOrder),
	}

	if cfg.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		client.privateKey = pk
		client.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	}

	mode := "DRY RUN"
	if !cfg.DryRun {
		mode = "LIVE"
	}
	log.Info().
		Str("mode", mode).
		Str("address", client.address).
		Msg("🚀 CLOB client initialized")

	return client, nil
}

// PlaceOrder submits a marketable limit order and returns the exchange
// order ID. Failures are classified: network/timeout → TransientError,
// exchange refusal → RejectedError.
func (c *ClobClient) PlaceOrder(ctx context.Context, market string, side types.Side, size, priceHint decimal.Decimal) (string, error) {
	if c.dryRun {
		orderID := "DRY_" + ulid.Make().String()
		c.mu.Lock()
		c.dryOrders[orderID] = dryOrder{size: size, price: priceHint}
		c.mu.Unlock()
		log.Info().
			Str("order_id", orderID).
			Str("market", shortID(market)).
			Str("side", string(side)).
			Str("size", size.StringFixed(4)).
			Str("price", priceHint.StringFixed(4)).
			Msg("📝 DRY RUN: Order would be placed")
		return orderID, nil
	}

	order := map[string]interface{}{
		"tokenID":       market,
		"price":         priceHint.String(),
		"size":          size.String(),
		"side":          string(side),
		"expiration":    time.Now().Add(24 * time.Hour).Unix(),
		"nonce":         time.Now().UnixNano(),
		"feeRateBps":    "0",
		"signatureType": 2,
	}

	signature, err := c.signOrder(order)
	if err != nil {
		return "", fmt.Errorf("signing failed: %w", err)
	}
	order["signature"] = signature

	resp, err := c.post(ctx, "/order", order)
	if err != nil {
		return "", err
	}

	var result struct {
		OrderID string `json:"orderID"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if result.Error != "" {
		return "", &RejectedError{Reason: result.Error}
	}

	log.Info().
		Str("order_id", result.OrderID).
		Str("status", result.Status).
		Msg("✅ Order placed")

	return result.OrderID, nil
}

// OrderStatus reports the exchange-side outcome of a submitted order.
// Adapter failures come back as TransientError; the reconciler counts
// those as Unknown for the round.
func (c *ClobClient) OrderStatus(ctx context.Context, orderID string) (types.StatusReport, error) {
	if c.dryRun {
		c.mu.Lock()
		o, ok := c.dryOrders[orderID]
		if ok {
			delete(c.dryOrders, orderID)
		}
		c.mu.Unlock()
		if !ok {
			return types.StatusReport{Outcome: types.OutcomeUnknown}, nil
		}
		return types.StatusReport{
			Outcome:   types.OutcomeConfirmed,
			FillSize:  o.size,
			FillPrice: o.price,
		}, nil
	}

	resp, err := c.get(ctx, "/data/order/"+orderID)
	if err != nil {
		return types.StatusReport{}, err
	}

	var result struct {
		Status       string          `json:"status"`
		OriginalSize decimal.Decimal `json:"original_size"`
		SizeMatched  decimal.Decimal `json:"size_matched"`
		Price        decimal.Decimal `json:"price"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return types.StatusReport{}, fmt.Errorf("parse order status: %w", err)
	}

	switch strings.ToUpper(result.Status) {
	case "MATCHED", "FILLED":
		return types.StatusReport{
			Outcome:   types.OutcomeConfirmed,
			FillSize:  result.SizeMatched,
			FillPrice: result.Price,
		}, nil
	case "CANCELED", "CANCELLED", "REJECTED":
		return types.StatusReport{Outcome: types.OutcomeRejected}, nil
	case "LIVE", "DELAYED":
		if result.SizeMatched.GreaterThan(decimal.Zero) {
			return types.StatusReport{
				Outcome:  types.OutcomePartiallyFilled,
				FillSize: result.SizeMatched,
			}, nil
		}
		return types.StatusReport{Outcome: types.OutcomeUnknown}, nil
	default:
		return types.StatusReport{Outcome: types.OutcomeUnknown}, nil
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *ClobClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	c.addHeaders(req)
	return c.doRequest(req)
}

func (c *ClobClient) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	jsonBody, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addHeaders(req)
	return c.doRequest(req)
}

// addHeaders sets the L2 auth headers. Message and encoding follow
// py-clob-client's HMAC scheme; header names use underscores.
func (c *ClobClient) addHeaders(req *http.Request) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())

	req.Header.Set("POLY_API_KEY", c.apiKey)
	req.Header.Set("POLY_TIMESTAMP", timestamp)
	req.Header.Set("POLY_PASSPHRASE", c.passphrase)
	if c.address != "" {
		req.Header.Set("POLY_ADDRESS", c.address)
	}

	if c.apiSecret != "" {
		message := timestamp + req.Method + req.URL.Path
		req.Header.Set("POLY_SIGNATURE", c.hmacSign(message))
	}
}

func (c *ClobClient) doRequest(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Err: err}
	}

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode >= 400 {
		return nil, &RejectedError{Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(body))}
	}

	return body, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNING
// ═══════════════════════════════════════════════════════════════════════════════

func (c *ClobClient) signOrder(order map[string]interface{}) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	orderBytes, _ := json.Marshal(order)
	hash := crypto.Keccak256(orderBytes)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// hmacSign computes the URL-safe base64 HMAC-SHA256 over the message. The
// API secret is itself URL-safe base64, with or without padding.
func (c *ClobClient) hmacSign(message string) string {
	secret := c.apiSecret
	if len(secret)%4 != 0 {
		secret += strings.Repeat("=", 4-len(secret)%4)
	}
	secretBytes, err := base64.URLEncoding.DecodeString(secret)
	if err != nil {
		secretBytes = []byte(c.apiSecret)
	}

	h := hmac.New(sha256.New, secretBytes)
	h.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}

// IsDryRun returns true if in dry run mode
func (c *ClobClient) IsDryRun() bool {
	return c.dryRun
}

func shortID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:16] + "..."
}
