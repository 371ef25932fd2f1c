package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATA API CLIENT - Trade source adapter
// ═══════════════════════════════════════════════════════════════════════════════
//
// Polls GET /trades on the Polymarket Data API for a tracked wallet.
// Most recent trades first; the tracker reverses into chronological order.
//
// ═══════════════════════════════════════════════════════════════════════════════

// DataAPIClient fetches a wallet's recent trades from the Data API.
type DataAPIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewDataAPIClient creates a Data API client for the given base URL.
func NewDataAPIClient(baseURL string) *DataAPIClient {
	return &DataAPIClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// tradeResponse mirrors the Data API GET /trades item (camelCase).
type tradeResponse struct {
	TransactionHash string          `json:"transactionHash"`
	ConditionID     string          `json:"conditionId"`
	Asset           string          `json:"asset"`
	Side            string          `json:"side"`
	Size            decimal.Decimal `json:"size"`
	Price           decimal.Decimal `json:"price"`
	Timestamp       int64           `json:"timestamp"`
	ProxyWallet     string          `json:"proxyWallet"`
	Outcome         string          `json:"outcome"`
}

// FetchRecentTrades returns up to limit most recent trades for the wallet,
// newest first as the API delivers them. Network failures are returned as
// TransientError so the tracker retries on the next tick.
func (c *DataAPIClient) FetchRecentTrades(ctx context.Context, wallet string, limit int) ([]types.TrackedTrade, error) {
	q := url.Values{}
	q.Set("user", wallet)
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/trades?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

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
		return nil, fmt.Errorf("data api HTTP %d: %s", resp.StatusCode, string(body))
	}

	var raw []tradeResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("parse trades: %w", err)
	}

	trades := make([]types.TrackedTrade, 0, len(raw))
	for _, r := range raw {
		trades = append(trades, types.TrackedTrade{
			ID:        tradeKey(r),
			Market:    r.Asset,
			Side:      types.Side(r.Side),
			Size:      r.Size,
			Price:     r.Price,
			Timestamp: time.Unix(r.Timestamp, 0).UTC(),
			Wallet:    r.ProxyWallet,
		})
	}
	return trades, nil
}

// tradeKey builds the dedup identifier for a trade. Transaction hash when
// present, else a composite of the identifying fields.
func tradeKey(r tradeResponse) string {
	if r.TransactionHash != "" {
		return "tx:" + r.TransactionHash
	}
	return fmt.Sprintf("cmp:%d|%s|%s|%s|%s",
		r.Timestamp, r.ConditionID, r.Outcome, r.Price.String(), r.Size.String())
}
