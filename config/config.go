package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Target
	TargetWallet string

	// Mode
	DryRun bool
	Debug  bool

	// Polymarket API
	DataAPIURL string
	CLOBURL    string
	WSURL      string

	// CLOB Credentials
	CLOBApiKey     string
	CLOBApiSecret  string
	CLOBPassphrase string

	// Wallet
	WalletPrivateKey string

	// Tracking
	PollInterval  time.Duration
	TradesPerPoll int
	SeenCacheSize int
	QueueSize     int

	// Strategy
	FixedAmountUSDC   decimal.Decimal
	MaxActiveLedgers  int
	CloseThresholdPct decimal.Decimal // e.g. 80 = a single sell of >=80% of the target's position triggers a full exit
	FullExitEpsilon   decimal.Decimal

	// Execution
	MaxOrderRetries int
	RetryBackoff    time.Duration

	// Reconciliation
	ReconcileInterval time.Duration
	OrderTimeout      time.Duration

	// Price feed
	PriceFeedEnabled bool

	// Telegram
	TelegramToken  string
	TelegramChatID int64

	// Database
	DatabasePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		TargetWallet: os.Getenv("TARGET_WALLET"),

		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		DataAPIURL: getEnv("POLYMARKET_DATA_API_URL", "https://data-api.polymarket.com"),
		CLOBURL:    getEnv("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		WSURL:      getEnv("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),

		CLOBApiKey:     os.Getenv("CLOB_API_KEY"),
		CLOBApiSecret:  os.Getenv("CLOB_API_SECRET"),
		CLOBPassphrase: os.Getenv("CLOB_PASSPHRASE"),

		WalletPrivateKey: os.Getenv("WALLET_PRIVATE_KEY"),

		PollInterval:  getEnvDuration("POLL_INTERVAL", 3*time.Second),
		TradesPerPoll: getEnvInt("TRADES_PER_POLL", 20),
		SeenCacheSize: getEnvInt("SEEN_CACHE_SIZE", 512),
		QueueSize:     getEnvInt("QUEUE_SIZE", 256),

		FixedAmountUSDC:   getEnvDecimal("FIXED_AMOUNT_USDC", decimal.NewFromInt(10)),
		MaxActiveLedgers:  getEnvInt("MAX_ACTIVE_LEDGERS", 5),
		CloseThresholdPct: getEnvDecimal("CLOSE_THRESHOLD_PCT", decimal.NewFromInt(80)),
		FullExitEpsilon:   getEnvDecimal("FULL_EXIT_EPSILON", decimal.NewFromFloat(0.000001)),

		MaxOrderRetries: getEnvInt("MAX_ORDER_RETRIES", 3),
		RetryBackoff:    getEnvDuration("RETRY_BACKOFF", 500*time.Millisecond),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 2*time.Second),
		OrderTimeout:      getEnvDuration("ORDER_TIMEOUT", 60*time.Second),

		PriceFeedEnabled: getEnvBool("PRICE_FEED_ENABLED", true),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),

		DatabasePath: getEnv("DATABASE_PATH", "data/copytrader.db"),
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and bounds
func (c *Config) Validate() error {
	if c.TargetWallet == "" {
		return fmt.Errorf("TARGET_WALLET is required")
	}
	if len(c.TargetWallet) != 42 || c.TargetWallet[:2] != "0x" {
		return fmt.Errorf("TARGET_WALLET must be a 0x-prefixed 42-char address")
	}
	if !c.DryRun && c.WalletPrivateKey == "" {
		return fmt.Errorf("WALLET_PRIVATE_KEY is required when DRY_RUN=false")
	}
	if c.FixedAmountUSDC.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("FIXED_AMOUNT_USDC must be positive")
	}
	if c.MaxActiveLedgers < 1 {
		return fmt.Errorf("MAX_ACTIVE_LEDGERS must be at least 1")
	}
	if c.CloseThresholdPct.LessThanOrEqual(decimal.Zero) || c.CloseThresholdPct.GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("CLOSE_THRESHOLD_PCT must be in (0, 100]")
	}
	if c.TradesPerPoll < 1 {
		return fmt.Errorf("TRADES_PER_POLL must be at least 1")
	}
	if c.MaxOrderRetries < 1 {
		return fmt.Errorf("MAX_ORDER_RETRIES must be at least 1")
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if d, err := decimal.NewFromString(value); err == nil {
			return d
		}
	}
	return defaultValue
}
