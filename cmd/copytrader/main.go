// Copytrader - Polymarket copy-trading bot
//
// Mirrors the trading activity of a single target wallet with fixed-size
// positions:
// 1. Poll the target's trades from the Polymarket Data API
// 2. Deduplicate and queue them in chronological order
// 3. Decide open/close actions against per-market position ledgers
// 4. Place CLOB orders (or simulate them in DRY_RUN)
// 5. Reconcile order status until confirmed, rejected or timed out
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/web3guy0/copytrader/bot"
	"github.com/web3guy0/copytrader/config"
	"github.com/web3guy0/copytrader/dedupe"
	"github.com/web3guy0/copytrader/engine"
	"github.com/web3guy0/copytrader/execution"
	"github.com/web3guy0/copytrader/feeds"
	"github.com/web3guy0/copytrader/ledger"
	"github.com/web3guy0/copytrader/polymarket"
	"github.com/web3guy0/copytrader/queue"
	"github.com/web3guy0/copytrader/storage"
	"github.com/web3guy0/copytrader/tracker"
	"github.com/web3guy0/copytrader/types"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("version", version).
		Str("mode", mode).
		Str("target", cfg.TargetWallet).
		Msg("🚀 Copytrader starting")

	// Database
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Ledger store with recovery
	store := ledger.NewStore(db)
	ledgers, err := db.LoadLedgers()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load ledgers")
	}
	store.Load(ledgers)

	// Seen-trade set with recovery
	seen := dedupe.NewSet(cfg.SeenCacheSize)
	seenIDs, err := db.LoadSeenTrades(cfg.SeenCacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load seen trades")
	}
	for _, id := range seenIDs {
		seen.Add(id)
	}

	// Exchange clients
	dataAPI := polymarket.NewDataAPIClient(cfg.DataAPIURL)
	clob, err := polymarket.NewClobClient(polymarket.ClobConfig{
		BaseURL:    cfg.CLOBURL,
		PrivateKey: cfg.WalletPrivateKey,
		APIKey:     cfg.CLOBApiKey,
		APISecret:  cfg.CLOBApiSecret,
		Passphrase: cfg.CLOBPassphrase,
		DryRun:     cfg.DryRun,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize CLOB client")
	}

	// Notification sink
	var notifier types.Notifier = bot.ConsoleNotifier{}
	var tg *bot.TelegramBot
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, cfg.DryRun, statusAdapter{store})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		notifier = tg
	} else {
		log.Info().Msg("Telegram not configured, logging events to console")
	}

	// Price feed
	var prices engine.PriceSource
	if cfg.PriceFeedEnabled {
		feed := feeds.NewPriceFeed(cfg.WSURL)
		feed.Start()
		defer feed.Stop()
		prices = feed
	}

	// Pipeline
	q := queue.New(cfg.QueueSize)

	exec := execution.NewService(store, clob, clob, db, notifier, execution.Config{
		MaxRetries:        cfg.MaxOrderRetries,
		RetryBackoff:      cfg.RetryBackoff,
		ReconcileInterval: cfg.ReconcileInterval,
		OrderTimeout:      cfg.OrderTimeout,
	})
	pendingOrders, err := db.LoadPendingOrders()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load pending orders")
	}
	exec.Load(pendingOrders)
	exec.RepairLedgers()

	eng := engine.New(store, exec, prices, engine.Config{
		FixedAmountUSDC:   cfg.FixedAmountUSDC,
		MaxActiveLedgers:  cfg.MaxActiveLedgers,
		CloseThresholdPct: cfg.CloseThresholdPct,
		FullExitEpsilon:   cfg.FullExitEpsilon,
	})

	trk := tracker.New(dataAPI, q, seen, cfg.TargetWallet, cfg.PollInterval, cfg.TradesPerPoll).
		WithPersistence(db, cfg.SeenCacheSize)

	if tg != nil {
		tg.Start()
		defer tg.Stop()
		tg.NotifyStartup(cfg.TargetWallet)
	}

	// Run the three loops until a signal arrives
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return trk.Run(gctx) })
	g.Go(func() error { return eng.RunConsumer(gctx, q) })
	g.Go(func() error { return exec.RunReconciler(gctx) })

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Pipeline failed")
	}

	log.Info().Msg("👋 Shutdown complete")
}

// statusAdapter exposes ledger state to the Telegram bot.
type statusAdapter struct {
	store *ledger.Store
}

func (s statusAdapter) ActiveCount() int {
	return s.store.ActiveCount()
}

func (s statusAdapter) OpenPositions() []bot.PositionInfo {
	var out []bot.PositionInfo
	for _, l := range s.store.All() {
		if l.State == ledger.StateOpen && l.OwnSize.GreaterThan(decimal.Zero) {
			out = append(out, bot.PositionInfo{
				Market: l.Market,
				Size:   l.OwnSize,
				Entry:  l.OwnEntryPrice,
			})
		}
	}
	return out
}
