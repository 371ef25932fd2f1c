package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Copy-trade notifications & status
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   💰 Position notifications (open/close)
//   ❌ Failure and timeout alerts
//   🎛️ Status commands (/status, /positions, /ping)
//
// Notify is fire-and-forget: events go through a buffered channel and a
// sender goroutine so a slow Telegram API never blocks the pipeline.
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatusProvider supplies the state shown by bot commands.
type StatusProvider interface {
	ActiveCount() int
	OpenPositions() []PositionInfo
}

// PositionInfo represents a position for display
type PositionInfo struct {
	Market string
	Size   decimal.Decimal
	Entry  decimal.Decimal
}

// TelegramBot delivers pipeline events to a Telegram chat.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}
	events  chan types.Event

	status StatusProvider
	dryRun bool
}

// NewTelegramBot creates a new Telegram bot. status may be nil.
func NewTelegramBot(token string, chatID int64, dryRun bool, status StatusProvider) (*TelegramBot, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token not set")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat ID not set")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:    api,
		chatID: chatID,
		stopCh: make(chan struct{}),
		events: make(chan types.Event, 64),
		status: status,
		dryRun: dryRun,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")

	return bot, nil
}

// Start begins the sender and command loops
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.sendLoop()
	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// Notify queues an event for delivery. Never blocks; drops on overflow.
func (b *TelegramBot) Notify(event types.Event) {
	select {
	case b.events <- event:
	default:
		log.Warn().Str("market", event.Market).Msg("Telegram event dropped, queue full")
	}
}

// NotifyStartup sends the startup banner.
func (b *TelegramBot) NotifyStartup(wallet string) {
	mode := "LIVE"
	if b.dryRun {
		mode = "PAPER"
	}

	msg := fmt.Sprintf(`🚀 *COPYTRADER STARTED*
━━━━━━━━━━━━━━━━━━━━

🎯 Target: `+"`%s`"+`
📊 Mode: *%s*

Use /help for commands`, shortWallet(wallet), mode)

	b.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) sendLoop() {
	for {
		select {
		case <-b.stopCh:
			return
		case ev := <-b.events:
			b.sendEvent(ev)
		}
	}
}

func (b *TelegramBot) sendEvent(ev types.Event) {
	switch ev.Kind {
	case types.EventOpened:
		b.sendMarkdown(fmt.Sprintf(`🟢 *POSITION OPENED*

📊 `+"`%s`"+`
💵 Price: *%s¢*
📦 Size: *%s*`,
			shortMarket(ev.Market),
			ev.Price.Mul(decimal.NewFromInt(100)).StringFixed(1),
			ev.Size.StringFixed(2),
		))
	case types.EventClosed:
		b.sendMarkdown(fmt.Sprintf(`🔴 *POSITION CLOSED*

📊 `+"`%s`"+`
💵 Price: *%s¢*
📦 Size: *%s*`,
			shortMarket(ev.Market),
			ev.Price.Mul(decimal.NewFromInt(100)).StringFixed(1),
			ev.Size.StringFixed(2),
		))
	case types.EventFailed:
		b.sendMarkdown(fmt.Sprintf(`❌ *ORDER FAILED*

📊 `+"`%s`"+`
📝 %s`,
			shortMarket(ev.Market),
			ev.Reason,
		))
	case types.EventTimedOut:
		b.sendMarkdown(fmt.Sprintf(`🚨 *ORDER TIMED OUT — MANUAL REVIEW*

📊 `+"`%s`"+`
🆔 `+"`%s`"+`
📝 %s`,
			shortMarket(ev.Market),
			ev.OrderID,
			ev.Reason,
		))
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())

	switch cmd {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "positions":
		b.cmdPositions()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	msg := `🤖 *COPYTRADER COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Bot status
💼 /positions — Open positions
🏓 /ping — Test connection`

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdStatus() {
	mode := "LIVE"
	if b.dryRun {
		mode = "PAPER"
	}

	active := 0
	if b.status != nil {
		active = b.status.ActiveCount()
	}

	msg := fmt.Sprintf(`📊 *BOT STATUS*
━━━━━━━━━━━━━━━━━━━━

🟢 RUNNING
📊 Mode: *%s*
💼 Active positions: *%d*`, mode, active)

	b.sendMarkdown(msg)
}

func (b *TelegramBot) cmdPositions() {
	if b.status == nil {
		b.send("❌ Positions not available")
		return
	}

	positions := b.status.OpenPositions()
	if len(positions) == 0 {
		b.send("📭 No open positions")
		return
	}

	msg := "💼 *OPEN POSITIONS*\n━━━━━━━━━━━━━━━━━━━━\n\n"

	for i, pos := range positions {
		msg += fmt.Sprintf("🟢 `%s`\n💵 Entry: %s¢ | Size: %s\n\n",
			shortMarket(pos.Market),
			pos.Entry.Mul(decimal.NewFromInt(100)).StringFixed(1),
			pos.Size.StringFixed(2),
		)

		if i >= 4 && len(positions) > 5 {
			msg += fmt.Sprintf("_... and %d more_", len(positions)-5)
			break
		}
	}

	b.sendMarkdown(msg)
}

// ═══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := b.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}

func shortMarket(market string) string {
	if len(market) <= 16 {
		return market
	}
	return market[:8] + "…" + market[len(market)-6:]
}

func shortWallet(wallet string) string {
	if len(wallet) <= 12 {
		return wallet
	}
	return wallet[:8] + "…" + wallet[len(wallet)-4:]
}
