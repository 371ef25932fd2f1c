package storage

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/copytrader/execution"
	"github.com/web3guy0/copytrader/ledger"
	"github.com/web3guy0/copytrader/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORAGE - Crash-safe snapshots of ledgers, pending orders and seen trades
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

// LedgerRecord mirrors one per-market ledger row.
type LedgerRecord struct {
	Market        string          `gorm:"primaryKey"`
	TargetSize    decimal.Decimal `gorm:"type:decimal(30,10)"`
	OwnSize       decimal.Decimal `gorm:"type:decimal(30,10)"`
	OwnEntryPrice decimal.Decimal `gorm:"type:decimal(10,6)"`
	State         string          `gorm:"index"`
	InFlight      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PendingOrderRecord mirrors one submitted-but-unconfirmed order.
type PendingOrderRecord struct {
	ID          string          `gorm:"primaryKey"`
	LocalID     string
	Market      string          `gorm:"index"`
	Kind        string
	Side        string
	Size        decimal.Decimal `gorm:"type:decimal(30,10)"`
	PriceHint   decimal.Decimal `gorm:"type:decimal(10,6)"`
	Status      string
	AppliedFill decimal.Decimal `gorm:"type:decimal(30,10)"`
	PrevState   string
	PrevSize    decimal.Decimal `gorm:"type:decimal(30,10)"`
	PrevEntry   decimal.Decimal `gorm:"type:decimal(10,6)"`
	SubmittedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SeenTradeRecord is one deduplicated trade ID. Bounded by pruning.
type SeenTradeRecord struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	TradeID   string `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

func New(dbPath string) (*Database, error) {
	var db *gorm.DB
	var err error

	// Check if this is a PostgreSQL connection string
	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		// SQLite fallback
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&LedgerRecord{}, &PendingOrderRecord{}, &SeenTradeRecord{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Ledger operations

// SaveLedger implements ledger.Persister.
func (d *Database) SaveLedger(l ledger.Ledger) error {
	rec := LedgerRecord{
		Market:        l.Market,
		TargetSize:    l.TargetPosition,
		OwnSize:       l.OwnSize,
		OwnEntryPrice: l.OwnEntryPrice,
		State:         string(l.State),
		InFlight:      l.InFlight,
		UpdatedAt:     l.UpdatedAt,
	}
	return d.db.Save(&rec).Error
}

// LoadLedgers returns every persisted ledger for startup recovery.
func (d *Database) LoadLedgers() ([]ledger.Ledger, error) {
	var recs []LedgerRecord
	if err := d.db.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]ledger.Ledger, 0, len(recs))
	for _, r := range recs {
		out = append(out, ledger.Ledger{
			Market:         r.Market,
			TargetPosition: r.TargetSize,
			OwnSize:        r.OwnSize,
			OwnEntryPrice:  r.OwnEntryPrice,
			State:          ledger.State(r.State),
			InFlight:       r.InFlight,
			UpdatedAt:      r.UpdatedAt,
		})
	}
	return out, nil
}

// Pending order operations

// SavePendingOrder implements execution.Journal.
func (d *Database) SavePendingOrder(o execution.PendingOrder) error {
	rec := PendingOrderRecord{
		ID:          o.ID,
		LocalID:     o.LocalID,
		Market:      o.Market,
		Kind:        string(o.Kind),
		Side:        string(o.Side),
		Size:        o.Size,
		PriceHint:   o.PriceHint,
		Status:      string(o.Status),
		AppliedFill: o.AppliedFill,
		PrevState:   string(o.Prev.State),
		PrevSize:    o.Prev.OwnSize,
		PrevEntry:   o.Prev.OwnEntryPrice,
		SubmittedAt: o.SubmittedAt,
	}
	return d.db.Save(&rec).Error
}

// DeletePendingOrder implements execution.Journal.
func (d *Database) DeletePendingOrder(id string) error {
	return d.db.Delete(&PendingOrderRecord{}, "id = ?", id).Error
}

// LoadPendingOrders returns the outstanding orders for startup recovery.
func (d *Database) LoadPendingOrders() ([]execution.PendingOrder, error) {
	var recs []PendingOrderRecord
	if err := d.db.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]execution.PendingOrder, 0, len(recs))
	for _, r := range recs {
		out = append(out, execution.PendingOrder{
			ID:          r.ID,
			LocalID:     r.LocalID,
			Market:      r.Market,
			Kind:        ledger.IntentKind(r.Kind),
			Side:        types.Side(r.Side),
			Size:        r.Size,
			PriceHint:   r.PriceHint,
			Status:      execution.OrderStatus(r.Status),
			AppliedFill: r.AppliedFill,
			SubmittedAt: r.SubmittedAt,
			Prev: ledger.Snapshot{
				State:         ledger.State(r.PrevState),
				OwnSize:       r.PrevSize,
				OwnEntryPrice: r.PrevEntry,
			},
		})
	}
	return out, nil
}

// Seen trade operations

// SaveSeenTrade records a deduplicated trade ID and prunes rows beyond
// the retention bound.
func (d *Database) SaveSeenTrade(tradeID string, keep int) error {
	rec := SeenTradeRecord{TradeID: tradeID}
	if err := d.db.Where(SeenTradeRecord{TradeID: tradeID}).FirstOrCreate(&rec).Error; err != nil {
		return err
	}

	var count int64
	d.db.Model(&SeenTradeRecord{}).Count(&count)
	if int(count) > keep {
		return d.db.Exec(
			"DELETE FROM seen_trade_records WHERE id IN (SELECT id FROM seen_trade_records ORDER BY id ASC LIMIT ?)",
			int(count)-keep,
		).Error
	}
	return nil
}

// LoadSeenTrades returns the most recent trade IDs, oldest first, so the
// in-memory set evicts in the same order it was built.
func (d *Database) LoadSeenTrades(limit int) ([]string, error) {
	var recs []SeenTradeRecord
	if err := d.db.Order("id DESC").Limit(limit).Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]string, 0, len(recs))
	for i := len(recs) - 1; i >= 0; i-- {
		out = append(out, recs[i].TradeID)
	}
	return out, nil
}
