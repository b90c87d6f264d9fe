// Package postgres implements the trade ledger on PostgreSQL through GORM.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"cryptodash/internal/model"
	"cryptodash/internal/store"

	pgdriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// tradeRow is the persisted form of model.Trade.
type tradeRow struct {
	Seq         uint      `gorm:"primaryKey;autoIncrement"`
	TradeID     string    `gorm:"column:trade_id;uniqueIndex;not null"`
	Account     string    `gorm:"index:idx_trades_account_exec,priority:1;not null"`
	Side        string    `gorm:"not null"`
	Symbol      string    `gorm:"index;not null"`
	Amount      float64   `gorm:"type:decimal(28,12);not null"`
	Price       float64   `gorm:"type:decimal(28,12);not null"`
	Fees        float64   `gorm:"type:decimal(28,12);not null;default:0"`
	ExecutedAt  time.Time `gorm:"index:idx_trades_account_exec,priority:2;not null"`
	LinkedBuyID string    `gorm:"index"`
	RealizedPnl *float64  `gorm:"type:decimal(28,12)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (tradeRow) TableName() string { return "trades" }

func toRow(t model.Trade) tradeRow {
	return tradeRow{
		TradeID:     t.ID,
		Account:     t.Account,
		Side:        string(t.Side),
		Symbol:      t.Symbol,
		Amount:      t.Amount,
		Price:       t.Price,
		Fees:        t.Fees,
		ExecutedAt:  t.ExecutedAt.UTC(),
		LinkedBuyID: t.LinkedBuyID,
		RealizedPnl: t.RealizedPnl,
	}
}

func (r tradeRow) toTrade() model.Trade {
	return model.Trade{
		ID:          r.TradeID,
		Account:     r.Account,
		Side:        model.Side(r.Side),
		Symbol:      r.Symbol,
		Amount:      r.Amount,
		Price:       r.Price,
		Fees:        r.Fees,
		ExecutedAt:  r.ExecutedAt.UTC(),
		LinkedBuyID: r.LinkedBuyID,
		RealizedPnl: r.RealizedPnl,
	}
}

// Ledger is the PostgreSQL-backed trade ledger.
type Ledger struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and migrates the trades table.
func Open(dsn string) (*Ledger, error) {
	return open(pgdriver.Open(dsn))
}

// open connects through dialector and migrates. The pool is closed again
// when migration fails.
func open(dialector gorm.Dialector) (*Ledger, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	if err := db.AutoMigrate(&tradeRow{}); err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("postgres migrate: %w", err)
	}
	log.Printf("[postgres] trade ledger ready")
	return New(db), nil
}

// New wraps an existing GORM connection.
func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// DB returns the underlying sql.DB for health checks.
func (l *Ledger) DB() (*sql.DB, error) { return l.db.DB() }

// Append validates and persists a trade. The duplicate and linked-buy
// checks run in the same transaction as the insert.
func (l *Ledger) Append(ctx context.Context, t model.Trade) (model.Trade, error) {
	t, err := store.Prepare(t)
	if err != nil {
		return model.Trade{}, err
	}

	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&tradeRow{}).Where("trade_id = ?", t.ID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", store.ErrDuplicate, t.ID)
		}

		if t.LinkedBuyID != "" {
			var buy tradeRow
			err := tx.Where("trade_id = ?", t.LinkedBuyID).First(&buy).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s does not exist", store.ErrInvalidLink, t.LinkedBuyID)
			}
			if err != nil {
				return err
			}
			if err := store.CheckLink(t, buy.toTrade()); err != nil {
				return err
			}
		}

		row := toRow(t)
		return tx.Create(&row).Error
	})
	if err != nil {
		return model.Trade{}, err
	}
	return t, nil
}

// Get returns a single trade by id.
func (l *Ledger) Get(ctx context.Context, id string) (model.Trade, error) {
	var row tradeRow
	err := l.db.WithContext(ctx).Where("trade_id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Trade{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	if err != nil {
		return model.Trade{}, err
	}
	return row.toTrade(), nil
}

// ListByAccount returns an account's trades in execution order, ties broken
// by insertion order.
func (l *Ledger) ListByAccount(ctx context.Context, account string) ([]model.Trade, error) {
	var rows []tradeRow
	err := l.db.WithContext(ctx).
		Where("account = ?", account).
		Order("executed_at ASC").Order("seq ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("postgres list trades: %w", err)
	}
	trades := make([]model.Trade, len(rows))
	for i, r := range rows {
		trades[i] = r.toTrade()
	}
	return trades, nil
}

// Accounts lists every account with at least one trade.
func (l *Ledger) Accounts(ctx context.Context) ([]string, error) {
	var accounts []string
	err := l.db.WithContext(ctx).Model(&tradeRow{}).
		Distinct("account").Order("account").
		Pluck("account", &accounts).Error
	return accounts, err
}

// Close closes the underlying connection pool.
func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
