package model

import (
	"context"
	"time"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the reporting layer from concrete backends
// (SQLite, PostgreSQL, Redis).

// TradeStore is the single authoritative write path of the trade ledger and
// its read side. Trades are never updated or deleted.
type TradeStore interface {
	// Append validates and persists a trade, returning it as stored.
	Append(ctx context.Context, t Trade) (Trade, error)

	// Get returns one trade by id.
	Get(ctx context.Context, id string) (Trade, error)

	// ListByAccount returns all trades of an account in execution order.
	ListByAccount(ctx context.Context, account string) ([]Trade, error)

	// Accounts lists accounts that have trades.
	Accounts(ctx context.Context) ([]string, error)

	// Close releases underlying resources.
	Close() error
}

// PriceSource supplies a price snapshot keyed by base symbol. Symbols with no
// known price are absent from the result.
type PriceSource interface {
	Snapshot(ctx context.Context, symbols []string) (map[string]float64, error)
}

// PriceWriter stores the latest prices produced by a price feed.
type PriceWriter interface {
	SetPrices(ctx context.Context, prices map[string]float64, at time.Time) error
}
