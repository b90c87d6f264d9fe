package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"cryptodash/internal/model"
	"cryptodash/internal/store"

	_ "github.com/mattn/go-sqlite3"
)

// Ledger is the SQLite-backed trade ledger. Appends are serialized through a
// single connection so lot order is never interleaved.
type Ledger struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (or creates) a ledger database in WAL mode.
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened trade ledger at %s", dbPath)
	return &Ledger{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			id            TEXT    NOT NULL UNIQUE,
			account       TEXT    NOT NULL,
			side          TEXT    NOT NULL,
			symbol        TEXT    NOT NULL,
			amount        REAL    NOT NULL,
			price         REAL    NOT NULL,
			fees          REAL    NOT NULL DEFAULT 0,
			executed_at   INTEGER NOT NULL,
			linked_buy_id TEXT,
			realized_pnl  REAL,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account, executed_at);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(account, symbol);
	`)
	if err != nil {
		return err
	}

	// Ledgers created before realized_pnl existed.
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info('trades') WHERE name = 'realized_pnl'`).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		_, err = db.Exec(`ALTER TABLE trades ADD COLUMN realized_pnl REAL`)
	}
	return err
}

// DB returns the underlying sql.DB for health checks.
func (l *Ledger) DB() *sql.DB { return l.db }

// Append validates and persists a trade. A linked sell must reference an
// earlier BUY of the same account and symbol.
func (l *Ledger) Append(ctx context.Context, t model.Trade) (model.Trade, error) {
	t, err := store.Prepare(t)
	if err != nil {
		return model.Trade{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.get(ctx, t.ID); err == nil {
		return model.Trade{}, fmt.Errorf("%w: %s", store.ErrDuplicate, t.ID)
	} else if !errors.Is(err, store.ErrNotFound) {
		return model.Trade{}, err
	}

	if t.LinkedBuyID != "" {
		buy, err := l.get(ctx, t.LinkedBuyID)
		if errors.Is(err, store.ErrNotFound) {
			return model.Trade{}, fmt.Errorf("%w: %s does not exist", store.ErrInvalidLink, t.LinkedBuyID)
		}
		if err != nil {
			return model.Trade{}, err
		}
		if err := store.CheckLink(t, buy); err != nil {
			return model.Trade{}, err
		}
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO trades (id, account, side, symbol, amount, price, fees, executed_at, linked_buy_id, realized_pnl)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Account, string(t.Side), t.Symbol, t.Amount, t.Price, t.Fees,
		t.ExecutedAt.UnixNano(), nullString(t.LinkedBuyID), nullFloat(t.RealizedPnl),
	)
	if err != nil {
		return model.Trade{}, fmt.Errorf("sqlite insert trade: %w", err)
	}
	return t, nil
}

// Get returns a single trade by id.
func (l *Ledger) Get(ctx context.Context, id string) (model.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(ctx, id)
}

func (l *Ledger) get(ctx context.Context, id string) (model.Trade, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, account, side, symbol, amount, price, fees, executed_at, linked_buy_id, realized_pnl
		FROM trades WHERE id = ?`, id)
	t, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Trade{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return t, err
}

// ListByAccount returns every trade of an account in execution order, ties
// broken by insertion order.
func (l *Ledger) ListByAccount(ctx context.Context, account string) ([]model.Trade, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, account, side, symbol, amount, price, fees, executed_at, linked_buy_id, realized_pnl
		FROM trades
		WHERE account = ?
		ORDER BY executed_at ASC, seq ASC
	`, account)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]model.Trade, 0, 64)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Accounts lists every account with at least one trade.
func (l *Ledger) Accounts(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT account FROM trades ORDER BY account`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(s scanner) (model.Trade, error) {
	var (
		t        model.Trade
		side     string
		execNano int64
		linked   sql.NullString
		realized sql.NullFloat64
	)
	if err := s.Scan(&t.ID, &t.Account, &side, &t.Symbol, &t.Amount, &t.Price, &t.Fees, &execNano, &linked, &realized); err != nil {
		return model.Trade{}, err
	}
	t.Side = model.Side(side)
	t.ExecutedAt = time.Unix(0, execNano).UTC()
	t.LinkedBuyID = linked.String
	if realized.Valid {
		v := realized.Float64
		t.RealizedPnl = &v
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}
