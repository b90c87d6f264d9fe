// Package backend opens the configured trade ledger.
package backend

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"cryptodash/config"
	"cryptodash/internal/model"
	"cryptodash/internal/store/postgres"
	"cryptodash/internal/store/sqlite"
)

// Open returns the ledger selected by cfg.LedgerBackend together with its
// database handle for health checks.
func Open(cfg *config.Config) (model.TradeStore, *sql.DB, error) {
	switch cfg.LedgerBackend {
	case config.BackendSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		l, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return l, l.DB(), nil

	case config.BackendPostgres:
		l, err := postgres.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		db, err := l.DB()
		if err != nil {
			l.Close()
			return nil, nil, err
		}
		return l, db, nil

	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}
