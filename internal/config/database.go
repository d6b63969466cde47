package config

import (
	"database/sql"
	"fmt"
	"time"
)

// sqlite allows a single writer; a small pool keeps poll reads from queuing
// behind an inventory refresh.
const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
	connMaxIdleTime = time.Minute
)

var recordStorePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = 10000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA optimize",
}

func configurePool(db *sql.DB) {
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range recordStorePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}
