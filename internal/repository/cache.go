package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// StatementCache holds statements prepared once per query text, for queries
// that run on a hot path such as allocation polling.
type StatementCache struct {
	mu    sync.RWMutex
	stmts map[string]*sql.Stmt
	db    *sql.DB
}

// NewStatementCache creates an empty cache over db
func NewStatementCache(db *sql.DB) *StatementCache {
	return &StatementCache{
		stmts: make(map[string]*sql.Stmt),
		db:    db,
	}
}

// Prepare returns the cached statement for query, preparing it on first use.
// A failed prepare is not cached.
func (c *StatementCache) Prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	c.mu.RLock()
	stmt, ok := c.stmts[query]
	c.mu.RUnlock()
	if ok {
		return stmt, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if stmt, ok := c.stmts[query]; ok {
		return stmt, nil
	}

	stmt, err := c.db.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	c.stmts[query] = stmt
	return stmt, nil
}

// Len returns the number of cached statements
func (c *StatementCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stmts)
}

// Close closes every cached statement and empties the cache
func (c *StatementCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for query, stmt := range c.stmts {
		if err := stmt.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close statement %q: %w", query, err))
		}
	}
	c.stmts = make(map[string]*sql.Stmt)
	return errors.Join(errs...)
}
