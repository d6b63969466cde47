package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// deleteByID removes one row of table, reporting ErrNotFound when nothing matched.
func deleteByID(ctx context.Context, db *sql.DB, table, kind string, id int64) error {
	result, err := db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", kind, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s with ID %d: %w", kind, id, ErrNotFound)
	}

	return nil
}

func existsByID(ctx context.Context, db *sql.DB, table, kind string, id int64) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check %s existence: %w", kind, err)
	}
	return count > 0, nil
}
