package repository

import "context"

// Repository is the record-store contract every entity kind implements.
// Misses are reported as ErrNotFound, which is domain.ErrNotFound.
type Repository[T any, ID comparable] interface {
	// Save inserts the record when its ID is zero and updates it otherwise.
	Save(ctx context.Context, entity T) (T, error)

	FindByID(ctx context.Context, id ID) (T, error)

	// FindAll returns every record ordered by ID.
	FindAll(ctx context.Context) ([]T, error)

	DeleteByID(ctx context.Context, id ID) error

	ExistsByID(ctx context.Context, id ID) (bool, error)
}
