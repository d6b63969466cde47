package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// ProviderRepository defines domain-specific operations for providers
type ProviderRepository interface {
	Repository[domain.Provider, int64]
	// FindByName returns every provider with the exact name. Names are not unique.
	FindByName(ctx context.Context, name string) ([]domain.Provider, error)
}

// providerRepositoryImpl implements ProviderRepository
type providerRepositoryImpl struct {
	db *sql.DB
}

// NewProviderRepository creates a new provider repository
func NewProviderRepository(db *sql.DB) ProviderRepository {
	return &providerRepositoryImpl{
		db: db,
	}
}

const providerColumns = `id, name, hostname, port, security_protocol, api_version, region, domain_name, userid, password`

func scanProvider(row interface{ Scan(...any) error }) (domain.Provider, error) {
	var p domain.Provider
	err := row.Scan(&p.ID, &p.Name, &p.Hostname, &p.Port, &p.SecurityProtocol,
		&p.APIVersion, &p.Region, &p.DomainName, &p.UserID, &p.Password)
	return p, err
}

// Save creates or updates a provider
func (r *providerRepositoryImpl) Save(ctx context.Context, p domain.Provider) (domain.Provider, error) {
	if p.Name == "" {
		return domain.Provider{}, fmt.Errorf("%w: provider name is required", ErrInvalidEntity)
	}
	if p.Hostname == "" {
		return domain.Provider{}, fmt.Errorf("%w: provider hostname is required", ErrInvalidEntity)
	}
	if p.Port == 0 {
		p.Port = 5000
	}
	if p.SecurityProtocol == "" {
		p.SecurityProtocol = domain.ProtocolSSL
	}
	if p.APIVersion == "" {
		p.APIVersion = "v3"
	}

	if p.ID == 0 {
		result, err := r.db.ExecContext(ctx, `
			INSERT INTO providers (name, hostname, port, security_protocol, api_version, region, domain_name, userid, password)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.Hostname, p.Port, p.SecurityProtocol, p.APIVersion, p.Region, p.DomainName, p.UserID, p.Password)
		if err != nil {
			return domain.Provider{}, fmt.Errorf("failed to create provider: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.Provider{}, fmt.Errorf("failed to get provider ID: %w", err)
		}
		p.ID = id
		return p, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE providers
		SET name = ?, hostname = ?, port = ?, security_protocol = ?, api_version = ?, region = ?,
		    domain_name = ?, userid = ?, password = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		p.Name, p.Hostname, p.Port, p.SecurityProtocol, p.APIVersion, p.Region, p.DomainName, p.UserID, p.Password, p.ID)
	if err != nil {
		return domain.Provider{}, fmt.Errorf("failed to update provider: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.Provider{}, fmt.Errorf("provider with ID %d: %w", p.ID, ErrNotFound)
	}
	return p, nil
}

// FindByID finds a provider by ID
func (r *providerRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Provider, error) {
	p, err := scanProvider(r.db.QueryRowContext(ctx, `SELECT `+providerColumns+` FROM providers WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Provider{}, fmt.Errorf("provider with ID %d: %w", id, ErrNotFound)
		}
		return domain.Provider{}, fmt.Errorf("failed to find provider: %w", err)
	}
	return p, nil
}

// FindByName finds providers by exact name
func (r *providerRepositoryImpl) FindByName(ctx context.Context, name string) ([]domain.Provider, error) {
	return r.query(ctx, `SELECT `+providerColumns+` FROM providers WHERE name = ? ORDER BY id`, name)
}

// FindAll finds all providers
func (r *providerRepositoryImpl) FindAll(ctx context.Context) ([]domain.Provider, error) {
	return r.query(ctx, `SELECT `+providerColumns+` FROM providers ORDER BY id`)
}

func (r *providerRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.Provider, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find providers: %w", err)
	}
	defer rows.Close()

	var providers []domain.Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan provider: %w", err)
		}
		providers = append(providers, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating providers: %w", err)
	}

	return providers, nil
}

// DeleteByID deletes a provider by ID
func (r *providerRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "providers", "provider", id)
}

// ExistsByID checks if a provider exists by ID
func (r *providerRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	return existsByID(ctx, r.db, "providers", "provider", id)
}
