package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// TenantRepository defines domain-specific operations for cloud tenants
type TenantRepository interface {
	Repository[domain.CloudTenant, int64]
	FindByName(ctx context.Context, name string) ([]domain.CloudTenant, error)
	FindByExternalRef(ctx context.Context, providerID int64, ref string) (domain.CloudTenant, error)
}

type tenantRepositoryImpl struct {
	db *sql.DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *sql.DB) TenantRepository {
	return &tenantRepositoryImpl{db: db}
}

const tenantColumns = `id, name, provider_id, ems_ref`

func scanTenant(row interface{ Scan(...any) error }) (domain.CloudTenant, error) {
	var t domain.CloudTenant
	err := row.Scan(&t.ID, &t.Name, &t.ProviderID, &t.ExternalRef)
	return t, err
}

// Save creates or updates a tenant
func (r *tenantRepositoryImpl) Save(ctx context.Context, t domain.CloudTenant) (domain.CloudTenant, error) {
	if t.Name == "" {
		return domain.CloudTenant{}, fmt.Errorf("%w: tenant name is required", ErrInvalidEntity)
	}
	if t.ProviderID == 0 {
		return domain.CloudTenant{}, fmt.Errorf("%w: tenant provider is required", ErrInvalidEntity)
	}

	if t.ID == 0 {
		result, err := r.db.ExecContext(ctx,
			`INSERT INTO cloud_tenants (name, provider_id, ems_ref) VALUES (?, ?, ?)`,
			t.Name, t.ProviderID, t.ExternalRef)
		if err != nil {
			return domain.CloudTenant{}, fmt.Errorf("failed to create tenant: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.CloudTenant{}, fmt.Errorf("failed to get tenant ID: %w", err)
		}
		t.ID = id
		return t, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE cloud_tenants SET name = ?, provider_id = ?, ems_ref = ? WHERE id = ?`,
		t.Name, t.ProviderID, t.ExternalRef, t.ID)
	if err != nil {
		return domain.CloudTenant{}, fmt.Errorf("failed to update tenant: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.CloudTenant{}, fmt.Errorf("tenant with ID %d: %w", t.ID, ErrNotFound)
	}
	return t, nil
}

// FindByID finds a tenant by ID
func (r *tenantRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.CloudTenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx, `SELECT `+tenantColumns+` FROM cloud_tenants WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CloudTenant{}, fmt.Errorf("tenant with ID %d: %w", id, ErrNotFound)
		}
		return domain.CloudTenant{}, fmt.Errorf("failed to find tenant: %w", err)
	}
	return t, nil
}

// FindByExternalRef finds the tenant a provider knows by its project id
func (r *tenantRepositoryImpl) FindByExternalRef(ctx context.Context, providerID int64, ref string) (domain.CloudTenant, error) {
	t, err := scanTenant(r.db.QueryRowContext(ctx,
		`SELECT `+tenantColumns+` FROM cloud_tenants WHERE provider_id = ? AND ems_ref = ? ORDER BY id LIMIT 1`,
		providerID, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CloudTenant{}, fmt.Errorf("tenant with ems_ref %q: %w", ref, ErrNotFound)
		}
		return domain.CloudTenant{}, fmt.Errorf("failed to find tenant: %w", err)
	}
	return t, nil
}

// FindByName finds tenants by exact name
func (r *tenantRepositoryImpl) FindByName(ctx context.Context, name string) ([]domain.CloudTenant, error) {
	return r.query(ctx, `SELECT `+tenantColumns+` FROM cloud_tenants WHERE name = ? ORDER BY id`, name)
}

// FindAll finds all tenants
func (r *tenantRepositoryImpl) FindAll(ctx context.Context) ([]domain.CloudTenant, error) {
	return r.query(ctx, `SELECT `+tenantColumns+` FROM cloud_tenants ORDER BY id`)
}

func (r *tenantRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.CloudTenant, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenants: %w", err)
	}
	defer rows.Close()

	var tenants []domain.CloudTenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tenants: %w", err)
	}
	return tenants, nil
}

// DeleteByID deletes a tenant by ID
func (r *tenantRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "cloud_tenants", "tenant", id)
}

// ExistsByID checks if a tenant exists by ID
func (r *tenantRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	return existsByID(ctx, r.db, "cloud_tenants", "tenant", id)
}
