package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// FloatingIPFilter narrows a floating IP lookup. Every non-zero field must match.
type FloatingIPFilter struct {
	NetworkID int64
	TenantID  int64
	Address   string
}

// FloatingIPRepository defines domain-specific operations for floating IPs
type FloatingIPRepository interface {
	Repository[domain.FloatingIP, int64]
	FindByFilter(ctx context.Context, filter FloatingIPFilter) ([]domain.FloatingIP, error)
	// FindPending finds the durable record of a freshly allocated address:
	// status DOWN and not bound to any VM. Returns ErrNotFound until the
	// record store reflects the allocation.
	FindPending(ctx context.Context, networkID, tenantID int64, address string) (domain.FloatingIP, error)
	UpsertByExternalRef(ctx context.Context, fip domain.FloatingIP) (domain.FloatingIP, error)
	// DeleteStale removes the tenant's records whose control-plane id is not in keep.
	DeleteStale(ctx context.Context, tenantID int64, keep []string) (int64, error)
	Close() error
}

type floatingIPRepositoryImpl struct {
	db    *sql.DB
	cache *StatementCache
}

// NewFloatingIPRepository creates a new floating IP repository
func NewFloatingIPRepository(db *sql.DB) FloatingIPRepository {
	return &floatingIPRepositoryImpl{
		db:    db,
		cache: NewStatementCache(db),
	}
}

const floatingIPColumns = `id, address, network_id, tenant_id, fixed_ip_address, vm_id, status, ems_ref`

const pendingQuery = `SELECT ` + floatingIPColumns + ` FROM floating_ips
	WHERE network_id = ? AND tenant_id = ? AND address = ? AND status = 'DOWN' AND vm_id IS NULL
	ORDER BY id LIMIT 1`

func scanFloatingIP(row interface{ Scan(...any) error }) (domain.FloatingIP, error) {
	var fip domain.FloatingIP
	var vmID sql.NullInt64
	var status string
	err := row.Scan(&fip.ID, &fip.Address, &fip.NetworkID, &fip.TenantID, &fip.FixedIPAddress,
		&vmID, &status, &fip.ExternalRef)
	if err != nil {
		return domain.FloatingIP{}, err
	}
	fip.Status = domain.FloatingIPStatus(status)
	if vmID.Valid {
		id := vmID.Int64
		fip.VMID = &id
	}
	return fip, nil
}

func validateFloatingIP(fip domain.FloatingIP) error {
	if fip.Address == "" {
		return fmt.Errorf("%w: floating IP address is required", ErrInvalidEntity)
	}
	if fip.NetworkID == 0 {
		return fmt.Errorf("%w: floating IP network is required", ErrInvalidEntity)
	}
	if fip.TenantID == 0 {
		return fmt.Errorf("%w: floating IP tenant is required", ErrInvalidEntity)
	}
	return nil
}

// Save creates or updates a floating IP
func (r *floatingIPRepositoryImpl) Save(ctx context.Context, fip domain.FloatingIP) (domain.FloatingIP, error) {
	if err := validateFloatingIP(fip); err != nil {
		return domain.FloatingIP{}, err
	}
	if fip.Status == "" {
		fip.Status = domain.FloatingIPDown
	}

	if fip.ID == 0 {
		if fip.ExternalRef != "" {
			var count int
			err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM floating_ips WHERE ems_ref = ?", fip.ExternalRef).Scan(&count)
			if err != nil {
				return domain.FloatingIP{}, fmt.Errorf("failed to check for duplicate floating IP: %w", err)
			}
			if count > 0 {
				return domain.FloatingIP{}, fmt.Errorf("floating IP with ems_ref %q: %w", fip.ExternalRef, ErrDuplicate)
			}
		}
		return r.insert(ctx, fip)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE floating_ips
		SET address = ?, network_id = ?, tenant_id = ?, fixed_ip_address = ?, vm_id = ?, status = ?, ems_ref = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		fip.Address, fip.NetworkID, fip.TenantID, fip.FixedIPAddress, nullableID(fip.VMID),
		string(fip.Status), fip.ExternalRef, fip.ID)
	if err != nil {
		return domain.FloatingIP{}, fmt.Errorf("failed to update floating IP: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.FloatingIP{}, fmt.Errorf("floating IP with ID %d: %w", fip.ID, ErrNotFound)
	}
	return fip, nil
}

func (r *floatingIPRepositoryImpl) insert(ctx context.Context, fip domain.FloatingIP) (domain.FloatingIP, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO floating_ips (address, network_id, tenant_id, fixed_ip_address, vm_id, status, ems_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fip.Address, fip.NetworkID, fip.TenantID, fip.FixedIPAddress, nullableID(fip.VMID),
		string(fip.Status), fip.ExternalRef)
	if err != nil {
		return domain.FloatingIP{}, fmt.Errorf("failed to create floating IP: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return domain.FloatingIP{}, fmt.Errorf("failed to get floating IP ID: %w", err)
	}
	fip.ID = id
	return fip, nil
}

// UpsertByExternalRef updates the record carrying fip's control-plane id, or creates it
func (r *floatingIPRepositoryImpl) UpsertByExternalRef(ctx context.Context, fip domain.FloatingIP) (domain.FloatingIP, error) {
	if fip.ExternalRef == "" {
		return domain.FloatingIP{}, fmt.Errorf("%w: floating IP ems_ref is required for upsert", ErrInvalidEntity)
	}

	var id int64
	err := r.db.QueryRowContext(ctx, "SELECT id FROM floating_ips WHERE ems_ref = ? ORDER BY id LIMIT 1", fip.ExternalRef).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fip.ID = 0
	case err != nil:
		return domain.FloatingIP{}, fmt.Errorf("failed to find floating IP: %w", err)
	default:
		fip.ID = id
	}
	return r.Save(ctx, fip)
}

// FindByID finds a floating IP by ID
func (r *floatingIPRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.FloatingIP, error) {
	fip, err := scanFloatingIP(r.db.QueryRowContext(ctx, `SELECT `+floatingIPColumns+` FROM floating_ips WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FloatingIP{}, fmt.Errorf("floating IP with ID %d: %w", id, ErrNotFound)
		}
		return domain.FloatingIP{}, fmt.Errorf("failed to find floating IP: %w", err)
	}
	return fip, nil
}

// FindPending runs on every poll tick, so its statement is prepared once and cached
func (r *floatingIPRepositoryImpl) FindPending(ctx context.Context, networkID, tenantID int64, address string) (domain.FloatingIP, error) {
	stmt, err := r.cache.Prepare(ctx, pendingQuery)
	if err != nil {
		return domain.FloatingIP{}, fmt.Errorf("failed to prepare pending query: %w", err)
	}

	fip, err := scanFloatingIP(stmt.QueryRowContext(ctx, networkID, tenantID, address))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.FloatingIP{}, fmt.Errorf("pending floating IP %s: %w", address, ErrNotFound)
		}
		return domain.FloatingIP{}, fmt.Errorf("failed to find pending floating IP: %w", err)
	}
	return fip, nil
}

// FindByFilter finds the floating IPs matching every field set in filter
func (r *floatingIPRepositoryImpl) FindByFilter(ctx context.Context, filter FloatingIPFilter) ([]domain.FloatingIP, error) {
	var clauses []string
	var args []any
	if filter.NetworkID != 0 {
		clauses = append(clauses, "network_id = ?")
		args = append(args, filter.NetworkID)
	}
	if filter.TenantID != 0 {
		clauses = append(clauses, "tenant_id = ?")
		args = append(args, filter.TenantID)
	}
	if filter.Address != "" {
		clauses = append(clauses, "address = ?")
		args = append(args, filter.Address)
	}

	query := `SELECT ` + floatingIPColumns + ` FROM floating_ips`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return r.query(ctx, query+" ORDER BY id", args...)
}

// FindAll finds all floating IPs
func (r *floatingIPRepositoryImpl) FindAll(ctx context.Context) ([]domain.FloatingIP, error) {
	return r.query(ctx, `SELECT `+floatingIPColumns+` FROM floating_ips ORDER BY id`)
}

func (r *floatingIPRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.FloatingIP, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find floating IPs: %w", err)
	}
	defer rows.Close()

	var fips []domain.FloatingIP
	for rows.Next() {
		fip, err := scanFloatingIP(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan floating IP: %w", err)
		}
		fips = append(fips, fip)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating floating IPs: %w", err)
	}
	return fips, nil
}

// DeleteStale removes the tenant's floating IPs no longer known to the control plane
func (r *floatingIPRepositoryImpl) DeleteStale(ctx context.Context, tenantID int64, keep []string) (int64, error) {
	query := "DELETE FROM floating_ips WHERE tenant_id = ?"
	args := []any{tenantID}
	if len(keep) > 0 {
		query += " AND ems_ref NOT IN (?" + strings.Repeat(", ?", len(keep)-1) + ")"
		for _, ref := range keep {
			args = append(args, ref)
		}
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale floating IPs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// DeleteByID deletes a floating IP by ID
func (r *floatingIPRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "floating_ips", "floating IP", id)
}

// ExistsByID checks if a floating IP exists by ID
func (r *floatingIPRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	return existsByID(ctx, r.db, "floating_ips", "floating IP", id)
}

// Close releases the cached prepared statements
func (r *floatingIPRepositoryImpl) Close() error {
	return r.cache.Close()
}
