package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// Custom attribute names holding a VM's cached floating association.
const (
	AttrFloatingAddress = "NEUTRON_floating_ip"
	AttrFloatingID      = "NEUTRON_floating_id"
)

// VMFilter narrows a VM lookup. Every non-zero field must match.
type VMFilter struct {
	Name       string
	ProviderID int64
	TenantID   int64
}

// VMRepository defines domain-specific operations for virtual machines
type VMRepository interface {
	Repository[domain.VirtualMachine, int64]
	FindByFilter(ctx context.Context, filter VMFilter) ([]domain.VirtualMachine, error)
	// SetFloatingAssociation records the address bound to a VM in its
	// custom attributes. The record is a cache, not the source of truth.
	SetFloatingAssociation(ctx context.Context, vmID int64, fa domain.FloatingAssociation) error
	ClearFloatingAssociation(ctx context.Context, vmID int64) error
}

type vmRepositoryImpl struct {
	db *sql.DB
}

// NewVMRepository creates a new VM repository
func NewVMRepository(db *sql.DB) VMRepository {
	return &vmRepositoryImpl{db: db}
}

const vmSelect = `
	SELECT v.id, v.name, v.provider_id, v.tenant_id, v.ems_ref,
	       COALESCE(fa.value, ''), COALESCE(fi.value, '')
	FROM vms v
	LEFT JOIN vm_custom_attributes fa ON fa.vm_id = v.id AND fa.name = '` + AttrFloatingAddress + `'
	LEFT JOIN vm_custom_attributes fi ON fi.vm_id = v.id AND fi.name = '` + AttrFloatingID + `'`

func scanVM(row interface{ Scan(...any) error }) (domain.VirtualMachine, error) {
	var vm domain.VirtualMachine
	var tenantID sql.NullInt64
	err := row.Scan(&vm.ID, &vm.Name, &vm.ProviderID, &tenantID, &vm.ExternalRef,
		&vm.Floating.Address, &vm.Floating.ID)
	if err != nil {
		return domain.VirtualMachine{}, err
	}
	if tenantID.Valid {
		id := tenantID.Int64
		vm.TenantID = &id
	}
	return vm, nil
}

func nullableID(id *int64) sql.NullInt64 {
	if id == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *id, Valid: true}
}

// Save creates or updates a VM. The floating association is managed
// separately through SetFloatingAssociation.
func (r *vmRepositoryImpl) Save(ctx context.Context, vm domain.VirtualMachine) (domain.VirtualMachine, error) {
	if vm.Name == "" {
		return domain.VirtualMachine{}, fmt.Errorf("%w: VM name is required", ErrInvalidEntity)
	}
	if vm.ProviderID == 0 {
		return domain.VirtualMachine{}, fmt.Errorf("%w: VM provider is required", ErrInvalidEntity)
	}

	if vm.ID == 0 {
		result, err := r.db.ExecContext(ctx,
			`INSERT INTO vms (name, provider_id, tenant_id, ems_ref) VALUES (?, ?, ?, ?)`,
			vm.Name, vm.ProviderID, nullableID(vm.TenantID), vm.ExternalRef)
		if err != nil {
			return domain.VirtualMachine{}, fmt.Errorf("failed to create VM: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.VirtualMachine{}, fmt.Errorf("failed to get VM ID: %w", err)
		}
		vm.ID = id
		return vm, nil
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE vms SET name = ?, provider_id = ?, tenant_id = ?, ems_ref = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		vm.Name, vm.ProviderID, nullableID(vm.TenantID), vm.ExternalRef, vm.ID)
	if err != nil {
		return domain.VirtualMachine{}, fmt.Errorf("failed to update VM: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.VirtualMachine{}, fmt.Errorf("VM with ID %d: %w", vm.ID, ErrNotFound)
	}
	return vm, nil
}

// FindByID finds a VM by ID, including its cached floating association
func (r *vmRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.VirtualMachine, error) {
	vm, err := scanVM(r.db.QueryRowContext(ctx, vmSelect+` WHERE v.id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.VirtualMachine{}, fmt.Errorf("VM with ID %d: %w", id, ErrNotFound)
		}
		return domain.VirtualMachine{}, fmt.Errorf("failed to find VM: %w", err)
	}
	return vm, nil
}

// FindByFilter finds the VMs matching every field set in filter
func (r *vmRepositoryImpl) FindByFilter(ctx context.Context, filter VMFilter) ([]domain.VirtualMachine, error) {
	var clauses []string
	var args []any
	if filter.Name != "" {
		clauses = append(clauses, "v.name = ?")
		args = append(args, filter.Name)
	}
	if filter.ProviderID != 0 {
		clauses = append(clauses, "v.provider_id = ?")
		args = append(args, filter.ProviderID)
	}
	if filter.TenantID != 0 {
		clauses = append(clauses, "v.tenant_id = ?")
		args = append(args, filter.TenantID)
	}

	query := vmSelect
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return r.query(ctx, query+" ORDER BY v.id", args...)
}

// FindAll finds all VMs
func (r *vmRepositoryImpl) FindAll(ctx context.Context) ([]domain.VirtualMachine, error) {
	return r.query(ctx, vmSelect+" ORDER BY v.id")
}

func (r *vmRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.VirtualMachine, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find VMs: %w", err)
	}
	defer rows.Close()

	var vms []domain.VirtualMachine
	for rows.Next() {
		vm, err := scanVM(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan VM: %w", err)
		}
		vms = append(vms, vm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating VMs: %w", err)
	}
	return vms, nil
}

// SetFloatingAssociation writes both cache attributes in one transaction
func (r *vmRepositoryImpl) SetFloatingAssociation(ctx context.Context, vmID int64, fa domain.FloatingAssociation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, attr := range []struct{ name, value string }{
		{AttrFloatingAddress, fa.Address},
		{AttrFloatingID, fa.ID},
	} {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO vm_custom_attributes (vm_id, name, value) VALUES (?, ?, ?)
			ON CONFLICT (vm_id, name) DO UPDATE SET value = excluded.value`,
			vmID, attr.name, attr.value)
		if err != nil {
			return fmt.Errorf("failed to set %s on VM %d: %w", attr.name, vmID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit floating association: %w", err)
	}
	return nil
}

// ClearFloatingAssociation removes both cache attributes. Clearing an empty cache is not an error.
func (r *vmRepositoryImpl) ClearFloatingAssociation(ctx context.Context, vmID int64) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM vm_custom_attributes WHERE vm_id = ? AND name IN (?, ?)`,
		vmID, AttrFloatingAddress, AttrFloatingID)
	if err != nil {
		return fmt.Errorf("failed to clear floating association on VM %d: %w", vmID, err)
	}
	return nil
}

// DeleteByID deletes a VM by ID
func (r *vmRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "vms", "VM", id)
}

// ExistsByID checks if a VM exists by ID
func (r *vmRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	return existsByID(ctx, r.db, "vms", "VM", id)
}
