package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// SubnetRepository defines domain-specific operations for cloud subnets
type SubnetRepository interface {
	Repository[domain.CloudSubnet, int64]
	FindByName(ctx context.Context, name string) ([]domain.CloudSubnet, error)
	FindByNetworkID(ctx context.Context, networkID int64) ([]domain.CloudSubnet, error)
	FindByNetworkAndName(ctx context.Context, networkID int64, name string) ([]domain.CloudSubnet, error)
}

type subnetRepositoryImpl struct {
	db *sql.DB
}

// NewSubnetRepository creates a new subnet repository
func NewSubnetRepository(db *sql.DB) SubnetRepository {
	return &subnetRepositoryImpl{db: db}
}

const subnetColumns = `id, name, cidr, network_id, ems_ref`

func scanSubnet(row interface{ Scan(...any) error }) (domain.CloudSubnet, error) {
	var s domain.CloudSubnet
	err := row.Scan(&s.ID, &s.Name, &s.CIDR, &s.NetworkID, &s.ExternalRef)
	return s, err
}

// Save creates or updates a subnet
func (r *subnetRepositoryImpl) Save(ctx context.Context, s domain.CloudSubnet) (domain.CloudSubnet, error) {
	if s.Name == "" {
		return domain.CloudSubnet{}, fmt.Errorf("%w: subnet name is required", ErrInvalidEntity)
	}
	if s.CIDR == "" {
		return domain.CloudSubnet{}, fmt.Errorf("%w: subnet cidr is required", ErrInvalidEntity)
	}
	if s.NetworkID == 0 {
		return domain.CloudSubnet{}, fmt.Errorf("%w: subnet network is required", ErrInvalidEntity)
	}

	if s.ID == 0 {
		result, err := r.db.ExecContext(ctx,
			`INSERT INTO cloud_subnets (name, cidr, network_id, ems_ref) VALUES (?, ?, ?, ?)`,
			s.Name, s.CIDR, s.NetworkID, s.ExternalRef)
		if err != nil {
			return domain.CloudSubnet{}, fmt.Errorf("failed to create subnet: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return domain.CloudSubnet{}, fmt.Errorf("failed to get subnet ID: %w", err)
		}
		s.ID = id
		return s, nil
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE cloud_subnets SET name = ?, cidr = ?, network_id = ?, ems_ref = ? WHERE id = ?`,
		s.Name, s.CIDR, s.NetworkID, s.ExternalRef, s.ID)
	if err != nil {
		return domain.CloudSubnet{}, fmt.Errorf("failed to update subnet: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return domain.CloudSubnet{}, fmt.Errorf("subnet with ID %d: %w", s.ID, ErrNotFound)
	}
	return s, nil
}

// FindByID finds a subnet by ID
func (r *subnetRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.CloudSubnet, error) {
	s, err := scanSubnet(r.db.QueryRowContext(ctx, `SELECT `+subnetColumns+` FROM cloud_subnets WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CloudSubnet{}, fmt.Errorf("subnet with ID %d: %w", id, ErrNotFound)
		}
		return domain.CloudSubnet{}, fmt.Errorf("failed to find subnet: %w", err)
	}
	return s, nil
}

// FindByName finds subnets by exact name
func (r *subnetRepositoryImpl) FindByName(ctx context.Context, name string) ([]domain.CloudSubnet, error) {
	return r.query(ctx, `SELECT `+subnetColumns+` FROM cloud_subnets WHERE name = ? ORDER BY id`, name)
}

// FindByNetworkID finds the subnets of a network
func (r *subnetRepositoryImpl) FindByNetworkID(ctx context.Context, networkID int64) ([]domain.CloudSubnet, error) {
	return r.query(ctx, `SELECT `+subnetColumns+` FROM cloud_subnets WHERE network_id = ? ORDER BY id`, networkID)
}

// FindByNetworkAndName finds the subnets of a network carrying the exact name
func (r *subnetRepositoryImpl) FindByNetworkAndName(ctx context.Context, networkID int64, name string) ([]domain.CloudSubnet, error) {
	return r.query(ctx,
		`SELECT `+subnetColumns+` FROM cloud_subnets WHERE network_id = ? AND name = ? ORDER BY id`,
		networkID, name)
}

// FindAll finds all subnets
func (r *subnetRepositoryImpl) FindAll(ctx context.Context) ([]domain.CloudSubnet, error) {
	return r.query(ctx, `SELECT `+subnetColumns+` FROM cloud_subnets ORDER BY id`)
}

func (r *subnetRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.CloudSubnet, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find subnets: %w", err)
	}
	defer rows.Close()

	var subnets []domain.CloudSubnet
	for rows.Next() {
		s, err := scanSubnet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subnet: %w", err)
		}
		subnets = append(subnets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subnets: %w", err)
	}
	return subnets, nil
}

// DeleteByID deletes a subnet by ID
func (r *subnetRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "cloud_subnets", "subnet", id)
}

// ExistsByID checks if a subnet exists by ID
func (r *subnetRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	return existsByID(ctx, r.db, "cloud_subnets", "subnet", id)
}
