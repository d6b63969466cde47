package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// NetworkRepository defines domain-specific operations for cloud networks
type NetworkRepository interface {
	Repository[domain.CloudNetwork, int64]
	FindByName(ctx context.Context, name string) ([]domain.CloudNetwork, error)
	FindByExternalRef(ctx context.Context, providerID int64, ref string) (domain.CloudNetwork, error)
	// VMIDs lists the instances attached to a network.
	VMIDs(ctx context.Context, networkID int64) ([]int64, error)
	AddVM(ctx context.Context, networkID, vmID int64) error
}

// networkRepositoryImpl implements NetworkRepository
type networkRepositoryImpl struct {
	db *sql.DB
}

// NewNetworkRepository creates a new network repository
func NewNetworkRepository(db *sql.DB) NetworkRepository {
	return &networkRepositoryImpl{
		db: db,
	}
}

const networkColumns = `id, name, provider_id, external, ems_ref`

func scanNetwork(row interface{ Scan(...any) error }) (domain.CloudNetwork, error) {
	var n domain.CloudNetwork
	err := row.Scan(&n.ID, &n.Name, &n.ProviderID, &n.External, &n.ExternalRef)
	return n, err
}

// Save creates or updates a network
func (r *networkRepositoryImpl) Save(ctx context.Context, network domain.CloudNetwork) (domain.CloudNetwork, error) {
	if network.ID == 0 {
		return r.createNetwork(ctx, network)
	}
	return r.updateNetwork(ctx, network)
}

func validateNetwork(n domain.CloudNetwork) error {
	if n.Name == "" {
		return fmt.Errorf("%w: network name is required", ErrInvalidEntity)
	}
	if n.ProviderID == 0 {
		return fmt.Errorf("%w: network provider is required", ErrInvalidEntity)
	}
	return nil
}

// createNetwork inserts a new network into the database
func (r *networkRepositoryImpl) createNetwork(ctx context.Context, n domain.CloudNetwork) (domain.CloudNetwork, error) {
	if err := validateNetwork(n); err != nil {
		return domain.CloudNetwork{}, err
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO cloud_networks (name, provider_id, external, ems_ref)
		VALUES (?, ?, ?, ?)`,
		n.Name, n.ProviderID, n.External, n.ExternalRef)
	if err != nil {
		return domain.CloudNetwork{}, fmt.Errorf("failed to create network: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.CloudNetwork{}, fmt.Errorf("failed to get network ID: %w", err)
	}

	n.ID = id
	return n, nil
}

// updateNetwork updates an existing network in the database
func (r *networkRepositoryImpl) updateNetwork(ctx context.Context, n domain.CloudNetwork) (domain.CloudNetwork, error) {
	if err := validateNetwork(n); err != nil {
		return domain.CloudNetwork{}, err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE cloud_networks
		SET name = ?, provider_id = ?, external = ?, ems_ref = ?
		WHERE id = ?`,
		n.Name, n.ProviderID, n.External, n.ExternalRef, n.ID)
	if err != nil {
		return domain.CloudNetwork{}, fmt.Errorf("failed to update network: %w", err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return domain.CloudNetwork{}, fmt.Errorf("network with ID %d: %w", n.ID, ErrNotFound)
	}

	return n, nil
}

// FindByID finds a network by ID
func (r *networkRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.CloudNetwork, error) {
	network, err := scanNetwork(r.db.QueryRowContext(ctx,
		`SELECT `+networkColumns+` FROM cloud_networks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CloudNetwork{}, fmt.Errorf("network with ID %d: %w", id, ErrNotFound)
		}
		return domain.CloudNetwork{}, fmt.Errorf("failed to find network: %w", err)
	}
	return network, nil
}

// FindByExternalRef finds the network a provider knows by its control-plane id
func (r *networkRepositoryImpl) FindByExternalRef(ctx context.Context, providerID int64, ref string) (domain.CloudNetwork, error) {
	network, err := scanNetwork(r.db.QueryRowContext(ctx,
		`SELECT `+networkColumns+` FROM cloud_networks WHERE provider_id = ? AND ems_ref = ? ORDER BY id LIMIT 1`,
		providerID, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CloudNetwork{}, fmt.Errorf("network with ems_ref %q: %w", ref, ErrNotFound)
		}
		return domain.CloudNetwork{}, fmt.Errorf("failed to find network: %w", err)
	}
	return network, nil
}

// FindByName finds networks by exact name
func (r *networkRepositoryImpl) FindByName(ctx context.Context, name string) ([]domain.CloudNetwork, error) {
	return r.query(ctx, `SELECT `+networkColumns+` FROM cloud_networks WHERE name = ? ORDER BY id`, name)
}

// FindAll finds all networks
func (r *networkRepositoryImpl) FindAll(ctx context.Context) ([]domain.CloudNetwork, error) {
	return r.query(ctx, `SELECT `+networkColumns+` FROM cloud_networks ORDER BY id`)
}

func (r *networkRepositoryImpl) query(ctx context.Context, query string, args ...any) ([]domain.CloudNetwork, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find networks: %w", err)
	}
	defer rows.Close()

	var networks []domain.CloudNetwork
	for rows.Next() {
		network, err := scanNetwork(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan network: %w", err)
		}
		networks = append(networks, network)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating networks: %w", err)
	}

	return networks, nil
}

// VMIDs gets the IDs of every VM attached to a network
func (r *networkRepositoryImpl) VMIDs(ctx context.Context, networkID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT vm_id FROM vm_networks WHERE network_id = ? ORDER BY vm_id`, networkID)
	if err != nil {
		return nil, fmt.Errorf("failed to get network members: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan network member: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating network members: %w", err)
	}

	return ids, nil
}

// AddVM attaches a VM to a network. Attaching twice is a no-op.
func (r *networkRepositoryImpl) AddVM(ctx context.Context, networkID, vmID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO vm_networks (vm_id, network_id) VALUES (?, ?)`, vmID, networkID)
	if err != nil {
		return fmt.Errorf("failed to attach VM %d to network %d: %w", vmID, networkID, err)
	}
	return nil
}

// DeleteByID deletes a network by ID
func (r *networkRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	return deleteByID(ctx, r.db, "cloud_networks", "network", id)
}

// ExistsByID checks if a network exists by ID
func (r *networkRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	return existsByID(ctx, r.db, "cloud_networks", "network", id)
}
