package repository

import "database/sql"

// Store groups the repositories backing one record store.
type Store struct {
	Providers   ProviderRepository
	Tenants     TenantRepository
	Networks    NetworkRepository
	Subnets     SubnetRepository
	VMs         VMRepository
	FloatingIPs FloatingIPRepository
}

// NewStore creates every repository over db
func NewStore(db *sql.DB) *Store {
	return &Store{
		Providers:   NewProviderRepository(db),
		Tenants:     NewTenantRepository(db),
		Networks:    NewNetworkRepository(db),
		Subnets:     NewSubnetRepository(db),
		VMs:         NewVMRepository(db),
		FloatingIPs: NewFloatingIPRepository(db),
	}
}

// Close releases resources held by the repositories. The database is left open.
func (s *Store) Close() error {
	return s.FloatingIPs.Close()
}
