package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	indices := []struct{ name, on string }{
		{"idx_vms_name", "vms(name)"},
		{"idx_vms_provider_tenant", "vms(provider_id, tenant_id)"},
		{"idx_cloud_networks_name", "cloud_networks(name)"},
		{"idx_cloud_tenants_name", "cloud_tenants(name)"},
		{"idx_cloud_subnets_network_id", "cloud_subnets(network_id)"},
		{"idx_vm_networks_network_id", "vm_networks(network_id)"},
		{"idx_floating_ips_pending", "floating_ips(network_id, tenant_id, address, status)"},
		{"idx_floating_ips_ems_ref", "floating_ips(ems_ref)"},
	}

	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(tx *sql.Tx) error {
				for _, idx := range indices {
					if _, err := tx.Exec("CREATE INDEX IF NOT EXISTS " + idx.name + " ON " + idx.on); err != nil {
						return err
					}
				}
				return nil
			},
			Down: func(tx *sql.Tx) error {
				for _, idx := range indices {
					if _, err := tx.Exec("DROP INDEX IF EXISTS " + idx.name); err != nil {
						return err
					}
				}
				return nil
			},
		},
	}
}
