package migrations

import (
	"database/sql"
)

// execAll runs statements in order, stopping at the first failure.
func execAll(tx *sql.Tx, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetInitialMigrations returns the migrations creating the record store
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_inventory_tables",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE providers (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						hostname TEXT NOT NULL,
						port INTEGER NOT NULL DEFAULT 5000,
						security_protocol TEXT NOT NULL DEFAULT 'ssl',
						api_version TEXT NOT NULL DEFAULT 'v3',
						region TEXT NOT NULL DEFAULT '',
						domain_name TEXT NOT NULL DEFAULT '',
						userid TEXT NOT NULL DEFAULT '',
						password TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE cloud_tenants (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						provider_id INTEGER NOT NULL,
						ems_ref TEXT NOT NULL DEFAULT '',
						FOREIGN KEY (provider_id) REFERENCES providers(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE cloud_networks (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						provider_id INTEGER NOT NULL,
						external INTEGER NOT NULL DEFAULT 0,
						ems_ref TEXT NOT NULL DEFAULT '',
						FOREIGN KEY (provider_id) REFERENCES providers(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE cloud_subnets (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						cidr TEXT NOT NULL,
						network_id INTEGER NOT NULL,
						ems_ref TEXT NOT NULL DEFAULT '',
						FOREIGN KEY (network_id) REFERENCES cloud_networks(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE vms (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL,
						provider_id INTEGER NOT NULL,
						tenant_id INTEGER,
						ems_ref TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						FOREIGN KEY (provider_id) REFERENCES providers(id) ON DELETE CASCADE,
						FOREIGN KEY (tenant_id) REFERENCES cloud_tenants(id) ON DELETE SET NULL
					)`,
					`CREATE TABLE vm_networks (
						vm_id INTEGER NOT NULL,
						network_id INTEGER NOT NULL,
						PRIMARY KEY (vm_id, network_id),
						FOREIGN KEY (vm_id) REFERENCES vms(id) ON DELETE CASCADE,
						FOREIGN KEY (network_id) REFERENCES cloud_networks(id) ON DELETE CASCADE
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS vm_networks`,
					`DROP TABLE IF EXISTS vms`,
					`DROP TABLE IF EXISTS cloud_subnets`,
					`DROP TABLE IF EXISTS cloud_networks`,
					`DROP TABLE IF EXISTS cloud_tenants`,
					`DROP TABLE IF EXISTS providers`,
				)
			},
		},
		{
			Version: 2,
			Name:    "create_floating_ip_tables",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE floating_ips (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						address TEXT NOT NULL,
						network_id INTEGER NOT NULL,
						tenant_id INTEGER NOT NULL,
						fixed_ip_address TEXT NOT NULL DEFAULT '',
						vm_id INTEGER,
						status TEXT NOT NULL DEFAULT 'DOWN',
						ems_ref TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						FOREIGN KEY (network_id) REFERENCES cloud_networks(id) ON DELETE CASCADE,
						FOREIGN KEY (tenant_id) REFERENCES cloud_tenants(id) ON DELETE CASCADE,
						FOREIGN KEY (vm_id) REFERENCES vms(id) ON DELETE SET NULL
					)`,
					`CREATE TABLE vm_custom_attributes (
						vm_id INTEGER NOT NULL,
						name TEXT NOT NULL,
						value TEXT NOT NULL,
						PRIMARY KEY (vm_id, name),
						FOREIGN KEY (vm_id) REFERENCES vms(id) ON DELETE CASCADE
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS vm_custom_attributes`,
					`DROP TABLE IF EXISTS floating_ips`,
				)
			},
		},
	}
}
