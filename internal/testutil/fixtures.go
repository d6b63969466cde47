package testutil

import (
	"database/sql"
	"testing"
)

// Fixture holds the IDs of the records inserted by SeedInventory.
//
// Layout:
//
//	provider "ops" (keystone.example.com) and provider "lab"
//	tenants "admin" and "dev" on ops, "admin" on lab
//	networks on ops: "public" (external), "private", "backend", "10.8.240.0"
//	network on lab: "10.8.240.0"
//	VMs on ops: web x3, db, cache x2
//	floating IPs: 203.0.113.10 bound to db, 203.0.113.11 pending in dev
type Fixture struct {
	ProviderOps, ProviderLab int64

	TenantAdmin, TenantDev, TenantLabAdmin int64

	NetPublic, NetPrivate, NetBackend, NetOps240, NetLab240 int64

	SubnetPrivate    int64
	SubnetA, SubnetB int64 // on NetOps240
	SubnetC, SubnetD int64 // on NetLab240
	WebAdminPrivate  int64 // web, tenant admin, on private
	WebDevPrivate    int64 // web, tenant dev, on private
	WebDevBackend    int64 // web, tenant dev, on backend
	DB               int64 // db, tenant admin, on private
	Cache1, Cache2   int64 // cache, tenant dev, both on private
	FloatingBound    int64 // 203.0.113.10
	FloatingPending  int64 // 203.0.113.11
}

func insert(t *testing.T, db *sql.DB, query string, args ...any) int64 {
	t.Helper()
	result, err := db.Exec(query, args...)
	if err != nil {
		t.Fatalf("Failed to seed fixture (%s): %v", query, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to get fixture ID: %v", err)
	}
	return id
}

// SeedInventory fills a migrated database with a small cloud inventory
func SeedInventory(t *testing.T, db *sql.DB) Fixture {
	t.Helper()
	var f Fixture

	provider := `INSERT INTO providers (name, hostname, port, security_protocol, api_version, region, domain_name, userid, password)
		VALUES (?, ?, 5000, 'ssl', 'v3', 'RegionOne', 'Default', 'admin', 'secret')`
	f.ProviderOps = insert(t, db, provider, "ops", "keystone.example.com")
	f.ProviderLab = insert(t, db, provider, "lab", "keystone.lab.example.com")

	tenant := `INSERT INTO cloud_tenants (name, provider_id, ems_ref) VALUES (?, ?, ?)`
	f.TenantAdmin = insert(t, db, tenant, "admin", f.ProviderOps, "proj-admin")
	f.TenantDev = insert(t, db, tenant, "dev", f.ProviderOps, "proj-dev")
	f.TenantLabAdmin = insert(t, db, tenant, "admin", f.ProviderLab, "proj-lab-admin")

	network := `INSERT INTO cloud_networks (name, provider_id, external, ems_ref) VALUES (?, ?, ?, ?)`
	f.NetPublic = insert(t, db, network, "public", f.ProviderOps, true, "net-public")
	f.NetPrivate = insert(t, db, network, "private", f.ProviderOps, false, "net-private")
	f.NetBackend = insert(t, db, network, "backend", f.ProviderOps, false, "net-backend")
	f.NetOps240 = insert(t, db, network, "10.8.240.0", f.ProviderOps, false, "net-ops-240")
	f.NetLab240 = insert(t, db, network, "10.8.240.0", f.ProviderLab, false, "net-lab-240")

	subnet := `INSERT INTO cloud_subnets (name, cidr, network_id, ems_ref) VALUES (?, ?, ?, ?)`
	f.SubnetPrivate = insert(t, db, subnet, "private-subnet", "10.0.0.0/24", f.NetPrivate, "sub-private")
	f.SubnetA = insert(t, db, subnet, "sub-a", "10.8.240.0/25", f.NetOps240, "sub-a")
	f.SubnetB = insert(t, db, subnet, "sub-b", "10.8.240.128/25", f.NetOps240, "sub-b")
	f.SubnetC = insert(t, db, subnet, "sub-c", "10.8.240.0/25", f.NetLab240, "sub-c")
	f.SubnetD = insert(t, db, subnet, "sub-d", "10.8.240.128/25", f.NetLab240, "sub-d")

	vm := `INSERT INTO vms (name, provider_id, tenant_id, ems_ref) VALUES (?, ?, ?, ?)`
	member := `INSERT INTO vm_networks (vm_id, network_id) VALUES (?, ?)`
	f.WebAdminPrivate = insert(t, db, vm, "web", f.ProviderOps, f.TenantAdmin, "srv-web-1")
	insert(t, db, member, f.WebAdminPrivate, f.NetPrivate)
	f.WebDevPrivate = insert(t, db, vm, "web", f.ProviderOps, f.TenantDev, "srv-web-2")
	insert(t, db, member, f.WebDevPrivate, f.NetPrivate)
	f.WebDevBackend = insert(t, db, vm, "web", f.ProviderOps, f.TenantDev, "srv-web-3")
	insert(t, db, member, f.WebDevBackend, f.NetBackend)
	f.DB = insert(t, db, vm, "db", f.ProviderOps, f.TenantAdmin, "srv-db")
	insert(t, db, member, f.DB, f.NetPrivate)
	f.Cache1 = insert(t, db, vm, "cache", f.ProviderOps, f.TenantDev, "srv-cache-1")
	insert(t, db, member, f.Cache1, f.NetPrivate)
	f.Cache2 = insert(t, db, vm, "cache", f.ProviderOps, f.TenantDev, "srv-cache-2")
	insert(t, db, member, f.Cache2, f.NetPrivate)

	floating := `INSERT INTO floating_ips (address, network_id, tenant_id, fixed_ip_address, vm_id, status, ems_ref)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	f.FloatingBound = insert(t, db, floating, "203.0.113.10", f.NetPublic, f.TenantAdmin, "10.0.0.5", f.DB, "ACTIVE", "fip-10")
	f.FloatingPending = insert(t, db, floating, "203.0.113.11", f.NetPublic, f.TenantDev, "", nil, "DOWN", "fip-11")

	attr := `INSERT INTO vm_custom_attributes (vm_id, name, value) VALUES (?, ?, ?)`
	insert(t, db, attr, f.DB, "NEUTRON_floating_ip", "203.0.113.10")
	insert(t, db, attr, f.DB, "NEUTRON_floating_id", "fip-10")

	return f
}
