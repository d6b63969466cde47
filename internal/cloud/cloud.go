// Package cloud opens authenticated control-plane handles for a provider
// tenant and exposes the compute and network calls floating IP management needs.
package cloud

import (
	"context"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// Address types reported for a server address.
const (
	AddressTypeFloating = "floating"
	AddressTypeFixed    = "fixed"
)

// ServerAddress is one address attached to a server, as the compute API reports it.
type ServerAddress struct {
	Network string
	Address string
	Type    string
	Version int
}

// Network is a network visible to a network handle.
type Network struct {
	ID       string
	Name     string
	External bool
}

// FloatingIP is the control plane's view of a floating address.
type FloatingIP struct {
	ID                string
	Address           string
	FixedIPAddress    string
	PortID            string
	Status            string
	FloatingNetworkID string
	ProjectID         string
}

// ComputeClient is a compute handle scoped to one tenant.
type ComputeClient interface {
	// AssociateAddress binds address to the server and returns the HTTP status code.
	AssociateAddress(ctx context.Context, serverID, address string) (int, error)
	// ServerAddresses reads the server's addresses live from the control plane.
	ServerAddresses(ctx context.Context, serverID string) ([]ServerAddress, error)
}

// NetworkClient is a network handle scoped to one tenant.
type NetworkClient interface {
	// ListNetworks returns the visible networks in provider order.
	ListNetworks(ctx context.Context) ([]Network, error)
	// AllocateFloatingIP allocates one address from the network named pool.
	AllocateFloatingIP(ctx context.Context, pool string) (domain.Allocation, error)
	// ListFloatingIPs lists the tenant's floating IPs, only address's when it is non-empty.
	ListFloatingIPs(ctx context.Context, address string) ([]FloatingIP, error)
	DisassociateFloatingIP(ctx context.Context, id string) error
	// ReleaseFloatingIP deletes the floating IP and returns the HTTP status code.
	ReleaseFloatingIP(ctx context.Context, id string) (int, error)
}

// Connector opens fresh handles for a provider tenant. Handles are not cached
// across operations.
type Connector interface {
	Compute(ctx context.Context, provider domain.Provider, tenant string) (ComputeClient, error)
	Network(ctx context.Context, provider domain.Provider, tenant string) (NetworkClient, error)
}
