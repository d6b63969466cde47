// Package cloudtest provides an in-memory control plane for tests.
package cloudtest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/domain"
)

// Fake is a control plane holding networks, servers and floating IPs in
// memory. It implements cloud.Connector and hands itself out as both the
// compute and the network handle.
type Fake struct {
	mu sync.Mutex

	networks    []cloud.Network
	servers     map[string][]cloud.ServerAddress
	floatingIPs map[string]cloud.FloatingIP
	next        int

	// Project is stamped on allocated floating IPs.
	Project string
	// AddressFormat renders the n-th allocated address.
	AddressFormat string

	// ConnectErr fails every handle request.
	ConnectErr error
	// AllocateErr fails the n-th allocation call (1-based) when it returns non-nil.
	AllocateErr func(n int) error
	// DisassociateErr and ReleaseErr fail calls for the given floating IP ids.
	DisassociateErr map[string]error
	ReleaseErr      map[string]error
	// ListLag is the number of listing calls that answer with an empty list,
	// as a control plane that has not caught up with its allocations would.
	ListLag int

	allocateCalls int
	listCalls     int
	connects      []string
}

// New creates an empty fake control plane.
func New() *Fake {
	return &Fake{
		servers:         map[string][]cloud.ServerAddress{},
		floatingIPs:     map[string]cloud.FloatingIP{},
		Project:         "proj-admin",
		AddressFormat:   "198.51.100.%d",
		DisassociateErr: map[string]error{},
		ReleaseErr:      map[string]error{},
	}
}

// AddNetwork makes a network visible, in insertion order.
func (f *Fake) AddNetwork(n cloud.Network) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.networks = append(f.networks, n)
}

// AddServer registers a server with its fixed address on network.
func (f *Fake) AddServer(id, network, fixed string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.servers[id] = append(f.servers[id], cloud.ServerAddress{
		Network: network, Address: fixed, Type: cloud.AddressTypeFixed, Version: 4,
	})
}

// AddFloatingIP registers a floating IP. When serverID is set the address is
// also reported on that server.
func (f *Fake) AddFloatingIP(fip cloud.FloatingIP, serverID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.floatingIPs[fip.ID] = fip
	if serverID != "" {
		f.servers[serverID] = append(f.servers[serverID], cloud.ServerAddress{
			Network: "private", Address: fip.Address, Type: cloud.AddressTypeFloating, Version: 4,
		})
	}
}

// FloatingIPs returns every floating IP sorted by id.
func (f *Fake) FloatingIPs() []cloud.FloatingIP {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.list("")
}

// AllocateCalls reports how many allocation calls were made.
func (f *Fake) AllocateCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocateCalls
}

// ListCalls reports how many floating IP listing calls were made.
func (f *Fake) ListCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

// Connects lists the tenants handles were opened for.
func (f *Fake) Connects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.connects...)
}

// Compute implements cloud.Connector.
func (f *Fake) Compute(ctx context.Context, provider domain.Provider, tenant string) (cloud.ComputeClient, error) {
	if err := f.connect(provider, tenant); err != nil {
		return nil, err
	}
	return f, nil
}

// Network implements cloud.Connector.
func (f *Fake) Network(ctx context.Context, provider domain.Provider, tenant string) (cloud.NetworkClient, error) {
	if err := f.connect(provider, tenant); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Fake) connect(provider domain.Provider, tenant string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connects = append(f.connects, tenant)
	return nil
}

// AssociateAddress implements cloud.ComputeClient.
func (f *Fake) AssociateAddress(ctx context.Context, serverID, address string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.servers[serverID]; !ok {
		return http.StatusNotFound, fmt.Errorf("server %s not found", serverID)
	}
	for id, fip := range f.floatingIPs {
		if fip.Address != address {
			continue
		}
		fip.PortID = "port-" + serverID
		fip.Status = string(domain.FloatingIPActive)
		f.floatingIPs[id] = fip
		f.servers[serverID] = append(f.servers[serverID], cloud.ServerAddress{
			Network: "private", Address: address, Type: cloud.AddressTypeFloating, Version: 4,
		})
		return http.StatusAccepted, nil
	}
	return http.StatusNotFound, fmt.Errorf("floating IP %s not found", address)
}

// ServerAddresses implements cloud.ComputeClient.
func (f *Fake) ServerAddresses(ctx context.Context, serverID string) ([]cloud.ServerAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	addresses, ok := f.servers[serverID]
	if !ok {
		return nil, fmt.Errorf("server %s not found", serverID)
	}
	return append([]cloud.ServerAddress(nil), addresses...), nil
}

// ListNetworks implements cloud.NetworkClient.
func (f *Fake) ListNetworks(ctx context.Context) ([]cloud.Network, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cloud.Network(nil), f.networks...), nil
}

// AllocateFloatingIP implements cloud.NetworkClient.
func (f *Fake) AllocateFloatingIP(ctx context.Context, pool string) (domain.Allocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocateCalls++
	if f.AllocateErr != nil {
		if err := f.AllocateErr(f.allocateCalls); err != nil {
			return domain.Allocation{}, err
		}
	}

	var network *cloud.Network
	for i := range f.networks {
		if f.networks[i].Name == pool {
			network = &f.networks[i]
			break
		}
	}
	if network == nil {
		return domain.Allocation{}, domain.NotFoundf("floating IP pool %q", pool)
	}

	f.next++
	fip := cloud.FloatingIP{
		ID:                fmt.Sprintf("fip-new-%d", f.next),
		Address:           fmt.Sprintf(f.AddressFormat, f.next),
		Status:            string(domain.FloatingIPDown),
		FloatingNetworkID: network.ID,
		ProjectID:         f.Project,
	}
	f.floatingIPs[fip.ID] = fip
	return domain.Allocation{Address: fip.Address, ExternalRef: fip.ID}, nil
}

// ListFloatingIPs implements cloud.NetworkClient.
func (f *Fake) ListFloatingIPs(ctx context.Context, address string) ([]cloud.FloatingIP, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.ListLag > 0 {
		f.ListLag--
		return []cloud.FloatingIP{}, nil
	}
	return f.list(address), nil
}

func (f *Fake) list(address string) []cloud.FloatingIP {
	out := []cloud.FloatingIP{}
	for _, fip := range f.floatingIPs {
		if address == "" || fip.Address == address {
			out = append(out, fip)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DisassociateFloatingIP implements cloud.NetworkClient.
func (f *Fake) DisassociateFloatingIP(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.DisassociateErr[id]; err != nil {
		return err
	}
	fip, ok := f.floatingIPs[id]
	if !ok {
		return fmt.Errorf("floating IP %s not found", id)
	}
	fip.PortID = ""
	fip.FixedIPAddress = ""
	fip.Status = string(domain.FloatingIPDown)
	f.floatingIPs[id] = fip
	f.unbind(fip.Address)
	return nil
}

// ReleaseFloatingIP implements cloud.NetworkClient.
func (f *Fake) ReleaseFloatingIP(ctx context.Context, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ReleaseErr[id]; err != nil {
		return http.StatusConflict, err
	}
	fip, ok := f.floatingIPs[id]
	if !ok {
		return http.StatusNotFound, fmt.Errorf("floating IP %s not found", id)
	}
	delete(f.floatingIPs, id)
	f.unbind(fip.Address)
	return http.StatusNoContent, nil
}

func (f *Fake) unbind(address string) {
	for serverID, addresses := range f.servers {
		kept := addresses[:0]
		for _, a := range addresses {
			if a.Type == cloud.AddressTypeFloating && a.Address == address {
				continue
			}
			kept = append(kept, a)
		}
		f.servers[serverID] = kept
	}
}
