package cloud

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/external"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/extensions/layer3/floatingips"
	"github.com/gophercloud/gophercloud/openstack/networking/v2/networks"

	"github.com/jbweber/homelab/floater/internal/domain"
)

type networkClient struct {
	sc *gophercloud.ServiceClient
}

type networkWithExternal struct {
	networks.Network
	external.NetworkExternalExt
}

func (c *networkClient) listNetworks(opts networks.ListOpts) ([]Network, error) {
	pages, err := networks.List(c.sc, opts).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list networks: %w", err)
	}
	var all []networkWithExternal
	if err := networks.ExtractNetworksInto(pages, &all); err != nil {
		return nil, fmt.Errorf("failed to extract networks: %w", err)
	}

	out := make([]Network, 0, len(all))
	for _, n := range all {
		out = append(out, Network{ID: n.ID, Name: n.Name, External: n.External})
	}
	return out, nil
}

// ListNetworks keeps the order the control plane returned
func (c *networkClient) ListNetworks(ctx context.Context) ([]Network, error) {
	return c.listNetworks(networks.ListOpts{})
}

// AllocateFloatingIP resolves the pool name to a network and creates a floating IP on it
func (c *networkClient) AllocateFloatingIP(ctx context.Context, pool string) (domain.Allocation, error) {
	candidates, err := c.listNetworks(networks.ListOpts{Name: pool})
	if err != nil {
		return domain.Allocation{}, err
	}
	if len(candidates) == 0 {
		return domain.Allocation{}, domain.NotFoundf("floating IP pool %q", pool)
	}

	fip, err := floatingips.Create(c.sc, floatingips.CreateOpts{FloatingNetworkID: candidates[0].ID}).Extract()
	if err != nil {
		return domain.Allocation{}, fmt.Errorf("failed to allocate floating IP from %s: %w", pool, err)
	}
	return domain.Allocation{Address: fip.FloatingIP, ExternalRef: fip.ID}, nil
}

// ListFloatingIPs lists floating IPs, filtered by address when one is given
func (c *networkClient) ListFloatingIPs(ctx context.Context, address string) ([]FloatingIP, error) {
	pages, err := floatingips.List(c.sc, floatingips.ListOpts{FloatingIP: address}).AllPages()
	if err != nil {
		return nil, fmt.Errorf("failed to list floating IPs: %w", err)
	}
	list, err := floatingips.ExtractFloatingIPs(pages)
	if err != nil {
		return nil, fmt.Errorf("failed to extract floating IPs: %w", err)
	}

	out := make([]FloatingIP, 0, len(list))
	for _, f := range list {
		out = append(out, FloatingIP{
			ID:                f.ID,
			Address:           f.FloatingIP,
			FixedIPAddress:    f.FixedIP,
			PortID:            f.PortID,
			Status:            f.Status,
			FloatingNetworkID: f.FloatingNetworkID,
			ProjectID:         f.ProjectID,
		})
	}
	return out, nil
}

// DisassociateFloatingIP clears the floating IP's port
func (c *networkClient) DisassociateFloatingIP(ctx context.Context, id string) error {
	_, err := floatingips.Update(c.sc, id, floatingips.UpdateOpts{PortID: new(string)}).Extract()
	if err != nil {
		return fmt.Errorf("failed to disassociate floating IP %s: %w", id, err)
	}
	return nil
}

// ReleaseFloatingIP deletes the floating IP
func (c *networkClient) ReleaseFloatingIP(ctx context.Context, id string) (int, error) {
	resp, err := c.sc.Delete(c.sc.ServiceURL("floatingips", id), &gophercloud.RequestOpts{
		OkCodes: []int{http.StatusNoContent},
	})
	if err != nil {
		return statusOf(resp), fmt.Errorf("failed to release floating IP %s: %w", id, err)
	}
	return resp.StatusCode, nil
}

func sortAddresses(addresses []ServerAddress) {
	sort.SliceStable(addresses, func(i, j int) bool {
		if addresses[i].Network != addresses[j].Network {
			return addresses[i].Network < addresses[j].Network
		}
		return addresses[i].Address < addresses[j].Address
	})
}
