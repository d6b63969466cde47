package cloud

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gophercloud/gophercloud"
	"github.com/gophercloud/gophercloud/openstack/compute/v2/servers"
)

type computeClient struct {
	sc *gophercloud.ServiceClient
}

// AssociateAddress uses the server addFloatingIp action
func (c *computeClient) AssociateAddress(ctx context.Context, serverID, address string) (int, error) {
	body := map[string]interface{}{
		"addFloatingIp": map[string]string{"address": address},
	}
	resp, err := c.sc.Post(c.sc.ServiceURL("servers", serverID, "action"), body, nil, &gophercloud.RequestOpts{
		OkCodes: []int{http.StatusAccepted},
	})
	if err != nil {
		return statusOf(resp), fmt.Errorf("failed to associate %s with server %s: %w", address, serverID, err)
	}
	return resp.StatusCode, nil
}

// ServerAddresses reads the server detail and flattens its addresses
func (c *computeClient) ServerAddresses(ctx context.Context, serverID string) ([]ServerAddress, error) {
	server, err := servers.Get(c.sc, serverID).Extract()
	if err != nil {
		return nil, fmt.Errorf("failed to get server %s: %w", serverID, err)
	}

	var addresses []ServerAddress
	for network, raw := range server.Addresses {
		entries, ok := raw.([]interface{})
		if !ok {
			continue
		}
		for _, entry := range entries {
			m, ok := entry.(map[string]interface{})
			if !ok {
				continue
			}
			addr, _ := m["addr"].(string)
			if addr == "" {
				continue
			}
			kind, _ := m["OS-EXT-IPS:type"].(string)
			version, _ := m["version"].(float64)
			addresses = append(addresses, ServerAddress{
				Network: network,
				Address: addr,
				Type:    kind,
				Version: int(version),
			})
		}
	}
	sortAddresses(addresses)
	return addresses, nil
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
