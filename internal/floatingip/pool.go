// Package floatingip allocates floating addresses from an external pool,
// waits for them to become durable in the record store, binds them to VMs
// and retires them again.
package floatingip

import (
	"context"
	"fmt"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/domain"
)

// SelectPool picks the pool to allocate from. An explicit name is returned
// verbatim; otherwise the first externally routable network the handle can
// see is used.
func SelectPool(ctx context.Context, nc cloud.NetworkClient, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}

	networks, err := nc.ListNetworks(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list networks: %w", err)
	}
	for _, n := range networks {
		if n.External {
			return n.Name, nil
		}
	}
	return "", fmt.Errorf("%w: no externally routable network is visible", domain.ErrNoExternalNetwork)
}
