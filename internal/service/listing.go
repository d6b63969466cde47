package service

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/repository"
	"github.com/jbweber/homelab/floater/internal/resolver"
)

// ListFloatingIPsOptions filters the floating IP listing. Address is the
// floating address by name, or its record id.
type ListFloatingIPsOptions struct {
	Tenant  resolver.Ref
	Network resolver.Ref
	Address resolver.Ref
}

// LogFields describes the options for logging.
func (o ListFloatingIPsOptions) LogFields() logrus.Fields {
	fields := logrus.Fields{}
	refFields(fields, "tenant", o.Tenant)
	refFields(fields, "network", o.Network)
	refFields(fields, "address", o.Address)
	return fields
}

// FloatingIPEntry is one floating IP in a listing.
type FloatingIPEntry struct {
	ID                 int64  `json:"id"`
	FixedIPAddress     string `json:"fixed_ip_address"`
	NetworkProvider    string `json:"network_provider"`
	ExtFloatingNetwork string `json:"ext_floating_network"`
	Instance           string `json:"instance"`
}

// ListFloatingIPs lists floating IP records keyed by address. A record id is
// a point lookup; otherwise every given filter must match.
func (s *Service) ListFloatingIPs(ctx context.Context, opts ListFloatingIPsOptions) (Result, error) {
	for _, c := range []struct {
		kind string
		ref  resolver.Ref
	}{{"tenant", opts.Tenant}, {"network", opts.Network}, {"floating IP", opts.Address}} {
		if c.ref.Name != "" && c.ref.ID != 0 {
			return Result{}, domain.InvalidInputf("too many %s arguments given: specify %s by name or id, not both", c.kind, c.kind)
		}
	}

	var fips []domain.FloatingIP
	if opts.Address.ID != 0 {
		fip, err := s.store.FloatingIPs.FindByID(ctx, opts.Address.ID)
		if err != nil {
			return Result{}, err
		}
		fips = []domain.FloatingIP{fip}
	} else {
		filter := repository.FloatingIPFilter{Address: opts.Address.Name}
		if !opts.Tenant.IsZero() {
			tenant, err := s.resolver.Tenant(ctx, opts.Tenant)
			if err != nil {
				return Result{}, err
			}
			filter.TenantID = tenant.ID
		}
		if !opts.Network.IsZero() {
			network, err := s.resolver.Network(ctx, opts.Network)
			if err != nil {
				return Result{}, err
			}
			filter.NetworkID = network.ID
		}
		var err error
		if fips, err = s.store.FloatingIPs.FindByFilter(ctx, filter); err != nil {
			return Result{}, err
		}
	}

	names := newNameCache(s.store)
	entries := make(map[string]FloatingIPEntry, len(fips))
	for _, fip := range fips {
		network, err := names.network(ctx, fip.NetworkID)
		if err != nil {
			return Result{}, err
		}
		provider, err := names.provider(ctx, network.ProviderID)
		if err != nil {
			return Result{}, err
		}
		entry := FloatingIPEntry{
			ID:                 fip.ID,
			FixedIPAddress:     fip.FixedIPAddress,
			NetworkProvider:    provider,
			ExtFloatingNetwork: network.Name,
		}
		if fip.VMID != nil {
			vm, err := s.store.VMs.FindByID(ctx, *fip.VMID)
			if err != nil {
				return Result{}, err
			}
			entry.Instance = vm.Name
		}
		entries[fip.Address] = entry
	}
	return Result{Payload: entries}, nil
}

// ListSubnetsOptions filters the subnet listing.
type ListSubnetsOptions struct {
	Network resolver.Ref
	Subnet  resolver.Ref
}

// LogFields describes the options for logging.
func (o ListSubnetsOptions) LogFields() logrus.Fields {
	fields := logrus.Fields{}
	refFields(fields, "network", o.Network)
	refFields(fields, "subnet", o.Subnet)
	return fields
}

// SubnetEntry is one subnet in a listing.
type SubnetEntry struct {
	ID              int64  `json:"id"`
	Name            string `json:"name"`
	CIDR            string `json:"cidr"`
	Network         string `json:"network"`
	NetworkProvider string `json:"network_provider"`
}

// ListSubnets lists subnets ordered by id. A network name that matches
// several networks keeps the subnets of all of them. Giving both a subnet id
// and a network id requires the subnet to belong to that network. An empty
// result is NotFound.
func (s *Service) ListSubnets(ctx context.Context, opts ListSubnetsOptions) (Result, error) {
	if opts.Network.Name != "" && opts.Network.ID != 0 {
		return Result{}, domain.InvalidInputf("too many network arguments given: specify network by name or id, not both")
	}
	if opts.Subnet.Name != "" && opts.Subnet.ID != 0 {
		return Result{}, domain.InvalidInputf("too many subnet arguments given: specify subnet by name or id, not both")
	}

	var subnets []domain.CloudSubnet
	switch {
	case opts.Subnet.ID != 0:
		subnet, err := s.store.Subnets.FindByID(ctx, opts.Subnet.ID)
		if err != nil {
			return Result{}, err
		}
		if opts.Network.ID != 0 && subnet.NetworkID != opts.Network.ID {
			return Result{}, domain.InvalidInputf("subnet %d belongs to network %d, not network %d", subnet.ID, subnet.NetworkID, opts.Network.ID)
		}
		subnets = []domain.CloudSubnet{subnet}
	case !opts.Network.IsZero():
		networks, err := s.resolver.Networks(ctx, opts.Network)
		if err != nil {
			return Result{}, err
		}
		for _, network := range networks {
			var found []domain.CloudSubnet
			if opts.Subnet.Name != "" {
				found, err = s.store.Subnets.FindByNetworkAndName(ctx, network.ID, opts.Subnet.Name)
			} else {
				found, err = s.store.Subnets.FindByNetworkID(ctx, network.ID)
			}
			if err != nil {
				return Result{}, err
			}
			subnets = append(subnets, found...)
		}
	case opts.Subnet.Name != "":
		var err error
		if subnets, err = s.store.Subnets.FindByName(ctx, opts.Subnet.Name); err != nil {
			return Result{}, err
		}
	default:
		var err error
		if subnets, err = s.store.Subnets.FindAll(ctx); err != nil {
			return Result{}, err
		}
	}

	if len(subnets) == 0 {
		return Result{}, domain.NotFoundf("subnets matching %s", describeSubnetQuery(opts))
	}
	sort.Slice(subnets, func(i, j int) bool { return subnets[i].ID < subnets[j].ID })

	names := newNameCache(s.store)
	entries := make([]SubnetEntry, 0, len(subnets))
	for _, subnet := range subnets {
		network, err := names.network(ctx, subnet.NetworkID)
		if err != nil {
			return Result{}, err
		}
		provider, err := names.provider(ctx, network.ProviderID)
		if err != nil {
			return Result{}, err
		}
		entries = append(entries, SubnetEntry{
			ID:              subnet.ID,
			Name:            subnet.Name,
			CIDR:            subnet.CIDR,
			Network:         network.Name,
			NetworkProvider: provider,
		})
	}
	return Result{Payload: entries}, nil
}

func describeSubnetQuery(opts ListSubnetsOptions) string {
	switch {
	case !opts.Network.IsZero() && opts.Subnet.Name != "":
		return "network " + opts.Network.String() + " and subnet " + opts.Subnet.String()
	case !opts.Network.IsZero():
		return "network " + opts.Network.String()
	case opts.Subnet.Name != "":
		return "subnet " + opts.Subnet.String()
	default:
		return "any network"
	}
}

// nameCache memoizes network and provider lookups within one listing.
type nameCache struct {
	store     *repository.Store
	networks  map[int64]domain.CloudNetwork
	providers map[int64]string
}

func newNameCache(store *repository.Store) *nameCache {
	return &nameCache{
		store:     store,
		networks:  map[int64]domain.CloudNetwork{},
		providers: map[int64]string{},
	}
}

func (c *nameCache) network(ctx context.Context, id int64) (domain.CloudNetwork, error) {
	if n, ok := c.networks[id]; ok {
		return n, nil
	}
	n, err := c.store.Networks.FindByID(ctx, id)
	if err != nil {
		return domain.CloudNetwork{}, err
	}
	c.networks[id] = n
	return n, nil
}

func (c *nameCache) provider(ctx context.Context, id int64) (string, error) {
	if name, ok := c.providers[id]; ok {
		return name, nil
	}
	p, err := c.store.Providers.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	c.providers[id] = p.Name
	return p.Name, nil
}
