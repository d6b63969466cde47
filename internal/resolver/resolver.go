// Package resolver turns loose caller identifiers (a name or an id per entity
// kind, plus optional filters) into exactly one record.
package resolver

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/repository"
)

// Ref identifies one entity by name or by id. At most one may be set.
type Ref struct {
	Name string
	ID   int64
}

// ByName returns a name reference.
func ByName(name string) Ref { return Ref{Name: name} }

// ByID returns an id reference.
func ByID(id int64) Ref { return Ref{ID: id} }

// IsZero reports whether neither name nor id is set.
func (r Ref) IsZero() bool { return r.Name == "" && r.ID == 0 }

func (r Ref) validate(kind string) error {
	if r.Name != "" && r.ID != 0 {
		return domain.InvalidInputf("too many %s arguments given: specify %s by name or id, not both", kind, kind)
	}
	if r.ID < 0 {
		return domain.InvalidInputf("invalid %s id %d", kind, r.ID)
	}
	return nil
}

// VMQuery selects one VM. VM is required; the rest narrow a name lookup.
type VMQuery struct {
	VM       Ref
	Provider Ref
	Network  Ref
	Tenant   Ref
}

// Validate checks mutual exclusivity and presence without touching the store.
func (q VMQuery) Validate() error {
	for _, c := range []struct {
		kind string
		ref  Ref
	}{
		{"VM", q.VM},
		{"provider", q.Provider},
		{"network", q.Network},
		{"tenant", q.Tenant},
	} {
		if err := c.ref.validate(c.kind); err != nil {
			return err
		}
	}
	if q.VM.IsZero() {
		return domain.InvalidInputf("no VM input argument supplied: specify VM by name or id")
	}
	return nil
}

// Resolver looks records up in the record store.
type Resolver struct {
	store *repository.Store
	log   logrus.FieldLogger
}

// New creates a resolver over store
func New(store *repository.Store, log logrus.FieldLogger) *Resolver {
	return &Resolver{store: store, log: log}
}

// VM resolves q to exactly one VM.
//
// By id it is a point lookup. By name the provider, tenant id and network id
// are hard filters ANDed together. When more than one candidate survives, a
// network name (membership in any network so named) and a tenant name are
// applied as soft filters, together, over that candidate set.
func (r *Resolver) VM(ctx context.Context, q VMQuery) (domain.VirtualMachine, error) {
	if err := q.Validate(); err != nil {
		return domain.VirtualMachine{}, err
	}

	if q.VM.ID != 0 {
		return r.store.VMs.FindByID(ctx, q.VM.ID)
	}

	filter := repository.VMFilter{Name: q.VM.Name, TenantID: q.Tenant.ID}
	applied := map[string]string{}
	if q.Tenant.ID != 0 {
		applied["tenant_id"] = strconv.FormatInt(q.Tenant.ID, 10)
	}
	if !q.Provider.IsZero() {
		provider, err := r.Provider(ctx, q.Provider)
		if err != nil {
			return domain.VirtualMachine{}, err
		}
		filter.ProviderID = provider.ID
		applied["provider_id"] = strconv.FormatInt(provider.ID, 10)
	}

	candidates, err := r.store.VMs.FindByFilter(ctx, filter)
	if err != nil {
		return domain.VirtualMachine{}, err
	}

	if q.Network.ID != 0 {
		members, err := r.networkMembers(ctx, []int64{q.Network.ID})
		if err != nil {
			return domain.VirtualMachine{}, err
		}
		candidates = keep(candidates, func(vm domain.VirtualMachine) bool { return members[vm.ID] })
		applied["network_id"] = strconv.FormatInt(q.Network.ID, 10)
	}

	log := r.log.WithFields(logrus.Fields{"vm": q.VM.Name, "candidates": len(candidates)})

	if len(candidates) > 1 && (q.Network.Name != "" || q.Tenant.Name != "") {
		candidates, err = r.softFilter(ctx, candidates, q)
		if err != nil {
			return domain.VirtualMachine{}, err
		}
		if q.Network.Name != "" {
			applied["network"] = q.Network.Name
		}
		if q.Tenant.Name != "" {
			applied["tenant"] = q.Tenant.Name
		}
		log = log.WithField("soft_filtered", len(candidates))
	}
	log.Debug("resolved VM candidates")

	switch len(candidates) {
	case 0:
		return domain.VirtualMachine{}, domain.NotFoundf("VM instance %q", q.VM.Name)
	case 1:
		return candidates[0], nil
	default:
		return domain.VirtualMachine{}, &domain.AmbiguousReferenceError{
			Kind:    "VM",
			Name:    q.VM.Name,
			Count:   len(candidates),
			Filters: applied,
		}
	}
}

func (r *Resolver) softFilter(ctx context.Context, candidates []domain.VirtualMachine, q VMQuery) ([]domain.VirtualMachine, error) {
	var members map[int64]bool
	if q.Network.Name != "" {
		networks, err := r.store.Networks.FindByName(ctx, q.Network.Name)
		if err != nil {
			return nil, err
		}
		ids := make([]int64, 0, len(networks))
		for _, n := range networks {
			ids = append(ids, n.ID)
		}
		if members, err = r.networkMembers(ctx, ids); err != nil {
			return nil, err
		}
	}

	tenantNames := map[int64]string{}
	if q.Tenant.Name != "" {
		for _, vm := range candidates {
			if vm.TenantID == nil {
				continue
			}
			if _, ok := tenantNames[*vm.TenantID]; ok {
				continue
			}
			tenant, err := r.store.Tenants.FindByID(ctx, *vm.TenantID)
			if err != nil {
				return nil, err
			}
			tenantNames[tenant.ID] = tenant.Name
		}
	}

	return keep(candidates, func(vm domain.VirtualMachine) bool {
		if members != nil && !members[vm.ID] {
			return false
		}
		if q.Tenant.Name != "" {
			if vm.TenantID == nil || tenantNames[*vm.TenantID] != q.Tenant.Name {
				return false
			}
		}
		return true
	}), nil
}

func (r *Resolver) networkMembers(ctx context.Context, networkIDs []int64) (map[int64]bool, error) {
	members := map[int64]bool{}
	for _, id := range networkIDs {
		vmIDs, err := r.store.Networks.VMIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, vmID := range vmIDs {
			members[vmID] = true
		}
	}
	return members, nil
}

func keep(vms []domain.VirtualMachine, pred func(domain.VirtualMachine) bool) []domain.VirtualMachine {
	out := vms[:0:0]
	for _, vm := range vms {
		if pred(vm) {
			out = append(out, vm)
		}
	}
	return out
}

// Provider resolves ref to one provider.
func (r *Resolver) Provider(ctx context.Context, ref Ref) (domain.Provider, error) {
	if err := ref.validate("provider"); err != nil {
		return domain.Provider{}, err
	}
	if ref.IsZero() {
		return domain.Provider{}, domain.InvalidInputf("no provider argument supplied")
	}
	if ref.ID != 0 {
		return r.store.Providers.FindByID(ctx, ref.ID)
	}
	providers, err := r.store.Providers.FindByName(ctx, ref.Name)
	if err != nil {
		return domain.Provider{}, err
	}
	return exactlyOne("provider", ref.Name, providers)
}

// Tenant resolves ref to one tenant.
func (r *Resolver) Tenant(ctx context.Context, ref Ref) (domain.CloudTenant, error) {
	if err := ref.validate("tenant"); err != nil {
		return domain.CloudTenant{}, err
	}
	if ref.IsZero() {
		return domain.CloudTenant{}, domain.InvalidInputf("no tenant argument supplied")
	}
	if ref.ID != 0 {
		return r.store.Tenants.FindByID(ctx, ref.ID)
	}
	tenants, err := r.store.Tenants.FindByName(ctx, ref.Name)
	if err != nil {
		return domain.CloudTenant{}, err
	}
	return exactlyOne("tenant", ref.Name, tenants)
}

// Network resolves ref to one network.
func (r *Resolver) Network(ctx context.Context, ref Ref) (domain.CloudNetwork, error) {
	networks, err := r.Networks(ctx, ref)
	if err != nil {
		return domain.CloudNetwork{}, err
	}
	return exactlyOne("network", ref.Name, networks)
}

// Networks resolves ref to every network it names. An id yields one network;
// a name yields all networks so named, or NotFound.
func (r *Resolver) Networks(ctx context.Context, ref Ref) ([]domain.CloudNetwork, error) {
	if err := ref.validate("network"); err != nil {
		return nil, err
	}
	if ref.IsZero() {
		return nil, domain.InvalidInputf("no network argument supplied")
	}
	if ref.ID != 0 {
		network, err := r.store.Networks.FindByID(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		return []domain.CloudNetwork{network}, nil
	}
	networks, err := r.store.Networks.FindByName(ctx, ref.Name)
	if err != nil {
		return nil, err
	}
	if len(networks) == 0 {
		return nil, domain.NotFoundf("network %q", ref.Name)
	}
	return networks, nil
}

// FloatingIP resolves ref to one floating IP record. The name of a floating
// IP is its address.
func (r *Resolver) FloatingIP(ctx context.Context, ref Ref) (domain.FloatingIP, error) {
	if err := ref.validate("floating IP"); err != nil {
		return domain.FloatingIP{}, err
	}
	if ref.IsZero() {
		return domain.FloatingIP{}, domain.InvalidInputf("no floating IP argument supplied: specify address or id")
	}
	if ref.ID != 0 {
		return r.store.FloatingIPs.FindByID(ctx, ref.ID)
	}
	fips, err := r.store.FloatingIPs.FindByFilter(ctx, repository.FloatingIPFilter{Address: ref.Name})
	if err != nil {
		return domain.FloatingIP{}, err
	}
	return exactlyOne("floating IP", ref.Name, fips)
}

func exactlyOne[T any](kind, name string, items []T) (T, error) {
	var zero T
	switch len(items) {
	case 0:
		return zero, domain.NotFoundf("%s %q", kind, name)
	case 1:
		return items[0], nil
	default:
		return zero, &domain.AmbiguousReferenceError{Kind: kind, Name: name, Count: len(items)}
	}
}

// String renders a ref for log fields and messages.
func (r Ref) String() string {
	if r.ID != 0 {
		return fmt.Sprintf("id=%d", r.ID)
	}
	return fmt.Sprintf("name=%q", r.Name)
}
