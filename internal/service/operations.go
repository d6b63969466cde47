package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/floatingip"
	"github.com/jbweber/homelab/floater/internal/resolver"
)

func refFields(fields logrus.Fields, key string, ref resolver.Ref) {
	if !ref.IsZero() {
		fields[key] = ref.String()
	}
}

// AllocateOptions selects the VM to give a floating IP. Pool names the
// network to allocate from; empty means the first external network.
type AllocateOptions struct {
	VM       resolver.Ref
	Provider resolver.Ref
	Network  resolver.Ref
	Tenant   resolver.Ref
	Pool     string
}

// LogFields describes the options for logging.
func (o AllocateOptions) LogFields() logrus.Fields {
	fields := logrus.Fields{}
	refFields(fields, "vm", o.VM)
	refFields(fields, "provider", o.Provider)
	refFields(fields, "network", o.Network)
	refFields(fields, "tenant", o.Tenant)
	if o.Pool != "" {
		fields["pool"] = o.Pool
	}
	return fields
}

// AllocateAndAssociate allocates one floating IP for the VM and binds it.
// The payload maps the address to its control-plane id; the result code is
// the associate call's status.
func (s *Service) AllocateAndAssociate(ctx context.Context, opts AllocateOptions) (Result, error) {
	vm, err := s.resolver.VM(ctx, resolver.VMQuery{
		VM:       opts.VM,
		Provider: opts.Provider,
		Network:  opts.Network,
		Tenant:   opts.Tenant,
	})
	if err != nil {
		return Result{}, err
	}
	t, err := s.vmTarget(ctx, vm)
	if err != nil {
		return Result{}, err
	}

	cc, err := s.compute(ctx, t)
	if err != nil {
		return Result{}, err
	}
	nc, err := s.network(ctx, t)
	if err != nil {
		return Result{}, err
	}

	pool, err := floatingip.SelectPool(ctx, nc, opts.Pool)
	if err != nil {
		return Result{}, err
	}
	allocations, err := s.allocator.Issue(ctx, nc, pool, 1)
	if err != nil {
		return Result{}, err
	}

	association, err := s.manager.Associate(ctx, cc, vm, allocations[0])
	if err != nil {
		if association.Status/100 == 2 {
			// Bound on the control plane; only the cached pair is missing.
			return Result{Code: association.Status}, err
		}
		return Result{Code: association.Status}, s.allocator.Abandon(ctx, nc, err, allocations)
	}

	return Result{
		Code:    association.Status,
		Payload: map[string]string{association.Allocation.Address: association.Allocation.ExternalRef},
	}, nil
}

// GetOrCreateOptions identifies the tenant and pool network by record id.
type GetOrCreateOptions struct {
	TenantID  int64
	NetworkID int64
	Count     int
}

// LogFields describes the options for logging.
func (o GetOrCreateOptions) LogFields() logrus.Fields {
	return logrus.Fields{"tenant_id": o.TenantID, "network_id": o.NetworkID, "count": o.Count}
}

// GetOrCreate allocates Count floating IPs from the network for the tenant
// and waits until each one has a durable record. The payload maps each
// address to its record id.
func (s *Service) GetOrCreate(ctx context.Context, opts GetOrCreateOptions) (Result, error) {
	if opts.TenantID <= 0 {
		return Result{}, domain.InvalidInputf("a tenant id is required")
	}
	if opts.NetworkID <= 0 {
		return Result{}, domain.InvalidInputf("a network id is required")
	}
	if err := floatingip.ValidateCount(opts.Count); err != nil {
		return Result{}, err
	}

	t, err := s.tenantTarget(ctx, opts.TenantID)
	if err != nil {
		return Result{}, err
	}
	network, err := s.store.Networks.FindByID(ctx, opts.NetworkID)
	if err != nil {
		return Result{}, err
	}

	nc, err := s.network(ctx, t)
	if err != nil {
		return Result{}, err
	}
	pool, err := floatingip.SelectPool(ctx, nc, network.Name)
	if err != nil {
		return Result{}, err
	}

	ids, err := s.allocator.Allocate(ctx, floatingip.Request{
		Network:   nc,
		Provider:  t.provider,
		Tenant:    t.tenant,
		NetworkID: network.ID,
		Pool:      pool,
		Count:     opts.Count,
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: ids}, nil
}

// ReleaseOptions names the floating IP by address or record id.
type ReleaseOptions struct {
	Address resolver.Ref
}

// LogFields describes the options for logging.
func (o ReleaseOptions) LogFields() logrus.Fields {
	fields := logrus.Fields{}
	refFields(fields, "address", o.Address)
	return fields
}

// Release frees one floating IP on the control plane and refreshes its
// tenant's records. The result code is the release call's status.
func (s *Service) Release(ctx context.Context, opts ReleaseOptions) (Result, error) {
	fip, err := s.resolver.FloatingIP(ctx, opts.Address)
	if err != nil {
		return Result{}, err
	}
	t, err := s.tenantTarget(ctx, fip.TenantID)
	if err != nil {
		return Result{}, err
	}
	nc, err := s.network(ctx, t)
	if err != nil {
		return Result{}, err
	}

	status, err := s.manager.Release(ctx, nc, fip.Address)
	if err != nil {
		return Result{Code: status}, err
	}
	s.refresh(ctx, t)
	return Result{Code: status, Payload: map[string]string{fip.Address: fip.ExternalRef}}, nil
}

// RetireOptions selects the VM whose floating IPs are retired.
type RetireOptions struct {
	VM       resolver.Ref
	Provider resolver.Ref
	Network  resolver.Ref
	Tenant   resolver.Ref
}

// LogFields describes the options for logging.
func (o RetireOptions) LogFields() logrus.Fields {
	fields := logrus.Fields{}
	refFields(fields, "vm", o.VM)
	refFields(fields, "provider", o.Provider)
	refFields(fields, "network", o.Network)
	refFields(fields, "tenant", o.Tenant)
	return fields
}

// Retire releases every floating IP the control plane reports on the VM.
// The payload maps each address to its outcome.
func (s *Service) Retire(ctx context.Context, opts RetireOptions) (Result, error) {
	vm, err := s.resolver.VM(ctx, resolver.VMQuery{
		VM:       opts.VM,
		Provider: opts.Provider,
		Network:  opts.Network,
		Tenant:   opts.Tenant,
	})
	if err != nil {
		return Result{}, err
	}
	t, err := s.vmTarget(ctx, vm)
	if err != nil {
		return Result{}, err
	}

	cc, err := s.compute(ctx, t)
	if err != nil {
		return Result{}, err
	}
	nc, err := s.network(ctx, t)
	if err != nil {
		return Result{}, err
	}

	retirement, err := s.manager.Retire(ctx, cc, nc, vm)
	if len(retirement.Outcomes) > 0 {
		s.refresh(ctx, t)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: retirement.Outcomes}, nil
}
