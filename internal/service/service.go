// Package service exposes the caller-facing floating IP operations. Each
// operation resolves its inputs against the record store, opens fresh
// control-plane handles and reports a Result, which Run turns into an
// Envelope.
package service

import (
	"context"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/floatingip"
	"github.com/jbweber/homelab/floater/internal/inventory"
	"github.com/jbweber/homelab/floater/internal/metrics"
	"github.com/jbweber/homelab/floater/internal/repository"
	"github.com/jbweber/homelab/floater/internal/resolver"
)

// Operation names, used for logging, metrics and the CLI.
const (
	OpAllocate        = "allocate"
	OpGetOrCreate     = "get-or-create"
	OpListFloatingIPs = "list-floating-ips"
	OpListSubnets     = "list-subnets"
	OpRelease         = "release"
	OpRetire          = "retire"
)

// Config carries the allocator settings and the clock polling runs on.
type Config struct {
	Allocator floatingip.Options
	Clock     clock.Clock
}

// Service implements the floating IP operations.
type Service struct {
	store     *repository.Store
	resolver  *resolver.Resolver
	connector cloud.Connector
	syncer    *inventory.Syncer
	allocator *floatingip.Allocator
	manager   *floatingip.Manager
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// New wires a service over store and connector
func New(store *repository.Store, connector cloud.Connector, cfg Config, m *metrics.Metrics, log logrus.FieldLogger) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewClock()
	}
	syncer := inventory.NewSyncer(connector, store, log)
	return &Service{
		store:     store,
		resolver:  resolver.New(store, log),
		connector: connector,
		syncer:    syncer,
		allocator: floatingip.NewAllocator(store.FloatingIPs, syncer, cfg.Clock, cfg.Allocator, m, log),
		manager:   floatingip.NewManager(store.VMs, m, log),
		metrics:   m,
		log:       log,
	}
}

// target is the provider and tenant an operation talks to the control plane as.
type target struct {
	provider domain.Provider
	tenant   domain.CloudTenant
}

func (s *Service) vmTarget(ctx context.Context, vm domain.VirtualMachine) (target, error) {
	provider, err := s.store.Providers.FindByID(ctx, vm.ProviderID)
	if err != nil {
		return target{}, err
	}
	if vm.TenantID == nil {
		return target{}, domain.NotFoundf("tenant of VM %q", vm.Name)
	}
	tenant, err := s.store.Tenants.FindByID(ctx, *vm.TenantID)
	if err != nil {
		return target{}, err
	}
	return target{provider: provider, tenant: tenant}, nil
}

func (s *Service) tenantTarget(ctx context.Context, tenantID int64) (target, error) {
	tenant, err := s.store.Tenants.FindByID(ctx, tenantID)
	if err != nil {
		return target{}, err
	}
	provider, err := s.store.Providers.FindByID(ctx, tenant.ProviderID)
	if err != nil {
		return target{}, err
	}
	return target{provider: provider, tenant: tenant}, nil
}

func (s *Service) compute(ctx context.Context, t target) (cloud.ComputeClient, error) {
	return s.connector.Compute(ctx, t.provider, t.tenant.Name)
}

func (s *Service) network(ctx context.Context, t target) (cloud.NetworkClient, error) {
	return s.connector.Network(ctx, t.provider, t.tenant.Name)
}

// refresh updates the tenant's records after a change. A failure is logged
// and does not undo the change.
func (s *Service) refresh(ctx context.Context, t target) {
	if err := s.syncer.Refresh(ctx, t.provider, t.tenant); err != nil {
		s.log.WithError(err).WithField("tenant", t.tenant.Name).Warn("inventory refresh failed")
	}
}
