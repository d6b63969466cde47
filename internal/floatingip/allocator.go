package floatingip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/metrics"
	"github.com/jbweber/homelab/floater/internal/repository"
)

// PollMode controls how deadlines are spent while waiting for durable records.
type PollMode string

const (
	// PollSerial waits for addresses in allocation order, each with its own budget.
	PollSerial PollMode = "serial"
	// PollShared waits in allocation order under one deadline for all addresses.
	PollShared PollMode = "shared"
	// PollParallel waits for every address at once, each with its own budget.
	PollParallel PollMode = "parallel"
)

// Options tune the allocator.
type Options struct {
	PollInterval time.Duration
	PollTimeout  time.Duration
	PollMode     PollMode
	// Rollback releases addresses already allocated by a request when a
	// later allocation call fails.
	Rollback bool
}

// DefaultOptions returns a 5 second interval, a 600 second budget per
// address, serial polling and rollback enabled.
func DefaultOptions() Options {
	return Options{
		PollInterval: 5 * time.Second,
		PollTimeout:  600 * time.Second,
		PollMode:     PollSerial,
		Rollback:     true,
	}
}

// Refresher brings the record store up to date with a tenant's control-plane state.
type Refresher interface {
	Refresh(ctx context.Context, provider domain.Provider, tenant domain.CloudTenant) error
}

// Request describes one allocation.
type Request struct {
	Network  cloud.NetworkClient
	Provider domain.Provider
	Tenant   domain.CloudTenant
	// NetworkID is the record id of the pool network, used to find the durable records.
	NetworkID int64
	Pool      string
	Count     int
}

// Allocator allocates floating addresses and waits for their durable records.
type Allocator struct {
	fips      repository.FloatingIPRepository
	refresher Refresher
	refreshMu sync.Mutex
	clock     clock.Clock
	opts      Options
	metrics   *metrics.Metrics
	log       logrus.FieldLogger
}

// NewAllocator creates an allocator. Zero options fall back to DefaultOptions.
func NewAllocator(fips repository.FloatingIPRepository, refresher Refresher, clk clock.Clock, opts Options, m *metrics.Metrics, log logrus.FieldLogger) *Allocator {
	defaults := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaults.PollInterval
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = defaults.PollTimeout
	}
	if opts.PollMode == "" {
		opts.PollMode = defaults.PollMode
	}
	return &Allocator{
		fips:      fips,
		refresher: refresher,
		clock:     clk,
		opts:      opts,
		metrics:   m,
		log:       log,
	}
}

// ValidateCount rejects a count that is not a positive integer.
func ValidateCount(count int) error {
	if count <= 0 {
		return domain.InvalidInputf("count must be a positive integer, got %d", count)
	}
	return nil
}

// Issue makes count allocation calls against pool, one after another. When
// a call fails the remaining ones are skipped; with rollback enabled the
// addresses already allocated are released best-effort. Either way the
// failure is an *domain.AllocationError listing what was released and what
// was left behind.
func (a *Allocator) Issue(ctx context.Context, nc cloud.NetworkClient, pool string, count int) ([]domain.Allocation, error) {
	if err := ValidateCount(count); err != nil {
		return nil, err
	}

	log := a.log.WithField("pool", pool)
	allocations := make([]domain.Allocation, 0, count)
	for i := 0; i < count; i++ {
		allocation, err := nc.AllocateFloatingIP(ctx, pool)
		if err != nil {
			log.WithError(err).WithField("allocated", len(allocations)).Error("allocation call failed")
			return nil, a.Abandon(ctx, nc, fmt.Errorf("failed to allocate address %d of %d from %s: %w", i+1, count, pool, err), allocations)
		}
		log.WithField("address", allocation.Address).Info("allocated floating IP")
		allocations = append(allocations, allocation)
	}
	return allocations, nil
}

// Abandon gives up on allocations after cause. With rollback enabled each
// address is released best-effort; whatever could not be released is
// reported as orphaned.
func (a *Allocator) Abandon(ctx context.Context, nc cloud.NetworkClient, cause error, allocations []domain.Allocation) error {
	allocErr := &domain.AllocationError{Cause: cause}
	if !a.opts.Rollback {
		allocErr.Orphaned = allocations
		a.metrics.Orphaned(len(allocations))
		return allocErr
	}

	for _, allocation := range allocations {
		if _, err := nc.ReleaseFloatingIP(ctx, allocation.ExternalRef); err != nil {
			a.log.WithError(err).WithField("address", allocation.Address).Warn("rollback release failed")
			allocErr.Orphaned = append(allocErr.Orphaned, allocation)
			continue
		}
		allocErr.Released = append(allocErr.Released, allocation)
	}
	a.metrics.Orphaned(len(allocErr.Orphaned))
	return allocErr
}

// Allocate allocates req.Count addresses, refreshes the tenant inventory and
// waits until every address has a durable, unbound record. The inventory is
// refreshed again after every miss, since the control plane may list a new
// address some time after allocating it. It returns the
// record id per address. The result is all or nothing: if any address does
// not converge the call fails with an *domain.AllocationError that still
// reports which addresses converged and which were orphaned.
func (a *Allocator) Allocate(ctx context.Context, req Request) (map[string]int64, error) {
	if err := ValidateCount(req.Count); err != nil {
		return nil, err
	}

	allocations, err := a.Issue(ctx, req.Network, req.Pool, req.Count)
	if err != nil {
		return nil, err
	}

	if err := a.refresh(ctx, req); err != nil {
		a.metrics.Orphaned(len(allocations))
		return nil, &domain.AllocationError{
			Cause:    fmt.Errorf("failed to refresh tenant %s: %w", req.Tenant.Name, err),
			Orphaned: allocations,
		}
	}

	return a.await(ctx, req, allocations)
}

// refresh runs one inventory refresh at a time; parallel polls share the tenant's records.
func (a *Allocator) refresh(ctx context.Context, req Request) error {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()
	return a.refresher.Refresh(ctx, req.Provider, req.Tenant)
}

type pollResult struct {
	mu        sync.Mutex
	converged map[string]int64
	failed    map[string]error
}

func (r *pollResult) record(address string, id int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.failed[address] = err
		return
	}
	r.converged[address] = id
}

func (a *Allocator) await(ctx context.Context, req Request, allocations []domain.Allocation) (map[string]int64, error) {
	result := &pollResult{converged: map[string]int64{}, failed: map[string]error{}}

	switch a.opts.PollMode {
	case PollParallel:
		var g errgroup.Group
		for _, allocation := range allocations {
			allocation := allocation
			g.Go(func() error {
				id, err := a.poll(ctx, req, allocation.Address, a.clock.Now().Add(a.opts.PollTimeout))
				result.record(allocation.Address, id, err)
				return err
			})
		}
		_ = g.Wait()
	case PollShared:
		deadline := a.clock.Now().Add(a.opts.PollTimeout)
		for _, allocation := range allocations {
			id, err := a.poll(ctx, req, allocation.Address, deadline)
			result.record(allocation.Address, id, err)
			if err != nil && ctx.Err() != nil {
				break
			}
		}
	default:
		for _, allocation := range allocations {
			id, err := a.poll(ctx, req, allocation.Address, a.clock.Now().Add(a.opts.PollTimeout))
			result.record(allocation.Address, id, err)
			if err != nil {
				break
			}
		}
	}

	if len(result.converged) == len(allocations) {
		return result.converged, nil
	}

	var orphaned []domain.Allocation
	var cause error
	for _, allocation := range allocations {
		if _, ok := result.converged[allocation.Address]; ok {
			continue
		}
		orphaned = append(orphaned, allocation)
		if err, ok := result.failed[allocation.Address]; ok && cause == nil {
			cause = err
		}
	}
	if cause == nil {
		cause = fmt.Errorf("waiting for durable records canceled: %w", ctx.Err())
	}
	a.metrics.Orphaned(len(orphaned))
	a.log.WithFields(logrus.Fields{
		"pool":      req.Pool,
		"converged": len(result.converged),
		"orphaned":  len(orphaned),
	}).Error("allocated addresses did not all become durable")

	return nil, &domain.AllocationError{
		Cause:     cause,
		Converged: result.converged,
		Orphaned:  orphaned,
	}
}

// poll looks for the durable record of address until deadline, refreshing
// the inventory and checking again once per interval. A failed refresh is
// retried on the next tick.
func (a *Allocator) poll(ctx context.Context, req Request, address string, deadline time.Time) (int64, error) {
	start := a.clock.Now()
	log := a.log.WithFields(logrus.Fields{"address": address, "tenant": req.Tenant.Name})

	for {
		a.metrics.PollAttempt()
		fip, err := a.fips.FindPending(ctx, req.NetworkID, req.Tenant.ID, address)
		if err == nil {
			a.metrics.ObservePollWait("converged", a.clock.Since(start))
			log.WithField("record", fip.ID).Debug("durable record found")
			return fip.ID, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("failed to look up record for %s: %w", address, err)
		}

		remaining := deadline.Sub(a.clock.Now())
		if remaining <= 0 {
			a.metrics.ObservePollWait("timeout", a.clock.Since(start))
			return 0, fmt.Errorf("%w: no durable record for %s after %s", domain.ErrAllocationTimeout, address, a.clock.Since(start))
		}
		wait := a.opts.PollInterval
		if remaining < wait {
			wait = remaining
		}

		timer := a.clock.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.metrics.ObservePollWait("canceled", a.clock.Since(start))
			return 0, fmt.Errorf("waiting for durable record of %s canceled: %w", address, ctx.Err())
		case <-timer.C():
		}

		if err := a.refresh(ctx, req); err != nil {
			log.WithError(err).Warn("inventory refresh failed while waiting")
		}
	}
}
