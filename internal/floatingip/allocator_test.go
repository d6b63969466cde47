package floatingip

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/cloud/cloudtest"
	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/inventory"
	"github.com/jbweber/homelab/floater/internal/metrics"
	"github.com/jbweber/homelab/floater/internal/repository"
	"github.com/jbweber/homelab/floater/internal/testutil"
)

type refresherFunc func(ctx context.Context, p domain.Provider, t domain.CloudTenant) error

func (f refresherFunc) Refresh(ctx context.Context, p domain.Provider, t domain.CloudTenant) error {
	return f(ctx, p, t)
}

var noRefresh = refresherFunc(func(context.Context, domain.Provider, domain.CloudTenant) error { return nil })

type allocatorEnv struct {
	store   *repository.Store
	fixture testutil.Fixture
	fake    *cloudtest.Fake
	clock   *fakeclock.FakeClock
	tenant  domain.CloudTenant
}

func newAllocatorEnv(t *testing.T, name string) *allocatorEnv {
	t.Helper()
	db, cleanup := testutil.SetupTestDBWithMigrations(t, name)
	t.Cleanup(cleanup)
	f := testutil.SeedInventory(t, db)
	store := repository.NewStore(db)
	t.Cleanup(func() { store.Close() })

	tenant, err := store.Tenants.FindByID(context.Background(), f.TenantAdmin)
	require.NoError(t, err)

	fake := cloudtest.New()
	fake.AddNetwork(cloud.Network{ID: "net-private", Name: "private"})
	fake.AddNetwork(cloud.Network{ID: "net-public", Name: "public", External: true})

	return &allocatorEnv{
		store:   store,
		fixture: f,
		fake:    fake,
		clock:   fakeclock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		tenant:  tenant,
	}
}

func (e *allocatorEnv) allocator(refresher Refresher, opts Options) *Allocator {
	return NewAllocator(e.store.FloatingIPs, refresher, e.clock, opts, metrics.New(), testutil.NewLogger())
}

func (e *allocatorEnv) request(count int) Request {
	return Request{
		Network:   e.fake,
		Tenant:    e.tenant,
		NetworkID: e.fixture.NetPublic,
		Pool:      "public",
		Count:     count,
	}
}

// reflect writes the durable record for address, the way an inventory refresh would
func (e *allocatorEnv) reflect(t *testing.T, address string) int64 {
	t.Helper()
	for _, fip := range e.fake.FloatingIPs() {
		if fip.Address != address {
			continue
		}
		saved, err := e.store.FloatingIPs.UpsertByExternalRef(context.Background(), domain.FloatingIP{
			Address:     fip.Address,
			NetworkID:   e.fixture.NetPublic,
			TenantID:    e.tenant.ID,
			Status:      domain.FloatingIPDown,
			ExternalRef: fip.ID,
		})
		require.NoError(t, err)
		return saved.ID
	}
	t.Fatalf("address %s was never allocated", address)
	return 0
}

func (e *allocatorEnv) reflectAll(t *testing.T) refresherFunc {
	return func(ctx context.Context, p domain.Provider, tenant domain.CloudTenant) error {
		for _, fip := range e.fake.FloatingIPs() {
			e.reflect(t, fip.Address)
		}
		return nil
	}
}

func waitForWatchers(t *testing.T, fc *fakeclock.FakeClock, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for fc.WatcherCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d clock watchers, have %d", n, fc.WatcherCount())
		}
		time.Sleep(time.Millisecond)
	}
}

type allocateResult struct {
	ids map[string]int64
	err error
}

func allocateAsync(ctx context.Context, a *Allocator, req Request) <-chan allocateResult {
	done := make(chan allocateResult, 1)
	go func() {
		ids, err := a.Allocate(ctx, req)
		done <- allocateResult{ids: ids, err: err}
	}()
	return done
}

func receive(t *testing.T, done <-chan allocateResult) allocateResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatalf("allocation did not finish")
		return allocateResult{}
	}
}

func TestSelectPool(t *testing.T) {
	ctx := context.Background()
	fake := cloudtest.New()
	fake.AddNetwork(cloud.Network{ID: "net-private", Name: "private"})
	fake.AddNetwork(cloud.Network{ID: "net-dmz", Name: "dmz", External: true})
	fake.AddNetwork(cloud.Network{ID: "net-public", Name: "public", External: true})

	pool, err := SelectPool(ctx, fake, "")
	require.NoError(t, err)
	assert.Equal(t, "dmz", pool)

	pool, err = SelectPool(ctx, fake, "does-not-exist")
	require.NoError(t, err)
	assert.Equal(t, "does-not-exist", pool)

	empty := cloudtest.New()
	empty.AddNetwork(cloud.Network{ID: "net-private", Name: "private"})
	_, err = SelectPool(ctx, empty, "")
	assert.ErrorIs(t, err, domain.ErrNoExternalNetwork)
}

func TestAllocator_InvalidCount(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_InvalidCount")
	a := env.allocator(noRefresh, DefaultOptions())

	for _, count := range []int{0, -1} {
		_, err := a.Allocate(context.Background(), env.request(count))
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = a.Issue(context.Background(), env.fake, "public", count)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
	assert.Equal(t, 0, env.fake.AllocateCalls())
}

func TestAllocator_ConvergesImmediately(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_ConvergesImmediately")
	a := env.allocator(env.reflectAll(t), DefaultOptions())

	ids, err := a.Allocate(context.Background(), env.request(2))
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, 2, env.fake.AllocateCalls())

	for address, id := range ids {
		fip, err := env.store.FloatingIPs.FindByID(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, address, fip.Address)
		assert.Equal(t, domain.FloatingIPDown, fip.Status)
	}
}

func TestAllocator_ConvergesAfterInterval(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_ConvergesAfterInterval")
	a := env.allocator(noRefresh, DefaultOptions())

	done := allocateAsync(context.Background(), a, env.request(1))

	waitForWatchers(t, env.clock, 1)
	id := env.reflect(t, "198.51.100.1")
	env.clock.Increment(5 * time.Second)

	r := receive(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, map[string]int64{"198.51.100.1": id}, r.ids)
}

func TestAllocator_ConvergesOnceInventoryCatchesUp(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_ConvergesOnceInventoryCatchesUp")
	env.fake.ListLag = 1
	provider, err := env.store.Providers.FindByID(context.Background(), env.fixture.ProviderOps)
	require.NoError(t, err)

	syncer := inventory.NewSyncer(env.fake, env.store, testutil.NewLogger())
	a := env.allocator(syncer, DefaultOptions())
	req := env.request(1)
	req.Provider = provider

	done := allocateAsync(context.Background(), a, req)

	// the first refresh sees nothing, the one after the first interval does
	waitForWatchers(t, env.clock, 1)
	env.clock.Increment(5 * time.Second)

	r := receive(t, done)
	require.NoError(t, r.err)
	require.Len(t, r.ids, 1)
	assert.Equal(t, 2, env.fake.ListCalls())

	fip, err := env.store.FloatingIPs.FindByID(context.Background(), r.ids["198.51.100.1"])
	require.NoError(t, err)
	assert.Equal(t, "fip-new-1", fip.ExternalRef)
	assert.Equal(t, env.fixture.NetPublic, fip.NetworkID)
}

func TestAllocator_RefreshFailureWhileWaiting(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_RefreshFailureWhileWaiting")
	calls := 0
	a := env.allocator(refresherFunc(func(context.Context, domain.Provider, domain.CloudTenant) error {
		calls++
		if calls == 2 {
			return errors.New("inventory unavailable")
		}
		return nil
	}), DefaultOptions())

	done := allocateAsync(context.Background(), a, env.request(1))

	// a failed refresh on the first tick does not end the wait
	waitForWatchers(t, env.clock, 1)
	env.clock.Increment(5 * time.Second)
	waitForWatchers(t, env.clock, 1)
	id := env.reflect(t, "198.51.100.1")
	env.clock.Increment(5 * time.Second)

	r := receive(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, map[string]int64{"198.51.100.1": id}, r.ids)
	assert.Equal(t, 3, calls)
}

func TestAllocator_Timeout(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_Timeout")
	a := env.allocator(noRefresh, Options{PollInterval: 5 * time.Second, PollTimeout: 10 * time.Second})

	done := allocateAsync(context.Background(), a, env.request(1))
	env.clock.WaitForWatcherAndIncrement(5 * time.Second)
	env.clock.WaitForWatcherAndIncrement(5 * time.Second)

	r := receive(t, done)
	require.Error(t, r.err)
	assert.Nil(t, r.ids)
	assert.ErrorIs(t, r.err, domain.ErrAllocationTimeout)

	var allocErr *domain.AllocationError
	require.True(t, errors.As(r.err, &allocErr))
	assert.Empty(t, allocErr.Converged)
	assert.Equal(t, []domain.Allocation{{Address: "198.51.100.1", ExternalRef: "fip-new-1"}}, allocErr.Orphaned)
	assert.Contains(t, r.err.Error(), "orphaned addresses: 198.51.100.1")
}

func TestAllocator_SerialStopsAtFirstTimeout(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_SerialStopsAtFirstTimeout")
	a := env.allocator(noRefresh, Options{PollInterval: 5 * time.Second, PollTimeout: 5 * time.Second, PollMode: PollSerial})

	done := allocateAsync(context.Background(), a, env.request(2))
	env.clock.WaitForWatcherAndIncrement(5 * time.Second)

	r := receive(t, done)
	require.ErrorIs(t, r.err, domain.ErrAllocationTimeout)
	var allocErr *domain.AllocationError
	require.True(t, errors.As(r.err, &allocErr))
	assert.Len(t, allocErr.Orphaned, 2)
}

func TestAllocator_SharedDeadline(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_SharedDeadline")
	a := env.allocator(noRefresh, Options{PollInterval: 5 * time.Second, PollTimeout: 10 * time.Second, PollMode: PollShared})

	done := allocateAsync(context.Background(), a, env.request(2))

	// the first address converges after one interval
	waitForWatchers(t, env.clock, 1)
	first := env.reflect(t, "198.51.100.1")
	env.clock.Increment(5 * time.Second)

	// the second address only has what is left of the shared budget
	env.clock.WaitForWatcherAndIncrement(5 * time.Second)

	r := receive(t, done)
	require.ErrorIs(t, r.err, domain.ErrAllocationTimeout)
	var allocErr *domain.AllocationError
	require.True(t, errors.As(r.err, &allocErr))
	assert.Equal(t, map[string]int64{"198.51.100.1": first}, allocErr.Converged)
	assert.Equal(t, []domain.Allocation{{Address: "198.51.100.2", ExternalRef: "fip-new-2"}}, allocErr.Orphaned)
}

func TestAllocator_Parallel(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_Parallel")
	a := env.allocator(noRefresh, Options{PollInterval: 5 * time.Second, PollTimeout: 600 * time.Second, PollMode: PollParallel})

	done := allocateAsync(context.Background(), a, env.request(2))

	waitForWatchers(t, env.clock, 2)
	first := env.reflect(t, "198.51.100.1")
	second := env.reflect(t, "198.51.100.2")
	env.clock.Increment(5 * time.Second)

	r := receive(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, map[string]int64{"198.51.100.1": first, "198.51.100.2": second}, r.ids)
}

func TestAllocator_Canceled(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_Canceled")
	a := env.allocator(noRefresh, DefaultOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := allocateAsync(ctx, a, env.request(1))
	waitForWatchers(t, env.clock, 1)
	cancel()

	r := receive(t, done)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, context.Canceled)
	var allocErr *domain.AllocationError
	require.True(t, errors.As(r.err, &allocErr))
	assert.Len(t, allocErr.Orphaned, 1)
}

func TestAllocator_APIFailureRollsBack(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_APIFailureRollsBack")
	env.fake.AllocateErr = func(n int) error {
		if n == 3 {
			return errors.New("quota exceeded")
		}
		return nil
	}
	a := env.allocator(noRefresh, DefaultOptions())

	_, err := a.Allocate(context.Background(), env.request(4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, 3, env.fake.AllocateCalls())

	var allocErr *domain.AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Len(t, allocErr.Released, 2)
	assert.Empty(t, allocErr.Orphaned)
	assert.Empty(t, env.fake.FloatingIPs())
}

func TestAllocator_APIFailureWithoutRollback(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_APIFailureWithoutRollback")
	env.fake.AllocateErr = func(n int) error {
		if n == 2 {
			return errors.New("quota exceeded")
		}
		return nil
	}
	opts := DefaultOptions()
	opts.Rollback = false
	a := env.allocator(noRefresh, opts)

	_, err := a.Allocate(context.Background(), env.request(3))
	var allocErr *domain.AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Empty(t, allocErr.Released)
	assert.Equal(t, []domain.Allocation{{Address: "198.51.100.1", ExternalRef: "fip-new-1"}}, allocErr.Orphaned)
	assert.Len(t, env.fake.FloatingIPs(), 1)
}

func TestAllocator_RefreshFailure(t *testing.T) {
	env := newAllocatorEnv(t, "TestAllocator_RefreshFailure")
	a := env.allocator(refresherFunc(func(context.Context, domain.Provider, domain.CloudTenant) error {
		return errors.New("inventory unavailable")
	}), DefaultOptions())

	_, err := a.Allocate(context.Background(), env.request(1))
	require.Error(t, err)
	var allocErr *domain.AllocationError
	require.True(t, errors.As(err, &allocErr))
	assert.Len(t, allocErr.Orphaned, 1)
	assert.Contains(t, err.Error(), "inventory unavailable")
}
