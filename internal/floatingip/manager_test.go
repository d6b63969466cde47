package floatingip

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/floater/internal/cloud"
	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/metrics"
	"github.com/jbweber/homelab/floater/internal/repository"
	"github.com/jbweber/homelab/floater/internal/testutil"
)

func (e *allocatorEnv) manager() *Manager {
	return NewManager(e.store.VMs, metrics.New(), testutil.NewLogger())
}

func (e *allocatorEnv) vm(t *testing.T, id int64) domain.VirtualMachine {
	t.Helper()
	vm, err := e.store.VMs.FindByID(context.Background(), id)
	require.NoError(t, err)
	return vm
}

func TestManager_Associate(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Associate")
	env.fake.AddServer("srv-web-2", "private", "10.0.0.7")
	m := env.manager()
	ctx := context.Background()

	allocation, err := env.fake.AllocateFloatingIP(ctx, "public")
	require.NoError(t, err)

	vm := env.vm(t, env.fixture.WebDevPrivate)
	assert.True(t, vm.Floating.IsZero())

	result, err := m.Associate(ctx, env.fake, vm, allocation)
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, result.Status)
	assert.Equal(t, allocation, result.Allocation)
	assert.Equal(t, domain.FloatingAssociation{Address: allocation.Address, ID: allocation.ExternalRef}, result.VM.Floating)
	assert.Equal(t, result.VM, env.vm(t, vm.ID))

	floating, err := FloatingAddresses(ctx, env.fake, vm)
	require.NoError(t, err)
	assert.Equal(t, []string{allocation.Address}, floating)
}

func TestManager_Associate_Failure(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Associate_Failure")
	m := env.manager()
	ctx := context.Background()

	allocation, err := env.fake.AllocateFloatingIP(ctx, "public")
	require.NoError(t, err)

	vm := env.vm(t, env.fixture.WebDevPrivate)
	result, err := m.Associate(ctx, env.fake, vm, allocation)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, result.Status)
	assert.True(t, env.vm(t, vm.ID).Floating.IsZero())
}

// seedRetirement puts three floating addresses on the db server, the first
// of which is the one its cache knows about.
func seedRetirement(env *allocatorEnv) {
	env.fake.AddServer("srv-db", "private", "10.0.0.5")
	env.fake.AddFloatingIP(cloud.FloatingIP{ID: "fip-10", Address: "203.0.113.10", PortID: "port-db", Status: "ACTIVE", FloatingNetworkID: "net-public"}, "srv-db")
	env.fake.AddFloatingIP(cloud.FloatingIP{ID: "fip-20", Address: "203.0.113.20", PortID: "port-db", Status: "ACTIVE", FloatingNetworkID: "net-public"}, "srv-db")
	env.fake.AddFloatingIP(cloud.FloatingIP{ID: "fip-21", Address: "203.0.113.21", PortID: "port-db", Status: "ACTIVE", FloatingNetworkID: "net-public"}, "srv-db")
}

func TestManager_Retire(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Retire")
	seedRetirement(env)
	m := env.manager()

	retirement, err := m.Retire(context.Background(), env.fake, env.fake, env.vm(t, env.fixture.DB))
	outcomes := retirement.Outcomes
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"203.0.113.10": domain.OutcomeReleased,
		"203.0.113.20": domain.OutcomeReleased,
		"203.0.113.21": domain.OutcomeReleased,
	}, outcomes)
	assert.Empty(t, env.fake.FloatingIPs())
	assert.True(t, retirement.VM.Floating.IsZero())
	assert.Equal(t, retirement.VM, env.vm(t, env.fixture.DB))
}

func TestManager_Retire_PartialFailure(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Retire_PartialFailure")
	seedRetirement(env)
	env.fake.DisassociateErr["fip-20"] = errors.New("port is busy")
	m := env.manager()

	retirement, err := m.Retire(context.Background(), env.fake, env.fake, env.vm(t, env.fixture.DB))
	outcomes := retirement.Outcomes
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPartialRetirementFailure)
	assert.Contains(t, err.Error(), "203.0.113.20")

	var retireErr *domain.RetirementError
	require.True(t, errors.As(err, &retireErr))
	assert.Equal(t, outcomes, retireErr.Outcomes)

	assert.Equal(t, domain.OutcomeReleased, outcomes["203.0.113.10"])
	assert.Equal(t, domain.OutcomeReleased, outcomes["203.0.113.21"])
	assert.True(t, strings.HasPrefix(outcomes["203.0.113.20"], "Failed: "))
	assert.Contains(t, outcomes["203.0.113.20"], "port is busy")

	remaining := env.fake.FloatingIPs()
	require.Len(t, remaining, 1)
	assert.Equal(t, "fip-20", remaining[0].ID)

	// the cached address was released, so the cache goes too
	assert.True(t, env.vm(t, env.fixture.DB).Floating.IsZero())
}

type failingClearVMs struct {
	repository.VMRepository
	err error
}

func (r failingClearVMs) ClearFloatingAssociation(context.Context, int64) error {
	return r.err
}

func TestManager_Retire_PartialFailureKeepsOutcomesWhenClearFails(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Retire_PartialFailureKeepsOutcomesWhenClearFails")
	seedRetirement(env)
	env.fake.DisassociateErr["fip-20"] = errors.New("port is busy")
	m := NewManager(failingClearVMs{VMRepository: env.store.VMs, err: errors.New("database is locked")}, metrics.New(), testutil.NewLogger())

	vm := env.vm(t, env.fixture.DB)
	retirement, err := m.Retire(context.Background(), env.fake, env.fake, vm)
	require.Error(t, err)
	assert.Equal(t, "PartialRetirementFailure", domain.Kind(err))

	var retireErr *domain.RetirementError
	require.True(t, errors.As(err, &retireErr))
	assert.Len(t, retireErr.Outcomes, 3)
	assert.Equal(t, domain.OutcomeReleased, retireErr.Outcomes["203.0.113.10"])
	assert.True(t, strings.HasPrefix(retireErr.Outcomes["203.0.113.20"], "Failed: "))
	assert.Equal(t, vm, retirement.VM)
}

func TestManager_Retire_ClearFailsAfterFullRelease(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Retire_ClearFailsAfterFullRelease")
	seedRetirement(env)
	m := NewManager(failingClearVMs{VMRepository: env.store.VMs, err: errors.New("database is locked")}, metrics.New(), testutil.NewLogger())

	retirement, err := m.Retire(context.Background(), env.fake, env.fake, env.vm(t, env.fixture.DB))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Len(t, retirement.Outcomes, 3)
	assert.Empty(t, env.fake.FloatingIPs())
}

func TestManager_Retire_CachedAddressStillBound(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Retire_CachedAddressStillBound")
	seedRetirement(env)
	env.fake.ReleaseErr["fip-10"] = errors.New("conflict")
	m := env.manager()

	_, err := m.Retire(context.Background(), env.fake, env.fake, env.vm(t, env.fixture.DB))
	require.ErrorIs(t, err, domain.ErrPartialRetirementFailure)
	assert.Equal(t, domain.FloatingAssociation{Address: "203.0.113.10", ID: "fip-10"}, env.vm(t, env.fixture.DB).Floating)
}

func TestManager_Retire_NothingBound(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Retire_NothingBound")
	env.fake.AddServer("srv-db", "private", "10.0.0.5")
	m := env.manager()

	// the cache claims an address the control plane no longer reports
	retirement, err := m.Retire(context.Background(), env.fake, env.fake, env.vm(t, env.fixture.DB))
	outcomes := retirement.Outcomes
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.True(t, env.vm(t, env.fixture.DB).Floating.IsZero())
}

func TestManager_Retire_ServerLookupFails(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Retire_ServerLookupFails")
	m := env.manager()

	_, err := m.Retire(context.Background(), env.fake, env.fake, env.vm(t, env.fixture.DB))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrPartialRetirementFailure)
	assert.False(t, env.vm(t, env.fixture.DB).Floating.IsZero())
}

func TestManager_RoundTrip(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_RoundTrip")
	env.fake.AddServer("srv-web-1", "private", "10.0.0.6")
	a := env.allocator(env.reflectAll(t), DefaultOptions())
	m := env.manager()
	ctx := context.Background()

	before := env.vm(t, env.fixture.WebAdminPrivate)

	ids, err := a.Allocate(ctx, env.request(1))
	require.NoError(t, err)
	require.Len(t, ids, 1)

	var allocation domain.Allocation
	for _, fip := range env.fake.FloatingIPs() {
		allocation = domain.Allocation{Address: fip.Address, ExternalRef: fip.ID}
	}
	_, err = m.Associate(ctx, env.fake, before, allocation)
	require.NoError(t, err)

	retirement, err := m.Retire(ctx, env.fake, env.fake, env.vm(t, before.ID))
	outcomes := retirement.Outcomes
	require.NoError(t, err)
	assert.Equal(t, map[string]string{allocation.Address: domain.OutcomeReleased}, outcomes)

	assert.Equal(t, before, retirement.VM)
	assert.Equal(t, before, env.vm(t, before.ID))
	assert.Empty(t, env.fake.FloatingIPs())
}

func TestManager_Release(t *testing.T) {
	env := newAllocatorEnv(t, "TestManager_Release")
	env.fake.AddFloatingIP(cloud.FloatingIP{ID: "fip-11", Address: "203.0.113.11", Status: "DOWN"}, "")
	m := env.manager()
	ctx := context.Background()

	status, err := m.Release(ctx, env.fake, "203.0.113.11")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Empty(t, env.fake.FloatingIPs())

	_, err = m.Release(ctx, env.fake, "203.0.113.11")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
