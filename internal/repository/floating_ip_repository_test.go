package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/floater/internal/domain"
	"github.com/jbweber/homelab/floater/internal/testutil"
)

func TestFloatingIPRepository_FindByID(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestFloatingIPRepository_FindByID")
	defer cleanup()
	f := testutil.SeedInventory(t, db)

	repo := NewFloatingIPRepository(db)
	defer repo.Close()

	fip, err := repo.FindByID(context.Background(), f.FloatingBound)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.10", fip.Address)
	assert.Equal(t, domain.FloatingIPActive, fip.Status)
	assert.Equal(t, "10.0.0.5", fip.FixedIPAddress)
	require.NotNil(t, fip.VMID)
	assert.Equal(t, f.DB, *fip.VMID)

	pending, err := repo.FindByID(context.Background(), f.FloatingPending)
	require.NoError(t, err)
	assert.Nil(t, pending.VMID)
}

func TestFloatingIPRepository_FindPending(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestFloatingIPRepository_FindPending")
	defer cleanup()
	f := testutil.SeedInventory(t, db)

	repo := NewFloatingIPRepository(db)
	defer repo.Close()
	ctx := context.Background()

	fip, err := repo.FindPending(ctx, f.NetPublic, f.TenantDev, "203.0.113.11")
	require.NoError(t, err)
	assert.Equal(t, f.FloatingPending, fip.ID)

	// bound and active addresses are not pending
	_, err = repo.FindPending(ctx, f.NetPublic, f.TenantAdmin, "203.0.113.10")
	assert.ErrorIs(t, err, ErrNotFound)

	// wrong tenant
	_, err = repo.FindPending(ctx, f.NetPublic, f.TenantAdmin, "203.0.113.11")
	assert.ErrorIs(t, err, ErrNotFound)

	impl := repo.(*floatingIPRepositoryImpl)
	assert.Equal(t, 1, impl.cache.Len())
}

func TestFloatingIPRepository_FindByFilter(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestFloatingIPRepository_FindByFilter")
	defer cleanup()
	f := testutil.SeedInventory(t, db)

	repo := NewFloatingIPRepository(db)
	defer repo.Close()
	ctx := context.Background()

	all, err := repo.FindByFilter(ctx, FloatingIPFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	byNetwork, err := repo.FindByFilter(ctx, FloatingIPFilter{NetworkID: f.NetPublic, TenantID: f.TenantDev})
	require.NoError(t, err)
	require.Len(t, byNetwork, 1)
	assert.Equal(t, "203.0.113.11", byNetwork[0].Address)

	none, err := repo.FindByFilter(ctx, FloatingIPFilter{NetworkID: f.NetPrivate})
	require.NoError(t, err)
	assert.Empty(t, none)

	byAddress, err := repo.FindByFilter(ctx, FloatingIPFilter{Address: "203.0.113.10"})
	require.NoError(t, err)
	require.Len(t, byAddress, 1)
	assert.Equal(t, f.FloatingBound, byAddress[0].ID)
}

func TestFloatingIPRepository_UpsertByExternalRef(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestFloatingIPRepository_UpsertByExternalRef")
	defer cleanup()
	f := testutil.SeedInventory(t, db)

	repo := NewFloatingIPRepository(db)
	defer repo.Close()
	ctx := context.Background()

	// existing record is updated in place
	updated, err := repo.UpsertByExternalRef(ctx, domain.FloatingIP{
		Address:     "203.0.113.11",
		NetworkID:   f.NetPublic,
		TenantID:    f.TenantDev,
		Status:      domain.FloatingIPActive,
		ExternalRef: "fip-11",
	})
	require.NoError(t, err)
	assert.Equal(t, f.FloatingPending, updated.ID)

	// unknown ref creates a record defaulting to DOWN
	created, err := repo.UpsertByExternalRef(ctx, domain.FloatingIP{
		Address:     "203.0.113.12",
		NetworkID:   f.NetPublic,
		TenantID:    f.TenantDev,
		ExternalRef: "fip-12",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, domain.FloatingIPDown, created.Status)

	_, err = repo.UpsertByExternalRef(ctx, domain.FloatingIP{Address: "x", NetworkID: 1, TenantID: 1})
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = repo.Save(ctx, domain.FloatingIP{Address: "203.0.113.99", NetworkID: f.NetPublic, TenantID: f.TenantDev, ExternalRef: "fip-12"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestFloatingIPRepository_DeleteStale(t *testing.T) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, "TestFloatingIPRepository_DeleteStale")
	defer cleanup()
	f := testutil.SeedInventory(t, db)

	repo := NewFloatingIPRepository(db)
	defer repo.Close()
	ctx := context.Background()

	_, err := repo.Save(ctx, domain.FloatingIP{Address: "203.0.113.12", NetworkID: f.NetPublic, TenantID: f.TenantDev, ExternalRef: "fip-12"})
	require.NoError(t, err)

	n, err := repo.DeleteStale(ctx, f.TenantDev, []string{"fip-12"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// other tenants are untouched
	exists, err := repo.ExistsByID(ctx, f.FloatingBound)
	require.NoError(t, err)
	assert.True(t, exists)

	n, err = repo.DeleteStale(ctx, f.TenantDev, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	remaining, err := repo.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	require.NoError(t, repo.DeleteByID(ctx, f.FloatingBound))
	assert.ErrorIs(t, repo.DeleteByID(ctx, f.FloatingBound), ErrNotFound)
}
