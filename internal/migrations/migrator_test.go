package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T, name string) *sql.DB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Logf("Warning: failed to close test database: %v", closeErr)
		}
	})
	return db
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrator_RunMigrations(t *testing.T) {
	db := openTestDB(t, "TestMigrator_RunMigrations")

	err := Run(db, logrus.New())
	require.NoError(t, err)

	version, err := NewMigrator(db).GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(10), version)

	for _, table := range []string{
		"providers", "cloud_tenants", "cloud_networks", "cloud_subnets",
		"vms", "vm_networks", "vm_custom_attributes", "floating_ips", "schema_migrations",
	} {
		assert.True(t, tableExists(t, db, table), "expected table %s", table)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = 2 AND name = 'create_floating_ip_tables'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_floating_ips_pending'").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMigrator_RunMigrations_Idempotent(t *testing.T) {
	db := openTestDB(t, "TestMigrator_RunMigrations_Idempotent")

	require.NoError(t, Run(db, logrus.New()))
	require.NoError(t, Run(db, logrus.New()))

	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(All()), count)
}

func TestMigrator_AddMigration(t *testing.T) {
	db := openTestDB(t, "TestMigrator_AddMigration")

	migrator := NewMigrator(db)

	// Add migrations out of order
	migrator.AddMigration(Migration{Version: 3, Name: "third"})
	migrator.AddMigration(Migration{Version: 1, Name: "first"})
	migrator.AddMigration(Migration{Version: 2, Name: "second"})

	migrations := migrator.GetMigrations()
	assert.Equal(t, int64(1), migrations[0].Version)
	assert.Equal(t, int64(2), migrations[1].Version)
	assert.Equal(t, int64(3), migrations[2].Version)
}

func TestMigrator_FailedMigrationRollsBack(t *testing.T) {
	db := openTestDB(t, "TestMigrator_FailedMigrationRollsBack")

	migrator := NewMigrator(db)
	migrator.AddMigration(Migration{
		Version: 1,
		Name:    "half_applied",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec("CREATE TABLE scratch (id INTEGER)"); err != nil {
				return err
			}
			return errors.New("boom")
		},
	})

	err := migrator.RunMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "half_applied")

	assert.False(t, tableExists(t, db, "scratch"))
	version, err := migrator.GetCurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
}

func TestMigrator_MissingUp(t *testing.T) {
	db := openTestDB(t, "TestMigrator_MissingUp")

	migrator := NewMigrator(db)
	migrator.AddMigration(Migration{Version: 1, Name: "empty"})

	err := migrator.RunMigrations()
	require.Error(t, err)
}

func TestMigrations_DownReversesUp(t *testing.T) {
	db := openTestDB(t, "TestMigrations_DownReversesUp")
	require.NoError(t, Run(db, logrus.New()))

	all := All()
	tx, err := db.Begin()
	require.NoError(t, err)
	for i := len(all) - 1; i >= 0; i-- {
		require.NoError(t, all[i].Down(tx))
	}
	require.NoError(t, tx.Commit())

	assert.False(t, tableExists(t, db, "floating_ips"))
	assert.False(t, tableExists(t, db, "providers"))
}
