package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig()

	if config == nil {
		t.Fatal("Expected non-nil config")
	}

	if config.DBPath != "~/floater/data/floater.db" {
		t.Errorf("Expected DBPath '~/floater/data/floater.db', got '%s'", config.DBPath)
	}

	if config.Port != "8080" {
		t.Errorf("Expected Port '8080', got '%s'", config.Port)
	}

	assert.Equal(t, 5*time.Second, config.PollInterval)
	assert.Equal(t, 600*time.Second, config.PollTimeout)
	assert.Equal(t, PollSerial, config.PollMode)
	assert.True(t, config.Rollback)
}

func TestConfig_expandPath_WithTilde(t *testing.T) {
	config := NewConfig()

	expanded := config.expandPath("~/test/path")

	if strings.HasPrefix(expanded, "~/") {
		t.Errorf("Expected path to be expanded, got '%s'", expanded)
	}

	if !strings.HasSuffix(expanded, "test/path") {
		t.Errorf("Expected expanded path to end with 'test/path', got '%s'", expanded)
	}
}

func TestConfig_expandPath_WithoutTilde(t *testing.T) {
	config := NewConfig()

	for _, path := range []string{"/absolute/path", "relative/path"} {
		if expanded := config.expandPath(path); expanded != path {
			t.Errorf("Expected path to remain unchanged, got '%s'", expanded)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, NewConfig(), config)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "floater.yaml")
	content := `
db_path: /tmp/floater-test.db
port: "9090"
log:
  level: debug
  format: json
poll:
  interval: 2s
  timeout: 1m
  mode: shared
connect:
  verify_peer: true
  region: RegionTwo
allocate:
  rollback: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	config, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/floater-test.db", config.DBPath)
	assert.Equal(t, "9090", config.Port)
	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "json", config.LogFormat)
	assert.Equal(t, 2*time.Second, config.PollInterval)
	assert.Equal(t, time.Minute, config.PollTimeout)
	assert.Equal(t, PollShared, config.PollMode)
	assert.True(t, config.VerifyPeer)
	assert.Equal(t, "RegionTwo", config.Region)
	assert.Equal(t, "Default", config.DomainName)
	assert.False(t, config.Rollback)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("FLOATER_PORT", "7070")
	t.Setenv("FLOATER_POLL_MODE", "parallel")
	t.Setenv("FLOATER_POLL_TIMEOUT", "30s")

	config, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "7070", config.Port)
	assert.Equal(t, PollParallel, config.PollMode)
	assert.Equal(t, 30*time.Second, config.PollTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestConfig_Validate(t *testing.T) {
	config := NewConfig()
	config.PollMode = "eventually"
	assert.Error(t, config.Validate())

	config = NewConfig()
	config.PollInterval = 0
	assert.Error(t, config.Validate())

	config = NewConfig()
	config.PollTimeout = -time.Second
	assert.Error(t, config.Validate())

	config = NewConfig()
	config.LogLevel = "chatty"
	assert.Error(t, config.Validate())

	assert.NoError(t, NewConfig().Validate())
}

func TestConfig_NewLogger(t *testing.T) {
	config := NewConfig()
	config.LogLevel = "warn"
	config.LogFormat = "json"

	log := config.NewLogger()

	assert.Equal(t, logrus.WarnLevel, log.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, log.Formatter)
}

func TestConfig_InitializeDatabase_Success(t *testing.T) {
	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "test.db")

	db, err := config.InitializeDatabase(logrus.New())
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Ping())

	var fkEnabled bool
	err = db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled)
	require.NoError(t, err)
	assert.True(t, fkEnabled, "Expected foreign keys to be enabled")

	var tableName string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='floating_ips'").Scan(&tableName)
	require.NoError(t, err)
}

func TestConfig_InitializeDatabase_DirectoryCreation(t *testing.T) {
	config := NewConfig()
	config.DBPath = filepath.Join(t.TempDir(), "nested", "path", "test.db")

	db, err := config.InitializeDatabase(logrus.New())
	require.NoError(t, err)
	defer db.Close()

	dbDir := filepath.Dir(config.DBPath)
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		t.Errorf("Expected directory to be created: %s", dbDir)
	}
}

func TestConfig_InitializeDatabase_InvalidPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	config := NewConfig()
	// a regular file where a directory is expected cannot be created over
	config.DBPath = filepath.Join(blocker, "sub", "floater.db")

	db, err := config.InitializeDatabase(logrus.New())
	if err == nil {
		db.Close()
		t.Fatal("Expected error for invalid path")
	}

	if !strings.Contains(err.Error(), "failed to create database directory") {
		t.Errorf("Expected directory creation error, got: %v", err)
	}
}
