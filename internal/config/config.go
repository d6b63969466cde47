package config

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	_ "modernc.org/sqlite"

	"github.com/jbweber/homelab/floater/internal/migrations"
)

// Poll modes for the allocator's durable-record wait.
const (
	PollSerial   = "serial"   // each address gets its own budget, one after another
	PollShared   = "shared"   // one wall-clock deadline for every address
	PollParallel = "parallel" // each address gets its own budget, polled concurrently
)

// Config holds all configuration for the floater service
type Config struct {
	DBPath string
	Port   string

	LogLevel  string
	LogFormat string

	PollInterval time.Duration
	PollTimeout  time.Duration
	PollMode     string

	VerifyPeer bool
	Region     string
	DomainName string

	Rollback bool
}

// NewConfig creates a new Config with default values
func NewConfig() *Config {
	return &Config{
		DBPath:       "~/floater/data/floater.db",
		Port:         "8080",
		LogLevel:     "info",
		LogFormat:    "text",
		PollInterval: 5 * time.Second,
		PollTimeout:  600 * time.Second,
		PollMode:     PollSerial,
		VerifyPeer:   false,
		DomainName:   "Default",
		Rollback:     true,
	}
}

// Load reads configuration from the optional file at path and from
// FLOATER_* environment variables, on top of the defaults.
func Load(path string) (*Config, error) {
	c := NewConfig()

	v := viper.New()
	v.SetDefault("db_path", c.DBPath)
	v.SetDefault("port", c.Port)
	v.SetDefault("log.level", c.LogLevel)
	v.SetDefault("log.format", c.LogFormat)
	v.SetDefault("poll.interval", c.PollInterval)
	v.SetDefault("poll.timeout", c.PollTimeout)
	v.SetDefault("poll.mode", c.PollMode)
	v.SetDefault("connect.verify_peer", c.VerifyPeer)
	v.SetDefault("connect.region", c.Region)
	v.SetDefault("connect.domain", c.DomainName)
	v.SetDefault("allocate.rollback", c.Rollback)

	v.SetEnvPrefix("floater")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	c.DBPath = v.GetString("db_path")
	c.Port = v.GetString("port")
	c.LogLevel = v.GetString("log.level")
	c.LogFormat = v.GetString("log.format")
	c.PollInterval = v.GetDuration("poll.interval")
	c.PollTimeout = v.GetDuration("poll.timeout")
	c.PollMode = v.GetString("poll.mode")
	c.VerifyPeer = v.GetBool("connect.verify_peer")
	c.Region = v.GetString("connect.region")
	c.DomainName = v.GetString("connect.domain")
	c.Rollback = v.GetBool("allocate.rollback")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.PollMode {
	case PollSerial, PollShared, PollParallel:
	default:
		return fmt.Errorf("invalid poll mode %q: expected %s, %s or %s", c.PollMode, PollSerial, PollShared, PollParallel)
	}
	if c.PollInterval <= 0 {
		return errors.New("poll interval must be positive")
	}
	if c.PollTimeout <= 0 {
		return errors.New("poll timeout must be positive")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// NewLogger builds the process logger from the log settings
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}

// InitializeDatabase creates and configures the database connection
func (c *Config) InitializeDatabase(log logrus.FieldLogger) (*sql.DB, error) {
	dbPath := c.expandPath(c.DBPath)

	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// foreign_keys and busy_timeout are per-connection, so they go in the DSN
	dsn := "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	configurePool(db)
	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := c.runMigrations(db, log); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// expandPath expands ~ to home directory
func (c *Config) expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(homeDir, path[2:])
}

// runMigrations runs all database migrations
func (c *Config) runMigrations(db *sql.DB, log logrus.FieldLogger) error {
	return migrations.Run(db, log)
}
