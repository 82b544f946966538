// Package config loads the service configuration from a YAML file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ReconcileConfig controls the periodic reconciliation pass.
type ReconcileConfig struct {
	// Schedule is a robfig/cron expression, e.g. "@hourly".
	Schedule    string `yaml:"schedule" json:"schedule"`
	DaysBack    int    `yaml:"days_back" json:"days_back"`
	DaysForward int    `yaml:"days_forward" json:"days_forward"`
	// Workers is the number of staff members reconciled concurrently.
	Workers int `yaml:"workers" json:"workers"`
}

// RetryConfig controls the failed-write retry pass.
type RetryConfig struct {
	Schedule string `yaml:"schedule" json:"schedule"`
	// MaxAttempts stops re-attempting a write after that many failures.
	// Zero retries forever.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
}

// CalDAVConfig controls the CalDAV HTTP client.
type CalDAVConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds" json:"timeout_seconds"`
	RateLimit      float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst      int     `yaml:"rate_burst" json:"rate_burst"`
}

// AvailabilityConfig controls the availability cache.
type AvailabilityConfig struct {
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// AdminConfig enables HTTP basic auth on the API when both fields are set.
type AdminConfig struct {
	Username string `yaml:"username" json:"username"`
	// PasswordHash is a bcrypt hash.
	PasswordHash string `yaml:"password_hash" json:"-"`
}

// Config is the top-level application configuration.
type Config struct {
	Listen  string `yaml:"listen" json:"listen"`
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Timezone is the IANA zone all-day events are anchored to. Empty means
	// the process local zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// UIDPrefix marks remote events created by this system.
	UIDPrefix string `yaml:"uid_prefix" json:"uid_prefix"`

	Reconcile    ReconcileConfig    `yaml:"reconcile" json:"reconcile"`
	Retry        RetryConfig        `yaml:"retry" json:"retry"`
	CalDAV       CalDAVConfig       `yaml:"caldav" json:"caldav"`
	Availability AvailabilityConfig `yaml:"availability" json:"availability"`
	Log          LogConfig          `yaml:"log" json:"log"`
	Admin        AdminConfig        `yaml:"admin" json:"admin"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing or invalid values with defaults.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = ":8099"
	}
	if c.DataDir == "" {
		c.DataDir = "/data"
	}
	if c.UIDPrefix == "" {
		c.UIDPrefix = "booking-"
	}
	if c.Reconcile.Schedule == "" {
		c.Reconcile.Schedule = "@hourly"
	}
	if c.Reconcile.DaysBack <= 0 {
		c.Reconcile.DaysBack = 7
	}
	if c.Reconcile.DaysForward <= 0 {
		c.Reconcile.DaysForward = 30
	}
	if c.Reconcile.Workers <= 0 {
		c.Reconcile.Workers = 1
	}
	if c.Retry.Schedule == "" {
		c.Retry.Schedule = "@every 5m"
	}
	if c.Retry.MaxAttempts < 0 {
		c.Retry.MaxAttempts = 0
	}
	if c.CalDAV.TimeoutSeconds <= 0 {
		c.CalDAV.TimeoutSeconds = 30
	}
	if c.CalDAV.RateLimit <= 0 {
		c.CalDAV.RateLimit = 5
	}
	if c.CalDAV.RateBurst <= 0 {
		c.CalDAV.RateBurst = 2
	}
	if c.Availability.CacheSize <= 0 {
		c.Availability.CacheSize = 1024
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// CalDAVTimeout returns the per-request CalDAV timeout.
func (c *Config) CalDAVTimeout() time.Duration {
	return time.Duration(c.CalDAV.TimeoutSeconds) * time.Second
}

// Location resolves Timezone, defaulting to the process local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DatabasePath returns the SQLite file inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "booking-sync.db")
}

// Load reads configuration from the YAML file at path, applies environment
// overrides and normalizes the result. A missing file is created with the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := Save(path, cfg); err != nil {
			return nil, fmt.Errorf("writing default config: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading config: %w", err)
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv() error {
	c.Listen = getEnv("BOOKING_SYNC_LISTEN", c.Listen)
	c.DataDir = getEnv("BOOKING_SYNC_DATA_DIR", c.DataDir)
	c.UIDPrefix = getEnv("BOOKING_SYNC_UID_PREFIX", c.UIDPrefix)
	c.Timezone = getEnv("BOOKING_SYNC_TIMEZONE", c.Timezone)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	if v := os.Getenv("BOOKING_SYNC_RECONCILE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid BOOKING_SYNC_RECONCILE_WORKERS %q", v)
		}
		c.Reconcile.Workers = n
	}
	return nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".booking-sync-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// getEnv returns an environment variable value or a default if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
