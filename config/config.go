// ABOUTME: Application configuration loaded from YAML, .env, and environment variables
// ABOUTME: Resolves XDG paths for the config file and the default SQLite database
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/harperreed/rollupsync/rollup"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AppName names the XDG subdirectories.
const AppName = "rollupsync"

// Config is the full application configuration.
type Config struct {
	// Database is a SQLite file path or a postgres:// URL.
	Database string `yaml:"database"`

	// JobKey is the rollup job used when a command does not name one.
	JobKey string `yaml:"job_key"`

	Google GoogleConfig  `yaml:"google"`
	Limits rollup.Limits `yaml:"limits"`

	// UserAgent is sent to REST CRMs.
	UserAgent string `yaml:"user_agent"`

	// HTTPTimeout bounds each CRM HTTP request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// GoogleConfig holds the OAuth client used for Google Contacts accounts.
type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Database:    DefaultDatabasePath(),
		JobKey:      "default",
		Limits:      rollup.DefaultLimits(),
		UserAgent:   AppName,
		HTTPTimeout: 20 * time.Second,
	}
}

// DefaultPath returns the XDG config file location.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

// DefaultDatabasePath returns the XDG data location of the SQLite database.
func DefaultDatabasePath() string {
	return filepath.Join(xdg.DataHome, AppName, "rollup.db")
}

// Load reads path (or the default path when empty), then a .env file in the
// working directory, then ROLLUPSYNC_* environment overrides. A missing
// config or .env file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes cfg as YAML to path, creating the directory.
func (c *Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// GoogleConfigured reports whether Google accounts can be resolved.
func (c *Config) GoogleConfigured() bool {
	return c.Google.ClientID != "" && c.Google.ClientSecret != ""
}

func (c *Config) normalize() {
	c.Database = strings.TrimSpace(c.Database)
	if c.Database == "" {
		c.Database = DefaultDatabasePath()
	}
	c.JobKey = strings.TrimSpace(c.JobKey)
	if c.JobKey == "" {
		c.JobKey = "default"
	}
	if c.UserAgent == "" {
		c.UserAgent = AppName
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 20 * time.Second
	}
	c.Limits = c.Limits.Clamp()
}

// loadDotEnv loads path into the process environment when it exists.
// Variables already set win over the file.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil //nolint:nilerr // A missing .env file is normal
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides:
// - ROLLUPSYNC_DATABASE
// - ROLLUPSYNC_JOB_KEY
// - ROLLUPSYNC_GOOGLE_CLIENT_ID
// - ROLLUPSYNC_GOOGLE_CLIENT_SECRET
// - ROLLUPSYNC_SOURCE_CONCURRENCY
// - ROLLUPSYNC_WRITE_CONCURRENCY
// - ROLLUPSYNC_MAX_UPSERTS
// - ROLLUPSYNC_MAX_DELETES
// - ROLLUPSYNC_MARKER_TAG
// - ROLLUPSYNC_PHONE_REGION.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("ROLLUPSYNC_DATABASE"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("ROLLUPSYNC_JOB_KEY"); v != "" {
		cfg.JobKey = v
	}
	if v := os.Getenv("ROLLUPSYNC_GOOGLE_CLIENT_ID"); v != "" {
		cfg.Google.ClientID = v
	}
	if v := os.Getenv("ROLLUPSYNC_GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Google.ClientSecret = v
	}
	if v := os.Getenv("ROLLUPSYNC_MARKER_TAG"); v != "" {
		cfg.Limits.MarkerTag = v
	}
	if v := os.Getenv("ROLLUPSYNC_PHONE_REGION"); v != "" {
		cfg.Limits.DefaultPhoneRegion = strings.ToUpper(v)
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"ROLLUPSYNC_SOURCE_CONCURRENCY", &cfg.Limits.SourceConcurrency},
		{"ROLLUPSYNC_WRITE_CONCURRENCY", &cfg.Limits.WriteConcurrency},
		{"ROLLUPSYNC_MAX_UPSERTS", &cfg.Limits.MaxUpserts},
		{"ROLLUPSYNC_MAX_DELETES", &cfg.Limits.MaxDeletes},
	}
	for _, o := range ints {
		v := os.Getenv(o.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", o.name, v, err)
		}
		*o.dst = n
	}
	return nil
}
