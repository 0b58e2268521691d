// Package config loads runtime configuration for the sync core.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/virtuallab/labsync/internal/errors"
)

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"
	BackendMemory = "memory"
)

// Config is the full runtime configuration.
type Config struct {
	DataDir      string             `yaml:"data_dir"`
	Store        StoreConfig        `yaml:"store"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Sync         SyncConfig         `yaml:"sync"`
	Cache        CacheConfig        `yaml:"cache"`
	Server       ServerConfig       `yaml:"server"`
	Log          LogConfig          `yaml:"log"`
}

// StoreConfig selects the durable store backend.
type StoreConfig struct {
	Backend string `yaml:"backend"`
}

// RemoteConfig points at the hosted table backend.
type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// ConnectivityConfig controls reachability probing.
type ConnectivityConfig struct {
	ProbeURL       string        `yaml:"probe_url"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

// SyncConfig controls retry and scheduling policy.
type SyncConfig struct {
	MaxRetries    int           `yaml:"max_retries"`
	QueueInterval time.Duration `yaml:"queue_interval"`
	RetryBase     time.Duration `yaml:"retry_base"`
	RetryMax      time.Duration `yaml:"retry_max"`
}

// CacheConfig controls cache defaults.
type CacheConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// ServerConfig controls the local HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir: "./data",
		Store:   StoreConfig{Backend: BackendSQLite},
		Remote: RemoteConfig{
			Timeout: 15 * time.Second,
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval:  10 * time.Second,
			ProbeTimeout:   3 * time.Second,
			ReconnectDelay: time.Second,
		},
		Sync: SyncConfig{
			MaxRetries:    3,
			QueueInterval: time.Minute,
			RetryBase:     30 * time.Second,
			RetryMax:      30 * time.Minute,
		},
		Cache:  CacheConfig{DefaultTTL: 24 * time.Hour},
		Server: ServerConfig{Addr: "127.0.0.1:8090"},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// LABSYNC_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to parse config file", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, fmt.Sprintf("invalid %s", key), err)
		}
		*dst = d
		return nil
	}

	str("LABSYNC_DATA_DIR", &c.DataDir)
	str("LABSYNC_STORE_BACKEND", &c.Store.Backend)
	str("LABSYNC_REMOTE_URL", &c.Remote.BaseURL)
	str("LABSYNC_REMOTE_API_KEY", &c.Remote.APIKey)
	str("LABSYNC_PROBE_URL", &c.Connectivity.ProbeURL)
	str("LABSYNC_SERVER_ADDR", &c.Server.Addr)
	str("LABSYNC_LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("LABSYNC_MAX_RETRIES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrConfig, "invalid LABSYNC_MAX_RETRIES", err)
		}
		c.Sync.MaxRetries = n
	}

	for key, dst := range map[string]*time.Duration{
		"LABSYNC_REMOTE_TIMEOUT":  &c.Remote.Timeout,
		"LABSYNC_PROBE_INTERVAL":  &c.Connectivity.ProbeInterval,
		"LABSYNC_QUEUE_INTERVAL":  &c.Sync.QueueInterval,
		"LABSYNC_CACHE_TTL":       &c.Cache.DefaultTTL,
		"LABSYNC_RECONNECT_DELAY": &c.Connectivity.ReconnectDelay,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendFile, BackendMemory:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown store backend %q", c.Store.Backend)
	}
	if c.Store.Backend != BackendMemory && strings.TrimSpace(c.DataDir) == "" {
		return apperrors.New(apperrors.ErrConfig, "data_dir is required")
	}
	if c.Sync.MaxRetries < 0 {
		return apperrors.Newf(apperrors.ErrConfig, "max_retries must be >= 0, got %d", c.Sync.MaxRetries)
	}
	if c.Cache.DefaultTTL < 0 {
		return apperrors.New(apperrors.ErrConfig, "default_ttl must be >= 0")
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"connectivity.probe_interval", c.Connectivity.ProbeInterval},
		{"connectivity.probe_timeout", c.Connectivity.ProbeTimeout},
		{"sync.queue_interval", c.Sync.QueueInterval},
		{"sync.retry_base", c.Sync.RetryBase},
	} {
		if d.value <= 0 {
			return apperrors.Newf(apperrors.ErrConfig, "%s must be > 0, got %s", d.name, d.value)
		}
	}
	if c.Connectivity.ReconnectDelay < 0 {
		return apperrors.New(apperrors.ErrConfig, "connectivity.reconnect_delay must be >= 0")
	}
	if c.Sync.RetryMax < c.Sync.RetryBase {
		return apperrors.New(apperrors.ErrConfig, "retry_max must be >= retry_base")
	}
	return nil
}

// ProbeTarget returns the URL used for reachability checks, defaulting to
// the remote base URL.
func (c *Config) ProbeTarget() string {
	if c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL
	}
	return c.Remote.BaseURL
}

// StorePath returns the path of the durable store for the configured backend.
func (c *Config) StorePath() string {
	switch c.Store.Backend {
	case BackendSQLite:
		return filepath.Join(c.DataDir, "labsync.db")
	case BackendFile:
		return filepath.Join(c.DataDir, "kv")
	}
	return ""
}
