// Package config handles Aura client configuration loading.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSyncInterval is used when sync.interval_minutes is missing or
// non-positive.
const DefaultSyncInterval = 30 * time.Minute

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./aura.yaml, ~/.config/aura/aura.yaml, /etc/aura/aura.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"aura.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "aura", "aura.yaml"))
	}

	paths = append(paths, "/etc/aura/aura.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Aura client configuration.
type Config struct {
	DataDir  string          `yaml:"data_dir"`
	LogLevel string          `yaml:"log_level"`
	Surfaces []SurfaceConfig `yaml:"surfaces"`
	Sync     SyncConfig      `yaml:"sync"`
}

// SurfaceConfig defines one realtime channel endpoint. Each logical
// surface gets its own connection, typically at /ws or /ws/<name>.
type SurfaceConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// SyncConfig is the persisted sync profile for scheduled encrypted
// bulk reconciliation.
type SyncConfig struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is the base URL of the bulk-sync service.
	Endpoint string `yaml:"endpoint"`
	// EncryptionKey is the base64-encoded symmetric secret. When empty,
	// sync ticks are skipped even if Enabled is true.
	EncryptionKey string `yaml:"encryption_key"`
	// IntervalMinutes is the schedule period; values below 1 fall back
	// to 30 minutes at use time.
	IntervalMinutes int `yaml:"interval_minutes"`
}

// Interval converts the configured minutes to a duration, applying the
// default for missing or non-positive values.
func (s SyncConfig) Interval() time.Duration {
	if s.IntervalMinutes < 1 {
		return DefaultSyncInterval
	}
	return time.Duration(s.IntervalMinutes) * time.Minute
}

// Load reads configuration from a YAML file. Environment variable
// references in the file are expanded before parsing, so secrets like
// the encryption key can live outside the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		DataDir:  "data",
		LogLevel: "info",
		Sync: SyncConfig{
			IntervalMinutes: 30,
		},
	}
}

// Validate checks for configuration mistakes that would otherwise show
// up later as confusing runtime failures: duplicate or incomplete
// surfaces, a sync profile enabled without an endpoint, or a key that
// is not valid base64.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Surfaces))
	for i, s := range c.Surfaces {
		if s.Name == "" {
			return fmt.Errorf("surfaces[%d]: name is required", i)
		}
		if s.URL == "" {
			return fmt.Errorf("surface %q: url is required", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("surface %q: duplicate name", s.Name)
		}
		seen[s.Name] = true
	}

	if c.Sync.Enabled && c.Sync.Endpoint == "" {
		return fmt.Errorf("sync: endpoint is required when enabled")
	}
	if key := strings.TrimSpace(c.Sync.EncryptionKey); key != "" {
		if _, err := base64.StdEncoding.DecodeString(key); err != nil {
			return fmt.Errorf("sync: encryption_key is not valid base64: %w", err)
		}
	}

	return nil
}
