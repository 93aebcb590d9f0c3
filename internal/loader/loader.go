// Package loader handles configuration file loading and validation.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Validating the result before the daemon starts
package loader

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/quotad/config"
	"github.com/xtxerr/quotad/internal/errors"
)

// =============================================================================
// Types
// =============================================================================

// Config is the daemon's YAML configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// Root is the storage directory the workers scan.
	Root string `yaml:"root"`

	// Partitions are the named partitions to reconcile, in addition to
	// the shared partition, which is always reconciled.
	Partitions []string `yaml:"partitions"`

	// NaptimeSeconds is the pause between reconciliation cycles.
	NaptimeSeconds int `yaml:"naptime_seconds"`

	Catalog  CatalogConfig  `yaml:"catalog"`
	Registry RegistryConfig `yaml:"registry"`
	Scan     ScanConfig     `yaml:"scan"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

// CatalogConfig configures the DuckDB catalog holding ownership and quotas.
type CatalogConfig struct {
	// Path is the DuckDB database file. Empty means in-memory.
	Path string `yaml:"path"`

	QueryTimeoutSeconds int `yaml:"query_timeout_seconds"`
	MaxOpenConns        int `yaml:"max_open_conns"`
}

// RegistryConfig configures the shared aggregate table.
type RegistryConfig struct {
	// MaxEntries bounds the number of (owner, partition) aggregates.
	MaxEntries int `yaml:"max_entries"`
}

// ScanConfig configures the storage scanner.
type ScanConfig struct {
	// MinUnitID is the smallest unit identifier worth tracking.
	MinUnitID uint64 `yaml:"min_unit_id"`

	// YieldEvery bounds files scanned between cancellation checks.
	YieldEvery int `yaml:"yield_every"`
}

// HistoryConfig configures the Parquet usage history sink.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:         config.DefaultListenAddress,
		NaptimeSeconds: int(config.DefaultNaptime.Seconds()),
		Catalog: CatalogConfig{
			QueryTimeoutSeconds: int(config.DefaultCatalogQueryTimeout.Seconds()),
			MaxOpenConns:        config.DefaultCatalogMaxOpenConns,
		},
		Registry: RegistryConfig{
			MaxEntries: config.DefaultMaxOwnerEntries,
		},
		Scan: ScanConfig{
			MinUnitID:  config.DefaultMinTrackedUnitID,
			YieldEvery: config.DefaultScanYieldEvery,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML configuration bytes on top of the defaults, expanding
// environment variables first.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if cfg.Listen == "" {
		errs.AddMissing("listen")
	}
	if cfg.Root == "" {
		errs.AddMissing("root")
	}
	if cfg.NaptimeSeconds <= 0 {
		errs.AddField("naptime_seconds", "must be positive")
	}

	seen := make(map[string]bool, len(cfg.Partitions))
	for i, p := range cfg.Partitions {
		field := fmt.Sprintf("partitions[%d]", i)
		switch {
		case p == "":
			errs.AddField(field, "cannot be empty")
		case p == config.SharedPartition:
			errs.AddField(field, "the shared partition is implicit")
		case strings.ContainsAny(p, "/\\"):
			errs.AddField(field, "cannot contain path separators")
		case seen[p]:
			errs.AddField(field, "duplicate partition name")
		}
		seen[p] = true
	}

	if cfg.Catalog.QueryTimeoutSeconds <= 0 {
		errs.AddField("catalog.query_timeout_seconds", "must be positive")
	}
	if cfg.Catalog.MaxOpenConns <= 0 {
		errs.AddField("catalog.max_open_conns", "must be positive")
	}
	if cfg.Registry.MaxEntries <= 0 {
		errs.AddField("registry.max_entries", "must be positive")
	}
	if cfg.Scan.YieldEvery <= 0 {
		errs.AddField("scan.yield_every", "must be positive")
	}
	if cfg.History.Enabled && cfg.History.Dir == "" {
		errs.AddMissing("history.dir")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs.AddField("log.level", "must be one of debug, info, warn, error")
	}

	return errs.Err()
}
