package loader

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/quotad/config"
	"github.com/xtxerr/quotad/internal/errors"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listen != config.DefaultListenAddress {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Registry.MaxEntries != config.DefaultMaxOwnerEntries {
		t.Errorf("max entries = %d", cfg.Registry.MaxEntries)
	}
	if cfg.Scan.MinUnitID != config.DefaultMinTrackedUnitID {
		t.Errorf("min unit id = %d", cfg.Scan.MinUnitID)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
listen: "127.0.0.1:8080"
root: /srv/data
partitions: [p1, p2]
naptime_seconds: 30
registry:
  max_entries: 64
history:
  enabled: true
  dir: /var/lib/quotad/history
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Listen != "127.0.0.1:8080" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.Root != "/srv/data" {
		t.Errorf("root = %q", cfg.Root)
	}
	if len(cfg.Partitions) != 2 || cfg.Partitions[0] != "p1" {
		t.Errorf("partitions = %v", cfg.Partitions)
	}
	if cfg.NaptimeSeconds != 30 {
		t.Errorf("naptime = %d", cfg.NaptimeSeconds)
	}
	if cfg.Registry.MaxEntries != 64 {
		t.Errorf("max entries = %d", cfg.Registry.MaxEntries)
	}

	// Unspecified fields keep their defaults.
	if cfg.Scan.MinUnitID != config.DefaultMinTrackedUnitID {
		t.Errorf("min unit id = %d", cfg.Scan.MinUnitID)
	}
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("QUOTAD_TEST_ROOT", "/mnt/storage")

	cfg, err := Parse([]byte("root: ${QUOTAD_TEST_ROOT}\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Root != "/mnt/storage" {
		t.Errorf("root = %q", cfg.Root)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotad.yaml")
	if err := os.WriteFile(path, []byte("root: /srv/data\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Root != "/srv/data" {
		t.Errorf("root = %q", cfg.Root)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	// The daemon falls back to defaults on a missing config file; the
	// not-exist condition must survive the error wrapping.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Root = "/srv/data"
		return cfg
	}

	if err := Validate(valid()); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing root", func(c *Config) { c.Root = "" }},
		{"missing listen", func(c *Config) { c.Listen = "" }},
		{"zero naptime", func(c *Config) { c.NaptimeSeconds = 0 }},
		{"empty partition", func(c *Config) { c.Partitions = []string{""} }},
		{"shared partition named", func(c *Config) { c.Partitions = []string{config.SharedPartition} }},
		{"partition with slash", func(c *Config) { c.Partitions = []string{"a/b"} }},
		{"duplicate partition", func(c *Config) { c.Partitions = []string{"p1", "p1"} }},
		{"zero max entries", func(c *Config) { c.Registry.MaxEntries = 0 }},
		{"history without dir", func(c *Config) { c.History.Enabled = true }},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.IsValidation(err) {
				t.Errorf("not a validation error: %v", err)
			}
		})
	}
}

func TestValidateAccumulatesErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.NaptimeSeconds = -1

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}

	var verrs *errors.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs.Errors) != 3 {
		t.Errorf("expected 3 errors (listen, root, naptime), got %d: %v",
			len(verrs.Errors), verrs)
	}
}
