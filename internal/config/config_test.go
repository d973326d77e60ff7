package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 1 {
		t.Errorf("Version = %d, want 1", cfg.Version)
	}
	if cfg.Strict {
		t.Error("Strict should be off by default")
	}
	if cfg.Reuse.MaxAge != 24*time.Hour {
		t.Errorf("Reuse.MaxAge = %v, want 24h", cfg.Reuse.MaxAge)
	}
	if cfg.Reuse.DriftPolicy != DriftStrict {
		t.Errorf("Reuse.DriftPolicy = %q, want %q", cfg.Reuse.DriftPolicy, DriftStrict)
	}
	if cfg.Registry.MaxRuns != 20 {
		t.Errorf("Registry.MaxRuns = %d, want 20", cfg.Registry.MaxRuns)
	}
	if cfg.Federation.Backend != BackendJSON {
		t.Errorf("Federation.Backend = %q, want %q", cfg.Federation.Backend, BackendJSON)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		field   string
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, "", false},
		{"bad version", func(c *Config) { c.Version = 7 }, "version", true},
		{"negative max files", func(c *Config) { c.Scan.MaxFiles = -1 }, "scan.max_files", true},
		{"zero max age", func(c *Config) { c.Reuse.MaxAge = 0 }, "reuse.max_age", true},
		{"bad drift policy", func(c *Config) { c.Reuse.DriftPolicy = "sometimes" }, "reuse.drift_policy", true},
		{"ratio above one", func(c *Config) { c.Reuse.MinCacheHitRatio = 1.5 }, "reuse.min_cache_hit_ratio", true},
		{"zero max runs", func(c *Config) { c.Registry.MaxRuns = 0 }, "registry.max_runs", true},
		{"unknown backend", func(c *Config) { c.Federation.Backend = "redis" }, "federation.backend", true},
		{"warn drift", func(c *Config) { c.Reuse.DriftPolicy = DriftWarn }, "", false},
		{"sqlite backend", func(c *Config) { c.Federation.Backend = BackendSQLite }, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			cfgErr, ok := err.(*ConfigError)
			if !ok {
				t.Fatalf("Validate() returned %T, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestLoadConfig_NoFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Registry.MaxRuns != 20 {
		t.Errorf("Registry.MaxRuns = %d, want 20", cfg.Registry.MaxRuns)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("LoadConfig should not create the global root")
	}
}

func TestLoadConfig_TOMLFile(t *testing.T) {
	dir := t.TempDir()
	content := `
strict = true

[reuse]
enabled = true
max_age = "2h"
drift_policy = "warn"
min_cache_hit_ratio = 0.5

[registry]
max_runs = 5

[federation]
backend = "sqlite"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if !cfg.Strict {
		t.Error("Strict = false, want true")
	}
	if !cfg.Reuse.Enabled {
		t.Error("Reuse.Enabled = false, want true")
	}
	if cfg.Reuse.MaxAge != 2*time.Hour {
		t.Errorf("Reuse.MaxAge = %v, want 2h", cfg.Reuse.MaxAge)
	}
	if cfg.Reuse.DriftPolicy != DriftWarn {
		t.Errorf("Reuse.DriftPolicy = %q, want warn", cfg.Reuse.DriftPolicy)
	}
	if cfg.Reuse.MinCacheHitRatio != 0.5 {
		t.Errorf("Reuse.MinCacheHitRatio = %v, want 0.5", cfg.Reuse.MinCacheHitRatio)
	}
	if cfg.Registry.MaxRuns != 5 {
		t.Errorf("Registry.MaxRuns = %d, want 5", cfg.Registry.MaxRuns)
	}
	if cfg.Federation.Backend != BackendSQLite {
		t.Errorf("Federation.Backend = %q, want sqlite", cfg.Federation.Backend)
	}
	// untouched keys keep their defaults
	if cfg.Federation.MaxEntries != 1000 {
		t.Errorf("Federation.MaxEntries = %d, want 1000", cfg.Federation.MaxEntries)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"registry": {"max_runs": 5}}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("BDK_REGISTRY_MAX_RUNS", "9")
	t.Setenv("BDK_STRICT", "true")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Registry.MaxRuns != 9 {
		t.Errorf("Registry.MaxRuns = %d, want 9", cfg.Registry.MaxRuns)
	}
	if !cfg.Strict {
		t.Error("Strict = false, want true from env")
	}
}

func TestLoadConfig_InvalidValue(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"federation": {"backend": "redis"}}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, err := LoadConfig(dir)
	if err == nil {
		t.Fatal("LoadConfig() should reject an unknown backend")
	}
	if _, ok := err.(*ConfigError); !ok {
		t.Errorf("LoadConfig() error type = %T, want *ConfigError", err)
	}
}

func TestLoadConfig_Malformed(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{not json`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := LoadConfig(dir); err == nil {
		t.Error("LoadConfig() should fail on malformed config")
	}
}

func TestConfigError(t *testing.T) {
	err := &ConfigError{Field: "reuse.max_age", Message: "must be positive"}
	want := "config error in field 'reuse.max_age': must be positive"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
