package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for configuration environment variables
// (reuse.max_age is read from BDK_REUSE_MAX_AGE).
const EnvPrefix = "BDK"

// Config represents the complete bdk configuration
type Config struct {
	Version int  `json:"version" mapstructure:"version"`
	Strict  bool `json:"strict" mapstructure:"strict"`

	Scan       ScanConfig       `json:"scan" mapstructure:"scan"`
	Reuse      ReuseConfig      `json:"reuse" mapstructure:"reuse"`
	Registry   RegistryConfig   `json:"registry" mapstructure:"registry"`
	Federation FederationConfig `json:"federation" mapstructure:"federation"`
	Governance GovernanceConfig `json:"governance" mapstructure:"governance"`
	Logging    LoggingConfig    `json:"logging" mapstructure:"logging"`
}

// ScanConfig contains scan graph builder limits and ignore rules
type ScanConfig struct {
	MaxFiles     int           `json:"max_files" mapstructure:"max_files"`
	MaxDuration  time.Duration `json:"max_duration" mapstructure:"max_duration"`
	MaxFileBytes int64         `json:"max_file_bytes" mapstructure:"max_file_bytes"`
	Ignore       []string      `json:"ignore" mapstructure:"ignore"`
}

// ReuseConfig contains smart reuse settings
type ReuseConfig struct {
	Enabled          bool          `json:"enabled" mapstructure:"enabled"`
	MaxAge           time.Duration `json:"max_age" mapstructure:"max_age"`
	DriftPolicy      string        `json:"drift_policy" mapstructure:"drift_policy"`
	MinCacheHitRatio float64       `json:"min_cache_hit_ratio" mapstructure:"min_cache_hit_ratio"`
}

// RegistryConfig contains capability registry settings
type RegistryConfig struct {
	MaxRuns int `json:"max_runs" mapstructure:"max_runs"`
}

// FederationConfig contains federated index settings
type FederationConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Backend    string `json:"backend" mapstructure:"backend"`
	MaxEntries int    `json:"max_entries" mapstructure:"max_entries"`
}

// GovernanceConfig points at the policy document
type GovernanceConfig struct {
	PolicyPath string `json:"policy_path" mapstructure:"policy_path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `json:"level" mapstructure:"level"`
}

// Drift policies
const (
	DriftStrict = "strict"
	DriftWarn   = "warn"
)

// Federation backends
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		Strict:  false,
		Scan: ScanConfig{
			MaxFiles:     50000,
			MaxDuration:  2 * time.Minute,
			MaxFileBytes: 1 << 20,
			Ignore:       []string{},
		},
		Reuse: ReuseConfig{
			Enabled:          false,
			MaxAge:           24 * time.Hour,
			DriftPolicy:      DriftStrict,
			MinCacheHitRatio: 0.0,
		},
		Registry: RegistryConfig{
			MaxRuns: 20,
		},
		Federation: FederationConfig{
			Enabled:    false,
			Backend:    BackendJSON,
			MaxEntries: 1000,
		},
		Governance: GovernanceConfig{
			PolicyPath: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("version", cfg.Version)
	v.SetDefault("strict", cfg.Strict)
	v.SetDefault("scan.max_files", cfg.Scan.MaxFiles)
	v.SetDefault("scan.max_duration", cfg.Scan.MaxDuration)
	v.SetDefault("scan.max_file_bytes", cfg.Scan.MaxFileBytes)
	v.SetDefault("scan.ignore", cfg.Scan.Ignore)
	v.SetDefault("reuse.enabled", cfg.Reuse.Enabled)
	v.SetDefault("reuse.max_age", cfg.Reuse.MaxAge)
	v.SetDefault("reuse.drift_policy", cfg.Reuse.DriftPolicy)
	v.SetDefault("reuse.min_cache_hit_ratio", cfg.Reuse.MinCacheHitRatio)
	v.SetDefault("registry.max_runs", cfg.Registry.MaxRuns)
	v.SetDefault("federation.enabled", cfg.Federation.Enabled)
	v.SetDefault("federation.backend", cfg.Federation.Backend)
	v.SetDefault("federation.max_entries", cfg.Federation.MaxEntries)
	v.SetDefault("governance.policy_path", cfg.Governance.PolicyPath)
	v.SetDefault("logging.level", cfg.Logging.Level)
}

// LoadConfig loads configuration from <globalRoot>/config.{toml,json,yaml} and
// BDK_* environment variables. A missing file yields the defaults (still
// subject to the environment). Loading never writes anything.
func LoadConfig(globalRoot string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	if globalRoot != "" {
		v.AddConfigPath(filepath.Clean(globalRoot))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Scan.MaxFiles < 0 {
		return &ConfigError{Field: "scan.max_files", Message: "must not be negative"}
	}
	if c.Scan.MaxDuration < 0 {
		return &ConfigError{Field: "scan.max_duration", Message: "must not be negative"}
	}
	if c.Reuse.MaxAge <= 0 {
		return &ConfigError{Field: "reuse.max_age", Message: "must be positive"}
	}
	switch c.Reuse.DriftPolicy {
	case DriftStrict, DriftWarn:
	default:
		return &ConfigError{Field: "reuse.drift_policy", Message: "must be strict or warn"}
	}
	if c.Reuse.MinCacheHitRatio < 0 || c.Reuse.MinCacheHitRatio > 1 {
		return &ConfigError{Field: "reuse.min_cache_hit_ratio", Message: "must be within [0, 1]"}
	}
	if c.Registry.MaxRuns < 1 {
		return &ConfigError{Field: "registry.max_runs", Message: "must be at least 1"}
	}
	switch c.Federation.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return &ConfigError{Field: "federation.backend", Message: "must be json or sqlite"}
	}
	if c.Federation.MaxEntries < 1 {
		return &ConfigError{Field: "federation.max_entries", Message: "must be at least 1"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
