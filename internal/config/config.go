// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"firestige.xyz/siphon/internal/core"
)

// Config represents the top-level static configuration.
// Maps to the `siphon:` root key in YAML; env vars use the SIPHON_ prefix
// (e.g. SIPHON_LOG_LEVEL).
type Config struct {
	GatewayID   string          `mapstructure:"gateway_id"` // Empty = os.Hostname()
	Listen      string          `mapstructure:"listen"`
	ReadTimeout time.Duration   `mapstructure:"read_timeout"`
	Extractor   ExtractorConfig `mapstructure:"extractor"`
	Reporters   ReportersConfig `mapstructure:"reporters"`
	Redis       RedisConfig     `mapstructure:"redis"`
	Metrics     MetricsConfig   `mapstructure:"metrics"`
	Log         LogConfig       `mapstructure:"log"`
}

// ExtractorConfig contains the per-session message extractor policy.
type ExtractorConfig struct {
	// MaxIncompleteRetries is the number of process calls an incomplete
	// candidate message may block the stream before it is skipped.
	MaxIncompleteRetries int `mapstructure:"max_incomplete_retries"`
	// MaxBufferBytes is the per-session buffer ceiling. Exceeding it
	// triggers an out-of-band buffer reset. 0 disables the ceiling.
	MaxBufferBytes int `mapstructure:"max_buffer_bytes"`
}

// ReportersConfig configures uplink reporters.
type ReportersConfig struct {
	Console ConsoleReporterConfig `mapstructure:"console"`
	NATS    NATSReporterConfig    `mapstructure:"nats"`
}

// ConsoleReporterConfig configures the console debug reporter.
type ConsoleReporterConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Format  string `mapstructure:"format"` // "json" or "text"
}

// NATSReporterConfig configures the NATS uplink reporter and, through the
// same connection, the downlink command consumer.
type NATSReporterConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// RedisConfig configures the optional Redis session registry.
type RedisConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string        `mapstructure:"level"`  // debug | info | warn | error
	Format  string        `mapstructure:"format"` // json | text
	Outputs OutputsConfig `mapstructure:"outputs"`
}

// OutputsConfig contains log output settings. Stdout is always enabled.
type OutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig contains file log output settings.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig contains log rotation settings.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

type configRoot struct {
	Siphon Config `mapstructure:"siphon"`
}

// Load loads configuration from file.
// The YAML file uses `siphon:` as root key; env vars override via the
// key replacer (e.g. key "siphon.log.level" → env "SIPHON_LOG_LEVEL").
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Siphon

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "siphon." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("siphon.listen", ":7700")
	v.SetDefault("siphon.read_timeout", "5m")

	// Extractor defaults
	v.SetDefault("siphon.extractor.max_incomplete_retries", 5)
	v.SetDefault("siphon.extractor.max_buffer_bytes", 1048576)

	// Reporter defaults
	v.SetDefault("siphon.reporters.console.enabled", false)
	v.SetDefault("siphon.reporters.console.format", "text")
	v.SetDefault("siphon.reporters.nats.enabled", false)
	v.SetDefault("siphon.reporters.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("siphon.reporters.nats.subject_prefix", "siphon")

	// Redis defaults
	v.SetDefault("siphon.redis.enabled", false)
	v.SetDefault("siphon.redis.addr", "127.0.0.1:6379")
	v.SetDefault("siphon.redis.session_ttl", "5m")

	// Metrics defaults
	v.SetDefault("siphon.metrics.enabled", true)
	v.SetDefault("siphon.metrics.listen", ":9100")
	v.SetDefault("siphon.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("siphon.log.level", "info")
	v.SetDefault("siphon.log.format", "text")
	v.SetDefault("siphon.log.outputs.file.enabled", false)
	v.SetDefault("siphon.log.outputs.file.path", "/var/log/siphon/siphon.log")
	v.SetDefault("siphon.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("siphon.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("siphon.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("siphon.log.outputs.file.rotation.compress", true)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults that cannot be expressed as static viper defaults.
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("%w: log level %q (must be debug/info/warn/error)",
			core.ErrConfigInvalid, cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("%w: log format %q (must be json/text)",
			core.ErrConfigInvalid, cfg.Log.Format)
	}

	if cfg.Listen == "" {
		return fmt.Errorf("%w: listen address is required", core.ErrConfigInvalid)
	}
	if cfg.Extractor.MaxIncompleteRetries < 0 {
		return fmt.Errorf("%w: extractor.max_incomplete_retries must be >= 0",
			core.ErrConfigInvalid)
	}
	if cfg.Extractor.MaxBufferBytes < 0 {
		return fmt.Errorf("%w: extractor.max_buffer_bytes must be >= 0",
			core.ErrConfigInvalid)
	}

	if cfg.Reporters.Console.Enabled {
		f := cfg.Reporters.Console.Format
		if f != "json" && f != "text" {
			return fmt.Errorf("%w: console reporter format %q (must be json/text)",
				core.ErrConfigInvalid, f)
		}
	}
	if cfg.Reporters.NATS.Enabled {
		if cfg.Reporters.NATS.URL == "" {
			return fmt.Errorf("%w: reporters.nats.url is required when the NATS reporter is enabled",
				core.ErrConfigInvalid)
		}
		if cfg.Reporters.NATS.SubjectPrefix == "" {
			return fmt.Errorf("%w: reporters.nats.subject_prefix is required when the NATS reporter is enabled",
				core.ErrConfigInvalid)
		}
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return fmt.Errorf("%w: redis.addr is required when redis is enabled", core.ErrConfigInvalid)
	}

	if cfg.GatewayID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname for gateway_id: %w", err)
		}
		cfg.GatewayID = hostname
	}

	return nil
}
