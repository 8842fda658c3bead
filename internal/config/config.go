package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all SnapVault configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Vault storage settings
	Vault VaultConfig `yaml:"vault"`

	// HTTP API server settings
	Server ServerConfig `yaml:"server"`

	// Background maintenance settings
	Maintenance MaintenanceConfig `yaml:"maintenance"`

	// Metrics registry settings
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// VaultConfig configures the snapshot vault.
type VaultConfig struct {
	// Directory holding snapshots, manifest, and catalog
	Dir string `yaml:"dir"`

	// Total live-snapshot byte budget before eviction kicks in (0 = unlimited)
	MaxBytes int64 `yaml:"max_bytes"`

	// Snapshots younger than this are exempt from eviction
	MinAge string `yaml:"min_age"`

	// Payloads larger than this many bytes are gzip-compressed
	CompressThreshold int `yaml:"compress_threshold"`

	// File containing the sealing passphrase; empty disables sealing
	PassphraseFile string `yaml:"passphrase_file"`

	// PBKDF2 iteration count for key derivation
	KDFIterations int `yaml:"kdf_iterations"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string  `yaml:"addr"`
	APIKey          string  `yaml:"api_key"`
	RateRPS         float64 `yaml:"rate_rps"`
	RateBurst       int     `yaml:"rate_burst"`
	MaxBodyBytes    int64   `yaml:"max_body_bytes"`
	ShutdownTimeout string  `yaml:"shutdown_timeout"`
}

// MaintenanceConfig configures the background maintenance loop.
type MaintenanceConfig struct {
	Interval           string `yaml:"interval"`
	PurgeArchivedAfter string `yaml:"purge_archived_after"`
	Vacuum             bool   `yaml:"vacuum"`
}

// MetricsConfig configures the metrics registry.
type MetricsConfig struct {
	Persist       bool   `yaml:"persist"`
	FlushInterval string `yaml:"flush_interval"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string   `yaml:"level"`  // debug, info, warn, error
	Format     string   `yaml:"format"` // json, console
	File       string   `yaml:"file"`
	Categories []string `yaml:"categories"` // empty means all enabled
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "snapvault",
		Version: "1.0.0",

		Vault: VaultConfig{
			Dir:               ".snapvault",
			MaxBytes:          256 << 20, // 256 MiB
			MinAge:            "10m",
			CompressThreshold: 4096,
			KDFIterations:     200000,
		},

		Server: ServerConfig{
			Addr:            "127.0.0.1:7210",
			RateRPS:         20,
			RateBurst:       40,
			MaxBodyBytes:    8 << 20, // 8 MiB
			ShutdownTimeout: "10s",
		},

		Maintenance: MaintenanceConfig{
			Interval:           "15m",
			PurgeArchivedAfter: "720h", // 30 days
			Vacuum:             true,
		},

		Metrics: MetricsConfig{
			Persist:       true,
			FlushInterval: "5s",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
// Missing file is not an error: defaults apply, then env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("SNAPVAULT_DIR"); dir != "" {
		c.Vault.Dir = dir
	}
	if addr := os.Getenv("SNAPVAULT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if key := os.Getenv("SNAPVAULT_API_KEY"); key != "" {
		c.Server.APIKey = key
	}
	if file := os.Getenv("SNAPVAULT_PASSPHRASE_FILE"); file != "" {
		c.Vault.PassphraseFile = file
	}
	if raw := os.Getenv("SNAPVAULT_MAX_BYTES"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n >= 0 {
			c.Vault.MaxBytes = n
		}
	}
	if level := os.Getenv("SNAPVAULT_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetMinAge returns the eviction minimum age as a duration.
func (c *Config) GetMinAge() time.Duration {
	d, err := time.ParseDuration(c.Vault.MinAge)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// GetShutdownTimeout returns the server shutdown timeout as a duration.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetMaintenanceInterval returns the maintenance loop interval as a duration.
func (c *Config) GetMaintenanceInterval() time.Duration {
	d, err := time.ParseDuration(c.Maintenance.Interval)
	if err != nil {
		return 15 * time.Minute
	}
	return d
}

// GetPurgeArchivedAfter returns the archive retention as a duration.
func (c *Config) GetPurgeArchivedAfter() time.Duration {
	d, err := time.ParseDuration(c.Maintenance.PurgeArchivedAfter)
	if err != nil {
		return 720 * time.Hour
	}
	return d
}

// GetMetricsFlushInterval returns the metrics auto-save interval as a duration.
func (c *Config) GetMetricsFlushInterval() time.Duration {
	d, err := time.ParseDuration(c.Metrics.FlushInterval)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// Passphrase reads the sealing passphrase from the configured file.
// Returns empty when sealing is not configured.
func (c *Config) Passphrase() (string, error) {
	if env := os.Getenv("SNAPVAULT_PASSPHRASE"); env != "" {
		return env, nil
	}
	if c.Vault.PassphraseFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Vault.PassphraseFile)
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase file: %w", err)
	}
	pass := string(data)
	for len(pass) > 0 && (pass[len(pass)-1] == '\n' || pass[len(pass)-1] == '\r') {
		pass = pass[:len(pass)-1]
	}
	if pass == "" {
		return "", fmt.Errorf("passphrase file %s is empty", c.Vault.PassphraseFile)
	}
	return pass, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Vault.Dir == "" {
		return fmt.Errorf("vault dir not configured")
	}
	if c.Vault.MaxBytes < 0 {
		return fmt.Errorf("vault max_bytes must be >= 0")
	}
	if c.Vault.CompressThreshold < 0 {
		return fmt.Errorf("vault compress_threshold must be >= 0")
	}
	if c.Vault.KDFIterations != 0 && c.Vault.KDFIterations < 100000 {
		return fmt.Errorf("vault kdf_iterations must be at least 100000")
	}
	if c.Server.RateRPS < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server rate limits must be >= 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("server max_body_bytes must be > 0")
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	return nil
}
