package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Remote backends understood by the application wiring.
const (
	BackendFilesystem = "filesystem"
	BackendS3         = "s3"
	BackendMemory     = "memory"
)

// Config is the on-disk configuration. Zero values are replaced by defaults
// in Load, so a missing file behaves like an empty one.
type Config struct {
	Network   string          `yaml:"network"`
	Remote    RemoteConfig    `yaml:"remote"`
	Retry     RetryConfig     `yaml:"retry"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Mirror    MirrorConfig    `yaml:"mirror"`
	Log       LogConfig       `yaml:"log"`
}

type RemoteConfig struct {
	Backend    string   `yaml:"backend"`
	QuotaBytes int64    `yaml:"quota_bytes"`
	S3         S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	Delay      time.Duration `yaml:"delay"`
}

type RateLimitConfig struct {
	WritesPerSecond float64 `yaml:"writes_per_second"`
}

type CacheConfig struct {
	DisableLocalCache bool `yaml:"disable_local_cache"`
}

type MirrorConfig struct {
	Driver string `yaml:"driver"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Network: "testnet",
		Remote:  RemoteConfig{Backend: BackendFilesystem},
		Retry: RetryConfig{
			MaxRetries: 5,
			Delay:      5 * time.Second,
		},
		Timeout: 120 * time.Second,
		Mirror:  MirrorConfig{Driver: "sqlite"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, or GetConfigPath() when path is empty.
// A missing file yields Default().
func Load(path string) (Config, error) {
	if path == "" {
		path = GetConfigPath()
	}

	cfg := Default()

	//nolint:gosec // G304: path is supplied by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var fromFile Config
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.merge(fromFile)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) merge(o Config) {
	if o.Network != "" {
		c.Network = o.Network
	}
	if o.Remote.Backend != "" {
		c.Remote.Backend = o.Remote.Backend
	}
	if o.Remote.QuotaBytes != 0 {
		c.Remote.QuotaBytes = o.Remote.QuotaBytes
	}
	if o.Remote.S3 != (S3Config{}) {
		c.Remote.S3 = o.Remote.S3
	}
	if o.Retry.MaxRetries != 0 {
		c.Retry.MaxRetries = o.Retry.MaxRetries
	}
	if o.Retry.Delay != 0 {
		c.Retry.Delay = o.Retry.Delay
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.RateLimit.WritesPerSecond != 0 {
		c.RateLimit.WritesPerSecond = o.RateLimit.WritesPerSecond
	}
	c.Cache.DisableLocalCache = o.Cache.DisableLocalCache
	if o.Mirror.Driver != "" {
		c.Mirror.Driver = o.Mirror.Driver
	}
	if o.Log.Level != "" {
		c.Log.Level = o.Log.Level
	}
}

// Validate rejects settings the wiring cannot honour.
func (c Config) Validate() error {
	switch c.Remote.Backend {
	case BackendFilesystem, BackendMemory:
	case BackendS3:
		if c.Remote.S3.Bucket == "" {
			return errors.New("config: remote.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown remote backend %q (valid values: filesystem, s3, memory)", c.Remote.Backend)
	}

	switch c.Mirror.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("config: unknown mirror driver %q (valid values: sqlite, sqlite3)", c.Mirror.Driver)
	}

	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("config: retry.max_retries must be at least 1, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("config: retry.delay must not be negative")
	}
	if c.RateLimit.WritesPerSecond < 0 {
		return fmt.Errorf("config: rate_limit.writes_per_second must not be negative")
	}
	return nil
}
