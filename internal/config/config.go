package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration represents the complete client configuration. Components
// never read configuration files themselves; the loaded struct is threaded
// into every constructor.
type Configuration struct {
	Registry   RegistryConfig   `yaml:"registry"`
	Network    NetworkConfig    `yaml:"network"`
	Cache      CacheConfig      `yaml:"cache"`
	Batch      BatchConfig      `yaml:"batch"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Retry      RetryConfig      `yaml:"retry"`
	Mirror     MirrorConfig     `yaml:"mirror"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// RegistryConfig points the client at a package registry.
type RegistryConfig struct {
	BaseURL string `yaml:"base_url"`
}

// NetworkConfig holds transport settings.
type NetworkConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	MaxConnsPerHost    int           `yaml:"max_conns_per_host"`
	IdleReuseWindow    time.Duration `yaml:"idle_reuse_window"`
	AcquireTimeout     time.Duration `yaml:"acquire_timeout"`
	EnableHTTP2        bool          `yaml:"enable_http2"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
}

// CacheConfig holds the tiered cache settings. The memory tier is bounded
// by entry count with pure LRU eviction; the file tier is bounded by TTL
// only.
type CacheConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	Directory  string        `yaml:"directory"`
	TTL        time.Duration `yaml:"ttl"`
}

// BatchConfig controls request batching and deduplication.
type BatchConfig struct {
	FlushDelay   time.Duration `yaml:"flush_delay"`
	MaxBatchSize int           `yaml:"max_batch_size"`
}

// SchedulerConfig controls the bounded-concurrency task scheduler.
type SchedulerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// RetryConfig holds retry settings for retryable fetch failures.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// MirrorConfig configures the optional S3 tarball mirror.
type MirrorConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	ForcePathStyle bool   `yaml:"force_path_style"`
	WriteThrough   bool   `yaml:"write_through"`
}

// MonitoringConfig holds metrics settings.
type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConcurrency is the scheduler ceiling used when none is configured:
// min(16, logical CPUs + 2).
func DefaultConcurrency() int {
	n := runtime.NumCPU() + 2
	if n > 16 {
		n = 16
	}
	return n
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Registry: RegistryConfig{
			BaseURL: "https://registry.npmjs.org",
		},
		Network: NetworkConfig{
			Timeout:         30 * time.Second,
			MaxConnsPerHost: 6,
			IdleReuseWindow: 60 * time.Second,
			AcquireTimeout:  30 * time.Second,
			EnableHTTP2:     true,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			Directory:  defaultCacheDir(),
			TTL:        5 * time.Minute,
		},
		Batch: BatchConfig{
			FlushDelay:   10 * time.Millisecond,
			MaxBatchSize: 32,
		},
		Scheduler: SchedulerConfig{
			Concurrency: DefaultConcurrency(),
		},
		Retry: RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     5 * time.Second,
		},
		Mirror: MirrorConfig{
			Enabled: false,
			Region:  "us-east-1",
			Prefix:  "tarballs/",
		},
		Monitoring: MonitoringConfig{
			Enabled: false,
			Port:    9464,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pkgfast")
	}
	return filepath.Join(os.TempDir(), "pkgfast-cache")
}

// LoadFromFile loads configuration from a YAML file on top of the receiver.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv overrides configuration from PKGFAST_* environment variables.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("PKGFAST_REGISTRY"); val != "" {
		c.Registry.BaseURL = val
	}
	if val := os.Getenv("PKGFAST_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Network.Timeout = d
		}
	}
	if val := os.Getenv("PKGFAST_MAX_CONNS_PER_HOST"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Network.MaxConnsPerHost = n
		}
	}
	if val := os.Getenv("PKGFAST_HTTP2"); val != "" {
		c.Network.EnableHTTP2 = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("PKGFAST_CACHE_DIR"); val != "" {
		c.Cache.Directory = val
	}
	if val := os.Getenv("PKGFAST_CACHE_TTL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Cache.TTL = d
		}
	}
	if val := os.Getenv("PKGFAST_CONCURRENCY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Scheduler.Concurrency = n
		}
	}
	if val := os.Getenv("PKGFAST_MIRROR_BUCKET"); val != "" {
		c.Mirror.Enabled = true
		c.Mirror.Bucket = val
	}
	if val := os.Getenv("PKGFAST_LOG_LEVEL"); val != "" {
		c.Logging.Level = val
	}

	return nil
}

// SaveToFile writes the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if c.Registry.BaseURL == "" {
		return fmt.Errorf("registry.base_url must not be empty")
	}
	if !strings.HasPrefix(c.Registry.BaseURL, "http://") && !strings.HasPrefix(c.Registry.BaseURL, "https://") {
		return fmt.Errorf("registry.base_url must be an http(s) URL: %s", c.Registry.BaseURL)
	}
	if c.Network.MaxConnsPerHost <= 0 {
		return fmt.Errorf("network.max_conns_per_host must be greater than 0")
	}
	if c.Network.Timeout <= 0 {
		return fmt.Errorf("network.timeout must be greater than 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be greater than 0")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be greater than 0")
	}
	if c.Batch.MaxBatchSize <= 0 {
		return fmt.Errorf("batch.max_batch_size must be greater than 0")
	}
	if c.Scheduler.Concurrency <= 0 {
		return fmt.Errorf("scheduler.concurrency must be greater than 0")
	}
	if c.Mirror.Enabled && c.Mirror.Bucket == "" {
		return fmt.Errorf("mirror.bucket must be set when the mirror is enabled")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if strings.ToLower(c.Logging.Level) == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid logging.level: %s (must be one of: %s)",
			c.Logging.Level, strings.Join(validLevels, ", "))
	}

	return nil
}
