// Package pkgfast is a concurrent fetch-and-cache client for npm-style
// package registries. It combines a tiered cache (in-memory LRU over an
// on-disk TTL cache), a per-host connection pool with HTTP/2 negotiation,
// request batching and deduplication, and a bounded-concurrency scheduler
// for bulk operations. An optional S3 bucket can mirror tarballs.
package pkgfast

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/pkgfast/pkgfast/internal/cache"
	"github.com/pkgfast/pkgfast/internal/config"
	"github.com/pkgfast/pkgfast/internal/fetch"
	"github.com/pkgfast/pkgfast/internal/logging"
	"github.com/pkgfast/pkgfast/internal/metrics"
	"github.com/pkgfast/pkgfast/internal/pool"
	"github.com/pkgfast/pkgfast/internal/registry"
	s3mirror "github.com/pkgfast/pkgfast/internal/storage/s3"
	"github.com/pkgfast/pkgfast/pkg/errors"
	"github.com/pkgfast/pkgfast/pkg/retry"
)

// Config is the public alias for the client configuration.
type Config = config.Configuration

// PackageMetadata re-exports the registry document type.
type PackageMetadata = registry.PackageMetadata

// PackageVersion re-exports the published-version type.
type PackageVersion = registry.PackageVersion

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return config.NewDefault()
}

// Client is the assembled pkgfast stack.
type Client struct {
	config   *Config
	logger   *logrus.Logger
	metrics  *metrics.Collector
	cache    *cache.TieredCache
	fetcher  *fetch.Client
	registry *registry.Client
}

// New builds a client from the configuration. A nil config selects the
// defaults.
func New(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfig, "invalid configuration", err).
			WithComponent("pkgfast")
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(metrics.Config{
		Enabled: cfg.Monitoring.Enabled,
		Port:    cfg.Monitoring.Port,
		Path:    cfg.Monitoring.Path,
	})
	if err != nil {
		return nil, err
	}
	if cfg.Monitoring.Enabled {
		if err := collector.StartServer(); err != nil {
			return nil, err
		}
	}

	fileCache, err := cache.NewFileCache(cfg.Cache.Directory, cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}
	tiered := cache.NewTieredCache(cache.NewMemoryCache(cfg.Cache.MaxEntries), fileCache, logger)

	fetcher := fetch.NewClient(fetch.ClientConfig{
		Pool: pool.Config{
			MaxPerHost:         cfg.Network.MaxConnsPerHost,
			ReuseWindow:        cfg.Network.IdleReuseWindow,
			AcquireTimeout:     cfg.Network.AcquireTimeout,
			EnableHTTP2:        cfg.Network.EnableHTTP2,
			InsecureSkipVerify: cfg.Network.InsecureSkipVerify,
		},
		DefaultTimeout: cfg.Network.Timeout,
		FlushDelay:     cfg.Batch.FlushDelay,
		MaxBatchSize:   cfg.Batch.MaxBatchSize,
		Retry: retry.Config{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}, logger, collector)

	var mirror registry.Mirror
	if cfg.Mirror.Enabled {
		store, err := s3mirror.NewMirrorStore(ctx, s3mirror.Config{
			Bucket:         cfg.Mirror.Bucket,
			Prefix:         cfg.Mirror.Prefix,
			Region:         cfg.Mirror.Region,
			Endpoint:       cfg.Mirror.Endpoint,
			ForcePathStyle: cfg.Mirror.ForcePathStyle,
		}, logger)
		if err != nil {
			fetcher.Close()
			return nil, err
		}
		mirror = store
	}

	reg := registry.NewClient(registry.ClientConfig{
		BaseURL:      cfg.Registry.BaseURL,
		WriteThrough: cfg.Mirror.WriteThrough,
		Concurrency:  cfg.Scheduler.Concurrency,
	}, fetcher, tiered, mirror, logger, collector)

	return &Client{
		config:   cfg,
		logger:   logger,
		metrics:  collector,
		cache:    tiered,
		fetcher:  fetcher,
		registry: reg,
	}, nil
}

// Metadata returns the registry document for a package.
func (c *Client) Metadata(ctx context.Context, name string) (*PackageMetadata, error) {
	return c.registry.Metadata(ctx, name)
}

// MetadataAll fetches registry documents for many packages concurrently.
func (c *Client) MetadataAll(ctx context.Context, names []string) ([]*PackageMetadata, error) {
	return c.registry.MetadataAll(ctx, names)
}

// Latest resolves a package's "latest" dist-tag to its version metadata.
func (c *Client) Latest(ctx context.Context, name string) (*PackageVersion, error) {
	return c.registry.Latest(ctx, name)
}

// Tarball downloads and verifies a version's distribution tarball.
func (c *Client) Tarball(ctx context.Context, version *PackageVersion) ([]byte, error) {
	return c.registry.Tarball(ctx, version)
}

// Fetch issues a raw request through the deduplicating fetch pipeline.
func (c *Client) Fetch(ctx context.Context, target string, opts fetch.Options) (*fetch.Response, error) {
	return c.fetcher.Fetch(ctx, target, opts)
}

// CacheStats returns hit/miss/eviction counters for both cache tiers.
func (c *Client) CacheStats() (memory, file cache.Stats) {
	return c.cache.MemoryStats(), c.cache.FileStats()
}

// PoolStats returns the connection pool counters.
func (c *Client) PoolStats() pool.Stats {
	return c.fetcher.PoolStats()
}

// Close releases the network resources and stops the metrics endpoint.
func (c *Client) Close(ctx context.Context) error {
	c.fetcher.Close()
	return c.metrics.StopServer(ctx)
}
