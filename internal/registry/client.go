package registry

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pkgfast/pkgfast/internal/cache"
	"github.com/pkgfast/pkgfast/internal/fetch"
	"github.com/pkgfast/pkgfast/internal/metrics"
	"github.com/pkgfast/pkgfast/internal/scheduler"
	"github.com/pkgfast/pkgfast/pkg/errors"
)

// Fetcher is the slice of the fetch client the registry needs.
type Fetcher interface {
	Fetch(ctx context.Context, target string, opts fetch.Options) (*fetch.Response, error)
}

// Mirror is an optional remote tarball store consulted before the registry.
type Mirror interface {
	Get(ctx context.Context, name, version string) ([]byte, error)
	Put(ctx context.Context, name, version string, data []byte) error
}

// ClientConfig holds the registry client settings.
type ClientConfig struct {
	// BaseURL is the registry root, e.g. https://registry.npmjs.org.
	BaseURL string

	// WriteThrough uploads freshly downloaded tarballs to the mirror.
	WriteThrough bool

	// Concurrency bounds bulk operations. Zero selects the scheduler default.
	Concurrency int
}

// Client resolves package metadata and downloads tarballs. Metadata lookups
// go through the tiered cache and the deduplicating fetch pipeline, so a
// burst of identical lookups costs one network operation.
type Client struct {
	config  ClientConfig
	fetcher Fetcher
	cache   *cache.TieredCache
	mirror  Mirror
	logger  logrus.FieldLogger
	metrics *metrics.Collector
}

// NewClient creates a registry client. The cache and mirror may be nil.
func NewClient(config ClientConfig, fetcher Fetcher, store *cache.TieredCache, mirror Mirror, logger logrus.FieldLogger, collector *metrics.Collector) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config:  config,
		fetcher: fetcher,
		cache:   store,
		mirror:  mirror,
		logger:  logger,
		metrics: collector,
	}
}

// metadataURL builds the registry document URL. Scoped names keep their @
// but encode the separating slash, per registry convention.
func (c *Client) metadataURL(name string) string {
	return c.config.BaseURL + "/" + strings.ReplaceAll(name, "/", "%2f")
}

func metadataKey(name string) string {
	return "metadata:" + name
}

// Metadata returns the registry document for a package. Cached documents are
// served without touching the network; misses are fetched, parsed, and
// written back through both cache tiers.
func (c *Client) Metadata(ctx context.Context, name string) (*PackageMetadata, error) {
	timer := c.metrics.Start("metadata")

	meta, err := c.metadata(ctx, name)
	timer.End(err)
	return meta, err
}

func (c *Client) metadata(ctx context.Context, name string) (*PackageMetadata, error) {
	key := metadataKey(name)
	if c.cache != nil {
		if data, ok := c.cache.Get(key); ok {
			var meta PackageMetadata
			if err := json.Unmarshal(data, &meta); err == nil {
				c.metrics.RecordCacheEvent("tiered", "hit")
				return &meta, nil
			}
			// A corrupt entry is dropped and refetched.
			c.cache.Delete(key)
		}
		c.metrics.RecordCacheEvent("tiered", "miss")
	}

	resp, err := c.fetcher.Fetch(ctx, c.metadataURL(name), fetch.Options{
		Header: http.Header{"Accept": []string{"application/json"}},
	})
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, errors.Newf(errors.ErrCodePackageNotFound, "package %q not found", name).
			WithComponent("registry").WithOperation("metadata")
	case resp.StatusCode != http.StatusOK:
		return nil, errors.Newf(errors.ErrCodeNetwork, "registry returned status %d for %q", resp.StatusCode, name).
			WithComponent("registry").WithOperation("metadata")
	}

	var meta PackageMetadata
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		return nil, errors.Wrap(errors.ErrCodeParse, "malformed registry document", err).
			WithComponent("registry").WithOperation("metadata").WithContext("package", name)
	}

	if c.cache != nil {
		c.cache.Set(key, resp.Body)
	}
	return &meta, nil
}

// Latest resolves the "latest" dist-tag for a package.
func (c *Client) Latest(ctx context.Context, name string) (*PackageVersion, error) {
	meta, err := c.Metadata(ctx, name)
	if err != nil {
		return nil, err
	}

	tag, ok := meta.Tag("latest")
	if !ok {
		return nil, errors.Newf(errors.ErrCodeVersionNotFound, "package %q has no latest tag", name).
			WithComponent("registry").WithOperation("latest")
	}
	version, ok := meta.Version(tag)
	if !ok {
		return nil, errors.Newf(errors.ErrCodeVersionNotFound, "package %q latest tag points at unpublished version %s", name, tag).
			WithComponent("registry").WithOperation("latest")
	}
	return version, nil
}

// Tarball downloads a version's distribution tarball and verifies its
// shasum. A configured mirror is consulted first; mirror failures degrade to
// the registry instead of failing the download.
func (c *Client) Tarball(ctx context.Context, version *PackageVersion) ([]byte, error) {
	timer := c.metrics.Start("tarball")
	data, err := c.tarball(ctx, version)
	timer.End(err)
	return data, err
}

func (c *Client) tarball(ctx context.Context, version *PackageVersion) ([]byte, error) {
	if version.Dist.Tarball == "" {
		return nil, errors.Newf(errors.ErrCodeVersionNotFound, "version %s@%s has no tarball", version.Name, version.Version).
			WithComponent("registry").WithOperation("tarball")
	}

	if c.mirror != nil {
		data, err := c.mirror.Get(ctx, version.Name, version.Version)
		if err == nil {
			if verifyErr := verifyShasum(data, version.Dist.Shasum); verifyErr == nil {
				c.metrics.RecordCacheEvent("mirror", "hit")
				return data, nil
			}
			// A corrupt mirror object falls through to the registry.
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{
					"package": version.Name,
					"version": version.Version,
				}).Warn("mirrored tarball failed checksum, refetching from registry")
			}
		} else if !stderrors.Is(err, errors.New(errors.ErrCodePackageNotFound, "")) {
			if c.logger != nil {
				c.logger.WithField("error", err.Error()).Warn("mirror unavailable, falling back to registry")
			}
		}
		c.metrics.RecordCacheEvent("mirror", "miss")
	}

	resp, err := c.fetcher.Fetch(ctx, version.Dist.Tarball, fetch.Options{})
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrCodeNetwork, "tarball download returned status %d", resp.StatusCode).
			WithComponent("registry").WithOperation("tarball").
			WithContext("url", version.Dist.Tarball)
	}

	if err := verifyShasum(resp.Body, version.Dist.Shasum); err != nil {
		return nil, err
	}

	if c.mirror != nil && c.config.WriteThrough {
		if err := c.mirror.Put(ctx, version.Name, version.Version, resp.Body); err != nil && c.logger != nil {
			c.logger.WithField("error", err.Error()).Warn("failed to write tarball through to mirror")
		}
	}
	return resp.Body, nil
}

// MetadataAll fetches registry documents for many packages with bounded
// concurrency. Results are ordered like names; individual failures are
// aggregated after every lookup settles.
func (c *Client) MetadataAll(ctx context.Context, names []string) ([]*PackageMetadata, error) {
	return scheduler.Map(ctx, c.config.Concurrency, names, func(ctx context.Context, name string) (*PackageMetadata, error) {
		return c.Metadata(ctx, name)
	})
}

// verifyShasum checks data against the hex SHA-1 from the dist metadata. An
// empty expected sum skips verification, matching registries that omit it.
func verifyShasum(data []byte, expected string) error {
	if expected == "" {
		return nil
	}
	sum := sha1.Sum(data)
	actual := hex.EncodeToString(sum[:])
	if !strings.EqualFold(actual, expected) {
		return errors.New(errors.ErrCodeChecksumMismatch, "tarball shasum mismatch").
			WithComponent("registry").
			WithContext("expected", expected).
			WithContext("actual", actual)
	}
	return nil
}
