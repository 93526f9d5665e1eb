package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkgfast/pkgfast/pkg/errors"
)

// FileCache is an on-disk TTL-expiring key/value store. Each entry is one
// file named by the hashed key; the file holds only the serialized value.
// Entry age is derived from the file's modification time rather than an
// in-band timestamp, so externally touching a cache file resets its
// effective age. There is no size bound and no background GC; growth is
// limited only by TTL expiry on read.
type FileCache struct {
	mu        sync.Mutex
	directory string
	ttl       time.Duration

	stats Stats
}

// NewFileCache creates the cache root directory if needed.
func NewFileCache(directory string, ttl time.Duration) (*FileCache, error) {
	if directory == "" {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "file cache directory must not be empty")
	}
	if ttl <= 0 {
		return nil, errors.New(errors.ErrCodeInvalidConfig, "file cache TTL must be positive")
	}

	if err := os.MkdirAll(directory, 0750); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheIO,
			fmt.Sprintf("failed to create cache directory %s", directory), err).
			WithComponent("filecache")
	}

	return &FileCache{directory: directory, ttl: ttl}, nil
}

// Get returns the value for key. An entry past its TTL is deleted and
// reported as a miss. A missing or unreadable file degrades to a miss.
func (c *FileCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.entryPath(key)

	info, err := os.Stat(path)
	if err != nil {
		c.stats.Misses++
		return nil, false
	}

	if time.Since(info.ModTime()) > c.ttl {
		_ = os.Remove(path)
		c.stats.Evictions++
		c.stats.Misses++
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return data, true
}

// Set writes value to disk. Write failures are returned as CacheIOError so
// the caller can surface a warning; partial writes are cleaned up.
func (c *FileCache) Set(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.entryPath(key)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, value, 0600); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(errors.ErrCodeCacheIO, "failed to write cache entry", err).
			WithComponent("filecache").
			WithContext("key", key)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrap(errors.ErrCodeCacheIO, "failed to finalize cache entry", err).
			WithComponent("filecache").
			WithContext("key", key)
	}

	return nil
}

// Delete removes the entry for key if present.
func (c *FileCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = os.Remove(c.entryPath(key))
}

// Has reports whether an unexpired entry exists without reading it.
func (c *FileCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.entryPath(key))
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) <= c.ttl
}

// Stats returns a snapshot of the counters.
func (c *FileCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *FileCache) entryPath(key string) string {
	return filepath.Join(c.directory, EncodeKey(key)+".cache")
}
