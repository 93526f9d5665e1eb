package cache

import (
	"github.com/sirupsen/logrus"
)

// TieredCache composes a MemoryCache fast tier and a FileCache durable
// tier. Set writes memory synchronously and then the file tier, so memory
// visibility can precede on-disk durability; there is no cross-tier
// atomicity.
type TieredCache struct {
	memory *MemoryCache
	file   *FileCache
	logger logrus.FieldLogger
}

// NewTieredCache wires the two tiers together. logger receives warnings on
// durable-tier write failures.
func NewTieredCache(memory *MemoryCache, file *FileCache, logger logrus.FieldLogger) *TieredCache {
	return &TieredCache{memory: memory, file: file, logger: logger}
}

// Get checks memory first, then the file tier. A file-tier hit is promoted
// into memory. A double miss returns false; the caller populates the cache
// after computing the value.
func (c *TieredCache) Get(key string) ([]byte, bool) {
	if value, ok := c.memory.Get(key); ok {
		return value, true
	}

	value, ok := c.file.Get(key)
	if !ok {
		return nil, false
	}

	c.memory.Set(key, value)
	return value, true
}

// Set writes both tiers. A durable-tier write failure is logged as a
// warning and does not propagate; the memory tier has already been updated.
func (c *TieredCache) Set(key string, value []byte) {
	c.memory.Set(key, value)

	if err := c.file.Set(key, value); err != nil {
		if c.logger != nil {
			c.logger.WithFields(logrus.Fields{
				"key":   key,
				"error": err.Error(),
			}).Warn("durable cache write failed")
		}
	}
}

// Delete removes key from both tiers.
func (c *TieredCache) Delete(key string) {
	c.memory.Delete(key)
	c.file.Delete(key)
}

// MemoryStats returns the fast-tier counters.
func (c *TieredCache) MemoryStats() Stats {
	return c.memory.Stats()
}

// FileStats returns the durable-tier counters.
func (c *TieredCache) FileStats() Stats {
	return c.file.Stats()
}
