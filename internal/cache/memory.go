package cache

import (
	"container/list"
	"sync"
)

// MemoryCache is an entry-count-bounded in-process LRU cache. Reads count
// as touches; eviction is strict LRU with no TTL.
type MemoryCache struct {
	mu        sync.Mutex
	maxSize   int
	items     map[string]*list.Element
	evictList *list.List

	stats Stats
}

// Stats tracks cache hit/miss/eviction counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type memoryEntry struct {
	key   string
	value []byte
}

// NewMemoryCache creates a memory cache holding at most maxSize entries.
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &MemoryCache{
		maxSize:   maxSize,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns the value for key and refreshes its recency.
func (c *MemoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}

	c.evictList.MoveToFront(element)
	c.stats.Hits++
	return element.Value.(*memoryEntry).value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full. Writing an existing key refreshes its recency.
func (c *MemoryCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		element.Value.(*memoryEntry).value = value
		c.evictList.MoveToFront(element)
		return
	}

	element := c.evictList.PushFront(&memoryEntry{key: key, value: value})
	c.items[key] = element

	if c.evictList.Len() > c.maxSize {
		c.evictOldest()
	}
}

// Delete removes key from the cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		c.removeElement(element)
	}
}

// Len returns the number of resident entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Keys returns the resident keys ordered most to least recently used.
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.evictList.Len())
	for element := c.evictList.Front(); element != nil; element = element.Next() {
		keys = append(keys, element.Value.(*memoryEntry).key)
	}
	return keys
}

// Clear removes every entry.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.evictList.Init()
}

// Stats returns a snapshot of the counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *MemoryCache) evictOldest() {
	element := c.evictList.Back()
	if element == nil {
		return
	}
	c.removeElement(element)
	c.stats.Evictions++
}

func (c *MemoryCache) removeElement(element *list.Element) {
	c.evictList.Remove(element)
	delete(c.items, element.Value.(*memoryEntry).key)
}
