package detect

import (
	"sync"
)

// HostCache remembers site-wide widgets per host so framework detection runs once per host
type HostCache struct {
	mu    sync.RWMutex
	cache map[string][]Widget
}

// NewHostCache creates a new host cache
func NewHostCache() *HostCache {
	return &HostCache{
		cache: make(map[string][]Widget),
	}
}

// Get retrieves cached site-wide widgets for a host
func (c *HostCache) Get(host string) ([]Widget, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.cache[host]
	return w, ok
}

// Set stores site-wide widgets for a host
func (c *HostCache) Set(host string, widgets []Widget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[host] = widgets
}

// Clear removes all cached entries
func (c *HostCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string][]Widget)
}

// Size returns the number of cached entries
func (c *HostCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
