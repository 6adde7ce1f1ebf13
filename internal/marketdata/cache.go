package marketdata

import (
	"fmt"
	"sync"
)

// Cache is the per-cycle quote cache. Entries live only for the cycle they
// were fetched in: StartNewCycle clears the whole map and bumps the cycle id.
// Capacity is bounded; inserts past MaxItems are refused (the caller still
// gets its value, it just isn't cached).
type Cache struct {
	mu       sync.Mutex
	enabled  bool
	maxItems int
	cycleID  uint64
	entries  map[string]interface{}
}

// NewCache creates a cycle cache. maxItems <= 0 disables the capacity bound.
func NewCache(enabled bool, maxItems int) *Cache {
	return &Cache{
		enabled:  enabled,
		maxItems: maxItems,
		entries:  make(map[string]interface{}),
	}
}

// key builds the fingerprint for one cached value, e.g. "stock_price:SPY".
func key(kind, k string) string {
	return fmt.Sprintf("%s:%s", kind, k)
}

// StartNewCycle clears every entry and returns the new monotonic cycle id.
func (c *Cache) StartNewCycle() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycleID++
	c.entries = make(map[string]interface{})
	return c.cycleID
}

// CycleID returns the current cycle id.
func (c *Cache) CycleID() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cycleID
}

// Get returns the cached value for kind:key, or a miss.
func (c *Cache) Get(kind, k string) (interface{}, bool) {
	if c == nil || !c.enabled {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key(kind, k)]
	return v, ok
}

// Put stores a value for the current cycle. It returns false when the cache
// is disabled or full; overwrites of an existing key always succeed.
func (c *Cache) Put(kind, k string, v interface{}) bool {
	if c == nil || !c.enabled {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fp := key(kind, k)
	if _, exists := c.entries[fp]; !exists && c.maxItems > 0 && len(c.entries) >= c.maxItems {
		return false
	}
	c.entries[fp] = v
	return true
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
