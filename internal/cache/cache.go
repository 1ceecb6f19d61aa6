// Package cache implements the process-local volatile condition cache and the
// great-circle neighbor resolver that searches it. The cache is shared mutable
// state across concurrent resolve calls; every operation serializes on a
// single mutex and never suspends while holding it.
package cache

import (
	"iter"
	"sync"
	"time"

	"skycond/internal/geo"
	"skycond/internal/types"
)

// DefaultTTL is the maximum age of a cache entry before it is treated as absent.
const DefaultTTL = time.Hour

// entry couples a condition sample with its insertion timestamp. Entries are
// exclusively owned by the cache and die on expiry or process end.
type entry struct {
	sample     types.ConditionSample
	insertedAt time.Time
}

// Cache is a TTL-bounded map from quantized coordinate to condition sample.
// Expired entries are evicted lazily: reads treat them as absent, and scans
// delete any expired entry they encounter. No background sweeper runs.
type Cache struct {
	mu      sync.Mutex
	entries map[geo.GeoCell]entry
	ttl     time.Duration

	// now is injectable for deterministic expiry tests.
	now func() time.Time
}

// New creates a Cache with the given TTL. A non-positive TTL falls back to
// DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[geo.GeoCell]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL returns the configured entry time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the sample stored at the cell, or false if the cell is absent
// or its entry has outlived the TTL. An expired entry found here is removed.
func (c *Cache) Get(cell geo.GeoCell) (types.ConditionSample, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cell]
	if !ok {
		return types.ConditionSample{}, false
	}
	if c.expired(e, c.now()) {
		delete(c.entries, cell)
		return types.ConditionSample{}, false
	}
	return e.sample, true
}

// Put atomically overwrites the entry at the cell with a fresh insertion
// timestamp. Last write wins under concurrent misses for the same coordinate.
func (c *Cache) Put(cell geo.GeoCell, sample types.ConditionSample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cell] = entry{sample: sample, insertedAt: c.now()}
}

// ScanValid returns a lazy, finite, restartable sequence over the non-expired
// entries. Expired entries encountered during the scan are evicted as a side
// effect, which amortizes cleanup across reads. The cache lock is held for the
// duration of a scan: the yield function must not call back into the cache.
func (c *Cache) ScanValid() iter.Seq2[geo.GeoCell, types.ConditionSample] {
	return func(yield func(geo.GeoCell, types.ConditionSample) bool) {
		c.mu.Lock()
		defer c.mu.Unlock()

		now := c.now()
		for cell, e := range c.entries {
			if c.expired(e, now) {
				delete(c.entries, cell)
				continue
			}
			if !yield(cell, e.sample) {
				return
			}
		}
	}
}

// Stats describes the cache contents for the operational dashboard.
type Stats struct {
	TotalEntries int           `json:"total_entries"`
	ValidEntries int           `json:"valid_entries"`
	TTL          time.Duration `json:"-"`
	TTLSeconds   float64       `json:"cache_ttl_seconds"`
}

// Stats counts total and non-expired entries without evicting anything.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	valid := 0
	for _, e := range c.entries {
		if !c.expired(e, now) {
			valid++
		}
	}
	return Stats{
		TotalEntries: len(c.entries),
		ValidEntries: valid,
		TTL:          c.ttl,
		TTLSeconds:   c.ttl.Seconds(),
	}
}

// expired reports whether the entry has reached its TTL at the given instant.
func (c *Cache) expired(e entry, now time.Time) bool {
	return now.Sub(e.insertedAt) >= c.ttl
}
