package mapper

import (
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/songjiao/adaptive-alerting/errors"
)

// Cache is the detector mapping cache: a thread-safe store of cache key to
// resolved detector list, plus a reverse index from mapping identity to the
// cache keys populated from that mapping. The reverse index is what makes
// rule-driven invalidation precise: disabling or editing a mapping evicts
// exactly the entries derived from it, never the whole cache.
//
// An empty (non-nil) detector list is a valid cached result meaning "no
// detectors apply" and is distinct from an absent entry. Capacity is
// unbounded; entries only leave via RemoveDisabledMappings and
// InvalidateStaleMappings.
//
// Both structures are updated under a single lock so no reader ever observes
// the primary map and the reverse index disagreeing about an entry.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string][]Detector
	byMapping map[string]map[string]struct{}

	logger  *slog.Logger
	metrics *cacheMetrics
}

// NewCache creates an empty mapping cache. The Prometheus registerer is
// optional; pass nil to run without metrics.
func NewCache(logger *slog.Logger, reg prometheus.Registerer) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var metrics *cacheMetrics
	if reg != nil {
		var err error
		metrics, err = newCacheMetrics(reg)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Cache", "NewCache", "metrics registration")
		}
	}

	return &Cache{
		entries:   make(map[string][]Detector),
		byMapping: make(map[string]map[string]struct{}),
		logger:    logger,
		metrics:   metrics,
	}, nil
}

// Get returns the cached detector list for key. The second return value is
// false only when the key has never been resolved; a present empty list means
// the backend confirmed no detectors apply. The returned slice must not be
// mutated by callers.
func (c *Cache) Get(key string) ([]Detector, bool) {
	c.mu.RLock()
	detectors, ok := c.entries[key]
	c.mu.RUnlock()

	if c.metrics != nil {
		if ok {
			c.metrics.hits.Inc()
		} else {
			c.metrics.misses.Inc()
		}
	}
	return detectors, ok
}

// Put stores the detector list for key, replacing any previous entry, and
// indexes the key under every detector's owning mapping identity. The input
// slice is copied; detectors are treated as immutable once stored.
func (c *Cache) Put(key string, detectors []Detector) {
	stored := make([]Detector, len(detectors))
	copy(stored, detectors)

	c.mu.Lock()
	c.evictLocked(key)
	c.entries[key] = stored
	for _, d := range stored {
		if d.MappingID == "" {
			continue
		}
		keys, ok := c.byMapping[d.MappingID]
		if !ok {
			keys = make(map[string]struct{})
			c.byMapping[d.MappingID] = keys
		}
		keys[key] = struct{}{}
	}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.entries.Set(float64(size))
	}
}

// PutEmpty stores a negative entry for key: a confirmed "no detectors apply"
// result. Negative entries carry no mapping identities, so they are never
// reverse-indexed and survive until the key is written again.
func (c *Cache) PutEmpty(key string) {
	c.mu.Lock()
	c.evictLocked(key)
	c.entries[key] = []Detector{}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.entries.Set(float64(size))
	}
}

// RemoveDisabledMappings evicts every cache entry indexed under each disabled
// mapping and drops the mapping's reverse-index set. Called by the sync cycle
// for mappings reported disabled since the last watermark.
func (c *Cache) RemoveDisabledMappings(mappings []DetectorMapping) {
	c.evictMappings(mappings, "disabled")
}

// InvalidateStaleMappings evicts every cache entry indexed under each changed
// mapping, forcing a fresh backend resolution on next access. Unlike
// RemoveDisabledMappings this does not imply the mapping is gone, only that
// results derived from its previous definition are stale.
func (c *Cache) InvalidateStaleMappings(mappings []DetectorMapping) {
	c.evictMappings(mappings, "stale")
}

func (c *Cache) evictMappings(mappings []DetectorMapping, reason string) {
	if len(mappings) == 0 {
		return
	}

	c.mu.Lock()
	evicted := 0
	for _, m := range mappings {
		for key := range c.byMapping[m.ID] {
			c.evictLocked(key)
			evicted++
		}
		delete(c.byMapping, m.ID)
	}
	size := len(c.entries)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.evictions.WithLabelValues(reason).Add(float64(evicted))
		c.metrics.entries.Set(float64(size))
	}
	c.logger.Debug("Evicted mapping cache entries",
		"reason", reason,
		"mappings", len(mappings),
		"entries_evicted", evicted)
}

// evictLocked removes key from the primary map and from every reverse-index
// set that references it. Caller must hold the write lock.
func (c *Cache) evictLocked(key string) {
	detectors, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, key)
	for _, d := range detectors {
		keys, ok := c.byMapping[d.MappingID]
		if !ok {
			continue
		}
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byMapping, d.MappingID)
		}
	}
}

// Size returns the current number of cache entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// KeysForMapping returns the cache keys currently indexed under a mapping
// identity.
func (c *Cache) KeysForMapping(mappingID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.byMapping[mappingID]))
	for key := range c.byMapping[mappingID] {
		keys = append(keys, key)
	}
	return keys
}
