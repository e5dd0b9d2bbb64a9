package mapper

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songjiao/adaptive-alerting/errors"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := NewCache(nil, nil)
	require.NoError(t, err)
	return c
}

func testDetector(mappingID string) Detector {
	return Detector{UUID: uuid.New(), Type: "constant-threshold", MappingID: mappingID}
}

func TestCacheGetAbsent(t *testing.T) {
	c := newTestCache(t)

	detectors, ok := c.Get("env=prod")
	assert.False(t, ok)
	assert.Nil(t, detectors)
}

func TestCachePutAndGet(t *testing.T) {
	c := newTestCache(t)
	d := testDetector("m-1")

	c.Put("env=prod", []Detector{d})

	detectors, ok := c.Get("env=prod")
	require.True(t, ok)
	require.Len(t, detectors, 1)
	assert.Equal(t, d.UUID, detectors[0].UUID)
}

func TestCacheEmptyEntryIsDistinctFromAbsent(t *testing.T) {
	c := newTestCache(t)

	c.PutEmpty("env=prod")

	detectors, ok := c.Get("env=prod")
	assert.True(t, ok, "negative entry must be a present result, not a miss")
	assert.NotNil(t, detectors)
	assert.Empty(t, detectors)
}

func TestCacheReverseIndexTracksPut(t *testing.T) {
	c := newTestCache(t)

	c.Put("k1", []Detector{testDetector("m-1"), testDetector("m-2")})
	c.Put("k2", []Detector{testDetector("m-1")})

	assert.ElementsMatch(t, []string{"k1", "k2"}, c.KeysForMapping("m-1"))
	assert.ElementsMatch(t, []string{"k1"}, c.KeysForMapping("m-2"))
}

func TestCachePutReplacesReverseIndexReferences(t *testing.T) {
	c := newTestCache(t)

	c.Put("k1", []Detector{testDetector("m-1")})
	c.Put("k1", []Detector{testDetector("m-2")})

	assert.Empty(t, c.KeysForMapping("m-1"), "stale reverse index reference after replace")
	assert.ElementsMatch(t, []string{"k1"}, c.KeysForMapping("m-2"))
}

func TestCacheRemoveDisabledMappings(t *testing.T) {
	c := newTestCache(t)
	c.Put("k1", []Detector{testDetector("m-1")})
	c.Put("k2", []Detector{testDetector("m-1")})
	c.Put("k3", []Detector{testDetector("m-2")})

	c.RemoveDisabledMappings([]DetectorMapping{{ID: "m-1", Enabled: false}})

	_, ok := c.Get("k1")
	assert.False(t, ok)
	_, ok = c.Get("k2")
	assert.False(t, ok)
	_, ok = c.Get("k3")
	assert.True(t, ok, "entries of untouched mappings must survive")
	assert.Empty(t, c.KeysForMapping("m-1"))
}

func TestCacheInvalidateStaleMappings(t *testing.T) {
	c := newTestCache(t)
	c.Put("k1", []Detector{testDetector("m-1")})

	c.InvalidateStaleMappings([]DetectorMapping{{ID: "m-1", Enabled: true}})

	_, ok := c.Get("k1")
	assert.False(t, ok, "stale entry must be evicted to force backend re-resolution")
	assert.Empty(t, c.KeysForMapping("m-1"))
}

func TestCacheEvictionCleansAllReverseReferences(t *testing.T) {
	c := newTestCache(t)
	// k1 is derived from both m-1 and m-2. Evicting via m-1 must also drop
	// k1 from m-2's set, or the index would point at a missing entry.
	c.Put("k1", []Detector{testDetector("m-1"), testDetector("m-2")})

	c.RemoveDisabledMappings([]DetectorMapping{{ID: "m-1", Enabled: false}})

	_, ok := c.Get("k1")
	assert.False(t, ok)
	assert.Empty(t, c.KeysForMapping("m-1"))
	assert.Empty(t, c.KeysForMapping("m-2"))
}

func TestCacheIndexConsistencyUnderMixedOperations(t *testing.T) {
	c := newTestCache(t)

	for i := 0; i < 20; i++ {
		mappingID := fmt.Sprintf("m-%d", i%5)
		c.Put(fmt.Sprintf("k-%d", i), []Detector{testDetector(mappingID)})
	}
	c.RemoveDisabledMappings([]DetectorMapping{{ID: "m-0"}, {ID: "m-1"}})
	c.InvalidateStaleMappings([]DetectorMapping{{ID: "m-2", Enabled: true}})

	// Every key the reverse index knows must exist in the primary cache
	// with the mapping's detector included.
	for _, mappingID := range []string{"m-0", "m-1", "m-2", "m-3", "m-4"} {
		for _, key := range c.KeysForMapping(mappingID) {
			detectors, ok := c.Get(key)
			require.True(t, ok, "reverse index references missing entry %s", key)
			found := false
			for _, d := range detectors {
				if d.MappingID == mappingID {
					found = true
				}
			}
			assert.True(t, found, "entry %s lacks detector of mapping %s", key, mappingID)
		}
	}
	assert.Equal(t, 8, c.Size())
}

func TestCacheMetricsRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCache(nil, reg)
	require.NoError(t, err)

	c.Put("k1", []Detector{testDetector("m-1")})
	c.Get("k1")
	c.Get("k-absent")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "adaptive_alerting_mapping_cache_hits_total")
	assert.Contains(t, names, "adaptive_alerting_mapping_cache_misses_total")
	assert.Contains(t, names, "adaptive_alerting_mapping_cache_entries")
}

func TestDuplicateMetricsRegistrationIsInvalid(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCache(nil, reg)
	require.NoError(t, err)

	// Registering the same collectors again is a wiring defect, not a
	// condition that improves on retry.
	_, err = NewCache(nil, reg)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	mapperReg := prometheus.NewRegistry()
	cache := newTestCache(t)
	_, err = New(&fakeSource{}, cache, 1, nil, mapperReg)
	require.NoError(t, err)

	_, err = New(&fakeSource{}, cache, 1, nil, mapperReg)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := newTestCache(t)
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k-%d-%d", g, i)
				c.Put(key, []Detector{testDetector(fmt.Sprintf("m-%d", i%10))})
				c.Get(key)
				if i%20 == 0 {
					c.InvalidateStaleMappings([]DetectorMapping{{ID: fmt.Sprintf("m-%d", i%10), Enabled: true}})
				}
			}
		}(g)
	}
	wg.Wait()

	// Index must still agree with the primary map after the dust settles.
	for i := 0; i < 10; i++ {
		for _, key := range c.KeysForMapping(fmt.Sprintf("m-%d", i)) {
			_, ok := c.Get(key)
			assert.True(t, ok)
		}
	}
}
