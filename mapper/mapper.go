package mapper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/songjiao/adaptive-alerting/errors"
)

const (
	// nominalBatchSize is the batch size used while the backend has headroom.
	nominalBatchSize = 80

	// latencyThresholdMillis is the last-lookup latency at or below which
	// OptimalBatchSize falls back to opportunistic draining.
	latencyThresholdMillis = 10

	// Sentinel values for the latency sample. Never-measured and
	// lookup-failed are distinct states: a failed lookup must not be
	// mistaken for a fresh start.
	latencyNeverMeasured int64 = -1
	latencyLookupFailed  int64 = -2
)

// DetectorSource resolves batches of tag sets against the remote mapping-rule
// backend. Implementations own their timeouts; the mapper never retries a
// failed call itself beyond the next scheduled cycle or the caller's next
// batch.
type DetectorSource interface {
	// FindDetectorMappings resolves a batch of tag sets to matching
	// detectors, grouped by batch index, and reports the lookup latency.
	FindDetectorMappings(ctx context.Context, tagSets []map[string]string) (*MatchResponse, error)

	// FindUpdatedMappings returns every mapping changed in the backend
	// within the trailing window of sinceSeconds.
	FindUpdatedMappings(ctx context.Context, sinceSeconds int64) ([]DetectorMapping, error)
}

// Mapper resolves the detectors that apply to each incoming metric. Cache
// hits are served directly on the hot path; the caller accumulates misses and
// resolves them in one backend round trip via IsSuccessfulLookup. A
// background cycle keeps the cache consistent with mapping-rule changes.
type Mapper struct {
	source DetectorSource
	cache  *Cache
	logger *slog.Logger

	syncPeriod time.Duration
	now        func() time.Time

	// lastLookupLatency is the most recent backend batch-lookup latency in
	// milliseconds, or a sentinel. Written by the lookup path, read by
	// OptimalBatchSize; staleness by one round trip is acceptable.
	lastLookupLatency atomic.Int64

	// syncedUpTill is the watermark: the unix-millis instant up to which
	// the cache is known consistent with the backend. Advanced only by a
	// fully successful sync cycle.
	syncedUpTill atomic.Int64

	metrics *mapperMetrics

	// Lifecycle
	lifecycleMu sync.Mutex
	running     bool
	shutdown    chan struct{}
	done        chan struct{}
}

// New creates a Mapper. Source and cache are required collaborators; a nil
// value is a wiring error and fails fast. The sync period is in minutes and
// must be at least 1. The Prometheus registerer is optional.
func New(
	source DetectorSource,
	cache *Cache,
	syncPeriodMinutes int,
	logger *slog.Logger,
	reg prometheus.Registerer,
) (*Mapper, error) {
	if source == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Mapper", "New", "detector source required")
	}
	if cache == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Mapper", "New", "mapping cache required")
	}
	if syncPeriodMinutes < 1 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Mapper", "New",
			fmt.Sprintf("sync period must be >= 1 minute, got %d", syncPeriodMinutes))
	}
	if logger == nil {
		logger = slog.Default()
	}

	var metrics *mapperMetrics
	if reg != nil {
		var err error
		metrics, err = newMapperMetrics(reg)
		if err != nil {
			return nil, errors.WrapInvalid(err, "Mapper", "New", "metrics registration")
		}
	}

	m := &Mapper{
		source:     source,
		cache:      cache,
		logger:     logger,
		syncPeriod: time.Duration(syncPeriodMinutes) * time.Minute,
		now:        time.Now,
		metrics:    metrics,
	}
	m.lastLookupLatency.Store(latencyNeverMeasured)
	m.syncedUpTill.Store(time.Now().UnixMilli())
	return m, nil
}

// Cache returns the mapping cache this mapper populates.
func (m *Mapper) Cache() *Cache {
	return m.cache
}

// DetectorsFor returns the cached detectors for a metric's tag set. The
// second return value is false on a cache miss; the caller is expected to
// accumulate misses and resolve them via IsSuccessfulLookup. Never blocks on
// I/O.
func (m *Mapper) DetectorsFor(tags map[string]string) ([]Detector, bool) {
	return m.cache.Get(CacheKey(tags))
}

// OptimalBatchSize returns the cache-miss batch size the caller should
// accumulate before resolving. It returns the nominal size (80) while the
// latency sample is never-measured or above the 10ms threshold, and 0 (drain
// opportunistically, do not pile up large batches) once observed latency
// drops to the threshold or below. A failed last lookup also yields 0.
func (m *Mapper) OptimalBatchSize() int {
	latency := m.lastLookupLatency.Load()
	if latency == latencyNeverMeasured || latency > latencyThresholdMillis {
		return nominalBatchSize
	}
	return 0
}

// IsSuccessfulLookup performs one backend round trip for a batch of
// cache-missed tag sets and populates the cache from the result.
//
// On success the call's latency becomes the new latency sample, every batch
// index with a non-empty detector group is stored, and every index absent
// from the response is negative-cached as an explicit empty entry so the
// metric does not re-trigger a lookup on every occurrence. On failure the
// latency sample is set to the failed sentinel and the cache is left
// untouched; the caller keeps its miss state and may retry on a later round.
//
// The return value reflects only whether a backend response was obtained,
// independent of whether any tag set matched a detector.
func (m *Mapper) IsSuccessfulLookup(ctx context.Context, tagSets []map[string]string) bool {
	resp, err := m.source.FindDetectorMappings(ctx, tagSets)
	if err != nil {
		m.lastLookupLatency.Store(latencyLookupFailed)
		if m.metrics != nil {
			m.metrics.errorsTotal.Inc()
		}
		m.logger.Error("Detector mapping lookup failed",
			"component", "mapper",
			"batch_size", len(tagSets),
			"error", err)
		return false
	}

	m.lastLookupLatency.Store(resp.LookupTimeMillis)
	if m.metrics != nil {
		m.metrics.lookupLatency.Observe(float64(resp.LookupTimeMillis) / 1000.0)
	}

	for index, detectors := range resp.GroupedDetectorsBySearchIndex {
		if index < 0 || index >= len(tagSets) {
			m.logger.Warn("Backend returned out-of-range batch index",
				"component", "mapper",
				"index", index,
				"batch_size", len(tagSets))
			continue
		}
		if len(detectors) > 0 {
			m.cache.Put(CacheKey(tagSets[index]), detectors)
		}
	}

	// Negative-cache every batch position the backend matched nothing for.
	for i, tags := range tagSets {
		if _, matched := resp.GroupedDetectorsBySearchIndex[i]; !matched {
			m.cache.PutEmpty(CacheKey(tags))
		}
	}

	return true
}

// Start launches the background cache synchronization loop. The loop runs a
// reconciliation cycle on the configured period until the context is
// cancelled or Stop is called; cycles never overlap because they run inline
// in the single loop goroutine.
func (m *Mapper) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.running {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Mapper", "Start", "check running state")
	}

	// Fresh channels per start so a stopped mapper can be started again.
	m.shutdown = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	shutdown, done := m.shutdown, m.done
	go func() {
		defer close(done)

		ticker := time.NewTicker(m.syncPeriod)
		defer ticker.Stop()

		m.logger.Info("Mapping cache sync started",
			"component", "mapper",
			"period", m.syncPeriod)

		for {
			select {
			case <-ctx.Done():
				return
			case <-shutdown:
				return
			case <-ticker.C:
				if err := m.syncCache(ctx, m.now()); err != nil {
					if m.metrics != nil {
						m.metrics.errorsTotal.Inc()
					}
					m.logger.Error("Mapping cache sync failed",
						"component", "mapper",
						"error", err)
				}
			}
		}
	}()

	return nil
}

// Stop terminates the background sync loop, waiting up to timeout for the
// in-flight cycle to finish.
func (m *Mapper) Stop(timeout time.Duration) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.running {
		return nil
	}
	m.running = false
	close(m.shutdown)

	select {
	case <-m.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(
			fmt.Errorf("shutdown timeout after %v", timeout),
			"Mapper", "Stop", "graceful shutdown")
	}
}

// syncCache runs one reconciliation cycle: fetch every mapping changed since
// the watermark, evict entries for disabled mappings first, then invalidate
// entries derived from changed mapping definitions, and advance the watermark
// to now. Disabled-removal runs first so a mapping that was disabled and also
// appears as changed in the same window is not left half-evicted. The
// watermark only advances after both steps complete; on any failure the next
// cycle re-covers the same window.
func (m *Mapper) syncCache(ctx context.Context, currentTime time.Time) error {
	elapsedSeconds := (currentTime.UnixMilli() - m.syncedUpTill.Load()) / 1000
	if elapsedSeconds <= 0 {
		// Clock skew or rapid re-entry; nothing to cover.
		return nil
	}

	mappings, err := m.source.FindUpdatedMappings(ctx, elapsedSeconds)
	if err != nil {
		return errors.WrapTransient(err, "Mapper", "syncCache", "fetch updated mappings")
	}

	var disabled, updated []DetectorMapping
	for _, mapping := range mappings {
		if mapping.Enabled {
			updated = append(updated, mapping)
		} else {
			disabled = append(disabled, mapping)
		}
	}

	if len(disabled) > 0 {
		m.cache.RemoveDisabledMappings(disabled)
		m.logger.Info("Removed disabled detector mappings",
			"component", "mapper",
			"count", len(disabled))
	}
	if len(updated) > 0 {
		m.cache.InvalidateStaleMappings(updated)
		m.logger.Info("Invalidated metrics for modified detector mappings",
			"component", "mapper",
			"count", len(updated))
	}

	m.syncedUpTill.Store(currentTime.UnixMilli())
	if m.metrics != nil {
		m.metrics.syncCycles.Inc()
	}
	return nil
}
