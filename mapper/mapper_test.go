package mapper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a scriptable DetectorSource for unit tests.
type fakeSource struct {
	matchResp  *MatchResponse
	matchErr   error
	updated    []DetectorMapping
	updatedErr error

	gotBatches [][]map[string]string
	gotSince   []int64
}

func (f *fakeSource) FindDetectorMappings(_ context.Context, tagSets []map[string]string) (*MatchResponse, error) {
	f.gotBatches = append(f.gotBatches, tagSets)
	if f.matchErr != nil {
		return nil, f.matchErr
	}
	return f.matchResp, nil
}

func (f *fakeSource) FindUpdatedMappings(_ context.Context, sinceSeconds int64) ([]DetectorMapping, error) {
	f.gotSince = append(f.gotSince, sinceSeconds)
	if f.updatedErr != nil {
		return nil, f.updatedErr
	}
	return f.updated, nil
}

func newTestMapper(t *testing.T, source *fakeSource) *Mapper {
	t.Helper()
	cache, err := NewCache(nil, nil)
	require.NoError(t, err)
	m, err := New(source, cache, 1, nil, nil)
	require.NoError(t, err)
	return m
}

func TestNewRequiresCollaborators(t *testing.T) {
	cache, err := NewCache(nil, nil)
	require.NoError(t, err)

	_, err = New(nil, cache, 1, nil, nil)
	assert.Error(t, err, "nil source must fail fast")

	_, err = New(&fakeSource{}, nil, 1, nil, nil)
	assert.Error(t, err, "nil cache must fail fast")

	_, err = New(&fakeSource{}, cache, 0, nil, nil)
	assert.Error(t, err, "sync period below one minute must fail fast")
}

func TestOptimalBatchSizeHeuristic(t *testing.T) {
	tests := []struct {
		name    string
		latency int64
		want    int
	}{
		{"never measured returns nominal size", latencyNeverMeasured, 80},
		{"high latency returns nominal size", 15, 80},
		{"latency above threshold boundary", 11, 80},
		{"latency at threshold returns zero", 10, 0},
		{"low latency returns zero", 5, 0},
		{"zero latency returns zero", 0, 0},
		{"failed lookup returns zero", latencyLookupFailed, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMapper(t, &fakeSource{})
			m.lastLookupLatency.Store(tt.latency)
			assert.Equal(t, tt.want, m.OptimalBatchSize())
		})
	}
}

func TestIsSuccessfulLookupPopulatesCache(t *testing.T) {
	d1 := Detector{UUID: uuid.New(), MappingID: "m-1"}
	d2 := Detector{UUID: uuid.New(), MappingID: "m-2"}
	source := &fakeSource{
		matchResp: &MatchResponse{
			GroupedDetectorsBySearchIndex: map[int][]Detector{0: {d1, d2}},
			LookupTimeMillis:              25,
		},
	}
	m := newTestMapper(t, source)

	batch := []map[string]string{
		{"service": "checkout", "env": "prod"},
		{"service": "search", "env": "prod"},
	}
	require.True(t, m.IsSuccessfulLookup(context.Background(), batch))

	// Index 0 matched: stored with both detectors.
	detectors, ok := m.DetectorsFor(batch[0])
	require.True(t, ok)
	assert.Len(t, detectors, 2)

	// Index 1 missing from the response: negative-cached.
	detectors, ok = m.DetectorsFor(batch[1])
	require.True(t, ok, "unmatched metric must be negative-cached, not left absent")
	assert.Empty(t, detectors)

	// Latency 25 > 10: still nominal batch size.
	assert.Equal(t, 80, m.OptimalBatchSize())
}

func TestIsSuccessfulLookupSkipsPresentEmptyGroups(t *testing.T) {
	// A batch index present in the response with an empty group is neither
	// stored nor negative-cached; it stays a miss for the next round.
	source := &fakeSource{
		matchResp: &MatchResponse{
			GroupedDetectorsBySearchIndex: map[int][]Detector{0: {}},
			LookupTimeMillis:              3,
		},
	}
	m := newTestMapper(t, source)

	batch := []map[string]string{{"service": "checkout"}}
	require.True(t, m.IsSuccessfulLookup(context.Background(), batch))

	_, ok := m.DetectorsFor(batch[0])
	assert.False(t, ok)
}

func TestIsSuccessfulLookupFailureLeavesCacheUntouched(t *testing.T) {
	source := &fakeSource{matchErr: errors.New("search backend down")}
	m := newTestMapper(t, source)

	batch := []map[string]string{{"service": "checkout"}}
	assert.False(t, m.IsSuccessfulLookup(context.Background(), batch))

	_, ok := m.DetectorsFor(batch[0])
	assert.False(t, ok, "failed lookup must not seed cache entries")
	assert.Equal(t, latencyLookupFailed, m.lastLookupLatency.Load())
	assert.Equal(t, 0, m.OptimalBatchSize())
}

func TestIsSuccessfulLookupIgnoresOutOfRangeIndexes(t *testing.T) {
	source := &fakeSource{
		matchResp: &MatchResponse{
			GroupedDetectorsBySearchIndex: map[int][]Detector{
				7:  {Detector{UUID: uuid.New(), MappingID: "m-1"}},
				-1: {Detector{UUID: uuid.New(), MappingID: "m-2"}},
			},
			LookupTimeMillis: 12,
		},
	}
	m := newTestMapper(t, source)

	batch := []map[string]string{{"service": "checkout"}}
	assert.True(t, m.IsSuccessfulLookup(context.Background(), batch))
	assert.Equal(t, 0, m.cache.Size(), "out-of-range indexes must not populate entries")
}

func TestSyncCacheSkipsWhenNoTimeElapsed(t *testing.T) {
	source := &fakeSource{}
	m := newTestMapper(t, source)

	watermark := m.syncedUpTill.Load()
	// Same instant and an earlier instant both yield elapsed <= 0.
	require.NoError(t, m.syncCache(context.Background(), time.UnixMilli(watermark)))
	require.NoError(t, m.syncCache(context.Background(), time.UnixMilli(watermark-5000)))

	assert.Empty(t, source.gotSince, "skipped cycles must not hit the backend")
	assert.Equal(t, watermark, m.syncedUpTill.Load())
}

func TestSyncCacheComputesElapsedWindow(t *testing.T) {
	source := &fakeSource{}
	m := newTestMapper(t, source)

	start := m.syncedUpTill.Load()
	now := time.UnixMilli(start + 90_000)
	require.NoError(t, m.syncCache(context.Background(), now))

	require.Len(t, source.gotSince, 1)
	assert.Equal(t, int64(90), source.gotSince[0])
	assert.Equal(t, now.UnixMilli(), m.syncedUpTill.Load())
}

func TestSyncCacheRemovesDisabledBeforeInvalidatingStale(t *testing.T) {
	d := Detector{UUID: uuid.New(), MappingID: "m-1"}
	source := &fakeSource{
		// The same mapping shows up disabled and as a stale update in one
		// window. After the cycle nothing may remain attributed to it.
		updated: []DetectorMapping{
			{ID: "m-1", Enabled: true, LastModifiedTimeMillis: 1},
			{ID: "m-1", Enabled: false, LastModifiedTimeMillis: 2},
		},
	}
	m := newTestMapper(t, source)
	m.cache.Put("k1", []Detector{d})

	now := time.UnixMilli(m.syncedUpTill.Load() + 60_000)
	require.NoError(t, m.syncCache(context.Background(), now))

	_, ok := m.cache.Get("k1")
	assert.False(t, ok)
	assert.Empty(t, m.cache.KeysForMapping("m-1"))
}

func TestSyncCacheWatermarkNotAdvancedOnFailure(t *testing.T) {
	source := &fakeSource{updatedErr: errors.New("search backend down")}
	m := newTestMapper(t, source)

	watermark := m.syncedUpTill.Load()
	now := time.UnixMilli(watermark + 60_000)
	err := m.syncCache(context.Background(), now)

	require.Error(t, err)
	assert.Equal(t, watermark, m.syncedUpTill.Load(),
		"watermark must not advance so the next cycle re-covers the window")
}

func TestSyncCacheRecoversWindowAfterFailure(t *testing.T) {
	source := &fakeSource{updatedErr: errors.New("search backend down")}
	m := newTestMapper(t, source)
	start := m.syncedUpTill.Load()

	require.Error(t, m.syncCache(context.Background(), time.UnixMilli(start+60_000)))

	// Next cycle succeeds and must cover the full window since start.
	source.updatedErr = nil
	require.NoError(t, m.syncCache(context.Background(), time.UnixMilli(start+120_000)))

	require.Len(t, source.gotSince, 2)
	assert.Equal(t, int64(60), source.gotSince[0])
	assert.Equal(t, int64(120), source.gotSince[1])
}

func TestStartStopLifecycle(t *testing.T) {
	m := newTestMapper(t, &fakeSource{})

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()), "double start must fail")
	require.NoError(t, m.Stop(time.Second))
	assert.NoError(t, m.Stop(time.Second), "stop is idempotent")
}

func TestStartAfterStopRelaunchesSyncLoop(t *testing.T) {
	m := newTestMapper(t, &fakeSource{})
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(time.Second))

	require.NoError(t, m.Start(ctx), "a stopped mapper starts again")
	require.NoError(t, m.Stop(time.Second))
}

func TestEndToEndMissLookupAndDisable(t *testing.T) {
	tags := map[string]string{"service": "checkout", "env": "prod"}
	d1 := Detector{UUID: uuid.New(), MappingID: "m-1"}
	d2 := Detector{UUID: uuid.New(), MappingID: "m-2"}

	source := &fakeSource{
		matchResp: &MatchResponse{
			GroupedDetectorsBySearchIndex: map[int][]Detector{0: {d1, d2}},
			LookupTimeMillis:              3,
		},
	}
	m := newTestMapper(t, source)

	// Cold cache: miss.
	_, ok := m.DetectorsFor(tags)
	require.False(t, ok)

	// Batch lookup resolves [d1, d2] with 3ms latency.
	require.True(t, m.IsSuccessfulLookup(context.Background(), []map[string]string{tags}))

	detectors, ok := m.DetectorsFor(tags)
	require.True(t, ok)
	require.Len(t, detectors, 2)
	assert.Equal(t, d1.UUID, detectors[0].UUID)
	assert.Equal(t, d2.UUID, detectors[1].UUID)

	// 3ms <= 10ms threshold: batch size drops to zero.
	assert.Equal(t, 0, m.OptimalBatchSize())

	key := CacheKey(tags)
	assert.Contains(t, m.cache.KeysForMapping("m-1"), key)
	assert.Contains(t, m.cache.KeysForMapping("m-2"), key)

	// Later, m-1 is reported disabled.
	source.updated = []DetectorMapping{{ID: "m-1", Enabled: false}}
	now := time.UnixMilli(m.syncedUpTill.Load() + 60_000)
	require.NoError(t, m.syncCache(context.Background(), now))

	_, ok = m.DetectorsFor(tags)
	assert.False(t, ok, "entry must be gone after its mapping is disabled")
	assert.Empty(t, m.cache.KeysForMapping("m-1"))
}
