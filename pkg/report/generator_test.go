package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/storewatch/pkg/obstore"
	"github.com/storewatch/storewatch/pkg/obstore/memory"
)

// collectSink gathers rows in memory for assertions.
type collectSink struct {
	mu   sync.Mutex
	rows []Row
}

func (s *collectSink) WriteRow(r Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, r)
	return nil
}

func (s *collectSink) Flush() error { return nil }

func (s *collectSink) byStore() map[string]Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Row, len(s.rows))
	for _, r := range s.rows {
		out[r.StoreID] = r
	}
	return out
}

// panickyStore wraps a real store and panics on business-hour lookups for one
// poisoned store id.
type panickyStore struct {
	obstore.Store
	poisoned string
}

func (s *panickyStore) BusinessHours(ctx context.Context, storeID string) ([]obstore.HoursRule, error) {
	if storeID == s.poisoned {
		panic("corrupt hours row")
	}
	return s.Store.BusinessHours(ctx, storeID)
}

func newMemoryStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(memory.StoreConfig{
		Logger:          testLogger(),
		DefaultTimezone: "America/Chicago",
	})
	require.NoError(t, err)
	return store
}

func seedActiveStore(t *testing.T, store *memory.Store, storeID string) {
	t.Helper()
	offsets := []time.Duration{
		0,
		-30 * time.Minute,
		-2 * time.Hour,
		-12 * time.Hour,
		-3 * 24 * time.Hour,
		-6 * 24 * time.Hour,
	}
	obs := make([]obstore.Observation, 0, len(offsets))
	for _, d := range offsets {
		obs = append(obs, obstore.Observation{StoreID: storeID, Timestamp: anchor.Add(d), Status: obstore.StatusActive})
	}
	require.NoError(t, store.InsertObservations(context.Background(), obs))
}

func TestGeneratorGenerate(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	seedActiveStore(t, store, "s1")

	// s2 flaps between statuses; only the uptime+downtime invariant is pinned.
	s2 := []obstore.Observation{
		{StoreID: "s2", Timestamp: anchor.Add(-2 * 24 * time.Hour), Status: obstore.StatusInactive},
		{StoreID: "s2", Timestamp: anchor.Add(-10 * time.Hour), Status: obstore.StatusActive},
		{StoreID: "s2", Timestamp: anchor.Add(-45 * time.Minute), Status: obstore.StatusActive},
		{StoreID: "s2", Timestamp: anchor.Add(-15 * time.Minute), Status: obstore.StatusInactive},
	}
	require.NoError(t, store.InsertObservations(ctx, s2))

	gen, err := New(Config{Logger: testLogger(), Store: store, Workers: 4})
	require.NoError(t, err)

	sink := &collectSink{}
	stats, err := gen.Generate(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Stores)
	assert.Equal(t, 0, stats.Faulted)
	assert.Equal(t, anchor, stats.Anchor)

	rows := sink.byStore()
	require.Len(t, rows, 2)

	s1Row := rows["s1"]
	assert.InDelta(t, 60, s1Row.UptimeHour, 0.01)
	assert.InDelta(t, 0, s1Row.DowntimeHour, 0.01)
	assert.InDelta(t, 24, s1Row.UptimeDay, 0.01)
	assert.InDelta(t, 0, s1Row.DowntimeDay, 0.01)
	assert.InDelta(t, 168, s1Row.UptimeWeek, 0.01)
	assert.InDelta(t, 0, s1Row.DowntimeWeek, 0.01)

	// Stores with no hour rules are treated as always open, so the pair must
	// sum to the window's nominal size.
	s2Row := rows["s2"]
	assert.InDelta(t, 60, s2Row.UptimeHour+s2Row.DowntimeHour, 0.01)
	assert.InDelta(t, 24, s2Row.UptimeDay+s2Row.DowntimeDay, 0.01)
	assert.InDelta(t, 168, s2Row.UptimeWeek+s2Row.DowntimeWeek, 0.01)
	assert.Greater(t, s2Row.DowntimeHour, 0.0)
}

func TestGeneratorSingleInactiveObservation(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	require.NoError(t, store.InsertObservations(ctx, []obstore.Observation{
		{StoreID: "s1", Timestamp: anchor.Add(-30 * time.Minute), Status: obstore.StatusInactive},
	}))

	gen, err := New(Config{Logger: testLogger(), Store: store, Workers: 1})
	require.NoError(t, err)

	sink := &collectSink{}
	stats, err := gen.Generate(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, anchor.Add(-30*time.Minute), stats.Anchor)

	rows := sink.byStore()
	require.Len(t, rows, 1)

	// The lone reading anchors the report and fills the whole hour window.
	row := rows["s1"]
	assert.InDelta(t, 0, row.UptimeHour, 0.01)
	assert.InDelta(t, 60, row.DowntimeHour, 0.01)
	assert.InDelta(t, 24, row.UptimeDay+row.DowntimeDay, 0.01)
	assert.InDelta(t, 168, row.UptimeWeek+row.DowntimeWeek, 0.01)
}

func TestGeneratorIsDeterministic(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	seedActiveStore(t, store, "s1")

	gen, err := New(Config{Logger: testLogger(), Store: store, Workers: 2})
	require.NoError(t, err)

	first := &collectSink{}
	_, err = gen.Generate(ctx, first)
	require.NoError(t, err)

	second := &collectSink{}
	_, err = gen.Generate(ctx, second)
	require.NoError(t, err)

	assert.Equal(t, first.byStore(), second.byStore())
}

func TestGeneratorSkipsFaultedStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	seedActiveStore(t, store, "good")
	seedActiveStore(t, store, "bad")

	gen, err := New(Config{
		Logger:  testLogger(),
		Store:   &panickyStore{Store: store, poisoned: "bad"},
		Workers: 2,
	})
	require.NoError(t, err)

	sink := &collectSink{}
	stats, err := gen.Generate(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stores)
	assert.Equal(t, 1, stats.Faulted)

	rows := sink.byStore()
	require.Len(t, rows, 1)
	assert.Contains(t, rows, "good")
}

func TestGeneratorEmptyStore(t *testing.T) {
	store := newMemoryStore(t)
	gen, err := New(Config{Logger: testLogger(), Store: store, Workers: 2})
	require.NoError(t, err)

	_, err = gen.Generate(context.Background(), &collectSink{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no observations")
}

func TestGeneratorUnknownTimezoneFallsBackToUTC(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(t)
	seedActiveStore(t, store, "s1")
	require.NoError(t, store.InsertTimezones(ctx, map[string]string{"s1": "Not/AZone"}))

	gen, err := New(Config{Logger: testLogger(), Store: store, Workers: 1})
	require.NoError(t, err)

	sink := &collectSink{}
	stats, err := gen.Generate(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stores)
	assert.Equal(t, 0, stats.Faulted)
}

func TestConfigValidate(t *testing.T) {
	t.Run("missing logger", func(t *testing.T) {
		cfg := Config{Store: newMemoryStore(t), Workers: 1}
		require.Error(t, cfg.Validate())
	})

	t.Run("missing store", func(t *testing.T) {
		cfg := Config{Logger: testLogger(), Workers: 1}
		require.Error(t, cfg.Validate())
	})

	t.Run("defaults clock", func(t *testing.T) {
		cfg := Config{Logger: testLogger(), Store: newMemoryStore(t), Workers: 1}
		require.NoError(t, cfg.Validate())
		assert.NotNil(t, cfg.Clock)
	})
}
