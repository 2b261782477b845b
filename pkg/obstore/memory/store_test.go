package memory

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/storewatch/pkg/obstore"
)

var base = time.Date(2023, 1, 25, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(StoreConfig{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		DefaultTimezone: "America/Chicago",
	})
	require.NoError(t, err)
	return store
}

func insert(t *testing.T, store *Store, storeID string, status obstore.Status, offsets ...time.Duration) {
	t.Helper()
	obs := make([]obstore.Observation, 0, len(offsets))
	for _, d := range offsets {
		obs = append(obs, obstore.Observation{StoreID: storeID, Timestamp: base.Add(d), Status: status})
	}
	require.NoError(t, store.InsertObservations(context.Background(), obs))
}

func TestStatusInRange(t *testing.T) {
	ctx := context.Background()

	t.Run("tight range with enough points", func(t *testing.T) {
		store := newTestStore(t)
		insert(t, store, "s1", obstore.StatusActive,
			-50*time.Minute, -30*time.Minute, -10*time.Minute, -3*time.Hour)

		got, err := store.StatusInRange(ctx, "s1", base.Add(-time.Hour), base)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
		assert.True(t, got[1].Timestamp.Before(got[2].Timestamp))
	})

	t.Run("inclusive bounds", func(t *testing.T) {
		store := newTestStore(t)
		insert(t, store, "s1", obstore.StatusActive,
			-time.Hour, 0, -30*time.Minute)

		got, err := store.StatusInRange(ctx, "s1", base.Add(-time.Hour), base)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("sparse range widens to nearby points", func(t *testing.T) {
		store := newTestStore(t)
		// Nothing inside the window; four points within the lookback horizon.
		insert(t, store, "s1", obstore.StatusActive,
			-2*time.Hour, -3*time.Hour, -4*time.Hour, -5*time.Hour)

		got, err := store.StatusInRange(ctx, "s1", base.Add(-time.Hour), base)
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})

	t.Run("widening stops once enough points found", func(t *testing.T) {
		store := newTestStore(t)
		insert(t, store, "s1", obstore.StatusActive,
			-2*time.Hour, -50*time.Minute, -30*time.Minute, time.Hour)

		// Two tight points plus the nearest-before neighbor reach the
		// minimum; the point past the range end must stay out.
		got, err := store.StatusInRange(ctx, "s1", base.Add(-time.Hour), base)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, base.Add(-2*time.Hour), got[0].Timestamp)
		for _, o := range got {
			assert.False(t, o.Timestamp.After(base))
		}
	})

	t.Run("single distant point still found", func(t *testing.T) {
		store := newTestStore(t)
		// One point far outside the 72h widening horizon.
		insert(t, store, "s1", obstore.StatusInactive, -100*time.Hour)

		got, err := store.StatusInRange(ctx, "s1", base.Add(-time.Hour), base)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, obstore.StatusInactive, got[0].Status)
	})

	t.Run("unknown store", func(t *testing.T) {
		store := newTestStore(t)
		got, err := store.StatusInRange(ctx, "nope", base.Add(-time.Hour), base)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestLatestStatusBefore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	insert(t, store, "s1", obstore.StatusActive, -time.Hour)

	t.Run("strictly before", func(t *testing.T) {
		got, err := store.LatestStatusBefore(ctx, "s1", base.Add(-time.Hour))
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("found", func(t *testing.T) {
		got, err := store.LatestStatusBefore(ctx, "s1", base)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, base.Add(-time.Hour), got.Timestamp)
	})
}

func TestAnyObservation(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	got, err := store.AnyObservation(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)

	insert(t, store, "s1", obstore.StatusActive, 0)
	got, err = store.AnyObservation(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestTimestampBounds(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	first, err := store.FirstTimestamp(ctx)
	require.NoError(t, err)
	assert.Nil(t, first)

	insert(t, store, "s1", obstore.StatusActive, -2*time.Hour, 0)
	insert(t, store, "s2", obstore.StatusActive, -5*time.Hour)

	first, err = store.FirstTimestamp(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, base.Add(-5*time.Hour), *first)

	maxTS, err := store.MaxTimestamp(ctx)
	require.NoError(t, err)
	require.NotNil(t, maxTS)
	assert.Equal(t, base, *maxTS)
}

func TestTimezoneDefault(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	require.NoError(t, store.InsertTimezones(ctx, map[string]string{"s1": "America/New_York"}))

	tz, err := store.Timezone(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", tz)

	tz, err = store.Timezone(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", tz)
}

func TestCounts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	insert(t, store, "s1", obstore.StatusActive, 0, -time.Hour)
	require.NoError(t, store.InsertHoursRules(ctx, []obstore.HoursRule{{StoreID: "s1", DayOfWeek: 0}}))
	require.NoError(t, store.InsertTimezones(ctx, map[string]string{"s1": "UTC"}))

	obs, hours, zones, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), obs)
	assert.Equal(t, int64(1), hours)
	assert.Equal(t, int64(1), zones)
}

func TestConcurrentReads(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	insert(t, store, "s1", obstore.StatusActive, 0, -time.Hour, -2*time.Hour)
	insert(t, store, "s2", obstore.StatusInactive, 0, -30*time.Minute)

	want := map[string]struct {
		count  int
		status obstore.Status
	}{
		"s1": {count: 3, status: obstore.StatusActive},
		"s2": {count: 2, status: obstore.StatusInactive},
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			got, err := store.StatusInRange(ctx, id, base.Add(-time.Hour), base)
			if !assert.NoError(t, err) {
				return
			}
			// Each reader must see exactly its own store's series.
			assert.Len(t, got, want[id].count)
			for _, o := range got {
				assert.Equal(t, id, o.StoreID)
				assert.Equal(t, want[id].status, o.Status)
			}
		}([]string{"s1", "s2"}[i%2])
	}
	wg.Wait()
}
