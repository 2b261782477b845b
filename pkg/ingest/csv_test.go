package ingest

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storewatch/storewatch/pkg/obstore"
	"github.com/storewatch/storewatch/pkg/obstore/memory"
	"github.com/storewatch/storewatch/pkg/timeutil"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newLoader(t *testing.T, dataDir string) (*Loader, *memory.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := memory.NewStore(memory.StoreConfig{
		Logger:          log,
		DefaultTimezone: "America/Chicago",
	})
	require.NoError(t, err)

	loader, err := NewLoader(Config{
		Logger:  log,
		Writer:  store,
		DataDir: dataDir,
	})
	require.NoError(t, err)
	return loader, store
}

func TestLoadAll(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeFile(t, dir, StatusFile,
		"store_id,status,timestamp_utc\n"+
			"s1,active,2023-01-25 10:00:00.123456 UTC\n"+
			"s1,inactive,2023-01-25 11:00:00.000000 UTC\n"+
			"s2,active,2023-01-25 10:30:00.000000 UTC\n"+
			"s2,broken-status,2023-01-25 10:45:00.000000 UTC\n"+
			"s2,active,not-a-timestamp\n")
	writeFile(t, dir, HoursFile,
		"store_id,dayOfWeek,start_time_local,end_time_local\n"+
			"s1,0,09:00:00,21:00:00\n"+
			"s1,9,09:00:00,21:00:00\n"+
			"s1,1,garbage,21:00:00\n")
	writeFile(t, dir, TimezonesFile,
		"store_id,timezone_str\n"+
			"s1,America/New_York\n"+
			",America/Denver\n")

	loader, store := newLoader(t, dir)
	require.NoError(t, loader.LoadAll(ctx))

	obs, hours, zones, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), obs)
	assert.Equal(t, int64(1), hours)
	assert.Equal(t, int64(1), zones)

	got, err := store.StatusInRange(ctx, "s1",
		time.Date(2023, 1, 25, 9, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 25, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, obstore.StatusActive, got[0].Status)
	assert.Equal(t, 10, got[0].Timestamp.Hour())

	rules, err := store.BusinessHours(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 0, rules[0].DayOfWeek)
	assert.Equal(t, timeutil.MustTimeOfDay("09:00:00"), rules[0].Start)

	tz, err := store.Timezone(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", tz)
}

func TestLoadAllIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeFile(t, dir, StatusFile,
		"store_id,status,timestamp_utc\ns1,active,2023-01-25 10:00:00\n")
	writeFile(t, dir, HoursFile,
		"store_id,day_of_week,start_time_local,end_time_local\ns1,0,09:00:00,21:00:00\n")
	writeFile(t, dir, TimezonesFile,
		"store_id,timezone_str\ns1,America/New_York\n")

	loader, store := newLoader(t, dir)
	require.NoError(t, loader.LoadAll(ctx))
	require.NoError(t, loader.LoadAll(ctx))

	obs, hours, zones, err := store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), obs)
	assert.Equal(t, int64(1), hours)
	assert.Equal(t, int64(1), zones)
}

func TestLoadAllAlternateHeaderNames(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	writeFile(t, dir, StatusFile,
		"timestamp_utc,store_id,status\n2023-01-25T10:00:00Z,s1,active\n")
	writeFile(t, dir, HoursFile,
		"store_id,day_of_week,start_time_local,end_time_local\ns1,3,08:30:00,18:00:00\n")
	writeFile(t, dir, TimezonesFile,
		"store_id,timezone_str\ns1,UTC\n")

	loader, store := newLoader(t, dir)
	require.NoError(t, loader.LoadAll(ctx))

	rules, err := store.BusinessHours(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, 3, rules[0].DayOfWeek)
}

func TestLoadAllMissingFile(t *testing.T) {
	loader, _ := newLoader(t, t.TempDir())
	require.Error(t, loader.LoadAll(context.Background()))
}

func TestLoadAllMissingColumn(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, StatusFile, "store_id,status\ns1,active\n")
	writeFile(t, dir, HoursFile,
		"store_id,day_of_week,start_time_local,end_time_local\n")
	writeFile(t, dir, TimezonesFile, "store_id,timezone_str\n")

	loader, _ := newLoader(t, dir)
	err := loader.LoadAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timestamp_utc")
}
