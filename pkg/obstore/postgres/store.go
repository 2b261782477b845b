package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/storewatch/storewatch/pkg/obstore"
	"github.com/storewatch/storewatch/pkg/timeutil"
)

type StoreConfig struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool

	// DefaultTimezone is returned for stores without a timezone row.
	DefaultTimezone string
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("connection pool is required")
	}
	if cfg.DefaultTimezone == "" {
		return errors.New("default timezone is required")
	}
	return nil
}

// Store is a postgres-backed observation store. Reads never mutate, so the
// pool's connection-level concurrency is the only synchronization needed.
type Store struct {
	log  *slog.Logger
	pool *pgxpool.Pool
	cfg  StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, pool: cfg.Pool, cfg: cfg}, nil
}

func (s *Store) AllStoreIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT store_id
		FROM store_status
		ORDER BY store_id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) StatusInRange(ctx context.Context, storeID string, start, end time.Time) ([]obstore.Observation, error) {
	found := make(map[int64]obstore.Observation)

	tight, err := s.queryObservations(ctx, `
		SELECT store_id, observed_at, status
		FROM store_status
		WHERE store_id = $1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at ASC
	`, storeID, start, end)
	if err != nil {
		return nil, err
	}
	for _, o := range tight {
		found[o.Timestamp.UnixNano()] = o
	}

	// Each widening step runs only while the running count is still short, so
	// a window made whole by an earlier step stays tight.
	if len(found) < obstore.MinRangePoints {
		// Nearest observation immediately before the range.
		if err := s.mergeObservations(ctx, found, `
			SELECT store_id, observed_at, status
			FROM store_status
			WHERE store_id = $1 AND observed_at < $2
			ORDER BY observed_at DESC
			LIMIT 1
		`, storeID, start); err != nil {
			return nil, err
		}
	}
	if len(found) < obstore.MinRangePoints {
		// Nearest observation immediately after the range.
		if err := s.mergeObservations(ctx, found, `
			SELECT store_id, observed_at, status
			FROM store_status
			WHERE store_id = $1 AND observed_at > $2
			ORDER BY observed_at ASC
			LIMIT 1
		`, storeID, end); err != nil {
			return nil, err
		}
	}
	if len(found) < obstore.MinRangePoints {
		// Bounded batches within the 72h lookback and lookahead horizons.
		if err := s.mergeObservations(ctx, found, `
			SELECT store_id, observed_at, status
			FROM store_status
			WHERE store_id = $1 AND observed_at >= $2 AND observed_at < $3
			ORDER BY observed_at DESC
			LIMIT $4
		`, storeID, start.Add(-obstore.WidenLookback), start, obstore.WidenLimit); err != nil {
			return nil, err
		}
		if err := s.mergeObservations(ctx, found, `
			SELECT store_id, observed_at, status
			FROM store_status
			WHERE store_id = $1 AND observed_at > $2 AND observed_at <= $3
			ORDER BY observed_at ASC
			LIMIT $4
		`, storeID, end, end.Add(obstore.WidenLookback), obstore.WidenLimit); err != nil {
			return nil, err
		}
	}

	if len(found) < obstore.AnyPointsMinimum {
		obs, err := s.queryObservations(ctx, `
			SELECT store_id, observed_at, status
			FROM store_status
			WHERE store_id = $1
			ORDER BY observed_at ASC
			LIMIT $2
		`, storeID, obstore.AnyPointsLimit)
		if err != nil {
			return nil, err
		}
		for _, o := range obs {
			found[o.Timestamp.UnixNano()] = o
		}
	}

	out := make([]obstore.Observation, 0, len(found))
	for _, o := range found {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) LatestStatusBefore(ctx context.Context, storeID string, before time.Time) (*obstore.Observation, error) {
	obs, err := s.queryObservations(ctx, `
		SELECT store_id, observed_at, status
		FROM store_status
		WHERE store_id = $1 AND observed_at < $2
		ORDER BY observed_at DESC
		LIMIT 1
	`, storeID, before)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}
	return &obs[0], nil
}

func (s *Store) AnyObservation(ctx context.Context, storeID string) (*obstore.Observation, error) {
	obs, err := s.queryObservations(ctx, `
		SELECT store_id, observed_at, status
		FROM store_status
		WHERE store_id = $1
		LIMIT 1
	`, storeID)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		return nil, nil
	}
	return &obs[0], nil
}

func (s *Store) FirstTimestamp(ctx context.Context) (*time.Time, error) {
	return s.boundaryTimestamp(ctx, "MIN")
}

func (s *Store) MaxTimestamp(ctx context.Context) (*time.Time, error) {
	return s.boundaryTimestamp(ctx, "MAX")
}

func (s *Store) boundaryTimestamp(ctx context.Context, agg string) (*time.Time, error) {
	var ts *time.Time
	row := s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s(observed_at) FROM store_status`, agg))
	if err := row.Scan(&ts); err != nil {
		return nil, err
	}
	if ts == nil {
		return nil, nil
	}
	utc := ts.UTC()
	return &utc, nil
}

func (s *Store) BusinessHours(ctx context.Context, storeID string) ([]obstore.HoursRule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT store_id, day_of_week, start_seconds, end_seconds
		FROM business_hours
		WHERE store_id = $1
		ORDER BY day_of_week ASC, start_seconds ASC
	`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []obstore.HoursRule
	for rows.Next() {
		var r obstore.HoursRule
		var start, end int
		if err := rows.Scan(&r.StoreID, &r.DayOfWeek, &start, &end); err != nil {
			return nil, err
		}
		r.Start = timeutil.TimeOfDay(start)
		r.End = timeutil.TimeOfDay(end)
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func (s *Store) Timezone(ctx context.Context, storeID string) (string, error) {
	var tz string
	row := s.pool.QueryRow(ctx, `
		SELECT timezone
		FROM store_timezones
		WHERE store_id = $1
	`, storeID)
	if err := row.Scan(&tz); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return s.cfg.DefaultTimezone, nil
		}
		return "", err
	}
	return tz, nil
}

func (s *Store) mergeObservations(ctx context.Context, found map[int64]obstore.Observation, query string, args ...any) error {
	obs, err := s.queryObservations(ctx, query, args...)
	if err != nil {
		return err
	}
	for _, o := range obs {
		found[o.Timestamp.UnixNano()] = o
	}
	return nil
}

func (s *Store) queryObservations(ctx context.Context, query string, args ...any) ([]obstore.Observation, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []obstore.Observation
	for rows.Next() {
		var o obstore.Observation
		if err := rows.Scan(&o.StoreID, &o.Timestamp, &o.Status); err != nil {
			return nil, err
		}
		o.Timestamp = o.Timestamp.UTC()
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) InsertObservations(ctx context.Context, obs []obstore.Observation) error {
	if len(obs) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"store_status"},
		[]string{"store_id", "observed_at", "status"},
		pgx.CopyFromSlice(len(obs), func(i int) ([]any, error) {
			return []any{obs[i].StoreID, obs[i].Timestamp, string(obs[i].Status)}, nil
		}),
	)
	return err
}

func (s *Store) InsertHoursRules(ctx context.Context, rules []obstore.HoursRule) error {
	if len(rules) == 0 {
		return nil
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"business_hours"},
		[]string{"store_id", "day_of_week", "start_seconds", "end_seconds"},
		pgx.CopyFromSlice(len(rules), func(i int) ([]any, error) {
			return []any{rules[i].StoreID, rules[i].DayOfWeek, int(rules[i].Start), int(rules[i].End)}, nil
		}),
	)
	return err
}

func (s *Store) InsertTimezones(ctx context.Context, zones map[string]string) error {
	if len(zones) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for id, tz := range zones {
		batch.Queue(`
			INSERT INTO store_timezones (store_id, timezone)
			VALUES ($1, $2)
			ON CONFLICT (store_id) DO UPDATE SET timezone = EXCLUDED.timezone
		`, id, tz)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

func (s *Store) Counts(ctx context.Context) (observations, hours, timezones int64, err error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM store_status),
			(SELECT COUNT(*) FROM business_hours),
			(SELECT COUNT(*) FROM store_timezones)
	`)
	if err := row.Scan(&observations, &hours, &timezones); err != nil {
		return 0, 0, 0, err
	}
	return observations, hours, timezones, nil
}
