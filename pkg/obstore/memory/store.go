package memory

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/storewatch/storewatch/pkg/obstore"
)

type StoreConfig struct {
	Logger *slog.Logger

	// DefaultTimezone is returned for stores without a timezone row.
	DefaultTimezone string
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.DefaultTimezone == "" {
		return errors.New("default timezone is required")
	}
	return nil
}

// Store is an in-memory obstore.Store backed by per-store sorted observation
// series. Reads take a shared lock, so concurrent range queries from report
// workers are safe.
type Store struct {
	log *slog.Logger
	cfg StoreConfig

	mu        sync.RWMutex
	series    map[string][]obstore.Observation // sorted by timestamp ascending
	hours     map[string][]obstore.HoursRule
	timezones map[string]string
	hoursRows int64
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{
		log:       cfg.Logger,
		cfg:       cfg,
		series:    make(map[string][]obstore.Observation),
		hours:     make(map[string][]obstore.HoursRule),
		timezones: make(map[string]string),
	}, nil
}

func (s *Store) InsertObservations(ctx context.Context, obs []obstore.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	touched := make(map[string]struct{})
	for _, o := range obs {
		o.Timestamp = o.Timestamp.UTC()
		s.series[o.StoreID] = append(s.series[o.StoreID], o)
		touched[o.StoreID] = struct{}{}
	}
	for id := range touched {
		series := s.series[id]
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
	}
	return nil
}

func (s *Store) InsertHoursRules(ctx context.Context, rules []obstore.HoursRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rules {
		s.hours[r.StoreID] = append(s.hours[r.StoreID], r)
	}
	s.hoursRows += int64(len(rules))
	return nil
}

func (s *Store) InsertTimezones(ctx context.Context, zones map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, tz := range zones {
		s.timezones[id] = tz
	}
	return nil
}

func (s *Store) Counts(ctx context.Context) (int64, int64, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var obs int64
	for _, series := range s.series {
		obs += int64(len(series))
	}
	return obs, s.hoursRows, int64(len(s.timezones)), nil
}

func (s *Store) AllStoreIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.series))
	for id := range s.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) StatusInRange(ctx context.Context, storeID string, start, end time.Time) ([]obstore.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.series[storeID]
	merged := make(map[int64]obstore.Observation)
	add := func(o obstore.Observation) {
		key := o.Timestamp.UnixNano()
		if _, ok := merged[key]; !ok {
			merged[key] = o
		}
	}

	// Tight range, inclusive on both ends.
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(start) })
	hi := sort.Search(len(series), func(i int) bool { return series[i].Timestamp.After(end) })
	for _, o := range series[lo:hi] {
		add(o)
	}

	if len(merged) < obstore.MinRangePoints {
		// Nearest observation immediately before the range.
		if lo > 0 {
			add(series[lo-1])
		}
	}
	if len(merged) < obstore.MinRangePoints {
		// Nearest observation immediately after the range.
		if hi < len(series) {
			add(series[hi])
		}
	}
	if len(merged) < obstore.MinRangePoints {
		// Up to WidenLimit most recent points in the 72h lookback.
		cutoff := start.Add(-obstore.WidenLookback)
		taken := 0
		for i := lo - 1; i >= 0 && taken < obstore.WidenLimit; i-- {
			if series[i].Timestamp.Before(cutoff) {
				break
			}
			add(series[i])
			taken++
		}
		// Up to WidenLimit earliest points in the 72h lookahead.
		horizon := end.Add(obstore.WidenLookback)
		taken = 0
		for i := hi; i < len(series) && taken < obstore.WidenLimit; i++ {
			if series[i].Timestamp.After(horizon) {
				break
			}
			add(series[i])
			taken++
		}
	}
	if len(merged) < obstore.AnyPointsMinimum {
		// Last resort: any points at all for this store.
		for i := 0; i < len(series) && i < obstore.AnyPointsLimit; i++ {
			add(series[i])
		}
	}

	out := make([]obstore.Observation, 0, len(merged))
	for _, o := range merged {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) LatestStatusBefore(ctx context.Context, storeID string, before time.Time) (*obstore.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.series[storeID]
	idx := sort.Search(len(series), func(i int) bool { return !series[i].Timestamp.Before(before) })
	if idx == 0 {
		return nil, nil
	}
	o := series[idx-1]
	return &o, nil
}

func (s *Store) AnyObservation(ctx context.Context, storeID string) (*obstore.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	series := s.series[storeID]
	if len(series) == 0 {
		return nil, nil
	}
	o := series[0]
	return &o, nil
}

func (s *Store) FirstTimestamp(ctx context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var first *time.Time
	for _, series := range s.series {
		if len(series) == 0 {
			continue
		}
		ts := series[0].Timestamp
		if first == nil || ts.Before(*first) {
			first = &ts
		}
	}
	return first, nil
}

func (s *Store) MaxTimestamp(ctx context.Context) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var maxTS *time.Time
	for _, series := range s.series {
		if len(series) == 0 {
			continue
		}
		ts := series[len(series)-1].Timestamp
		if maxTS == nil || ts.After(*maxTS) {
			maxTS = &ts
		}
	}
	return maxTS, nil
}

func (s *Store) BusinessHours(ctx context.Context, storeID string) ([]obstore.HoursRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rules := s.hours[storeID]
	out := make([]obstore.HoursRule, len(rules))
	copy(out, rules)
	return out, nil
}

func (s *Store) Timezone(ctx context.Context, storeID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tz, ok := s.timezones[storeID]; ok && tz != "" {
		return tz, nil
	}
	return s.cfg.DefaultTimezone, nil
}
