package obstore

import (
	"context"
	"time"

	"github.com/storewatch/storewatch/pkg/timeutil"
)

// Status is the polled store state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Observation is a single timestamped active/inactive reading for a store.
// Observations are immutable once ingested. Duplicate timestamps per store are
// possible and must not break ordering.
type Observation struct {
	StoreID   string
	Timestamp time.Time // UTC instant
	Status    Status
}

// HoursRule is one business-hour rule for one weekday, in the store's local
// time. DayOfWeek uses Monday=0 .. Sunday=6. End < Start means the interval
// crosses midnight.
type HoursRule struct {
	StoreID   string
	DayOfWeek int
	Start     timeutil.TimeOfDay
	End       timeutil.TimeOfDay
}

// Widening thresholds for StatusInRange. When a tight range query yields fewer
// than minRangePoints observations, implementations progressively widen the
// search; callers rely on this to distinguish "truly no data" stores.
const (
	MinRangePoints   = 3
	WidenLookback    = 72 * time.Hour
	WidenLimit       = 5
	AnyPointsMinimum = 2
	AnyPointsLimit   = 10
)

// Store answers read-only queries over observations, business-hour rules and
// per-store timezones. Implementations must be safe for concurrent readers.
type Store interface {
	// AllStoreIDs returns the distinct store identifiers that have
	// observations.
	AllStoreIDs(ctx context.Context) ([]string, error)

	// StatusInRange returns observations for the store inside [start, end]
	// ordered by timestamp ascending. If the tight range yields fewer than
	// MinRangePoints observations the search widens progressively: first the
	// nearest observation before start and after end, then up to WidenLimit
	// points within WidenLookback on either side, then up to AnyPointsLimit
	// points from anywhere for the store when fewer than AnyPointsMinimum were
	// found. Results are deduplicated by timestamp and re-sorted.
	StatusInRange(ctx context.Context, storeID string, start, end time.Time) ([]Observation, error)

	// LatestStatusBefore returns the most recent observation strictly before
	// the given instant, or nil when none exists.
	LatestStatusBefore(ctx context.Context, storeID string, before time.Time) (*Observation, error)

	// AnyObservation returns some observation for the store regardless of
	// time, or nil when the store has never reported. Used to pick the
	// optimistic-vs-conservative default when a window has no data.
	AnyObservation(ctx context.Context, storeID string) (*Observation, error)

	// FirstTimestamp returns the earliest observation timestamp across all
	// stores, or nil when the store is empty.
	FirstTimestamp(ctx context.Context) (*time.Time, error)

	// MaxTimestamp returns the latest observation timestamp across all stores.
	// It anchors "now" for a whole report run. Nil when the store is empty.
	MaxTimestamp(ctx context.Context) (*time.Time, error)

	// BusinessHours returns the store's rules. An empty result means the
	// caller should treat the store as always open.
	BusinessHours(ctx context.Context, storeID string) ([]HoursRule, error)

	// Timezone returns the store's IANA timezone identifier, or the configured
	// default when the store has none.
	Timezone(ctx context.Context, storeID string) (string, error)
}

// Writer is the ingestion side of a store. Report runs never write.
type Writer interface {
	InsertObservations(ctx context.Context, obs []Observation) error
	InsertHoursRules(ctx context.Context, rules []HoursRule) error
	InsertTimezones(ctx context.Context, zones map[string]string) error

	// Counts reports how many observations, hour rules and timezone rows are
	// present, so loaders can skip files that are already ingested.
	Counts(ctx context.Context) (observations, hours, timezones int64, err error)
}
