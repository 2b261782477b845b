package report

import (
	"context"
	"sort"
	"time"

	"github.com/storewatch/storewatch/pkg/obstore"
	"github.com/storewatch/storewatch/pkg/schedule"
	"github.com/storewatch/storewatch/pkg/timeutil"
)

// Gaps longer than this between consecutive observations are treated as
// missing coverage rather than a sustained reading of the left endpoint.
const maxReasonableGap = 3 * time.Hour

// trailingLookback is how far before the window the no-data fallback searches
// for a recent status to carry forward.
const trailingLookback = 7 * 24 * time.Hour

// noDataFallback attributes the window's whole business time when no
// observation covers it even after store-side widening. The most recent prior
// status wins; a store with some history but nothing recent defaults to
// uptime (stores are normally active), and a store with no history at all
// defaults to downtime.
func noDataFallback(ctx context.Context, store obstore.Store, storeID string, w Window, total float64) (uptime, downtime float64, err error) {
	prior, err := store.StatusInRange(ctx, storeID, w.Start.Add(-trailingLookback), w.Start)
	if err != nil {
		return 0, 0, err
	}
	if len(prior) > 0 {
		if prior[len(prior)-1].Status == obstore.StatusActive {
			return total, 0, nil
		}
		return 0, total, nil
	}

	last, err := store.LatestStatusBefore(ctx, storeID, w.Start)
	if err != nil {
		return 0, 0, err
	}
	if last != nil {
		if last.Status == obstore.StatusActive {
			return total, 0, nil
		}
		return 0, total, nil
	}

	ever, err := store.AnyObservation(ctx, storeID)
	if err != nil {
		return 0, 0, err
	}
	if ever != nil {
		return total, 0, nil
	}
	return 0, total, nil
}

// interpolate converts the observations into uptime/downtime for the window,
// in the window's unit, bounded by total.
func interpolate(obs []obstore.Observation, w Window, rules []obstore.HoursRule, loc *time.Location, total float64) (uptime, downtime float64) {
	points := make([]obstore.Observation, 0, len(obs)+2)
	points = append(points, obs...)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})

	// Extend coverage to the full window: last known status persists, and the
	// earliest status is carried back to the window start.
	if points[0].Timestamp.After(w.Start) {
		points = append([]obstore.Observation{{Timestamp: w.Start, Status: points[0].Status}}, points...)
	}
	if last := points[len(points)-1]; last.Timestamp.Before(w.End) {
		points = append(points, obstore.Observation{Timestamp: w.End, Status: last.Status})
	}

	for i := 0; i < len(points)-1; i++ {
		left := points[i]
		u, d := intervalContribution(left.Status, left.Timestamp, points[i+1].Timestamp, w, rules, loc)
		uptime += u
		downtime += d
	}

	uptime = min(uptime, total)
	downtime = min(downtime, total)
	if sum := uptime + downtime; sum > total && sum > 0 {
		ratio := total / sum
		uptime *= ratio
		downtime *= ratio
	}
	return uptime, downtime
}

// intervalContribution attributes one [start, next) interval, clipped to the
// window, to uptime or downtime based on the left endpoint's status.
//
// Long gaps get special treatment: when a gap exceeds maxReasonableGap and
// both its endpoints fall inside business hours, a single inactive ping is
// trusted for only its first hour and the remainder is reattributed to
// active. The longer the silence after a lone "down" reading, the less it is
// trusted. Gaps not bracketed by business hours keep the plain
// left-endpoint-status rule regardless of length.
func intervalContribution(status obstore.Status, start, next time.Time, w Window, rules []obstore.HoursRule, loc *time.Location) (uptime, downtime float64) {
	// Clip to the window; widened queries can hand back points outside it.
	if start.Before(w.Start) {
		start = w.Start
	}
	if next.After(w.End) {
		next = w.End
	}
	if !next.After(start) {
		return 0, 0
	}

	if next.Sub(start) > maxReasonableGap {
		localStart := timeutil.ToLocal(start, loc)
		localEnd := timeutil.ToLocal(next, loc)
		if schedule.IsOpen(localStart, rules) && schedule.IsOpen(localEnd, rules) {
			if status == obstore.StatusActive {
				return intervalBusinessTime(start, next, rules, loc, w.Kind), 0
			}
			split := start.Add(time.Hour)
			if split.After(next) {
				split = next
			}
			downtime = intervalBusinessTime(start, split, rules, loc, w.Kind)
			uptime = intervalBusinessTime(split, next, rules, loc, w.Kind)
			return uptime, downtime
		}
	}

	bt := intervalBusinessTime(start, next, rules, loc, w.Kind)
	if status == obstore.StatusActive {
		return bt, 0
	}
	return 0, bt
}
