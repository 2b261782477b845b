package report

import (
	"time"

	"github.com/storewatch/storewatch/pkg/obstore"
	"github.com/storewatch/storewatch/pkg/schedule"
	"github.com/storewatch/storewatch/pkg/timeutil"
)

// Runaway guards for the scan loops. The graduated step sizes keep real
// windows far below these, but corrupt timestamps must not spin forever.
const (
	maxMinuteIterations   = 24 * 60
	maxHourIterations     = 24 * 7 * 2
	maxIntervalIterations = 1000
)

// businessMinutes scans [start, end) in 1-minute steps and counts the minutes
// that fall inside business hours, in the store's local time. The result is
// clipped to the range's own length, and to 60 for ranges of at most an hour.
func businessMinutes(start, end time.Time, rules []obstore.HoursRule, loc *time.Location) float64 {
	if !end.After(start) {
		return 0
	}
	maxPossible := end.Sub(start).Minutes()

	open := 0
	cur := timeutil.ToLocal(start, loc)
	localEnd := timeutil.ToLocal(end, loc)
	for i := 0; cur.Before(localEnd) && i < maxMinuteIterations; i++ {
		if schedule.IsOpen(cur, rules) {
			open++
		}
		cur = cur.Add(time.Minute)
	}

	minutes := min(float64(open), maxPossible)
	if end.Sub(start) <= time.Hour {
		minutes = min(minutes, 60)
	}
	return minutes
}

// businessHoursIn scans [start, end) with a step size graduated to the range
// length (30 minutes up to a day, 1 hour up to a week, 3 hours beyond),
// testing each step's midpoint and accumulating fractional open hours. The
// graduated step bounds total iterations regardless of range length while
// keeping sub-hour precision for short ranges.
func businessHoursIn(start, end time.Time, rules []obstore.HoursRule, loc *time.Location) float64 {
	if !end.After(start) {
		return 0
	}
	maxPossible := end.Sub(start).Hours()

	span := end.Sub(start)
	var step time.Duration
	switch {
	case span > 7*24*time.Hour:
		step = 3 * time.Hour
	case span > 24*time.Hour:
		step = time.Hour
	default:
		step = 30 * time.Minute
	}

	var open float64
	cur := timeutil.ToLocal(start, loc)
	localEnd := timeutil.ToLocal(end, loc)
	for i := 0; cur.Before(localEnd) && i < maxHourIterations; i++ {
		next := cur.Add(step)
		if next.After(localEnd) {
			next = localEnd
		}
		mid := cur.Add(next.Sub(cur) / 2)
		if schedule.IsOpen(mid, rules) {
			open += next.Sub(cur).Hours()
		}
		cur = next
	}

	hours := min(open, maxPossible)
	if span <= 24*time.Hour {
		hours = min(hours, 24)
	} else if span <= 7*24*time.Hour {
		hours = min(hours, 168)
	}
	return hours
}

// totalBusinessTime computes the window's total business time in the window's
// unit, capped at the window's nominal maximum.
func totalBusinessTime(w Window, rules []obstore.HoursRule, loc *time.Location) float64 {
	var total float64
	if w.Kind == WindowHour {
		total = businessMinutes(w.Start, w.End, rules, loc)
	} else {
		total = businessHoursIn(w.Start, w.End, rules, loc)
	}
	return min(total, w.Kind.Cap())
}

// intervalBusinessTime measures the business time inside one observation
// interval, in the window's unit. It walks the interval in 15-minute
// sub-increments and tests each sub-increment's midpoint, clipping the result
// to the interval's own nominal duration.
func intervalBusinessTime(start, end time.Time, rules []obstore.HoursRule, loc *time.Location, kind WindowKind) float64 {
	if !end.After(start) {
		return 0
	}
	maxPossible := min(kind.unitOf(end.Sub(start)), kind.Cap())

	var open float64
	cur := timeutil.ToLocal(start, loc)
	localEnd := timeutil.ToLocal(end, loc)
	for i := 0; cur.Before(localEnd) && i < maxIntervalIterations; i++ {
		next := cur.Add(15 * time.Minute)
		if next.After(localEnd) {
			next = localEnd
		}
		mid := cur.Add(next.Sub(cur) / 2)
		if schedule.IsOpen(mid, rules) {
			open += kind.unitOf(next.Sub(cur))
		}
		cur = next
	}

	return min(open, maxPossible)
}
