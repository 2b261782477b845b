package timeutil

import (
	"fmt"
	"time"
)

// ToLocal converts an absolute instant to civil time in loc. Instants without
// an explicit zone are assumed to be UTC.
func ToLocal(t time.Time, loc *time.Location) time.Time {
	if t.Location() == time.Local {
		// Naive timestamps land here; treat them as UTC.
		t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	}
	return t.In(loc)
}

// ToUTC converts a civil time interpreted in loc back to UTC.
func ToUTC(local time.Time, loc *time.Location) time.Time {
	if local.Location() == time.Local {
		local = time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), loc)
	}
	return local.In(time.UTC)
}

// Weekday returns the day of week with Monday=0 .. Sunday=6, matching the
// convention used by business-hour rules.
func Weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// TimeOfDay is a clock time expressed as seconds since local midnight.
type TimeOfDay int

// ParseTimeOfDay parses an "HH:MM:SS" string.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	if _, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return 0, fmt.Errorf("time of day %q out of range", s)
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

// MustTimeOfDay is ParseTimeOfDay that panics on error, for literals in code.
func MustTimeOfDay(s string) TimeOfDay {
	tod, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return tod
}

// TimeOfDayFromTime extracts the clock time of t in its own location.
func TimeOfDayFromTime(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*3600 + t.Minute()*60 + t.Second())
}

// Minutes returns the time of day in whole minutes since midnight.
func (t TimeOfDay) Minutes() int { return int(t) / 60 }

func (t TimeOfDay) Hour() int { return int(t) / 3600 }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}
