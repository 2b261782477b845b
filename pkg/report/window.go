package report

import "time"

// WindowKind selects the unit and cap for one of the three trailing report
// windows.
type WindowKind int

const (
	WindowHour WindowKind = iota // minutes, capped at 60
	WindowDay                    // hours, capped at 24
	WindowWeek                   // hours, capped at 168
)

func (k WindowKind) String() string {
	switch k {
	case WindowHour:
		return "hour"
	case WindowDay:
		return "day"
	case WindowWeek:
		return "week"
	}
	return "unknown"
}

// Cap is the nominal maximum of the window in its own unit.
func (k WindowKind) Cap() float64 {
	switch k {
	case WindowHour:
		return 60
	case WindowDay:
		return 24
	}
	return 168
}

// unitOf converts a duration into the window's unit.
func (k WindowKind) unitOf(d time.Duration) float64 {
	if k == WindowHour {
		return d.Minutes()
	}
	return d.Hours()
}

// Window is a trailing report period ending at the run's current-time anchor.
type Window struct {
	Start time.Time
	End   time.Time
	Kind  WindowKind
}

func windowsAt(anchor time.Time) [3]Window {
	return [3]Window{
		{Start: anchor.Add(-time.Hour), End: anchor, Kind: WindowHour},
		{Start: anchor.Add(-24 * time.Hour), End: anchor, Kind: WindowDay},
		{Start: anchor.Add(-7 * 24 * time.Hour), End: anchor, Kind: WindowWeek},
	}
}
