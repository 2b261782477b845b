package schedule

import (
	"time"

	"github.com/storewatch/storewatch/pkg/obstore"
	"github.com/storewatch/storewatch/pkg/timeutil"
)

const (
	// Rules spanning less than this are treated as corrupt data rather than a
	// real schedule.
	minRuleMinutes = 10

	// Stores whose whole weekly schedule sums to less than this are assumed to
	// have corrupt hour records and get the standard schedule instead.
	minWeeklyMinutes = 600

	// A rule ending exactly at fullDayEnd together with a rule starting before
	// earlyMorningHour suggests round-the-clock operation.
	earlyMorningHour = 6
)

var (
	fullDayEnd    = timeutil.MustTimeOfDay("23:59:59")
	standardStart = timeutil.MustTimeOfDay("09:00:00")
	standardEnd   = timeutil.MustTimeOfDay("21:00:00")
	midnight      = timeutil.MustTimeOfDay("00:00:00")
)

// AlwaysOpen synthesizes a 24/7 schedule for a store with no hour rules.
func AlwaysOpen(storeID string) []obstore.HoursRule {
	rules := make([]obstore.HoursRule, 0, 7)
	for day := 0; day < 7; day++ {
		rules = append(rules, obstore.HoursRule{StoreID: storeID, DayOfWeek: day, Start: midnight, End: fullDayEnd})
	}
	return rules
}

// Standard synthesizes the 09:00-21:00 daily schedule substituted for
// implausible hour records.
func Standard(storeID string) []obstore.HoursRule {
	rules := make([]obstore.HoursRule, 0, 7)
	for day := 0; day < 7; day++ {
		rules = append(rules, obstore.HoursRule{StoreID: storeID, DayOfWeek: day, Start: standardStart, End: standardEnd})
	}
	return rules
}

// Normalize applies the per-store data-quality guards once, before any window
// computation: no rules at all means always open, and a weekly total under
// minWeeklyMinutes discards the schedule in favor of the standard one.
func Normalize(storeID string, rules []obstore.HoursRule) []obstore.HoursRule {
	if len(rules) == 0 {
		return AlwaysOpen(storeID)
	}
	if weeklyMinutes(rules) < minWeeklyMinutes {
		return Standard(storeID)
	}
	return rules
}

// weeklyMinutes sums the open duration of all rules, unwrapping overnight
// rules across midnight.
func weeklyMinutes(rules []obstore.HoursRule) int {
	total := 0
	for _, r := range rules {
		total += ruleMinutes(r)
	}
	return total
}

func ruleMinutes(r obstore.HoursRule) int {
	d := r.End.Minutes() - r.Start.Minutes()
	if d < 0 {
		d += 24 * 60
	}
	return d
}

func isOvernight(r obstore.HoursRule) bool {
	return r.End < r.Start
}

func isUnreasonable(r obstore.HoursRule) bool {
	return !isOvernight(r) && ruleMinutes(r) < minRuleMinutes
}

// openStrategy inspects the rules for one instant and returns a verdict, or
// nil to fall through to the next strategy. Keeping the fallbacks as an
// ordered list makes each one testable on its own.
type openStrategy struct {
	name string
	eval func(day int, tod timeutil.TimeOfDay, rules []obstore.HoursRule) *bool
}

var openStrategies = []openStrategy{
	{"direct-rules", evalDirectRules},
	{"unreasonable-default", evalUnreasonableDefault},
	{"round-the-clock", evalRoundTheClock},
	{"most-common-pair", evalMostCommonPair},
}

// IsOpen reports whether the local instant falls inside the store's business
// hours, applying the degenerate-schedule fallbacks in order.
func IsOpen(local time.Time, rules []obstore.HoursRule) bool {
	day := timeutil.Weekday(local)
	tod := timeutil.TimeOfDayFromTime(local)
	for _, s := range openStrategies {
		if v := s.eval(day, tod, rules); v != nil {
			return *v
		}
	}
	return false
}

// evalDirectRules tests the instant against the weekday's own rules. Normal
// rules under minRuleMinutes are skipped here; the unreasonable-default
// strategy deals with them.
func evalDirectRules(day int, tod timeutil.TimeOfDay, rules []obstore.HoursRule) *bool {
	open := true
	for _, r := range rules {
		if r.DayOfWeek != day {
			continue
		}
		if isOvernight(r) {
			if tod >= r.Start || tod <= r.End {
				return &open
			}
			continue
		}
		if isUnreasonable(r) {
			continue
		}
		if tod >= r.Start && tod <= r.End {
			return &open
		}
	}
	return nil
}

// evalUnreasonableDefault opens the store 09:00-21:00 when the weekday has
// rules but every one of them is implausibly short.
func evalUnreasonableDefault(day int, tod timeutil.TimeOfDay, rules []obstore.HoursRule) *bool {
	seen := false
	for _, r := range rules {
		if r.DayOfWeek != day {
			continue
		}
		seen = true
		if !isUnreasonable(r) {
			return nil
		}
	}
	if !seen {
		return nil
	}
	if tod >= standardStart && tod < standardEnd {
		open := true
		return &open
	}
	return nil
}

// evalRoundTheClock infers 24-hour operation when a rule for the weekday ends
// exactly at 23:59:59 and a rule for the same weekday starts before 06:00.
func evalRoundTheClock(day int, tod timeutil.TimeOfDay, rules []obstore.HoursRule) *bool {
	lateClose := false
	earlyOpen := false
	for _, r := range rules {
		if r.DayOfWeek != day {
			continue
		}
		if r.End == fullDayEnd {
			lateClose = true
		}
		if r.Start.Hour() < earlyMorningHour {
			earlyOpen = true
		}
	}
	if lateClose && earlyOpen {
		open := true
		return &open
	}
	return nil
}

// evalMostCommonPair handles weekdays with no rules at all: when the store has
// rules for other days, the most frequent (start, end) pair across the whole
// schedule stands in, ties broken by first encounter.
func evalMostCommonPair(day int, tod timeutil.TimeOfDay, rules []obstore.HoursRule) *bool {
	if len(rules) == 0 {
		return nil
	}
	for _, r := range rules {
		if r.DayOfWeek == day {
			return nil
		}
	}

	type pair struct{ start, end timeutil.TimeOfDay }
	counts := make(map[pair]int)
	order := make([]pair, 0, len(rules))
	for _, r := range rules {
		p := pair{r.Start, r.End}
		if _, ok := counts[p]; !ok {
			order = append(order, p)
		}
		counts[p]++
	}
	best := order[0]
	for _, p := range order[1:] {
		if counts[p] > counts[best] {
			best = p
		}
	}

	open := tod >= best.start && tod <= best.end
	if open {
		return &open
	}
	return nil
}
