package schedule

import (
	"time"

	"github.com/veyra/solace/internal/profile"
)

// ComputeNext returns the next due time strictly after from. It is a pure
// function of (interaction, from): calling it twice with the same inputs
// yields the same result, and it never mutates the interaction.
//
// A `once` interaction has no next execution; the zero time is returned and
// the caller disables the interaction.
func ComputeNext(in *Interaction, from time.Time) time.Time {
	h, m := timeOfDay(in)

	var next time.Time
	switch in.Pattern {
	case PatternOnce:
		return time.Time{}
	case PatternDaily:
		next = atClock(from.AddDate(0, 0, 1), h, m)
	case PatternWeekly:
		next = weeklyNext(in, from, h, m)
	case PatternMonthly:
		next = monthlyNext(from, in.DayOfMonth, h, m)
	case PatternYearly:
		next = yearlyNext(in, from, h, m)
	default:
		// Unrecognized patterns fall back to tomorrow; the manager logs
		// the configuration warning when the interaction is added.
		next = from.Add(24 * time.Hour)
	}

	// Clock anomalies (DST shifts, skewed from values) can land the result
	// at or before from. Add one recurrence unit and recompute once rather
	// than looping.
	if !next.After(from) {
		next = addUnit(in, next, h, m)
	}
	return next
}

// FirstExecution computes the initial due time at creation: today at the
// configured time of day, rolling forward until the pattern's constraints
// are met and the moment lies in the future.
func FirstExecution(in *Interaction, now time.Time) time.Time {
	h, m := timeOfDay(in)

	start := atClock(now, h, m)
	if !start.After(now) {
		start = start.AddDate(0, 0, 1)
	}

	switch in.Pattern {
	case PatternWeekly:
		if len(in.Weekdays) == 0 {
			return start
		}
		for d := 0; d < 7; d++ {
			cand := start.AddDate(0, 0, d)
			if in.hasWeekday(cand.Weekday()) {
				return cand
			}
		}
		return start
	case PatternMonthly:
		cand := monthlyClamp(now.Year(), now.Month(), in.DayOfMonth, h, m, now.Location())
		if cand.After(now) {
			return cand
		}
		return monthlyNext(now, in.DayOfMonth, h, m)
	default:
		return start
	}
}

func weeklyNext(in *Interaction, from time.Time, h, m int) time.Time {
	if len(in.Weekdays) == 0 {
		return atClock(from.AddDate(0, 0, 7), h, m)
	}
	for d := 1; d <= 7; d++ {
		cand := from.AddDate(0, 0, d)
		if in.hasWeekday(cand.Weekday()) {
			return atClock(cand, h, m)
		}
	}
	return atClock(from.AddDate(0, 0, 7), h, m)
}

// monthlyNext moves to the following month and clamps the configured day to
// that month's length. A nil day means the last day of the month.
func monthlyNext(from time.Time, dom *int, h, m int) time.Time {
	first := time.Date(from.Year(), from.Month()+1, 1, 0, 0, 0, 0, from.Location())
	return monthlyClamp(first.Year(), first.Month(), dom, h, m, from.Location())
}

func monthlyClamp(year int, month time.Month, dom *int, h, m int, loc *time.Location) time.Time {
	last := daysIn(year, month)
	day := last
	if dom != nil {
		day = *dom
		if day > last {
			day = last
		}
		if day < 1 {
			day = 1
		}
	}
	return time.Date(year, month, day, h, m, 0, 0, loc)
}

// yearlyNext keeps the anchor month and day one year out, substituting the
// month's last day when the anchor does not exist in the target year. The
// anchor, not the previous firing, carries the configured date forward: a
// Feb 29 interaction fires on Feb 28 in common years and returns to Feb 29
// in the next leap year.
func yearlyNext(in *Interaction, from time.Time, h, m int) time.Time {
	year := from.Year() + 1
	month := from.Month()
	day := from.Day()
	if in.AnchorMonth != 0 && in.AnchorDay != 0 {
		month = in.AnchorMonth
		day = in.AnchorDay
	}
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, h, m, 0, 0, from.Location())
}

func addUnit(in *Interaction, next time.Time, h, m int) time.Time {
	switch in.Pattern {
	case PatternDaily:
		return atClock(next.AddDate(0, 0, 1), h, m)
	case PatternWeekly:
		return atClock(next.AddDate(0, 0, 7), h, m)
	case PatternMonthly:
		return monthlyNext(next, in.DayOfMonth, h, m)
	case PatternYearly:
		return yearlyNext(in, next, h, m)
	}
	return next.Add(24 * time.Hour)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// timeOfDay parses the interaction's "HH:MM" field, defaulting to 09:00
// when unset or malformed.
func timeOfDay(in *Interaction) (int, int) {
	if in.TimeOfDay == "" {
		return 9, 0
	}
	mins, err := profile.ParseClock(in.TimeOfDay)
	if err != nil {
		return 9, 0
	}
	return mins / 60, mins % 60
}

func atClock(date time.Time, h, m int) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), h, m, 0, 0, date.Location())
}
