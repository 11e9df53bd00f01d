package schedule

import (
	"testing"
	"time"
)

func mustDate(y int, mo time.Month, d, h, m int) time.Time {
	return time.Date(y, mo, d, h, m, 0, 0, time.UTC)
}

func TestComputeNextDaily(t *testing.T) {
	in := &Interaction{Pattern: PatternDaily, TimeOfDay: "09:00"}
	from := mustDate(2025, 3, 10, 22, 0)

	got := ComputeNext(in, from)
	want := mustDate(2025, 3, 11, 9, 0)
	if !got.Equal(want) {
		t.Errorf("daily: got %v, want %v", got, want)
	}
}

func TestComputeNextWeekly(t *testing.T) {
	// Fired on a Thursday; next Monday is 4 days out.
	in := &Interaction{
		Pattern:   PatternWeekly,
		TimeOfDay: "09:00",
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday},
	}
	from := mustDate(2025, 3, 13, 9, 0) // Thursday

	got := ComputeNext(in, from)
	want := mustDate(2025, 3, 17, 9, 0) // Monday
	if !got.Equal(want) {
		t.Errorf("weekly: got %v, want %v", got, want)
	}
}

func TestComputeNextWeeklyEmptySet(t *testing.T) {
	in := &Interaction{Pattern: PatternWeekly, TimeOfDay: "09:00"}
	from := mustDate(2025, 3, 13, 9, 0)

	got := ComputeNext(in, from)
	want := mustDate(2025, 3, 20, 9, 0)
	if !got.Equal(want) {
		t.Errorf("weekly empty set: got %v, want %v", got, want)
	}
}

func TestComputeNextMonthlyClampsDay(t *testing.T) {
	day := 31
	in := &Interaction{Pattern: PatternMonthly, TimeOfDay: "10:00", DayOfMonth: &day}
	from := mustDate(2025, 1, 31, 10, 0)

	got := ComputeNext(in, from)
	want := mustDate(2025, 2, 28, 10, 0) // February 2025 has 28 days
	if !got.Equal(want) {
		t.Errorf("monthly clamp: got %v, want %v", got, want)
	}
}

func TestComputeNextMonthlyNilDayUsesLastDay(t *testing.T) {
	in := &Interaction{Pattern: PatternMonthly, TimeOfDay: "10:00"}
	from := mustDate(2025, 3, 15, 10, 0)

	got := ComputeNext(in, from)
	want := mustDate(2025, 4, 30, 10, 0)
	if !got.Equal(want) {
		t.Errorf("monthly last day: got %v, want %v", got, want)
	}
}

func TestComputeNextYearlyLeapDay(t *testing.T) {
	in := &Interaction{Pattern: PatternYearly, TimeOfDay: "12:00"}
	from := mustDate(2024, 2, 29, 12, 0)

	got := ComputeNext(in, from)
	want := mustDate(2025, 2, 28, 12, 0)
	if !got.Equal(want) {
		t.Errorf("yearly leap day: got %v, want %v", got, want)
	}
}

func TestComputeNextYearlyAnchorRecoversLeapDay(t *testing.T) {
	in := &Interaction{
		Pattern:     PatternYearly,
		TimeOfDay:   "12:00",
		AnchorMonth: time.February,
		AnchorDay:   29,
	}

	// Feb 28 substitutes through the common years, then the anchor
	// restores Feb 29 in 2028.
	from := mustDate(2024, 2, 29, 12, 0)
	wants := []time.Time{
		mustDate(2025, 2, 28, 12, 0),
		mustDate(2026, 2, 28, 12, 0),
		mustDate(2027, 2, 28, 12, 0),
		mustDate(2028, 2, 29, 12, 0),
	}
	for _, want := range wants {
		got := ComputeNext(in, from)
		if !got.Equal(want) {
			t.Fatalf("yearly anchor from %v: got %v, want %v", from, got, want)
		}
		from = got
	}
}

func TestComputeNextOnceReturnsZero(t *testing.T) {
	in := &Interaction{Pattern: PatternOnce, TimeOfDay: "12:00"}
	if got := ComputeNext(in, mustDate(2025, 3, 10, 12, 0)); !got.IsZero() {
		t.Errorf("once: got %v, want zero time", got)
	}
}

func TestComputeNextUnknownPatternFallsBack(t *testing.T) {
	in := &Interaction{Pattern: Pattern("fortnightly"), TimeOfDay: "12:00"}
	from := mustDate(2025, 3, 10, 12, 0)

	got := ComputeNext(in, from)
	want := from.Add(24 * time.Hour)
	if !got.Equal(want) {
		t.Errorf("unknown pattern: got %v, want %v", got, want)
	}
}

func TestComputeNextIsIdempotent(t *testing.T) {
	day := 15
	ins := []*Interaction{
		{Pattern: PatternDaily, TimeOfDay: "09:00"},
		{Pattern: PatternWeekly, TimeOfDay: "09:00", Weekdays: []time.Weekday{time.Friday}},
		{Pattern: PatternMonthly, TimeOfDay: "09:00", DayOfMonth: &day},
		{Pattern: PatternYearly, TimeOfDay: "09:00"},
	}
	from := mustDate(2025, 3, 10, 14, 30)
	for _, in := range ins {
		first := ComputeNext(in, from)
		second := ComputeNext(in, from)
		if !first.Equal(second) {
			t.Errorf("%s: ComputeNext not idempotent: %v vs %v", in.Pattern, first, second)
		}
		if !first.After(from) {
			t.Errorf("%s: next execution %v not after from %v", in.Pattern, first, from)
		}
	}
}

func TestFirstExecutionRollsToTomorrow(t *testing.T) {
	in := &Interaction{Pattern: PatternDaily, TimeOfDay: "09:00"}
	now := mustDate(2025, 3, 10, 10, 0) // past 09:00

	got := FirstExecution(in, now)
	want := mustDate(2025, 3, 11, 9, 0)
	if !got.Equal(want) {
		t.Errorf("first execution: got %v, want %v", got, want)
	}
}

func TestFirstExecutionTodayWhenPending(t *testing.T) {
	in := &Interaction{Pattern: PatternDaily, TimeOfDay: "21:00"}
	now := mustDate(2025, 3, 10, 10, 0)

	got := FirstExecution(in, now)
	want := mustDate(2025, 3, 10, 21, 0)
	if !got.Equal(want) {
		t.Errorf("first execution: got %v, want %v", got, want)
	}
}

func TestFirstExecutionWeeklyScansForward(t *testing.T) {
	// Created on a Thursday with {Mon,Wed}: first run is next Monday 09:00.
	in := &Interaction{
		Pattern:   PatternWeekly,
		TimeOfDay: "09:00",
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday},
	}
	now := mustDate(2025, 3, 13, 11, 0) // Thursday, 09:00 already past

	got := FirstExecution(in, now)
	want := mustDate(2025, 3, 17, 9, 0) // Monday
	if !got.Equal(want) {
		t.Errorf("weekly first execution: got %v, want %v", got, want)
	}
}

func TestFirstExecutionMonthlyClampsToLastDay(t *testing.T) {
	// Day 31 requested in 30-day April: runs on April 30.
	day := 31
	in := &Interaction{Pattern: PatternMonthly, TimeOfDay: "09:00", DayOfMonth: &day}
	now := mustDate(2025, 4, 10, 8, 0)

	got := FirstExecution(in, now)
	want := mustDate(2025, 4, 30, 9, 0)
	if !got.Equal(want) {
		t.Errorf("monthly first execution: got %v, want %v", got, want)
	}
}
