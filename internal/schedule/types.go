package schedule

import (
	"time"

	"github.com/veyra/solace/internal/trigger"
)

// Pattern is the recurrence rule governing an interaction's next due time.
type Pattern string

const (
	PatternOnce    Pattern = "once"
	PatternDaily   Pattern = "daily"
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
	PatternYearly  Pattern = "yearly"
)

// KnownPattern reports whether p is a recognized recurrence pattern.
func KnownPattern(p Pattern) bool {
	switch p {
	case PatternOnce, PatternDaily, PatternWeekly, PatternMonthly, PatternYearly:
		return true
	}
	return false
}

// Interaction is a user-configured recurring outreach, e.g. a daily 09:00
// check-in. A `once` interaction is permanently disabled after it fires.
type Interaction struct {
	ID             string           `json:"id"`
	UserID         string           `json:"user_id"`
	Kind           string           `json:"kind"` // template pool reference, e.g. "checkin.daily"
	Pattern        Pattern          `json:"pattern"`
	TimeOfDay      string           `json:"time_of_day"` // "HH:MM"
	Weekdays       []time.Weekday   `json:"weekdays,omitempty"`
	DayOfMonth     *int             `json:"day_of_month,omitempty"` // nil means last day of month
	AnchorMonth    time.Month       `json:"anchor_month,omitempty"` // yearly anchor; lets Feb 29 recover in leap years
	AnchorDay      int              `json:"anchor_day,omitempty"`
	Priority       trigger.Priority `json:"priority"`
	NextExecution  time.Time        `json:"next_execution"`
	Enabled        bool             `json:"enabled"`
	LastExecuted   *time.Time       `json:"last_executed,omitempty"`
	ExecutionCount int              `json:"execution_count"`
}

// Clone returns a copy safe to hand outside the manager's lock.
func (in *Interaction) Clone() *Interaction {
	cp := *in
	if in.Weekdays != nil {
		cp.Weekdays = append([]time.Weekday(nil), in.Weekdays...)
	}
	if in.DayOfMonth != nil {
		d := *in.DayOfMonth
		cp.DayOfMonth = &d
	}
	if in.LastExecuted != nil {
		t := *in.LastExecuted
		cp.LastExecuted = &t
	}
	return &cp
}

func (in *Interaction) hasWeekday(d time.Weekday) bool {
	for _, w := range in.Weekdays {
		if w == d {
			return true
		}
	}
	return false
}
