package orchestrator

import (
	"time"

	"github.com/veyra/solace/internal/trigger"
)

// Source identifies where an agency event came from.
type Source string

const (
	SourceTrigger  Source = "trigger"
	SourceSchedule Source = "schedule"
	SourceExternal Source = "external"
)

// AgencyEvent is the channel-agnostic unit the orchestrator schedules and
// dispatches. Its single terminal transition is pending -> executed; a
// denied send is modeled as rescheduling, never as a cancelled state.
type AgencyEvent struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Source        Source            `json:"source"`
	TriggerID     string            `json:"trigger_id,omitempty"`
	InteractionID string            `json:"interaction_id,omitempty"`
	Content       string            `json:"content"`
	Priority      trigger.Priority  `json:"priority"`
	Channels      []string          `json:"channels"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Executed      bool              `json:"executed"`
	ExecutedAt    time.Time         `json:"executed_at,omitempty"`
	ExecutedVia   string            `json:"executed_via,omitempty"`
	Failed        bool              `json:"failed"`

	failures int           // consecutive sender failures
	seq      uint64        // insertion order, FIFO tiebreak
	cooldown time.Duration // trigger cooldown, re-checked at dispatch
	maxFires int           // trigger daily cap, re-checked at dispatch
}

// Clone returns a copy safe to hand outside the orchestrator's lock.
func (ev *AgencyEvent) Clone() *AgencyEvent {
	cp := *ev
	cp.Channels = append([]string(nil), ev.Channels...)
	if ev.Metadata != nil {
		cp.Metadata = make(map[string]string, len(ev.Metadata))
		for k, v := range ev.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
