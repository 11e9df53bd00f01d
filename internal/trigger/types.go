package trigger

import (
	"context"
	"time"
)

// Category classifies why a trigger exists.
type Category string

const (
	CategoryEmotionalState Category = "emotional-state"
	CategoryTimeBased      Category = "time-based"
	CategoryAbsenceReturn  Category = "absence-return"
	CategoryMilestone      Category = "milestone"
	CategoryContextual     Category = "contextual"
	CategoryRandom         Category = "random"
	CategoryMemory         Category = "memory-triggered"
	CategoryPresenceChange Category = "presence-change"
)

// Priority orders outreach events. Higher values drain first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityUrgent
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityUrgent:   "urgent",
	PriorityCritical: "critical",
}

func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return "medium"
}

// ParsePriority maps a priority name to its level. Unknown names become medium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "medium":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "urgent":
		return PriorityUrgent
	case "critical":
		return PriorityCritical
	}
	return PriorityMedium
}

// MapUrgency maps an externally supplied urgency string to an event priority.
// External pushes never reach critical; "critical" urgency caps at urgent so
// the rate-gate emergency bypass stays reserved for catalog triggers.
func MapUrgency(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "medium":
		return PriorityMedium
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityUrgent
	}
	return PriorityMedium
}

// Trigger is an immutable catalog entry describing when and why the agent
// may proactively contact a user. Loaded at startup; user-level overrides
// live in preferences, never in the catalog.
type Trigger struct {
	ID             string                    `json:"id"`
	Category       Category                  `json:"category"`
	Priority       Priority                  `json:"-"`
	PriorityName   string                    `json:"priority"`
	Tone           string                    `json:"tone"`
	Conditions     map[string]map[string]any `json:"conditions"`
	Cooldown       time.Duration             `json:"-"`
	CooldownText   string                    `json:"cooldown"`
	MaxFiresPerDay int                       `json:"max_fires_per_day"`
	TemplatePool   string                    `json:"template_pool"`
}

// Event is one evaluated, not-yet-delivered firing of a trigger for a user.
// Created by the Evaluator, consumed exactly once by the orchestrator, and
// never mutated afterward.
type Event struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	TriggerID   string         `json:"trigger_id"`
	Priority    Priority       `json:"priority"`
	Confidence  float64        `json:"confidence"`
	Content     string         `json:"content"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	Method      string         `json:"method"` // suggested delivery channel
	Snapshot    map[string]any `json:"snapshot,omitempty"`

	// Cooldown and MaxFiresPerDay echo the trigger's limits so the
	// orchestrator can re-check them at dispatch time; an event can sit
	// deferred long enough for a sibling to fire first.
	Cooldown       time.Duration `json:"-"`
	MaxFiresPerDay int           `json:"-"`
}

// ContentProvider supplies the message body for a trigger or schedule firing.
// Implementations live outside the engine.
type ContentProvider interface {
	Generate(ctx context.Context, sourceID string, snapshot map[string]any) (string, error)
}

// ContextSource supplies the condition inputs for a user: presence state,
// relationship closeness, recent-emotion data and similar signals.
type ContextSource interface {
	Snapshot(ctx context.Context, userID string) (map[string]any, error)
}
