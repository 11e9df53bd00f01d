package trigger

import "time"

// BuiltinTriggers is the default catalog used when no catalog file is
// configured. IDs double as content-template pool references for the
// external content provider.
func BuiltinTriggers() []*Trigger {
	return []*Trigger{
		{
			ID:       "morning-greeting",
			Category: CategoryTimeBased,
			Priority: PriorityMedium,
			Tone:     "warm",
			Conditions: map[string]map[string]any{
				"time_range": {"start": "07:00", "end": "10:00"},
			},
			Cooldown:       20 * time.Hour,
			MaxFiresPerDay: 1,
			TemplatePool:   "greeting.morning",
		},
		{
			ID:       "evening-checkin",
			Category: CategoryTimeBased,
			Priority: PriorityLow,
			Tone:     "gentle",
			Conditions: map[string]map[string]any{
				"time_range": {"start": "20:00", "end": "23:00"},
			},
			Cooldown:       20 * time.Hour,
			MaxFiresPerDay: 1,
			TemplatePool:   "checkin.evening",
		},
		{
			ID:       "welcome-back",
			Category: CategoryAbsenceReturn,
			Priority: PriorityHigh,
			Tone:     "excited",
			Conditions: map[string]map[string]any{
				"presence":      {"state": "online"},
				"absence_hours": {"min": 48},
			},
			Cooldown:       12 * time.Hour,
			MaxFiresPerDay: 2,
			TemplatePool:   "absence.return",
		},
		{
			ID:       "low-mood-support",
			Category: CategoryEmotionalState,
			Priority: PriorityUrgent,
			Tone:     "caring",
			Conditions: map[string]map[string]any{
				"emotion":             {"any_of": []string{"sad", "anxious", "lonely"}},
				"emotional_intensity": {"min": 0.6},
			},
			Cooldown:       4 * time.Hour,
			MaxFiresPerDay: 3,
			TemplatePool:   "support.low-mood",
		},
		{
			ID:       "anniversary",
			Category: CategoryMilestone,
			Priority: PriorityHigh,
			Tone:     "celebratory",
			Conditions: map[string]map[string]any{
				"milestone": {"any_of": []string{"anniversary", "first-conversation"}},
			},
			Cooldown:       24 * time.Hour,
			MaxFiresPerDay: 1,
			TemplatePool:   "milestone.anniversary",
		},
		{
			ID:       "shared-memory",
			Category: CategoryMemory,
			Priority: PriorityLow,
			Tone:     "nostalgic",
			Conditions: map[string]map[string]any{
				"memory_age_days":        {"min": 7, "max": 90},
				"relationship_closeness": {"min": 0.5},
			},
			Cooldown:       48 * time.Hour,
			MaxFiresPerDay: 1,
			TemplatePool:   "memory.shared",
		},
		{
			ID:       "spontaneous-hello",
			Category: CategoryRandom,
			Priority: PriorityLow,
			Tone:     "playful",
			Conditions: map[string]map[string]any{
				"random_chance":          {"p": 0.05},
				"relationship_closeness": {"min": 0.3},
			},
			Cooldown:       8 * time.Hour,
			MaxFiresPerDay: 2,
			TemplatePool:   "random.hello",
		},
	}
}
