package trigger

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/veyra/solace/internal/profile"
)

// ConditionFunc scores one condition against a context snapshot. The result
// is a sub-score in [0,1]; the evaluator averages sub-scores into the final
// confidence.
type ConditionFunc func(now time.Time, params, snap map[string]any) (float64, error)

// Scorers is the registry of condition scoring functions. The random source
// is injectable so random_chance triggers are testable.
type Scorers struct {
	funcs map[string]ConditionFunc
}

var knownConditions = map[string]bool{
	"time_range":             true,
	"relationship_closeness": true,
	"random_chance":          true,
	"emotional_intensity":    true,
	"emotion":                true,
	"absence_hours":          true,
	"presence":               true,
	"milestone":              true,
	"memory_age_days":        true,
}

// KnownCondition reports whether a condition name has a registered scorer.
func KnownCondition(name string) bool { return knownConditions[name] }

// NewScorers builds the default scorer set. A nil rand source falls back to
// the global one.
func NewScorers(rng *rand.Rand) *Scorers {
	roll := rand.Float64
	if rng != nil {
		roll = rng.Float64
	}
	return &Scorers{funcs: map[string]ConditionFunc{
		"time_range":             scoreTimeRange,
		"relationship_closeness": scoreCloseness,
		"random_chance":          scoreRandomChance(roll),
		"emotional_intensity":    scoreIntensity,
		"emotion":                scoreEmotion,
		"absence_hours":          scoreAbsence,
		"presence":               scorePresence,
		"milestone":              scoreMilestone,
		"memory_age_days":        scoreMemoryAge,
	}}
}

// Score evaluates one named condition.
func (s *Scorers) Score(name string, now time.Time, params, snap map[string]any) (float64, error) {
	fn, ok := s.funcs[name]
	if !ok {
		return 0, fmt.Errorf("unknown condition %q", name)
	}
	return fn(now, params, snap)
}

// scoreTimeRange is 1 inside the [start,end) wall-clock window, 0 outside.
// A window with start > end wraps past midnight.
func scoreTimeRange(now time.Time, params, _ map[string]any) (float64, error) {
	start, err := clockParam(params, "start")
	if err != nil {
		return 0, err
	}
	end, err := clockParam(params, "end")
	if err != nil {
		return 0, err
	}
	minute := now.Hour()*60 + now.Minute()
	inside := false
	if start < end {
		inside = minute >= start && minute < end
	} else {
		inside = minute >= start || minute < end
	}
	if inside {
		return 1, nil
	}
	return 0, nil
}

// scoreCloseness grades relationship closeness against a minimum: at or
// above min scores 1, below it scores proportionally.
func scoreCloseness(_ time.Time, params, snap map[string]any) (float64, error) {
	min, err := floatParam(params, "min")
	if err != nil {
		return 0, err
	}
	closeness := floatValue(snap, "relationship_closeness", 0)
	if min <= 0 || closeness >= min {
		return 1, nil
	}
	return closeness / min, nil
}

func scoreRandomChance(roll func() float64) ConditionFunc {
	return func(_ time.Time, params, _ map[string]any) (float64, error) {
		p, err := floatParam(params, "p")
		if err != nil {
			return 0, err
		}
		if roll() < p {
			return 1, nil
		}
		return 0, nil
	}
}

func scoreIntensity(_ time.Time, params, snap map[string]any) (float64, error) {
	min, err := floatParam(params, "min")
	if err != nil {
		return 0, err
	}
	intensity := floatValue(snap, "emotion_intensity", 0)
	if intensity >= min {
		return 1, nil
	}
	if min <= 0 {
		return 1, nil
	}
	return intensity / min, nil
}

// scoreEmotion is 1 when the snapshot's current emotion is in the any_of set.
func scoreEmotion(_ time.Time, params, snap map[string]any) (float64, error) {
	wanted, err := stringsParam(params, "any_of")
	if err != nil {
		return 0, err
	}
	current, _ := snap["emotion"].(string)
	for _, w := range wanted {
		if w == current {
			return 1, nil
		}
	}
	return 0, nil
}

func scoreAbsence(_ time.Time, params, snap map[string]any) (float64, error) {
	min, err := floatParam(params, "min")
	if err != nil {
		return 0, err
	}
	hours := floatValue(snap, "hours_since_last_interaction", 0)
	if hours >= min {
		return 1, nil
	}
	return 0, nil
}

func scorePresence(_ time.Time, params, snap map[string]any) (float64, error) {
	state, _ := params["state"].(string)
	if state == "" {
		return 0, fmt.Errorf("presence: state is required")
	}
	if current, _ := snap["presence"].(string); current == state {
		return 1, nil
	}
	return 0, nil
}

// scoreMilestone is 1 when any of the named milestones is active today.
func scoreMilestone(_ time.Time, params, snap map[string]any) (float64, error) {
	wanted, err := stringsParam(params, "any_of")
	if err != nil {
		return 0, err
	}
	active := stringsValue(snap, "milestones_today")
	for _, w := range wanted {
		for _, a := range active {
			if w == a {
				return 1, nil
			}
		}
	}
	return 0, nil
}

// scoreMemoryAge fires for memories older than min but younger than max days.
func scoreMemoryAge(_ time.Time, params, snap map[string]any) (float64, error) {
	min, err := floatParam(params, "min")
	if err != nil {
		return 0, err
	}
	age := floatValue(snap, "memory_age_days", -1)
	if age < 0 {
		return 0, nil
	}
	max := floatValue(params, "max", 0)
	if age >= min && (max <= 0 || age <= max) {
		return 1, nil
	}
	return 0, nil
}

func clockParam(params map[string]any, key string) (int, error) {
	s, _ := params[key].(string)
	if s == "" {
		return 0, fmt.Errorf("time_range: %s is required", key)
	}
	m, err := profile.ParseClock(s)
	if err != nil {
		return 0, fmt.Errorf("time_range: %w", err)
	}
	return m, nil
}

func floatParam(params map[string]any, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("parameter %q is required", key)
	}
	f, ok := asFloat(v)
	if !ok {
		return 0, fmt.Errorf("parameter %q must be numeric", key)
	}
	return f, nil
}

func stringsParam(params map[string]any, key string) ([]string, error) {
	out := stringsValue(params, key)
	if len(out) == 0 {
		return nil, fmt.Errorf("parameter %q must be a non-empty string list", key)
	}
	return out, nil
}

// floatValue reads a numeric snapshot field, tolerating JSON-decoded values.
func floatValue(m map[string]any, key string, fallback float64) float64 {
	if f, ok := asFloat(m[key]); ok {
		return f
	}
	return fallback
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func stringsValue(m map[string]any, key string) []string {
	switch v := m[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
