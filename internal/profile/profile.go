package profile

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// QuietHours is a per-user wall-clock window during which non-critical
// sends are suppressed. Start and End are "HH:MM"; when Start > End the
// window wraps past midnight. Empty strings mean no quiet hours.
type QuietHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Window returns the quiet window as minutes since midnight.
// ok is false when no window is configured or the values are malformed.
func (q QuietHours) Window() (start, end int, ok bool) {
	if q.Start == "" || q.End == "" {
		return 0, 0, false
	}
	start, err1 := ParseClock(q.Start)
	end, err2 := ParseClock(q.End)
	if err1 != nil || err2 != nil || start == end {
		return 0, 0, false
	}
	return start, end, true
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", s)
	}
	return h*60 + m, nil
}

// Preferences holds per-user delivery settings. The engine reads them;
// mutation belongs to whatever owns the preference store.
type Preferences struct {
	UserID           string            `json:"user_id"`
	PreferredChannel string            `json:"preferred_channel"` // default in-app channel
	PushChannel      string            `json:"push_channel"`      // added for high+ priorities
	OOBChannels      []string          `json:"oob_channels"`      // opted-in out-of-band channels
	QuietHours       QuietHours        `json:"quiet_hours"`
	MaxPerDay        int               `json:"max_per_day"` // per-channel daily send cap
	DisabledTriggers map[string]bool   `json:"disabled_triggers"`
	Recipients       map[string]string `json:"recipients"` // channel name -> platform address
}

// Store supplies preferences for a user. Implementations should return
// Defaults for unknown users rather than an error.
type Store interface {
	Preferences(ctx context.Context, userID string) (*Preferences, error)
}

// Defaults returns the baseline preferences applied when a user has no
// stored profile.
func Defaults(userID string) *Preferences {
	return &Preferences{
		UserID:           userID,
		PreferredChannel: "inapp",
		PushChannel:      "push",
		MaxPerDay:        5,
	}
}

// OptedIn reports whether the user opted in to the given out-of-band channel.
func (p *Preferences) OptedIn(channel string) bool {
	for _, c := range p.OOBChannels {
		if c == channel {
			return true
		}
	}
	return false
}

// StaticStore is an in-memory preference store for tests and single-binary
// deployments without Postgres.
type StaticStore struct {
	prefs map[string]*Preferences
}

// NewStaticStore creates a store from a fixed set of preferences.
func NewStaticStore(prefs ...*Preferences) *StaticStore {
	m := make(map[string]*Preferences, len(prefs))
	for _, p := range prefs {
		m[p.UserID] = p
	}
	return &StaticStore{prefs: m}
}

func (s *StaticStore) Preferences(_ context.Context, userID string) (*Preferences, error) {
	if p, ok := s.prefs[userID]; ok {
		return p, nil
	}
	return Defaults(userID), nil
}
