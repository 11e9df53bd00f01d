package rategate

import (
	"sync"
	"time"

	"github.com/veyra/solace/internal/clock"
	"github.com/veyra/solace/internal/profile"
	"github.com/veyra/solace/internal/trigger"
	"go.uber.org/zap"
)

// DefaultHourlyMax is the system-wide per-channel hourly safety net. It is
// not user-configurable.
const DefaultHourlyMax = 10

// Config is the per-user gating configuration, derived from preferences at
// agency start.
type Config struct {
	QuietHours profile.QuietHours
	MaxPerDay  int
}

// state holds the rolling counters for one (user, channel) pair. Counts
// reset exactly at window boundaries: the UTC day boundary for the daily
// counter and the wall-clock hour for the hourly one.
type state struct {
	dayKey    string
	dayCount  int
	hourKey   string
	hourCount int
}

// Gate enforces per-user, per-channel sending limits and quiet hours.
// Allow never increments a counter; the orchestrator reports confirmed
// dispatches through RecordSend so a channel that ultimately fails is not
// double-counted.
type Gate struct {
	mu        sync.Mutex
	configs   map[string]Config
	counters  map[string]*state // userID + "|" + channel
	hourlyMax int
	clock     clock.Clock
	logger    *zap.Logger
}

// New creates a gate. hourlyMax <= 0 selects DefaultHourlyMax.
func New(hourlyMax int, clk clock.Clock, logger *zap.Logger) *Gate {
	if hourlyMax <= 0 {
		hourlyMax = DefaultHourlyMax
	}
	return &Gate{
		configs:   make(map[string]Config),
		counters:  make(map[string]*state),
		hourlyMax: hourlyMax,
		clock:     clk,
		logger:    logger,
	}
}

// Configure sets a user's quiet hours and daily cap.
func (g *Gate) Configure(userID string, cfg Config) {
	if cfg.MaxPerDay <= 0 {
		cfg.MaxPerDay = profile.Defaults(userID).MaxPerDay
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.configs[userID] = cfg
}

// Allow reports whether a send on the channel may happen now. When denied it
// returns the next moment the send could be eligible. Critical priority
// bypasses counters and quiet hours entirely.
func (g *Gate) Allow(userID, channel string, p trigger.Priority) (bool, time.Time) {
	now := g.clock.Now()
	if p >= trigger.PriorityCritical {
		return true, now
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	cfg, ok := g.configs[userID]
	if !ok {
		cfg = Config{MaxPerDay: profile.Defaults(userID).MaxPerDay}
	}

	if end, quiet := quietUntil(cfg.QuietHours, now); quiet {
		return false, end
	}

	st := g.state(userID, channel)
	if st.dayKey == utcDay(now) && st.dayCount >= cfg.MaxPerDay {
		return false, nextUTCDay(now)
	}
	if st.hourKey == hourKey(now) && st.hourCount >= g.hourlyMax {
		return false, nextHour(now)
	}
	return true, now
}

// RecordSend increments the counters after a confirmed dispatch.
func (g *Gate) RecordSend(userID, channel string, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.state(userID, channel)
	if day := utcDay(at); st.dayKey != day {
		st.dayKey = day
		st.dayCount = 0
	}
	if hour := hourKey(at); st.hourKey != hour {
		st.hourKey = hour
		st.hourCount = 0
	}
	st.dayCount++
	st.hourCount++
}

// Forget drops a user's configuration and counters.
func (g *Gate) Forget(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.configs, userID)
	prefix := userID + "|"
	for k := range g.counters {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(g.counters, k)
		}
	}
}

func (g *Gate) state(userID, channel string) *state {
	key := userID + "|" + channel
	st, ok := g.counters[key]
	if !ok {
		st = &state{}
		g.counters[key] = st
	}
	// Reset stale windows on read so counts never carry across boundaries.
	now := g.clock.Now()
	if day := utcDay(now); st.dayKey != day {
		st.dayKey = day
		st.dayCount = 0
	}
	if hour := hourKey(now); st.hourKey != hour {
		st.hourKey = hour
		st.hourCount = 0
	}
	return st
}

// quietUntil reports whether now falls inside the quiet window and, if so,
// when the window ends (today or tomorrow for windows wrapping midnight).
func quietUntil(q profile.QuietHours, now time.Time) (time.Time, bool) {
	start, end, ok := q.Window()
	if !ok {
		return time.Time{}, false
	}
	minute := now.Hour()*60 + now.Minute()

	inside := false
	if start < end {
		inside = minute >= start && minute < end
	} else {
		inside = minute >= start || minute < end
	}
	if !inside {
		return time.Time{}, false
	}

	endToday := time.Date(now.Year(), now.Month(), now.Day(), end/60, end%60, 0, 0, now.Location())
	if !endToday.After(now) {
		endToday = endToday.AddDate(0, 0, 1)
	}
	return endToday, true
}

func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func hourKey(t time.Time) string {
	return t.Format("2006-01-02T15")
}

func nextUTCDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day()+1, 0, 0, 0, 0, time.UTC)
}

func nextHour(t time.Time) time.Time {
	return t.Truncate(time.Hour).Add(time.Hour)
}
