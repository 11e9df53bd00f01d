package schedule

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veyra/solace/internal/clock"
	"github.com/veyra/solace/internal/profile"
	"go.uber.org/zap"
)

// Manager owns the scheduled interactions of active users and surfaces the
// ones whose due time has passed. All mutation of a user's interaction set
// goes through the manager's lock.
type Manager struct {
	mu     sync.Mutex
	byUser map[string]map[string]*Interaction
	clock  clock.Clock
	logger *zap.Logger
}

// NewManager creates an empty schedule manager.
func NewManager(clk clock.Clock, logger *zap.Logger) *Manager {
	return &Manager{
		byUser: make(map[string]map[string]*Interaction),
		clock:  clk,
		logger: logger,
	}
}

// Add registers an interaction, assigning an id and first execution time
// when missing, and returns a copy of the stored record.
func (m *Manager) Add(in *Interaction) *Interaction {
	cp := in.Clone()
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	if !KnownPattern(cp.Pattern) {
		m.logger.Warn("unrecognized recurrence pattern, falling back to daily cadence",
			zap.String("interaction", cp.ID),
			zap.String("pattern", string(cp.Pattern)))
	}
	if cp.TimeOfDay != "" {
		if _, err := profile.ParseClock(cp.TimeOfDay); err != nil {
			m.logger.Warn("invalid time of day, using 09:00",
				zap.String("interaction", cp.ID),
				zap.String("time_of_day", cp.TimeOfDay))
		}
	}
	if cp.NextExecution.IsZero() {
		cp.NextExecution = FirstExecution(cp, m.clock.Now())
	}
	if cp.Pattern == PatternYearly && (cp.AnchorMonth == 0 || cp.AnchorDay == 0) {
		cp.AnchorMonth = cp.NextExecution.Month()
		cp.AnchorDay = cp.NextExecution.Day()
	}
	cp.Enabled = true

	m.mu.Lock()
	defer m.mu.Unlock()
	ins, ok := m.byUser[cp.UserID]
	if !ok {
		ins = make(map[string]*Interaction)
		m.byUser[cp.UserID] = ins
	}
	ins[cp.ID] = cp
	return cp.Clone()
}

// Remove deletes an interaction.
func (m *Manager) Remove(userID, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins, ok := m.byUser[userID]
	if !ok {
		return false
	}
	if _, ok := ins[id]; !ok {
		return false
	}
	delete(ins, id)
	return true
}

// Get returns a copy of one interaction.
func (m *Manager) Get(userID, id string) (*Interaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.byUser[userID][id]; ok {
		return in.Clone(), true
	}
	return nil, false
}

// List returns copies of a user's interactions.
func (m *Manager) List(userID string) []*Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	ins := m.byUser[userID]
	out := make([]*Interaction, 0, len(ins))
	for _, in := range ins {
		out = append(out, in.Clone())
	}
	return out
}

// SetEnabled toggles an interaction.
func (m *Manager) SetEnabled(userID, id string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.byUser[userID][id]
	if !ok {
		return false
	}
	in.Enabled = enabled
	return true
}

// Due returns copies of all enabled interactions whose next execution has
// passed, advancing each one's next execution in the same step. A `once`
// interaction is permanently disabled here; every other pattern gets a
// strictly later next execution.
func (m *Manager) Due(now time.Time) []*Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*Interaction
	for _, ins := range m.byUser {
		for _, in := range ins {
			if !in.Enabled || in.NextExecution.IsZero() || in.NextExecution.After(now) {
				continue
			}
			due = append(due, in.Clone())

			if in.Pattern == PatternOnce {
				in.Enabled = false
				continue
			}
			next := ComputeNext(in, now)
			if !next.After(now) {
				// ComputeNext guards against this; correct defensively.
				m.logger.Warn("computed next execution not in the future, pushing one day",
					zap.String("interaction", in.ID),
					zap.Time("next", next))
				next = now.Add(24 * time.Hour)
			}
			in.NextExecution = next
		}
	}
	return due
}

// RecordExecution updates the dispatch bookkeeping for an interaction after
// its event actually went out.
func (m *Manager) RecordExecution(userID, id string, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.byUser[userID][id]
	if !ok {
		return
	}
	t := at
	in.LastExecuted = &t
	in.ExecutionCount++
}

// Restore seeds a user's interactions, typically from the persistent store
// at agency start.
func (m *Manager) Restore(userID string, ins []*Interaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]*Interaction, len(ins))
	for _, in := range ins {
		cp := in.Clone()
		if cp.NextExecution.IsZero() && cp.Enabled {
			cp.NextExecution = FirstExecution(cp, m.clock.Now())
		}
		set[cp.ID] = cp
	}
	m.byUser[userID] = set
}

// Forget drops a user's in-memory interactions.
func (m *Manager) Forget(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byUser, userID)
}
