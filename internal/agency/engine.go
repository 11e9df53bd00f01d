package agency

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/veyra/solace/internal/channel"
	"github.com/veyra/solace/internal/clock"
	"github.com/veyra/solace/internal/orchestrator"
	"github.com/veyra/solace/internal/profile"
	"github.com/veyra/solace/internal/rategate"
	"github.com/veyra/solace/internal/schedule"
	"github.com/veyra/solace/internal/trigger"
	"go.uber.org/zap"
)

// Persister is the optional persistence boundary. A nil persister keeps all
// agency state in memory; otherwise state loads at session start and writes
// through on dispatch.
type Persister interface {
	Interactions(ctx context.Context, userID string) ([]*schedule.Interaction, error)
	SaveInteraction(ctx context.Context, in *schedule.Interaction) error
	DeleteInteraction(ctx context.Context, userID, id string) error
	FireHistory(ctx context.Context, userID string) (map[string]trigger.FireRecord, error)
	RecordFire(ctx context.Context, userID, triggerID string, at time.Time) error
	RecordDelivery(ctx context.Context, ev *orchestrator.AgencyEvent) error
}

// Options tunes the engine's periodic loops.
type Options struct {
	TriggerInterval    time.Duration // trigger evaluation cadence, default 30s
	RecurrenceInterval time.Duration // recurrence scan cadence, default 60s
	PoolSize           int           // max concurrent per-user evaluations, default 10
}

func (o Options) withDefaults() Options {
	if o.TriggerInterval <= 0 {
		o.TriggerInterval = 30 * time.Second
	}
	if o.RecurrenceInterval <= 0 {
		o.RecurrenceInterval = 60 * time.Second
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	return o
}

// SubsystemState describes the engine internals surfaced through Status.
type SubsystemState struct {
	Running            bool      `json:"running"`
	ActiveUsers        int       `json:"active_users"`
	Channels           []string  `json:"channels"`
	LastTriggerScan    time.Time `json:"last_trigger_scan"`
	LastRecurrenceScan time.Time `json:"last_recurrence_scan"`
}

// Status is the per-user view of the engine.
type Status struct {
	UserID        string                      `json:"user_id"`
	Active        bool                        `json:"active"`
	StartedAt     time.Time                   `json:"started_at,omitempty"`
	PendingEvents int                         `json:"pending_events"`
	FailedEvents  []*orchestrator.AgencyEvent `json:"failed_events,omitempty"`
	Subsystem     SubsystemState              `json:"subsystem"`
}

// Engine is the agency scheduling and delivery engine: it owns per-user
// sessions and drives two periodic loops, a fast trigger-evaluation tick
// and a slower recurrence scan, both feeding the orchestrator's queue.
type Engine struct {
	evaluator *trigger.Evaluator
	sched     *schedule.Manager
	orch      *orchestrator.Orchestrator
	gate      *rategate.Gate
	history   *trigger.FireHistory
	channels  *channel.Registry
	prefs     profile.Store
	persist   Persister
	feed      *orchestrator.Feed
	clock     clock.Clock
	logger    *zap.Logger
	opts      Options
	pool      chan struct{}

	mu       sync.RWMutex
	sessions map[string]time.Time
	starting map[string]struct{}
	lastTrig time.Time
	lastScan time.Time
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewEngine wires the engine. Persistence and the external feed are
// attached separately because both are optional.
func NewEngine(
	evaluator *trigger.Evaluator,
	sched *schedule.Manager,
	orch *orchestrator.Orchestrator,
	gate *rategate.Gate,
	history *trigger.FireHistory,
	channels *channel.Registry,
	prefs profile.Store,
	clk clock.Clock,
	logger *zap.Logger,
	opts Options,
) *Engine {
	opts = opts.withDefaults()
	e := &Engine{
		evaluator: evaluator,
		sched:     sched,
		orch:      orch,
		gate:      gate,
		history:   history,
		channels:  channels,
		prefs:     prefs,
		clock:     clk,
		logger:    logger,
		opts:      opts,
		pool:      make(chan struct{}, opts.PoolSize),
		sessions:  make(map[string]time.Time),
		starting:  make(map[string]struct{}),
	}
	orch.SetDispatchHook(e.onDispatch)
	return e
}

// SetPersister attaches the persistent store.
func (e *Engine) SetPersister(p Persister) { e.persist = p }

// SetFeed attaches the Redis external-event feed.
func (e *Engine) SetFeed(f *orchestrator.Feed) { e.feed = f }

// Start launches the periodic loops.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.running = true
	e.mu.Unlock()

	e.wg.Add(2)
	go e.loop(ctx, e.opts.TriggerInterval, e.triggerPass)
	go e.loop(ctx, e.opts.RecurrenceInterval, e.recurrencePass)

	if e.feed != nil {
		e.wg.Add(1)
		go e.feedLoop(ctx)
	}

	e.logger.Info("agency engine started",
		zap.Duration("trigger_interval", e.opts.TriggerInterval),
		zap.Duration("recurrence_interval", e.opts.RecurrenceInterval))
}

// Stop cancels the loops and waits for in-flight passes to finish, so a
// dispatch is never left half-done.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.logger.Info("agency engine stopped")
}

func (e *Engine) loop(ctx context.Context, interval time.Duration, pass func(context.Context)) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pass(ctx)
		}
	}
}

func (e *Engine) feedLoop(ctx context.Context) {
	defer e.wg.Done()
	for ev := range e.feed.Subscribe(ctx) {
		if err := e.PushExternalEvent(ctx, ev.UserID, ev.Urgency, ev.Content, ev.Metadata); err != nil {
			e.logger.Debug("dropping external event",
				zap.String("user", ev.UserID), zap.Error(err))
		}
	}
}

// triggerPass evaluates all active users in parallel within the bounded
// pool, then drains the queue once.
func (e *Engine) triggerPass(ctx context.Context) {
	users := e.activeUsers()
	var wg sync.WaitGroup
	for _, userID := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()
			e.pool <- struct{}{}
			defer func() { <-e.pool }()

			events, err := e.evaluator.Evaluate(ctx, userID)
			if err != nil {
				e.logger.Warn("trigger evaluation failed",
					zap.String("user", userID), zap.Error(err))
				return
			}
			for _, ev := range events {
				e.orch.EnqueueTrigger(ctx, ev)
			}
		}(userID)
	}
	wg.Wait()

	now := e.clock.Now()
	e.orch.Tick(ctx, now)

	e.mu.Lock()
	e.lastTrig = now
	e.mu.Unlock()
}

// recurrencePass lets the orchestrator pull due interactions and drain.
func (e *Engine) recurrencePass(ctx context.Context) {
	now := e.clock.Now()
	e.orch.Tick(ctx, now)

	e.mu.Lock()
	e.lastScan = now
	e.mu.Unlock()
}

// RunOnce performs one trigger pass and one recurrence pass synchronously.
func (e *Engine) RunOnce(ctx context.Context) {
	e.triggerPass(ctx)
	e.recurrencePass(ctx)
}

// StartAgency opens an agency session for the user. Rate-gate configuration
// and persisted state are loaded first; the session becomes visible to the
// periodic loops only once that state is in place. The user's key is
// reserved up front so concurrent starts are rejected.
func (e *Engine) StartAgency(ctx context.Context, userID string) error {
	e.mu.Lock()
	_, active := e.sessions[userID]
	_, loading := e.starting[userID]
	if active || loading {
		e.mu.Unlock()
		return fmt.Errorf("agency already started for user %s", userID)
	}
	e.starting[userID] = struct{}{}
	e.mu.Unlock()

	prefs, err := e.prefs.Preferences(ctx, userID)
	if err != nil {
		e.logger.Warn("preference load failed, using defaults",
			zap.String("user", userID), zap.Error(err))
		prefs = profile.Defaults(userID)
	}
	e.gate.Configure(userID, rategate.Config{
		QuietHours: prefs.QuietHours,
		MaxPerDay:  prefs.MaxPerDay,
	})
	for ch, addr := range prefs.Recipients {
		e.channels.SetRecipient(ch, userID, addr)
	}

	if e.persist != nil {
		if recs, err := e.persist.FireHistory(ctx, userID); err != nil {
			e.logger.Warn("fire history load failed",
				zap.String("user", userID), zap.Error(err))
		} else {
			e.history.Restore(userID, recs)
		}
		if ins, err := e.persist.Interactions(ctx, userID); err != nil {
			e.logger.Warn("interaction load failed",
				zap.String("user", userID), zap.Error(err))
		} else {
			e.sched.Restore(userID, ins)
		}
	}

	e.mu.Lock()
	delete(e.starting, userID)
	e.sessions[userID] = e.clock.Now()
	e.mu.Unlock()

	e.logger.Info("agency started", zap.String("user", userID))
	return nil
}

// StopAgency closes the user's session. Pending queue entries are dropped;
// interaction state is flushed to the store first so nothing durable is lost.
func (e *Engine) StopAgency(ctx context.Context, userID string) error {
	e.mu.Lock()
	if _, ok := e.sessions[userID]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("no agency session for user %s", userID)
	}
	delete(e.sessions, userID)
	e.mu.Unlock()

	if e.persist != nil {
		for _, in := range e.sched.List(userID) {
			if err := e.persist.SaveInteraction(ctx, in); err != nil {
				e.logger.Warn("interaction save failed",
					zap.String("user", userID),
					zap.String("interaction", in.ID),
					zap.Error(err))
			}
		}
	}

	e.orch.DropUser(userID)
	e.sched.Forget(userID)
	e.history.Forget(userID)
	e.gate.Forget(userID)

	e.logger.Info("agency stopped", zap.String("user", userID))
	return nil
}

// PushExternalEvent enqueues an externally supplied event for an active
// session, e.g. an emotional intervention from the emotion analyzer.
func (e *Engine) PushExternalEvent(ctx context.Context, userID, urgency, content string, metadata map[string]string) error {
	if !e.active(userID) {
		return fmt.Errorf("no agency session for user %s", userID)
	}
	if content == "" {
		return fmt.Errorf("external event content is required")
	}
	e.orch.EnqueueExternal(ctx, userID, urgency, content, metadata)
	return nil
}

// Status reports the user's pending and failed events plus engine state.
func (e *Engine) Status(userID string) *Status {
	e.mu.RLock()
	startedAt, active := e.sessions[userID]
	st := SubsystemState{
		Running:            e.running,
		ActiveUsers:        len(e.sessions),
		Channels:           e.channels.Names(),
		LastTriggerScan:    e.lastTrig,
		LastRecurrenceScan: e.lastScan,
	}
	e.mu.RUnlock()

	return &Status{
		UserID:        userID,
		Active:        active,
		StartedAt:     startedAt,
		PendingEvents: e.orch.PendingCount(userID),
		FailedEvents:  e.orch.FailedEvents(userID),
		Subsystem:     st,
	}
}

// AddInteraction registers a scheduled interaction for an active session.
func (e *Engine) AddInteraction(ctx context.Context, in *schedule.Interaction) (*schedule.Interaction, error) {
	if !e.active(in.UserID) {
		return nil, fmt.Errorf("no agency session for user %s", in.UserID)
	}
	stored := e.sched.Add(in)
	if e.persist != nil {
		if err := e.persist.SaveInteraction(ctx, stored); err != nil {
			e.logger.Warn("interaction save failed",
				zap.String("interaction", stored.ID), zap.Error(err))
		}
	}
	return stored, nil
}

// RemoveInteraction deletes a scheduled interaction.
func (e *Engine) RemoveInteraction(ctx context.Context, userID, id string) error {
	if !e.sched.Remove(userID, id) {
		return fmt.Errorf("interaction %s not found", id)
	}
	if e.persist != nil {
		if err := e.persist.DeleteInteraction(ctx, userID, id); err != nil {
			e.logger.Warn("interaction delete failed",
				zap.String("interaction", id), zap.Error(err))
		}
	}
	return nil
}

// Interactions lists the user's scheduled interactions.
func (e *Engine) Interactions(userID string) []*schedule.Interaction {
	return e.sched.List(userID)
}

func (e *Engine) active(userID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.sessions[userID]
	return ok
}

func (e *Engine) activeUsers() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	users := make([]string, 0, len(e.sessions))
	for u := range e.sessions {
		users = append(users, u)
	}
	return users
}

// onDispatch is the orchestrator's terminal-event hook: write-through
// persistence for deliveries and trigger bookkeeping.
func (e *Engine) onDispatch(ev *orchestrator.AgencyEvent) {
	if e.persist == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.persist.RecordDelivery(ctx, ev); err != nil {
		e.logger.Warn("delivery record failed",
			zap.String("event", ev.ID), zap.Error(err))
	}
	if !ev.Failed && ev.Source == orchestrator.SourceTrigger && ev.TriggerID != "" {
		if err := e.persist.RecordFire(ctx, ev.UserID, ev.TriggerID, ev.ExecutedAt); err != nil {
			e.logger.Warn("fire record failed",
				zap.String("event", ev.ID), zap.Error(err))
		}
	}
	if !ev.Failed && ev.Source == orchestrator.SourceSchedule && ev.InteractionID != "" {
		if in, ok := e.sched.Get(ev.UserID, ev.InteractionID); ok {
			if err := e.persist.SaveInteraction(ctx, in); err != nil {
				e.logger.Warn("interaction save failed",
					zap.String("interaction", in.ID), zap.Error(err))
			}
		}
	}
}
