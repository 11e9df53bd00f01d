package orchestrator

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/veyra/solace/internal/channel"
	"github.com/veyra/solace/internal/clock"
	"github.com/veyra/solace/internal/profile"
	"github.com/veyra/solace/internal/rategate"
	"github.com/veyra/solace/internal/schedule"
	"github.com/veyra/solace/internal/trigger"
	"go.uber.org/zap"
)

const (
	// maxDispatchFailures is the number of consecutive sender failures
	// after which an event is marked executed with the failure flag
	// instead of retrying forever.
	maxDispatchFailures = 3

	// sendTimeout bounds a single channel sender invocation.
	sendTimeout = 15 * time.Second

	// retryBackoff reschedules an event whose senders all errored but
	// which has strikes left.
	retryBackoff = time.Minute

	// failedKeep bounds how many terminal failures are retained per user
	// for Status reporting.
	failedKeep = 50

	// contentTimeout bounds the content provider call for due interactions.
	contentTimeout = 10 * time.Second
)

// DispatchHook observes terminal events (executed or failed), typically to
// persist delivery records.
type DispatchHook func(ev *AgencyEvent)

// Orchestrator merges trigger events, due scheduled interactions, and
// externally pushed events into one priority queue and executes them
// through the channel registry, gated by the rate gate.
type Orchestrator struct {
	mu     sync.Mutex
	queue  eventHeap
	seq    uint64
	failed map[string][]*AgencyEvent

	gate     *rategate.Gate
	channels *channel.Registry
	sched    *schedule.Manager
	history  *trigger.FireHistory
	prefs    profile.Store
	content  trigger.ContentProvider
	contexts trigger.ContextSource
	clock    clock.Clock
	logger   *zap.Logger
	hook     DispatchHook
}

// New wires an orchestrator. contexts may be nil; due interactions then get
// an empty snapshot for content generation.
func New(
	gate *rategate.Gate,
	channels *channel.Registry,
	sched *schedule.Manager,
	history *trigger.FireHistory,
	prefs profile.Store,
	content trigger.ContentProvider,
	contexts trigger.ContextSource,
	clk clock.Clock,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		failed:   make(map[string][]*AgencyEvent),
		gate:     gate,
		channels: channels,
		sched:    sched,
		history:  history,
		prefs:    prefs,
		content:  content,
		contexts: contexts,
		clock:    clk,
		logger:   logger,
	}
}

// SetDispatchHook registers the terminal-event observer.
func (o *Orchestrator) SetDispatchHook(h DispatchHook) { o.hook = h }

// Enqueue adds an event to the queue, assigning an id when missing.
func (o *Orchestrator) Enqueue(ev *AgencyEvent) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.ScheduledAt.IsZero() {
		ev.ScheduledAt = o.clock.Now()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	ev.seq = o.seq
	heap.Push(&o.queue, ev)
}

// EnqueueTrigger converts an evaluated trigger event into an agency event.
// While an earlier event for the same (user, trigger) pair sits undispatched,
// for example deferred through quiet hours, re-evaluations of the trigger are
// collapsed into it instead of queueing duplicates.
func (o *Orchestrator) EnqueueTrigger(ctx context.Context, ev *trigger.Event) {
	if o.hasPendingTrigger(ev.UserID, ev.TriggerID) {
		o.logger.Debug("trigger event already queued, collapsing duplicate",
			zap.String("user", ev.UserID),
			zap.String("trigger", ev.TriggerID))
		return
	}
	prefs := o.preferences(ctx, ev.UserID)
	o.Enqueue(&AgencyEvent{
		ID:          ev.ID,
		UserID:      ev.UserID,
		Source:      SourceTrigger,
		TriggerID:   ev.TriggerID,
		Content:     ev.Content,
		Priority:    ev.Priority,
		Channels:    deriveChannels(prefs, ev.Priority, ev.Method),
		ScheduledAt: ev.ScheduledAt,
		cooldown:    ev.Cooldown,
		maxFires:    ev.MaxFiresPerDay,
	})
}

func (o *Orchestrator) hasPendingTrigger(userID, triggerID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ev := range o.queue {
		if ev.Source == SourceTrigger && ev.UserID == userID && ev.TriggerID == triggerID {
			return true
		}
	}
	return false
}

// EnqueueExternal converts an externally pushed event (e.g. an emotional
// intervention) into an agency event. The urgency string maps onto the
// agency priority scale, capped at urgent.
func (o *Orchestrator) EnqueueExternal(ctx context.Context, userID, urgency, content string, metadata map[string]string) *AgencyEvent {
	prefs := o.preferences(ctx, userID)
	p := trigger.MapUrgency(urgency)
	ev := &AgencyEvent{
		UserID:      userID,
		Source:      SourceExternal,
		Content:     content,
		Priority:    p,
		Channels:    deriveChannels(prefs, p, metadata["method"]),
		ScheduledAt: o.clock.Now(),
		Metadata:    metadata,
	}
	o.Enqueue(ev)
	return ev.Clone()
}

// Tick pulls newly-due scheduled interactions into the queue, then drains
// every queued event whose scheduled time has passed, in strict priority
// order. Deferred events re-enter the queue with a later scheduled time.
func (o *Orchestrator) Tick(ctx context.Context, now time.Time) {
	o.pullDue(ctx, now)

	o.mu.Lock()
	var due, later []*AgencyEvent
	for o.queue.Len() > 0 {
		ev := heap.Pop(&o.queue).(*AgencyEvent)
		if ev.ScheduledAt.After(now) {
			later = append(later, ev)
			continue
		}
		due = append(due, ev)
	}
	for _, ev := range later {
		heap.Push(&o.queue, ev)
	}
	o.mu.Unlock()

	for _, ev := range due {
		if ctx.Err() != nil {
			// Engine stopping: requeue untouched so nothing is lost.
			o.Enqueue(ev)
			continue
		}
		o.dispatch(ctx, ev, now)
	}
}

// pullDue converts due scheduled interactions into agency events.
func (o *Orchestrator) pullDue(ctx context.Context, now time.Time) {
	for _, in := range o.sched.Due(now) {
		snap := map[string]any{}
		if o.contexts != nil {
			if s, err := o.contexts.Snapshot(ctx, in.UserID); err == nil {
				snap = s
			}
		}
		cctx, cancel := context.WithTimeout(ctx, contentTimeout)
		content, err := o.content.Generate(cctx, in.Kind, snap)
		cancel()
		if err != nil {
			o.logger.Warn("content generation failed, skipping scheduled occurrence",
				zap.String("user", in.UserID),
				zap.String("interaction", in.ID),
				zap.Error(err))
			continue
		}

		prefs := o.preferences(ctx, in.UserID)
		o.Enqueue(&AgencyEvent{
			UserID:        in.UserID,
			Source:        SourceSchedule,
			InteractionID: in.ID,
			Content:       content,
			Priority:      in.Priority,
			Channels:      deriveChannels(prefs, in.Priority, ""),
			ScheduledAt:   in.NextExecution,
		})
	}
}

// dispatch tries the event's candidate channels in order. The first channel
// the gate and sender both accept wins; denial everywhere defers the event.
func (o *Orchestrator) dispatch(ctx context.Context, ev *AgencyEvent, now time.Time) {
	if ev.Source == SourceTrigger && ev.TriggerID != "" && !o.triggerEligible(ev, now) {
		// A sibling for the same trigger already went out; dropping the
		// stale event is safe because the evaluator mints a fresh one as
		// soon as the cooldown and cap allow again.
		o.logger.Debug("stale trigger event dropped",
			zap.String("event", ev.ID),
			zap.String("trigger", ev.TriggerID))
		return
	}

	var earliest time.Time

	for _, ch := range ev.Channels {
		if !o.channels.Has(ch) {
			o.logger.Debug("candidate channel has no sender",
				zap.String("event", ev.ID), zap.String("channel", ch))
			continue
		}

		ok, next := o.gate.Allow(ev.UserID, ch, ev.Priority)
		if !ok {
			if earliest.IsZero() || next.Before(earliest) {
				earliest = next
			}
			continue
		}

		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := o.channels.Send(sctx, ch, &channel.Message{
			UserID:   ev.UserID,
			EventID:  ev.ID,
			Content:  ev.Content,
			Metadata: ev.Metadata,
		})
		cancel()

		if err != nil {
			// A sender error counts like "channel declined".
			ev.failures++
			o.logger.Warn("channel send failed",
				zap.String("event", ev.ID),
				zap.String("channel", ch),
				zap.Int("failures", ev.failures),
				zap.Error(err))
			if ev.failures >= maxDispatchFailures {
				o.finish(ev, now, "", true)
				return
			}
			continue
		}

		o.gate.RecordSend(ev.UserID, ch, now)
		if ev.Source == SourceTrigger && ev.TriggerID != "" {
			// Single point of truth for "did this actually go out":
			// cooldown and day-cap bookkeeping charge here, not at
			// evaluation time.
			o.history.RecordFire(ev.UserID, ev.TriggerID, now)
		}
		if ev.Source == SourceSchedule && ev.InteractionID != "" {
			o.sched.RecordExecution(ev.UserID, ev.InteractionID, now)
		}
		o.finish(ev, now, ch, false)
		return
	}

	// No channel accepted: defer, never drop.
	if !earliest.IsZero() {
		ev.ScheduledAt = earliest
	} else {
		ev.ScheduledAt = now.Add(retryBackoff)
	}
	o.logger.Debug("event deferred",
		zap.String("event", ev.ID),
		zap.Time("until", ev.ScheduledAt))
	o.Enqueue(ev)
}

func (o *Orchestrator) finish(ev *AgencyEvent, now time.Time, via string, failed bool) {
	ev.Executed = true
	ev.ExecutedAt = now
	ev.ExecutedVia = via
	ev.Failed = failed

	if failed {
		o.logger.Error("event failed permanently",
			zap.String("event", ev.ID),
			zap.String("user", ev.UserID))
		o.mu.Lock()
		list := append(o.failed[ev.UserID], ev.Clone())
		if len(list) > failedKeep {
			list = list[len(list)-failedKeep:]
		}
		o.failed[ev.UserID] = list
		o.mu.Unlock()
	} else {
		o.logger.Info("event dispatched",
			zap.String("event", ev.ID),
			zap.String("user", ev.UserID),
			zap.String("channel", via),
			zap.String("source", string(ev.Source)))
	}

	if o.hook != nil {
		o.hook(ev.Clone())
	}
}

// PendingCount returns how many events for the user wait in the queue.
func (o *Orchestrator) PendingCount(userID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, ev := range o.queue {
		if ev.UserID == userID {
			n++
		}
	}
	return n
}

// Pending returns copies of the user's queued events.
func (o *Orchestrator) Pending(userID string) []*AgencyEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*AgencyEvent
	for _, ev := range o.queue {
		if ev.UserID == userID {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// FailedEvents returns the user's permanently failed events, newest last.
func (o *Orchestrator) FailedEvents(userID string) []*AgencyEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*AgencyEvent, len(o.failed[userID]))
	for i, ev := range o.failed[userID] {
		out[i] = ev.Clone()
	}
	return out
}

// DropUser removes the user's queued events and failure records, called
// when their agency session ends.
func (o *Orchestrator) DropUser(userID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.queue[:0]
	for _, ev := range o.queue {
		if ev.UserID != userID {
			kept = append(kept, ev)
		}
	}
	o.queue = kept
	heap.Init(&o.queue)
	delete(o.failed, userID)
}

// triggerEligible re-checks the trigger's cooldown and daily cap against the
// fire history at dispatch time. The evaluator ran the same checks when the
// event was minted, but history may have advanced while the event waited.
func (o *Orchestrator) triggerEligible(ev *AgencyEvent, now time.Time) bool {
	if ev.cooldown > 0 {
		if last, ok := o.history.LastFired(ev.UserID, ev.TriggerID); ok && now.Sub(last) < ev.cooldown {
			return false
		}
	}
	if ev.maxFires > 0 && o.history.FiresOn(ev.UserID, ev.TriggerID, now) >= ev.maxFires {
		return false
	}
	return true
}

func (o *Orchestrator) preferences(ctx context.Context, userID string) *profile.Preferences {
	prefs, err := o.prefs.Preferences(ctx, userID)
	if err != nil {
		o.logger.Warn("preference load failed, using defaults",
			zap.String("user", userID), zap.Error(err))
		return profile.Defaults(userID)
	}
	return prefs
}

// deriveChannels builds the ordered candidate channel list: the user's
// preferred channel first, the push channel for high and above, a requested
// out-of-band channel for urgent and above when the user has opted in, and
// the in-app channel as the last-resort candidate.
func deriveChannels(prefs *profile.Preferences, p trigger.Priority, suggested string) []string {
	def := prefs.PreferredChannel
	if def == "" {
		def = "inapp"
	}
	chs := []string{def}

	if p >= trigger.PriorityHigh {
		push := prefs.PushChannel
		if push == "" {
			push = "push"
		}
		chs = appendUnique(chs, push)
	}
	if p >= trigger.PriorityUrgent && suggested != "" && prefs.OptedIn(suggested) {
		chs = appendUnique(chs, suggested)
	}
	// In-app is always reachable; it backstops users whose preferred
	// channel is an out-of-band one.
	return appendUnique(chs, "inapp")
}

func appendUnique(chs []string, ch string) []string {
	for _, c := range chs {
		if c == ch {
			return chs
		}
	}
	return append(chs, ch)
}
