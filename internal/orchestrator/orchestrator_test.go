package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/veyra/solace/internal/channel"
	"github.com/veyra/solace/internal/clock"
	"github.com/veyra/solace/internal/profile"
	"github.com/veyra/solace/internal/rategate"
	"github.com/veyra/solace/internal/schedule"
	"github.com/veyra/solace/internal/trigger"
	"go.uber.org/zap"
)

type memorySender struct {
	name string
	sent []*channel.Message
	fail bool
}

func (m *memorySender) Name() string { return m.name }

func (m *memorySender) Send(_ context.Context, msg *channel.Message) error {
	if m.fail {
		return errors.New("sender offline")
	}
	cp := *msg
	m.sent = append(m.sent, &cp)
	return nil
}

type staticContent struct {
	text string
	err  error
}

func (s staticContent) Generate(context.Context, string, map[string]any) (string, error) {
	return s.text, s.err
}

type fixture struct {
	orch    *Orchestrator
	gate    *rategate.Gate
	sched   *schedule.Manager
	history *trigger.FireHistory
	inapp   *memorySender
	clk     *clock.Manual
}

func newFixture(t *testing.T, prefs ...*profile.Preferences) *fixture {
	t.Helper()
	logger := zap.NewNop()
	clk := clock.NewManual(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)) // Monday
	gate := rategate.New(0, clk, logger)
	sched := schedule.NewManager(clk, logger)
	history := trigger.NewFireHistory()
	reg := channel.NewRegistry(logger)
	inapp := &memorySender{name: "inapp"}
	reg.Register(inapp)

	orch := New(gate, reg, sched, history, profile.NewStaticStore(prefs...),
		staticContent{text: "scheduled hello"}, nil, clk, logger)
	return &fixture{orch: orch, gate: gate, sched: sched, history: history, inapp: inapp, clk: clk}
}

func TestDispatchUsesFirstAcceptedChannel(t *testing.T) {
	f := newFixture(t)
	f.orch.EnqueueTrigger(context.Background(), &trigger.Event{
		ID:        "e1",
		UserID:    "u1",
		TriggerID: "morning-greeting",
		Priority:  trigger.PriorityMedium,
		Content:   "good morning",
	})

	f.orch.Tick(context.Background(), f.clk.Now())

	if len(f.inapp.sent) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(f.inapp.sent))
	}
	msg := f.inapp.sent[0]
	if msg.UserID != "u1" || msg.Content != "good morning" || msg.Channel != "inapp" {
		t.Errorf("delivered message: %+v", msg)
	}
	if f.orch.PendingCount("u1") != 0 {
		t.Error("queue should be empty after dispatch")
	}
	// Bookkeeping charges at dispatch.
	if got := f.history.FiresOn("u1", "morning-greeting", f.clk.Now()); got != 1 {
		t.Errorf("fire count: got %d, want 1", got)
	}
	if _, ok := f.history.LastFired("u1", "morning-greeting"); !ok {
		t.Error("last fired should be recorded at dispatch")
	}
}

func TestDispatchDrainsInPriorityOrder(t *testing.T) {
	f := newFixture(t)
	var order []string
	f.orch.SetDispatchHook(func(ev *AgencyEvent) { order = append(order, ev.ID) })

	now := f.clk.Now()
	f.orch.Enqueue(&AgencyEvent{ID: "low", UserID: "u1", Source: SourceTrigger,
		Priority: trigger.PriorityLow, Channels: []string{"inapp"}, ScheduledAt: now})
	f.orch.Enqueue(&AgencyEvent{ID: "critical", UserID: "u1", Source: SourceTrigger,
		Priority: trigger.PriorityCritical, Channels: []string{"inapp"}, ScheduledAt: now})
	f.orch.Enqueue(&AgencyEvent{ID: "high", UserID: "u1", Source: SourceTrigger,
		Priority: trigger.PriorityHigh, Channels: []string{"inapp"}, ScheduledAt: now})

	f.orch.Tick(context.Background(), now)

	want := []string{"critical", "high", "low"}
	if len(order) != len(want) {
		t.Fatalf("dispatched %d events, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order: got %v, want %v", order, want)
		}
	}
}

func TestFutureEventsStayQueued(t *testing.T) {
	f := newFixture(t)
	now := f.clk.Now()
	f.orch.Enqueue(&AgencyEvent{UserID: "u1", Priority: trigger.PriorityHigh,
		Channels: []string{"inapp"}, ScheduledAt: now.Add(time.Hour)})

	f.orch.Tick(context.Background(), now)
	if len(f.inapp.sent) != 0 {
		t.Fatal("future event must not dispatch early")
	}
	if f.orch.PendingCount("u1") != 1 {
		t.Error("future event should remain queued")
	}

	f.clk.Advance(time.Hour)
	f.orch.Tick(context.Background(), f.clk.Now())
	if len(f.inapp.sent) != 1 {
		t.Error("event should dispatch once its time arrives")
	}
}

func TestGateDenialDefersInsteadOfDropping(t *testing.T) {
	f := newFixture(t, &profile.Preferences{UserID: "u1", PreferredChannel: "inapp", MaxPerDay: 1})
	f.gate.Configure("u1", rategate.Config{MaxPerDay: 1})
	f.gate.RecordSend("u1", "inapp", f.clk.Now())

	f.orch.Enqueue(&AgencyEvent{ID: "held", UserID: "u1", Source: SourceTrigger,
		Priority: trigger.PriorityMedium, Channels: []string{"inapp"}, ScheduledAt: f.clk.Now()})
	f.orch.Tick(context.Background(), f.clk.Now())

	if len(f.inapp.sent) != 0 {
		t.Fatal("capped event must not dispatch")
	}
	pending := f.orch.Pending("u1")
	if len(pending) != 1 {
		t.Fatalf("expected the event to be deferred, queue has %d", len(pending))
	}
	nextDay := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC)
	if !pending[0].ScheduledAt.Equal(nextDay) {
		t.Errorf("deferred until %v, want %v", pending[0].ScheduledAt, nextDay)
	}

	// The deferred event goes out once the window reopens.
	f.clk.Set(nextDay.Add(time.Minute))
	f.orch.Tick(context.Background(), f.clk.Now())
	if len(f.inapp.sent) != 1 {
		t.Error("deferred event should dispatch after the cap resets")
	}
}

func TestEnqueueTriggerCollapsesDuplicatesWhileDeferred(t *testing.T) {
	f := newFixture(t)
	// Fixture clock is 12:00; the wrapped quiet window is still closed.
	f.gate.Configure("u1", rategate.Config{
		QuietHours: profile.QuietHours{Start: "22:00", End: "13:30"},
	})
	mint := func() *trigger.Event {
		return &trigger.Event{
			UserID:         "u1",
			TriggerID:      "low-mood-support",
			Priority:       trigger.PriorityMedium,
			Content:        "thinking of you",
			Cooldown:       4 * time.Hour,
			MaxFiresPerDay: 1,
		}
	}

	f.orch.EnqueueTrigger(context.Background(), mint())
	f.orch.Tick(context.Background(), f.clk.Now()) // quiet hours defer the event

	// Re-evaluations while the event waits must not queue duplicates.
	f.orch.EnqueueTrigger(context.Background(), mint())
	f.orch.EnqueueTrigger(context.Background(), mint())
	if got := f.orch.PendingCount("u1"); got != 1 {
		t.Fatalf("pending events while deferred: got %d, want 1", got)
	}

	f.clk.Set(time.Date(2025, 3, 10, 13, 31, 0, 0, time.UTC))
	f.orch.EnqueueTrigger(context.Background(), mint())
	f.orch.Tick(context.Background(), f.clk.Now())

	if len(f.inapp.sent) != 1 {
		t.Fatalf("deliveries after quiet hours: got %d, want 1", len(f.inapp.sent))
	}
	if got := f.history.FiresOn("u1", "low-mood-support", f.clk.Now()); got != 1 {
		t.Errorf("fire count: got %d, want 1", got)
	}
	if got := f.orch.PendingCount("u1"); got != 0 {
		t.Errorf("pending after dispatch: got %d, want 0", got)
	}
}

func TestDispatchRechecksTriggerBookkeeping(t *testing.T) {
	f := newFixture(t)
	now := f.clk.Now()
	mk := func(id string) *AgencyEvent {
		return &AgencyEvent{
			ID:          id,
			UserID:      "u1",
			Source:      SourceTrigger,
			TriggerID:   "low-mood-support",
			Priority:    trigger.PriorityMedium,
			Content:     "thinking of you",
			Channels:    []string{"inapp"},
			ScheduledAt: now,
			cooldown:    4 * time.Hour,
			maxFires:    1,
		}
	}
	f.orch.Enqueue(mk("first"))
	f.orch.Enqueue(mk("second"))

	f.orch.Tick(context.Background(), now)

	// The first event dispatches and charges the bookkeeping; the second
	// is stale against the cooldown and daily cap and is dropped.
	if len(f.inapp.sent) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(f.inapp.sent))
	}
	if got := f.history.FiresOn("u1", "low-mood-support", now); got != 1 {
		t.Errorf("fire count: got %d, want 1", got)
	}
	if got := f.orch.PendingCount("u1"); got != 0 {
		t.Errorf("stale duplicate should be dropped, queue has %d", got)
	}
}

func TestSenderFailuresTerminateAfterThreeStrikes(t *testing.T) {
	f := newFixture(t)
	f.inapp.fail = true

	f.orch.Enqueue(&AgencyEvent{ID: "doomed", UserID: "u1", Source: SourceTrigger,
		TriggerID: "t1", Priority: trigger.PriorityHigh,
		Channels: []string{"inapp"}, ScheduledAt: f.clk.Now()})

	// One sender error per tick, requeued with backoff in between.
	for i := 0; i < 3; i++ {
		f.orch.Tick(context.Background(), f.clk.Now())
		f.clk.Advance(2 * time.Minute)
	}

	if f.orch.PendingCount("u1") != 0 {
		t.Error("terminally failed event should leave the queue")
	}
	failed := f.orch.FailedEvents("u1")
	if len(failed) != 1 {
		t.Fatalf("failed events: got %d, want 1", len(failed))
	}
	ev := failed[0]
	if !ev.Executed || !ev.Failed {
		t.Errorf("terminal flags: executed=%v failed=%v", ev.Executed, ev.Failed)
	}
	// A failed event never charges the trigger's cooldown bookkeeping.
	if got := f.history.FiresOn("u1", "t1", f.clk.Now()); got != 0 {
		t.Errorf("fire count after failure: got %d, want 0", got)
	}
}

func TestScheduledInteractionsFlowThroughQueue(t *testing.T) {
	f := newFixture(t)
	in := f.sched.Add(&schedule.Interaction{
		UserID:    "u1",
		Kind:      "daily-checkin",
		Pattern:   schedule.PatternDaily,
		TimeOfDay: "13:00",
		Priority:  trigger.PriorityMedium,
	})

	f.clk.Advance(2 * time.Hour) // 14:00, past the 13:00 slot
	f.orch.Tick(context.Background(), f.clk.Now())

	if len(f.inapp.sent) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(f.inapp.sent))
	}
	if f.inapp.sent[0].Content != "scheduled hello" {
		t.Errorf("content: got %q", f.inapp.sent[0].Content)
	}
	stored, _ := f.sched.Get("u1", in.ID)
	if stored.ExecutionCount != 1 {
		t.Errorf("execution count: got %d, want 1", stored.ExecutionCount)
	}
	if stored.LastExecuted == nil {
		t.Error("last executed should be stamped at dispatch")
	}
}

func TestEnqueueExternalMapsUrgency(t *testing.T) {
	f := newFixture(t)
	ev := f.orch.EnqueueExternal(context.Background(), "u1", "critical",
		"we noticed you might need support", map[string]string{"origin": "mood-monitor"})

	if ev.Priority != trigger.PriorityUrgent {
		t.Errorf("external priority capped at urgent, got %v", ev.Priority)
	}
	if ev.Source != SourceExternal {
		t.Errorf("source: got %v", ev.Source)
	}

	f.orch.Tick(context.Background(), f.clk.Now())
	if len(f.inapp.sent) != 1 {
		t.Fatal("external event should dispatch")
	}
	if f.inapp.sent[0].Metadata["origin"] != "mood-monitor" {
		t.Error("metadata should travel with the delivery")
	}
}

func TestDropUserClearsQueueAndFailures(t *testing.T) {
	f := newFixture(t)
	now := f.clk.Now()
	f.orch.Enqueue(&AgencyEvent{UserID: "u1", Priority: trigger.PriorityLow,
		Channels: []string{"inapp"}, ScheduledAt: now.Add(time.Hour)})
	f.orch.Enqueue(&AgencyEvent{UserID: "u2", Priority: trigger.PriorityLow,
		Channels: []string{"inapp"}, ScheduledAt: now.Add(time.Hour)})

	f.orch.DropUser("u1")
	if f.orch.PendingCount("u1") != 0 {
		t.Error("u1's events should be gone")
	}
	if f.orch.PendingCount("u2") != 1 {
		t.Error("u2's events must survive another user's drop")
	}
}

func TestDeriveChannels(t *testing.T) {
	prefs := &profile.Preferences{
		UserID:           "u1",
		PreferredChannel: "inapp",
		PushChannel:      "push",
		OOBChannels:      []string{"slack"},
	}

	cases := []struct {
		name      string
		priority  trigger.Priority
		suggested string
		want      []string
	}{
		{"low gets default only", trigger.PriorityLow, "", []string{"inapp"}},
		{"medium gets default only", trigger.PriorityMedium, "slack", []string{"inapp"}},
		{"high adds push", trigger.PriorityHigh, "", []string{"inapp", "push"}},
		{"urgent adds opted-in oob", trigger.PriorityUrgent, "slack", []string{"inapp", "push", "slack"}},
		{"urgent skips non-opted oob", trigger.PriorityUrgent, "discord", []string{"inapp", "push"}},
		{"critical honors opt-in list", trigger.PriorityCritical, "slack", []string{"inapp", "push", "slack"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := deriveChannels(prefs, tc.priority, tc.suggested)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestDeriveChannelsDeduplicates(t *testing.T) {
	prefs := &profile.Preferences{UserID: "u1", PreferredChannel: "push", PushChannel: "push"}
	got := deriveChannels(prefs, trigger.PriorityHigh, "")
	if len(got) != 2 || got[0] != "push" || got[1] != "inapp" {
		t.Errorf("got %v, want [push inapp]", got)
	}
}

func TestDeriveChannelsKeepsInAppBaseline(t *testing.T) {
	// A user whose preferred channel is out-of-band still gets an in-app
	// candidate, so low-priority events have somewhere to land.
	prefs := &profile.Preferences{UserID: "u1", PreferredChannel: "slack", PushChannel: "push"}
	got := deriveChannels(prefs, trigger.PriorityLow, "")
	if len(got) != 2 || got[0] != "slack" || got[1] != "inapp" {
		t.Errorf("got %v, want [slack inapp]", got)
	}
}
