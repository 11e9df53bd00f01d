package orchestrator

import (
	"container/heap"
	"testing"
	"time"

	"github.com/veyra/solace/internal/trigger"
)

func TestEventHeapOrdering(t *testing.T) {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	var h eventHeap
	push := func(id string, p trigger.Priority, at time.Time, seq uint64) {
		heap.Push(&h, &AgencyEvent{ID: id, Priority: p, ScheduledAt: at, seq: seq})
	}

	push("low-early", trigger.PriorityLow, base, 1)
	push("critical-late", trigger.PriorityCritical, base.Add(time.Hour), 2)
	push("high-a", trigger.PriorityHigh, base, 3)
	push("high-b", trigger.PriorityHigh, base, 4)
	push("high-earlier", trigger.PriorityHigh, base.Add(-time.Minute), 5)

	want := []string{"critical-late", "high-earlier", "high-a", "high-b", "low-early"}
	for i, id := range want {
		got := heap.Pop(&h).(*AgencyEvent).ID
		if got != id {
			t.Fatalf("pop %d: got %s, want %s", i, got, id)
		}
	}
}
