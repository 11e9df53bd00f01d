package trigger

import (
	"sync"
	"time"
)

// FireRecord is the persisted bookkeeping for one (user, trigger) pair.
type FireRecord struct {
	LastFired time.Time      `json:"last_fired"`
	DayCounts map[string]int `json:"day_counts"` // UTC date -> dispatch count
}

// FireHistory tracks successful dispatches per user and trigger. It is
// written only at dispatch time, never at evaluation time, so a trigger
// that was evaluated but never delivered is not charged against its
// cooldown or daily cap.
type FireHistory struct {
	mu     sync.Mutex
	byUser map[string]map[string]*FireRecord
}

// NewFireHistory creates an empty history.
func NewFireHistory() *FireHistory {
	return &FireHistory{byUser: make(map[string]map[string]*FireRecord)}
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// LastFired returns the time of the last successful dispatch for the pair.
func (h *FireHistory) LastFired(userID, triggerID string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.byUser[userID][triggerID]
	if rec == nil || rec.LastFired.IsZero() {
		return time.Time{}, false
	}
	return rec.LastFired, true
}

// FiresOn returns the dispatch count for the pair on at's UTC calendar day.
func (h *FireHistory) FiresOn(userID, triggerID string, at time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec := h.byUser[userID][triggerID]
	if rec == nil {
		return 0
	}
	return rec.DayCounts[dayKey(at)]
}

// RecordFire registers a successful dispatch at the given time.
func (h *FireHistory) RecordFire(userID, triggerID string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	recs, ok := h.byUser[userID]
	if !ok {
		recs = make(map[string]*FireRecord)
		h.byUser[userID] = recs
	}
	rec, ok := recs[triggerID]
	if !ok {
		rec = &FireRecord{DayCounts: make(map[string]int)}
		recs[triggerID] = rec
	}
	if at.After(rec.LastFired) {
		rec.LastFired = at
	}
	key := dayKey(at)
	rec.DayCounts[key]++

	// Old day buckets are useless after the cap window passes.
	for k := range rec.DayCounts {
		if k != key {
			delete(rec.DayCounts, k)
		}
	}
}

// Restore seeds a user's history, typically from the persistent store at
// agency start.
func (h *FireHistory) Restore(userID string, recs map[string]FireRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := make(map[string]*FireRecord, len(recs))
	for id, rec := range recs {
		cp := rec
		if cp.DayCounts == nil {
			cp.DayCounts = make(map[string]int)
		}
		m[id] = &cp
	}
	h.byUser[userID] = m
}

// Snapshot returns a copy of a user's history for persistence.
func (h *FireHistory) Snapshot(userID string) map[string]FireRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]FireRecord)
	for id, rec := range h.byUser[userID] {
		cp := FireRecord{LastFired: rec.LastFired, DayCounts: make(map[string]int, len(rec.DayCounts))}
		for k, v := range rec.DayCounts {
			cp.DayCounts[k] = v
		}
		out[id] = cp
	}
	return out
}

// Forget drops a user's in-memory history.
func (h *FireHistory) Forget(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.byUser, userID)
}
