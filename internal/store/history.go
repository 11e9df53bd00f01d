package store

import (
	"context"
	"fmt"
	"time"

	"github.com/veyra/solace/internal/orchestrator"
	"github.com/veyra/solace/internal/trigger"
)

// FireHistory loads a user's per-trigger dispatch bookkeeping: the last
// fire time and today's (UTC) fire count.
func (s *Store) FireHistory(ctx context.Context, userID string) (map[string]trigger.FireRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT trigger_id,
		       MAX(fired_at) AS last_fired,
		       COUNT(*) FILTER (WHERE fired_at >= (now() AT TIME ZONE 'utc')::date) AS fires_today
		FROM trigger_fires
		WHERE user_id = $1
		GROUP BY trigger_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load fire history: %w", err)
	}
	defer rows.Close()

	today := time.Now().UTC().Format("2006-01-02")
	out := make(map[string]trigger.FireRecord)
	for rows.Next() {
		var (
			triggerID string
			lastFired time.Time
			count     int
		)
		if err := rows.Scan(&triggerID, &lastFired, &count); err != nil {
			return nil, fmt.Errorf("scan fire history: %w", err)
		}
		rec := trigger.FireRecord{LastFired: lastFired, DayCounts: map[string]int{}}
		if count > 0 {
			rec.DayCounts[today] = count
		}
		out[triggerID] = rec
	}
	return out, rows.Err()
}

// RecordFire appends one successful trigger dispatch.
func (s *Store) RecordFire(ctx context.Context, userID, triggerID string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO trigger_fires (id, user_id, trigger_id, fired_at)
		VALUES (gen_random_uuid(), $1, $2, $3)`,
		userID, triggerID, at)
	if err != nil {
		return fmt.Errorf("record fire: %w", err)
	}
	return nil
}

// RecordDelivery appends a terminal event to the delivery log, failed
// dispatches included so they stay auditable.
func (s *Store) RecordDelivery(ctx context.Context, ev *orchestrator.AgencyEvent) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO deliveries
			(id, event_id, user_id, source, trigger_id, interaction_id,
			 priority, channel, failed, content, executed_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ev.ID, ev.UserID, string(ev.Source), ev.TriggerID, ev.InteractionID,
		ev.Priority.String(), ev.ExecutedVia, ev.Failed, ev.Content, ev.ExecutedAt)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}
