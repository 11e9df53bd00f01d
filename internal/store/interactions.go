package store

import (
	"context"
	"fmt"
	"time"

	"github.com/veyra/solace/internal/schedule"
	"github.com/veyra/solace/internal/trigger"
)

// Interactions loads a user's scheduled interactions.
func (s *Store) Interactions(ctx context.Context, userID string) ([]*schedule.Interaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, user_id, kind, pattern, time_of_day, weekdays, day_of_month,
		       anchor_month, anchor_day, priority, next_execution, enabled,
		       last_executed, execution_count
		FROM scheduled_interactions
		WHERE user_id = $1
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("load interactions: %w", err)
	}
	defer rows.Close()

	var out []*schedule.Interaction
	for rows.Next() {
		var (
			in           schedule.Interaction
			weekdays     []int32
			anchorMonth  int
			priority     string
			next         *time.Time
			lastExecuted *time.Time
		)
		if err := rows.Scan(&in.ID, &in.UserID, &in.Kind, (*string)(&in.Pattern),
			&in.TimeOfDay, &weekdays, &in.DayOfMonth, &anchorMonth, &in.AnchorDay,
			&priority, &next, &in.Enabled, &lastExecuted, &in.ExecutionCount); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		for _, d := range weekdays {
			in.Weekdays = append(in.Weekdays, time.Weekday(d))
		}
		in.AnchorMonth = time.Month(anchorMonth)
		in.Priority = trigger.ParsePriority(priority)
		if next != nil {
			in.NextExecution = *next
		}
		in.LastExecuted = lastExecuted
		out = append(out, &in)
	}
	return out, rows.Err()
}

// SaveInteraction upserts one interaction.
func (s *Store) SaveInteraction(ctx context.Context, in *schedule.Interaction) error {
	weekdays := make([]int32, len(in.Weekdays))
	for i, d := range in.Weekdays {
		weekdays[i] = int32(d)
	}
	var next *time.Time
	if !in.NextExecution.IsZero() {
		next = &in.NextExecution
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO scheduled_interactions
			(id, user_id, kind, pattern, time_of_day, weekdays, day_of_month,
			 anchor_month, anchor_day, priority, next_execution, enabled,
			 last_executed, execution_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			kind = EXCLUDED.kind,
			pattern = EXCLUDED.pattern,
			time_of_day = EXCLUDED.time_of_day,
			weekdays = EXCLUDED.weekdays,
			day_of_month = EXCLUDED.day_of_month,
			anchor_month = EXCLUDED.anchor_month,
			anchor_day = EXCLUDED.anchor_day,
			priority = EXCLUDED.priority,
			next_execution = EXCLUDED.next_execution,
			enabled = EXCLUDED.enabled,
			last_executed = EXCLUDED.last_executed,
			execution_count = EXCLUDED.execution_count`,
		in.ID, in.UserID, in.Kind, string(in.Pattern), in.TimeOfDay, weekdays,
		in.DayOfMonth, int(in.AnchorMonth), in.AnchorDay, in.Priority.String(),
		next, in.Enabled, in.LastExecuted, in.ExecutionCount)
	if err != nil {
		return fmt.Errorf("save interaction: %w", err)
	}
	return nil
}

// DeleteInteraction removes one interaction.
func (s *Store) DeleteInteraction(ctx context.Context, userID, id string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM scheduled_interactions
		WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete interaction: %w", err)
	}
	return nil
}
