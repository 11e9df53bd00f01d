package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/veyra/solace/internal/profile"
)

// Preferences implements profile.Store. Unknown users get the defaults
// rather than an error.
func (s *Store) Preferences(ctx context.Context, userID string) (*profile.Preferences, error) {
	var (
		p              profile.Preferences
		oob            []string
		disabled       []string
		recipientsJSON []byte
	)
	err := s.db.QueryRow(ctx, `
		SELECT user_id, preferred_channel, push_channel, oob_channels,
		       quiet_start, quiet_end, max_per_day, disabled_triggers, recipients
		FROM user_preferences
		WHERE user_id = $1`, userID,
	).Scan(&p.UserID, &p.PreferredChannel, &p.PushChannel, &oob,
		&p.QuietHours.Start, &p.QuietHours.End, &p.MaxPerDay, &disabled, &recipientsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return profile.Defaults(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load preferences: %w", err)
	}

	p.OOBChannels = oob
	p.DisabledTriggers = make(map[string]bool, len(disabled))
	for _, id := range disabled {
		p.DisabledTriggers[id] = true
	}
	if len(recipientsJSON) > 0 {
		if err := json.Unmarshal(recipientsJSON, &p.Recipients); err != nil {
			return nil, fmt.Errorf("parse recipients: %w", err)
		}
	}
	return &p, nil
}

// SavePreferences upserts a user's preferences.
func (s *Store) SavePreferences(ctx context.Context, p *profile.Preferences) error {
	disabled := make([]string, 0, len(p.DisabledTriggers))
	for id, off := range p.DisabledTriggers {
		if off {
			disabled = append(disabled, id)
		}
	}
	recipients, err := json.Marshal(p.Recipients)
	if err != nil {
		return fmt.Errorf("marshal recipients: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO user_preferences
			(user_id, preferred_channel, push_channel, oob_channels,
			 quiet_start, quiet_end, max_per_day, disabled_triggers, recipients)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_channel = EXCLUDED.preferred_channel,
			push_channel = EXCLUDED.push_channel,
			oob_channels = EXCLUDED.oob_channels,
			quiet_start = EXCLUDED.quiet_start,
			quiet_end = EXCLUDED.quiet_end,
			max_per_day = EXCLUDED.max_per_day,
			disabled_triggers = EXCLUDED.disabled_triggers,
			recipients = EXCLUDED.recipients`,
		p.UserID, p.PreferredChannel, p.PushChannel, p.OOBChannels,
		p.QuietHours.Start, p.QuietHours.End, p.MaxPerDay, disabled, recipients)
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}
