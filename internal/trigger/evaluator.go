package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/veyra/solace/internal/clock"
	"github.com/veyra/solace/internal/profile"
	"go.uber.org/zap"
)

// fireThreshold is the confidence a trigger must exceed to fire.
const fireThreshold = 0.5

// contentTimeout bounds the external content provider call so a slow
// provider degrades one trigger, not the whole evaluation pass.
const contentTimeout = 10 * time.Second

// Evaluator walks the catalog for a user and emits candidate events.
// It performs no bookkeeping writes: cooldowns and daily caps are charged
// by the orchestrator at successful dispatch time.
type Evaluator struct {
	catalog  *Catalog
	history  *FireHistory
	content  ContentProvider
	contexts ContextSource
	prefs    profile.Store
	scorers  *Scorers
	clock    clock.Clock
	logger   *zap.Logger
}

// NewEvaluator wires an evaluator. A nil scorer set falls back to the
// default registry.
func NewEvaluator(
	catalog *Catalog,
	history *FireHistory,
	content ContentProvider,
	contexts ContextSource,
	prefs profile.Store,
	scorers *Scorers,
	clk clock.Clock,
	logger *zap.Logger,
) *Evaluator {
	if scorers == nil {
		scorers = NewScorers(nil)
	}
	return &Evaluator{
		catalog:  catalog,
		history:  history,
		content:  content,
		contexts: contexts,
		prefs:    prefs,
		scorers:  scorers,
		clock:    clk,
		logger:   logger,
	}
}

// Evaluate checks every catalog trigger against the user's context snapshot
// and returns the events that fire this cycle.
func (e *Evaluator) Evaluate(ctx context.Context, userID string) ([]*Event, error) {
	snap, err := e.contexts.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("context snapshot for %s: %w", userID, err)
	}

	prefs, err := e.prefs.Preferences(ctx, userID)
	if err != nil {
		e.logger.Warn("preference load failed, using defaults",
			zap.String("user", userID), zap.Error(err))
		prefs = profile.Defaults(userID)
	}

	now := e.clock.Now()
	var events []*Event

	for _, t := range e.catalog.All() {
		if prefs.DisabledTriggers[t.ID] {
			continue
		}
		if last, ok := e.history.LastFired(userID, t.ID); ok && now.Sub(last) < t.Cooldown {
			continue
		}
		if e.history.FiresOn(userID, t.ID, now) >= t.MaxFiresPerDay {
			continue
		}

		confidence := e.score(t, now, snap)
		if confidence <= fireThreshold {
			continue
		}

		content, err := e.generate(ctx, t, snap)
		if err != nil {
			e.logger.Warn("content generation failed, skipping trigger this cycle",
				zap.String("user", userID),
				zap.String("trigger", t.ID),
				zap.Error(err))
			continue
		}

		method := prefs.PreferredChannel
		if method == "" {
			method = "inapp"
		}

		events = append(events, &Event{
			ID:             uuid.New().String(),
			UserID:         userID,
			TriggerID:      t.ID,
			Priority:       t.Priority,
			Confidence:     confidence,
			Content:        content,
			ScheduledAt:    now,
			Method:         method,
			Snapshot:       snap,
			Cooldown:       t.Cooldown,
			MaxFiresPerDay: t.MaxFiresPerDay,
		})
	}
	return events, nil
}

// score averages the trigger's condition sub-scores. A trigger with no
// conditions scores the neutral 0.5 and therefore never fires on its own.
func (e *Evaluator) score(t *Trigger, now time.Time, snap map[string]any) float64 {
	if len(t.Conditions) == 0 {
		return 0.5
	}
	var sum float64
	var n int
	for name, params := range t.Conditions {
		s, err := e.scorers.Score(name, now, params, snap)
		if err != nil {
			e.logger.Warn("condition scoring failed",
				zap.String("trigger", t.ID),
				zap.String("condition", name),
				zap.Error(err))
			s = 0
		}
		sum += s
		n++
	}
	return sum / float64(n)
}

func (e *Evaluator) generate(ctx context.Context, t *Trigger, snap map[string]any) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, contentTimeout)
	defer cancel()
	return e.content.Generate(cctx, t.ID, snap)
}
