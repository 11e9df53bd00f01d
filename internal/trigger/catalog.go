package trigger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Catalog is the read-only set of trigger definitions the evaluator walks.
type Catalog struct {
	triggers []*Trigger
	byID     map[string]*Trigger
	logger   *zap.Logger
}

type catalogFile struct {
	Triggers []*Trigger `json:"triggers"`
}

// NewCatalog builds a catalog from definitions, dropping entries that fail
// validation. A malformed entry is a configuration error, not a fatal one.
func NewCatalog(defs []*Trigger, logger *zap.Logger) *Catalog {
	c := &Catalog{byID: make(map[string]*Trigger), logger: logger}
	for _, t := range defs {
		if err := normalize(t); err != nil {
			logger.Warn("skipping malformed trigger",
				zap.String("trigger", t.ID),
				zap.Error(err))
			continue
		}
		if _, dup := c.byID[t.ID]; dup {
			logger.Warn("skipping duplicate trigger", zap.String("trigger", t.ID))
			continue
		}
		c.triggers = append(c.triggers, t)
		c.byID[t.ID] = t
	}
	return c
}

// LoadCatalog reads trigger definitions from a JSON file.
func LoadCatalog(path string, logger *zap.Logger) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read trigger catalog %s: %w", path, err)
	}
	var f catalogFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse trigger catalog %s: %w", path, err)
	}
	return NewCatalog(f.Triggers, logger), nil
}

// normalize resolves the textual priority/cooldown fields and validates the
// condition set against the known scorers.
func normalize(t *Trigger) error {
	if t.ID == "" {
		return fmt.Errorf("trigger id is required")
	}
	if t.PriorityName != "" {
		t.Priority = ParsePriority(t.PriorityName)
	}
	if t.CooldownText != "" {
		d, err := time.ParseDuration(t.CooldownText)
		if err != nil {
			return fmt.Errorf("cooldown: %w", err)
		}
		t.Cooldown = d
	}
	if t.Cooldown < 0 {
		// Negative cooldowns are corrected, not propagated.
		t.Cooldown = 0
	}
	if t.MaxFiresPerDay <= 0 {
		t.MaxFiresPerDay = 1
	}
	for name := range t.Conditions {
		if !KnownCondition(name) {
			return fmt.Errorf("unknown condition %q", name)
		}
	}
	return nil
}

// All returns the catalog entries in load order.
func (c *Catalog) All() []*Trigger {
	return c.triggers
}

// Get looks up a trigger by id.
func (c *Catalog) Get(id string) (*Trigger, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// Len returns the number of loaded triggers.
func (c *Catalog) Len() int { return len(c.triggers) }
