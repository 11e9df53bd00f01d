package content

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/veyra/solace/internal/trigger"
	"go.uber.org/zap"
)

// TemplateProvider renders outreach messages from template pools. It is the
// single-binary content generator: a trigger's template_pool reference wins,
// then the pool registered under the source id itself, then the fallback
// pool. Template variables use {{name}} and resolve against the context
// snapshot.
type TemplateProvider struct {
	mu      sync.RWMutex
	catalog *trigger.Catalog
	pools   map[string][]string
	roll    func(n int) int
	logger  *zap.Logger
}

// NewTemplateProvider creates a provider over the catalog. rng may be nil.
func NewTemplateProvider(catalog *trigger.Catalog, rng *rand.Rand, logger *zap.Logger) *TemplateProvider {
	roll := rand.Intn
	if rng != nil {
		roll = rng.Intn
	}
	return &TemplateProvider{
		catalog: catalog,
		pools:   defaultPools(),
		roll:    roll,
		logger:  logger,
	}
}

// RegisterPool sets the templates for a source id (a trigger id or an
// interaction kind), replacing any previous pool.
func (p *TemplateProvider) RegisterPool(sourceID string, templates []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[sourceID] = append([]string(nil), templates...)
}

// Generate picks a template for the source and fills in snapshot variables.
func (p *TemplateProvider) Generate(_ context.Context, sourceID string, snap map[string]any) (string, error) {
	pool := p.pool(sourceID)
	if len(pool) == 0 {
		return "", fmt.Errorf("no templates for source %s", sourceID)
	}
	tpl := pool[p.roll(len(pool))]
	return render(tpl, snap), nil
}

func (p *TemplateProvider) pool(sourceID string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.catalog != nil {
		if t, ok := p.catalog.Get(sourceID); ok && t.TemplatePool != "" {
			if pool, ok := p.pools[t.TemplatePool]; ok {
				return pool
			}
		}
	}
	if pool, ok := p.pools[sourceID]; ok {
		return pool
	}
	return p.pools[fallbackPool]
}

// render substitutes {{name}} markers with snapshot values. Unknown markers
// are left in place so a missing variable is visible downstream.
func render(tpl string, snap map[string]any) string {
	out := tpl
	for key, val := range snap {
		marker := "{{" + key + "}}"
		if strings.Contains(out, marker) {
			out = strings.ReplaceAll(out, marker, fmt.Sprintf("%v", val))
		}
	}
	return out
}

const fallbackPool = "_fallback"

func defaultPools() map[string][]string {
	return map[string][]string{
		fallbackPool: {
			"Hey, just thinking of you. How are things?",
			"Checking in. How has your day been?",
		},
		"greeting.morning": {
			"Good morning! Hope today treats you well.",
			"Morning! Anything exciting planned for today?",
		},
		"checkin.evening": {
			"The day is winding down. Want to talk about how it went?",
			"Evening already. What was the best part of your day?",
		},
		"absence.return": {
			"Welcome back! It has been a while, I missed our talks.",
			"There you are! How have you been?",
		},
		"support.low-mood": {
			"I noticed things might be heavy right now. I am here if you want to talk.",
			"No pressure, but I am around if you need an ear.",
		},
		"milestone.anniversary": {
			"Today marks something special for us. Happy anniversary!",
			"A little milestone worth celebrating today.",
		},
		"memory.shared": {
			"I was just remembering {{memory_summary}}. That was a good one.",
			"Something reminded me of a moment we shared. Want to revisit it?",
		},
		"random.hello": {
			"Hello! No reason, just wanted to say hi.",
			"Popping in to say hey. Hope your day is going well.",
		},
		"daily-checkin": {
			"Good to see another day together. How are you feeling?",
			"Quick check-in: anything on your mind today?",
		},
	}
}

// EmptySource supplies an empty context snapshot. Time-based triggers still
// work with it; signal-driven ones stay quiet.
type EmptySource struct{}

func (EmptySource) Snapshot(context.Context, string) (map[string]any, error) {
	return map[string]any{}, nil
}
