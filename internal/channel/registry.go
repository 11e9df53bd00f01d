package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Registry maps channel names to senders and routes outgoing messages.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
	logger  *zap.Logger
}

// NewRegistry creates an empty sender registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		senders: make(map[string]Sender),
		logger:  logger,
	}
}

// Register adds a sender under its channel name.
func (r *Registry) Register(s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[s.Name()] = s
	r.logger.Info("registered channel sender", zap.String("channel", s.Name()))
}

// SetRecipient forwards a user's platform address to every sender that keeps
// a recipient directory.
func (r *Registry) SetRecipient(name, userID, address string) {
	r.mu.RLock()
	s, ok := r.senders[name]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if dir, ok := s.(RecipientDirectory); ok {
		dir.SetRecipient(userID, address)
	}
}

// Has reports whether a sender exists for the channel.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.senders[name]
	return ok
}

// Send routes a message to the named channel's sender.
func (r *Registry) Send(ctx context.Context, name string, msg *Message) error {
	r.mu.RLock()
	s, ok := r.senders[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no sender for channel: %s", name)
	}
	msg.Channel = name
	return s.Send(ctx, msg)
}

// Names returns the registered channel names, sorted for determinism.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.senders))
	for n := range r.senders {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
