package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// outboxCap bounds how many undelivered messages queue up per user before
// the channel starts declining.
const outboxCap = 100

// Outbox is the in-app channel: messages queue per user until the client
// application drains them (via the API's outbox endpoint).
type Outbox struct {
	mu      sync.Mutex
	pending map[string][]*Message
	logger  *zap.Logger
}

// NewOutbox creates the in-app outbox sender.
func NewOutbox(logger *zap.Logger) *Outbox {
	return &Outbox{
		pending: make(map[string][]*Message),
		logger:  logger,
	}
}

func (o *Outbox) Name() string { return "inapp" }

// Send queues the message for the user.
func (o *Outbox) Send(_ context.Context, msg *Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.pending[msg.UserID]) >= outboxCap {
		return fmt.Errorf("outbox full for user %s", msg.UserID)
	}
	cp := *msg
	cp.SentAt = time.Now()
	o.pending[msg.UserID] = append(o.pending[msg.UserID], &cp)
	return nil
}

// Drain returns and clears the user's queued messages.
func (o *Outbox) Drain(userID string) []*Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	msgs := o.pending[userID]
	delete(o.pending, userID)
	return msgs
}

// Pending returns how many messages wait for the user.
func (o *Outbox) Pending(userID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pending[userID])
}
