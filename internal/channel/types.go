package channel

import (
	"context"
	"time"
)

// Message is the channel-agnostic payload a sender delivers.
type Message struct {
	UserID   string            `json:"user_id"`
	EventID  string            `json:"event_id"`
	Content  string            `json:"content"`
	Channel  string            `json:"channel"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   time.Time         `json:"sent_at"`
}

// Sender delivers messages through one concrete channel. An error from Send
// is treated as "channel declined": the orchestrator moves on to the next
// candidate channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// RecipientDirectory is implemented by senders that map engine user IDs to
// platform addresses (Slack or Discord user IDs). The engine feeds it from
// preference recipients at session start.
type RecipientDirectory interface {
	SetRecipient(userID, address string)
}
