package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ExternalEvent is a proactive-contact request pushed by a collaborator
// service, e.g. the emotion analyzer asking for an intervention.
type ExternalEvent struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Urgency   string            `json:"urgency"` // low | medium | high | critical
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

const eventStream = "solace:agency:events"

// Feed carries external events over a Redis Stream so collaborator services
// can push interventions without linking against the engine.
type Feed struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewFeed connects to Redis and verifies the connection.
func NewFeed(redisURL string, logger *zap.Logger) (*Feed, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Feed{rdb: rdb, logger: logger}, nil
}

// Publish appends an external event to the stream.
func (f *Feed) Publish(ctx context.Context, ev *ExternalEvent) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish external event: %w", err)
	}
	f.logger.Debug("published external event",
		zap.String("user", ev.UserID),
		zap.String("urgency", ev.Urgency))
	return nil
}

// Subscribe emits events appended to the stream after the subscription
// starts. Cancel the context to stop.
func (f *Feed) Subscribe(ctx context.Context) <-chan *ExternalEvent {
	ch := make(chan *ExternalEvent, 16)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := f.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{eventStream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var ev ExternalEvent
					if json.Unmarshal([]byte(data), &ev) == nil {
						ch <- &ev
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (f *Feed) Close() error {
	return f.rdb.Close()
}
