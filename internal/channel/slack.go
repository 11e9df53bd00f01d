package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackSender delivers out-of-band messages as Slack DMs. Engine user IDs
// map to Slack user IDs via preference recipients.
type SlackSender struct {
	client     *slack.Client
	mu         sync.RWMutex
	recipients map[string]string // engine userID -> slack user ID
	dms        map[string]string // slack user ID -> opened DM channel
	logger     *zap.Logger
}

// NewSlackSender creates a Slack DM sender with a Bot User OAuth token.
func NewSlackSender(botToken string, logger *zap.Logger) *SlackSender {
	return &SlackSender{
		client:     slack.New(botToken),
		recipients: make(map[string]string),
		dms:        make(map[string]string),
		logger:     logger,
	}
}

func (s *SlackSender) Name() string { return "slack" }

// SetRecipient maps a user to their Slack user ID.
func (s *SlackSender) SetRecipient(userID, slackUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[userID] = slackUserID
}

func (s *SlackSender) Send(ctx context.Context, msg *Message) error {
	slackUser := msg.Metadata["slack_user"]
	if slackUser == "" {
		s.mu.RLock()
		slackUser = s.recipients[msg.UserID]
		s.mu.RUnlock()
	}
	if slackUser == "" {
		return fmt.Errorf("no slack recipient for user %s", msg.UserID)
	}

	dm, err := s.openDM(ctx, slackUser)
	if err != nil {
		return err
	}

	_, _, err = s.client.PostMessageContext(ctx, dm,
		slack.MsgOptionText(msg.Content, false))
	if err != nil {
		s.logger.Error("slack send failed",
			zap.String("user", msg.UserID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

func (s *SlackSender) openDM(ctx context.Context, slackUser string) (string, error) {
	s.mu.RLock()
	dm, ok := s.dms[slackUser]
	s.mu.RUnlock()
	if ok {
		return dm, nil
	}

	ch, _, _, err := s.client.OpenConversationContext(ctx, &slack.OpenConversationParameters{
		Users: []string{slackUser},
	})
	if err != nil {
		return "", fmt.Errorf("slack open dm: %w", err)
	}

	s.mu.Lock()
	s.dms[slackUser] = ch.ID
	s.mu.Unlock()
	return ch.ID, nil
}
