package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// DiscordSender delivers out-of-band messages as Discord DMs.
type DiscordSender struct {
	session    *discordgo.Session
	mu         sync.RWMutex
	recipients map[string]string // engine userID -> discord user ID
	dms        map[string]string // discord user ID -> DM channel ID
	logger     *zap.Logger
}

// NewDiscordSender creates a Discord DM sender from a bot token.
func NewDiscordSender(token string, logger *zap.Logger) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsDirectMessages
	return &DiscordSender{
		session:    session,
		recipients: make(map[string]string),
		dms:        make(map[string]string),
		logger:     logger,
	}, nil
}

// Connect opens the Discord gateway websocket.
func (d *DiscordSender) Connect() error {
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.logger.Info("discord sender connected",
		zap.String("bot", d.session.State.User.Username))
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }

// SetRecipient maps a user to their Discord user ID.
func (d *DiscordSender) SetRecipient(userID, discordUserID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recipients[userID] = discordUserID
}

func (d *DiscordSender) Send(_ context.Context, msg *Message) error {
	discordUser := msg.Metadata["discord_user"]
	if discordUser == "" {
		d.mu.RLock()
		discordUser = d.recipients[msg.UserID]
		d.mu.RUnlock()
	}
	if discordUser == "" {
		return fmt.Errorf("no discord recipient for user %s", msg.UserID)
	}

	dm, err := d.openDM(discordUser)
	if err != nil {
		return err
	}
	if _, err := d.session.ChannelMessageSend(dm, msg.Content); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

func (d *DiscordSender) openDM(discordUser string) (string, error) {
	d.mu.RLock()
	dm, ok := d.dms[discordUser]
	d.mu.RUnlock()
	if ok {
		return dm, nil
	}

	ch, err := d.session.UserChannelCreate(discordUser)
	if err != nil {
		return "", fmt.Errorf("discord open dm: %w", err)
	}

	d.mu.Lock()
	d.dms[discordUser] = ch.ID
	d.mu.Unlock()
	return ch.ID, nil
}

// Close shuts down the Discord session.
func (d *DiscordSender) Close() error {
	return d.session.Close()
}
