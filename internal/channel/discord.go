package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/JaakkoLipp/jarvis/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen = 2000
	// Discord shows a typing indicator for ~10s per trigger.
	discordTypingRefresh = 8 * time.Second
)

// Discord implements domain.Gateway for Discord.
type Discord struct {
	token        string
	guildID      string
	onDisconnect func()
	logger       *slog.Logger

	mu      sync.RWMutex
	onReady func()
	session *discordgo.Session
	selfID  string
}

// DiscordConfig configures the Discord gateway.
type DiscordConfig struct {
	Token   string
	GuildID string // optional: ignore messages from other guilds
	// OnDisconnect runs every time the gateway websocket drops.
	OnDisconnect func()
	Logger       *slog.Logger
}

// NewDiscord creates a new Discord gateway.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:        cfg.Token,
		guildID:      cfg.GuildID,
		onDisconnect: cfg.OnDisconnect,
		logger:       cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) MaxMessageLen() int { return discordMaxMsgLen }

// AddressTokens returns both mention forms of the bot user, <@id> and the legacy <@!id>.
func (d *Discord) AddressTokens() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return discordMentionTokens(d.selfID)
}

// Start connects to Discord using a bot token and blocks until ctx is done.
func (d *Discord) Start(ctx context.Context, publish domain.PublishFunc, onReady func()) error {
	if d.token == "" {
		return errors.New("discord: token is required")
	}

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.mu.Lock()
	d.session = session
	d.onReady = onReady
	d.mu.Unlock()

	session.AddHandler(d.handleReady)
	session.AddHandler(d.handleResumed)
	session.AddHandler(d.handleDisconnect)
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}

		d.mu.RLock()
		self := d.selfID
		d.mu.RUnlock()

		ev := discordInboundEvent(m.Message, self)
		d.logger.Debug("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(m.Content),
		)
		publish(ev)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	d.mu.Lock()
	d.selfID = r.User.ID
	onReady := d.onReady
	d.mu.Unlock()

	d.logger.Info("discord bot ready", "user", r.User.Username, "id", r.User.ID, "guilds", len(r.Guilds))
	if onReady != nil {
		onReady()
	}
}

// handleResumed runs after a reconnect that resumed the previous session.
// Discord sends no Ready in that case.
func (d *Discord) handleResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	d.mu.RLock()
	onReady := d.onReady
	d.mu.RUnlock()

	d.logger.Info("discord session resumed")
	if onReady != nil {
		onReady()
	}
}

func (d *Discord) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	d.logger.Warn("discord gateway disconnected")
	if d.onDisconnect != nil {
		d.onDisconnect()
	}
}

// Reply posts text as a reply to the triggering message.
func (d *Discord) Reply(ctx context.Context, ev domain.InboundEvent, text string) error {
	s, err := d.current()
	if err != nil {
		return err
	}
	ref := &discordgo.MessageReference{MessageID: ev.ID, ChannelID: ev.ChatID}
	if _, err := s.ChannelMessageSendReply(ev.ChatID, text, ref, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// FetchMessage looks up a referenced message over REST.
func (d *Discord) FetchMessage(ctx context.Context, ref domain.MessageRef) (string, error) {
	s, err := d.current()
	if err != nil {
		return "", err
	}
	msg, err := s.ChannelMessage(ref.ChatID, ref.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", discordLookupError(err)
	}
	return msg.Content, nil
}

// Typing triggers the typing indicator and keeps refreshing it until release is called.
func (d *Discord) Typing(ctx context.Context, ev domain.InboundEvent) func() {
	s, err := d.current()
	if err != nil {
		return func() {}
	}
	return keepTyping(ctx, discordTypingRefresh, func() {
		if err := s.ChannelTyping(ev.ChatID, discordgo.WithContext(ctx)); err != nil {
			d.logger.Debug("discord typing failed", "channel_id", ev.ChatID, "err", err)
		}
	})
}

func (d *Discord) current() (*discordgo.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.session == nil {
		return nil, errors.New("discord: not connected")
	}
	return d.session, nil
}

func discordMentionTokens(selfID string) []string {
	if selfID == "" {
		return nil
	}
	return []string{"<@" + selfID + ">", "<@!" + selfID + ">"}
}

// discordInboundEvent maps a Discord message to the gateway-neutral event.
func discordInboundEvent(m *discordgo.Message, selfID string) domain.InboundEvent {
	ev := domain.InboundEvent{
		ID:        m.ID,
		Channel:   "discord",
		ChatID:    m.ChannelID,
		Text:      m.Content,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		ev.AuthorID = m.Author.ID
		ev.AuthorName = m.Author.Username
		ev.AuthorIsBot = m.Author.Bot || (selfID != "" && m.Author.ID == selfID)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	if mr := m.MessageReference; mr != nil && mr.MessageID != "" {
		ref := domain.MessageRef{MessageID: mr.MessageID, ChatID: mr.ChannelID}
		if ref.ChatID == "" {
			ref.ChatID = m.ChannelID
		}
		if m.ReferencedMessage != nil {
			ref.Resolved = domain.Some(m.ReferencedMessage.Content)
		}
		ev.Reference = domain.Some(ref)
	}
	return ev
}

// discordLookupError maps REST failures onto the domain lookup errors.
func discordLookupError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", domain.ErrMessageNotFound, err)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", domain.ErrForbidden, err)
		}
	}
	return fmt.Errorf("discord fetch: %w", err)
}
