package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/JaakkoLipp/jarvis/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4096
	telegramTypingRefresh  = 4 * time.Second
	telegramMaxSendRetries = 2
)

// Telegram implements domain.Gateway for a Telegram bot using long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // allowed user IDs (empty = allow all)
	logger    *slog.Logger

	mu       sync.RWMutex
	bot      *tgbotapi.BotAPI
	username string
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) MaxMessageLen() int { return telegramMaxMsgLen }

// AddressTokens returns "@username" of the bot once connected.
func (t *Telegram) AddressTokens() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.username == "" {
		return nil
	}
	return []string{"@" + t.username}
}

// Start connects to Telegram and polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, publish domain.PublishFunc, onReady func()) error {
	if t.token == "" {
		return errors.New("telegram: token is required")
	}

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}

	t.mu.Lock()
	t.bot = bot
	t.username = bot.Self.UserName
	t.mu.Unlock()

	t.logger.Info("telegram bot ready", "username", bot.Self.UserName, "id", bot.Self.ID)
	if onReady != nil {
		onReady()
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram gateway stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update, publish)
		}
	}
}

func (t *Telegram) handleUpdate(update tgbotapi.Update, publish domain.PublishFunc) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !t.isAllowed(msg.From.ID) {
		t.logger.Warn("unauthorized telegram user", "user_id", msg.From.ID, "username", msg.From.UserName)
		return
	}

	t.mu.RLock()
	selfID := int64(0)
	if t.bot != nil {
		selfID = t.bot.Self.ID
	}
	username := t.username
	t.mu.RUnlock()

	t.logger.Debug("telegram message received",
		"user_id", msg.From.ID,
		"chat_id", msg.Chat.ID,
		"text_len", len(msg.Text),
	)
	publish(telegramInboundEvent(msg, selfID, username))
}

// Reply sends text as a reply to the triggering message. Rate-limit
// responses are retried after the server-provided delay.
func (t *Telegram) Reply(ctx context.Context, ev domain.InboundEvent, text string) error {
	bot, err := t.current()
	if err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(ev.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", ev.ChatID, err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if id, err := strconv.Atoi(ev.ID); err == nil {
		msg.ReplyToMessageID = id
	}

	for attempt := 0; ; attempt++ {
		_, err = bot.Send(msg)
		if err == nil {
			return nil
		}
		wait, ok := telegramRetryAfter(err)
		if !ok || attempt >= telegramMaxSendRetries {
			return fmt.Errorf("telegram send: %w", err)
		}
		t.logger.Warn("telegram rate limited, backing off", "retry_after", wait, "attempt", attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// FetchMessage always fails: the Bot API cannot read arbitrary past messages.
// Replies carry their referenced message inline instead.
func (t *Telegram) FetchMessage(ctx context.Context, ref domain.MessageRef) (string, error) {
	return "", domain.ErrMessageNotFound
}

// Typing sends the "typing" chat action until release is called.
func (t *Telegram) Typing(ctx context.Context, ev domain.InboundEvent) func() {
	bot, err := t.current()
	if err != nil {
		return func() {}
	}
	chatID, err := strconv.ParseInt(ev.ChatID, 10, 64)
	if err != nil {
		return func() {}
	}
	return keepTyping(ctx, telegramTypingRefresh, func() {
		if _, err := bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
			t.logger.Debug("telegram typing failed", "chat_id", chatID, "err", err)
		}
	})
}

func (t *Telegram) current() (*tgbotapi.BotAPI, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.bot == nil {
		return nil, errors.New("telegram: not connected")
	}
	return t.bot, nil
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// telegramInboundEvent maps a Telegram message to the gateway-neutral event.
func telegramInboundEvent(msg *tgbotapi.Message, selfID int64, username string) domain.InboundEvent {
	ev := domain.InboundEvent{
		ID:        strconv.Itoa(msg.MessageID),
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Text:      telegramCanonicalMention(msg.Text, username),
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		ev.AuthorID = strconv.FormatInt(msg.From.ID, 10)
		ev.AuthorName = msg.From.UserName
		ev.AuthorIsBot = msg.From.IsBot || (selfID != 0 && msg.From.ID == selfID)
	}
	if r := msg.ReplyToMessage; r != nil {
		content := r.Text
		if content == "" {
			content = r.Caption
		}
		ev.Reference = domain.Some(domain.MessageRef{
			MessageID: strconv.Itoa(r.MessageID),
			ChatID:    ev.ChatID,
			Resolved:  domain.Some(content),
		})
	}
	return ev
}

// telegramCanonicalMention rewrites a leading @username written in any case
// to the bot's own spelling. Telegram usernames are case-insensitive.
func telegramCanonicalMention(text, username string) string {
	if username == "" {
		return text
	}
	tok := "@" + username
	if len(text) < len(tok) || !strings.EqualFold(text[:len(tok)], tok) {
		return text
	}
	return tok + text[len(tok):]
}

// telegramRetryAfter reports the wait requested by a 429 response.
func telegramRetryAfter(err error) (time.Duration, bool) {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) || tgErr.Code != 429 {
		return 0, false
	}
	wait := time.Duration(tgErr.RetryAfter) * time.Second
	if wait <= 0 {
		wait = time.Second
	}
	return wait, true
}
