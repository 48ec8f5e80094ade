package agent

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/JaakkoLipp/jarvis/internal/domain"
)

const (
	contextPrefix = "User replying to another message: "
	contextSuffix = ". With the following: "
)

// ExtractedRequest is the user text of an addressed message plus optional reply context.
// UserText is never empty; ContextText is either empty or a fully framed quote.
type ExtractedRequest struct {
	UserText    string
	ContextText string
}

// SkipReason says why an event does not go to the generator. NotSkipped means it does.
type SkipReason string

const (
	NotSkipped       SkipReason = ""
	SkipBotAuthor    SkipReason = "bot_author"
	SkipNotAddressed SkipReason = "not_addressed"
	SkipEmptyText    SkipReason = "empty_text"
)

// MessageFetcher looks up a referenced message.
type MessageFetcher interface {
	FetchMessage(ctx context.Context, ref domain.MessageRef) (string, error)
}

// Extract decides whether ev addresses the bot through one of tokens and, if so,
// returns the stripped user text and the framed content of the replied-to message.
// Lookup failures never surface; they only mean there is no context.
func Extract(ctx context.Context, ev domain.InboundEvent, tokens []string, fetcher MessageFetcher, logger *slog.Logger) (ExtractedRequest, SkipReason) {
	if ev.AuthorIsBot {
		return ExtractedRequest{}, SkipBotAuthor
	}

	userText, addressed := StripAddress(ev.Text, tokens)
	if !addressed {
		return ExtractedRequest{}, SkipNotAddressed
	}
	if userText == "" {
		return ExtractedRequest{}, SkipEmptyText
	}

	return ExtractedRequest{
		UserText:    userText,
		ContextText: resolveContext(ctx, ev, fetcher, logger),
	}, NotSkipped
}

// StripAddress removes the first matching address token and the whitespace after it.
// The bool is false when text does not start with any token.
func StripAddress(text string, tokens []string) (string, bool) {
	for _, tok := range tokens {
		if tok == "" || !strings.HasPrefix(text, tok) {
			continue
		}
		return strings.TrimLeftFunc(text[len(tok):], unicode.IsSpace), true
	}
	return "", false
}

// resolveContext follows exactly one reply hop.
func resolveContext(ctx context.Context, ev domain.InboundEvent, fetcher MessageFetcher, logger *slog.Logger) string {
	ref, ok := ev.Reference.Get()
	if !ok || ref.MessageID == "" {
		return ""
	}

	text, cached := ref.Resolved.Get()
	if !cached {
		if fetcher == nil {
			return ""
		}
		fetched, err := fetcher.FetchMessage(ctx, ref)
		switch {
		case errors.Is(err, domain.ErrMessageNotFound), errors.Is(err, domain.ErrForbidden):
			logger.Debug("referenced message unavailable", "ref_id", ref.MessageID, "ref_chat", ref.ChatID, "err", err)
			return ""
		case err != nil:
			logger.Warn("referenced message lookup failed", "ref_id", ref.MessageID, "ref_chat", ref.ChatID, "err", err)
			return ""
		}
		text = fetched
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return FrameContext(text)
}

// FrameContext wraps quoted text in the reply-context phrase.
func FrameContext(text string) string {
	return contextPrefix + text + contextSuffix
}
