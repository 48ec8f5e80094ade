package domain

import (
	"context"
	"errors"
)

var (
	// ErrMessageNotFound is returned by FetchMessage when the referenced message no longer exists.
	ErrMessageNotFound = errors.New("message not found")
	// ErrForbidden is returned by FetchMessage when the bot cannot read the referenced message.
	ErrForbidden = errors.New("forbidden")
)

// PublishFunc hands an inbound event to the pipeline.
type PublishFunc func(InboundEvent)

// Gateway is a chat transport (Discord, Telegram, console) the bot listens on.
type Gateway interface {
	Name() string

	// Start connects and blocks, publishing every inbound message, until ctx is done.
	// onReady runs each time the session becomes ready (including after a reconnect).
	Start(ctx context.Context, publish PublishFunc, onReady func()) error

	// AddressTokens lists the literal prefixes that address the bot. Empty until ready.
	AddressTokens() []string

	// MaxMessageLen is the transport's per-message character limit.
	MaxMessageLen() int

	// Reply sends text as a reply to the given event.
	Reply(ctx context.Context, ev InboundEvent, text string) error

	// FetchMessage looks up the content of a referenced message.
	FetchMessage(ctx context.Context, ref MessageRef) (string, error)

	// Typing shows a "working" indicator in the event's conversation until release is called.
	Typing(ctx context.Context, ev InboundEvent) (release func())
}
