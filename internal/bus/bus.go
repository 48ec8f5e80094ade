package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/JaakkoLipp/jarvis/internal/domain"
)

const publishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based inbound stream shared by all gateways.
type InMemoryBus struct {
	inbound chan domain.InboundEvent
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound: make(chan domain.InboundEvent, bufferSize),
		logger:  logger,
	}
}

// Publish blocks up to 10 seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(ev domain.InboundEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "channel", ev.Channel, "message_id", ev.ID)
		return
	}

	select {
	case b.inbound <- ev:
	default:
		b.logger.Warn("inbound bus full, waiting", "channel", ev.Channel, "author", ev.AuthorID)
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- ev:
			b.logger.Info("event delivered after wait", "channel", ev.Channel)
		case <-timer.C:
			b.logger.Error("event dropped: bus full for 10s",
				"channel", ev.Channel,
				"author", ev.AuthorID,
				"message_id", ev.ID,
			)
		}
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

// Close stops accepting events and closes the subscription channel. Safe to call twice.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
