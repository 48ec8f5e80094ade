package bus

import (
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// Event is a pipeline lifecycle notification.
type Event struct {
	Type      string         // e.g. "pipeline.received", "pipeline.failed"
	Source    string         // gateway name
	EventID   string         // correlation id of the pipeline run
	Payload   map[string]any // type-specific data
	Timestamp time.Time
}

// EventHandler is a callback for events.
type EventHandler func(Event)

// EventBus is a topic-based publish/subscribe hub for pipeline lifecycle events.
// Handlers run synchronously in registration order; "*" subscribes to everything.
type EventBus struct {
	handlers   map[string][]namedHandler
	nextID     int
	mu         sync.RWMutex
	logger     *slog.Logger
	history    []Event
	maxHistory int
}

type namedHandler struct {
	ID      string
	Handler EventHandler
}

// NewEventBus creates an EventBus that keeps the last 1000 events for Replay.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		handlers:   make(map[string][]namedHandler),
		logger:     logger,
		maxHistory: 1000,
	}
}

// On registers a handler for the given event type and returns its id.
func (eb *EventBus) On(eventType string, handler EventHandler) string {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	id := eventType + "-" + strconv.Itoa(eb.nextID)
	eb.handlers[eventType] = append(eb.handlers[eventType], namedHandler{ID: id, Handler: handler})
	return id
}

// Off removes a handler by its id.
func (eb *EventBus) Off(eventType, handlerID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	handlers := eb.handlers[eventType]
	for i, h := range handlers {
		if h.ID == handlerID {
			eb.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return
		}
	}
}

// Emit delivers an event to the type's handlers, then to wildcard handlers.
// A panicking handler is logged and does not affect the emitter.
func (eb *EventBus) Emit(event Event) {
	if eb == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.Lock()
	if len(eb.history) >= eb.maxHistory {
		eb.history = eb.history[1:]
	}
	eb.history = append(eb.history, event)
	handlers := make([]namedHandler, 0, len(eb.handlers[event.Type])+len(eb.handlers["*"]))
	handlers = append(handlers, eb.handlers[event.Type]...)
	handlers = append(handlers, eb.handlers["*"]...)
	eb.mu.Unlock()

	for _, h := range handlers {
		func(nh namedHandler) {
			defer func() {
				if r := recover(); r != nil {
					eb.logger.Error("event handler panic", "event", event.Type, "handler", nh.ID, "panic", r)
				}
			}()
			nh.Handler(event)
		}(h)
	}
}

// Replay returns historical events of the given type ("*" for all) since the given time.
func (eb *EventBus) Replay(eventType string, since time.Time) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	var result []Event
	for _, e := range eb.history {
		if e.Timestamp.Before(since) {
			continue
		}
		if eventType == "*" || e.Type == eventType {
			result = append(result, e)
		}
	}
	return result
}

// HistoryLen returns the current number of events in the history buffer.
func (eb *EventBus) HistoryLen() int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.history)
}

// Pipeline lifecycle event types.
const (
	EventReceived       = "pipeline.received"
	EventSkipped        = "pipeline.skipped"
	EventExtracted      = "pipeline.extracted"
	EventGenerating     = "pipeline.generating"
	EventSucceeded      = "pipeline.succeeded"
	EventFailed         = "pipeline.failed"
	EventEmptyAnswer    = "pipeline.empty_answer"
	EventDispatched     = "pipeline.dispatched"
	EventDispatchFailed = "pipeline.dispatch_failed"
	EventCommand        = "pipeline.command"
)
