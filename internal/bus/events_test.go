package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEBLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEventBus_DeliversByType(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var failed, all []string
	eb.On(EventFailed, func(e Event) { failed = append(failed, e.EventID) })
	eb.On("*", func(e Event) { all = append(all, e.Type) })

	eb.Emit(Event{Type: EventReceived, EventID: "run-1"})
	eb.Emit(Event{Type: EventFailed, EventID: "run-1", Payload: map[string]any{"kind": "timeout"}})

	assert.Equal(t, []string{"run-1"}, failed)
	assert.Equal(t, []string{EventReceived, EventFailed}, all)
}

func TestEventBus_HandlersRunInRegistrationOrder(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var order []int
	eb.On("*", func(Event) { order = append(order, 3) })
	eb.On(EventDispatched, func(Event) { order = append(order, 1) })
	eb.On(EventDispatched, func(Event) { order = append(order, 2) })

	eb.Emit(Event{Type: EventDispatched})
	assert.Equal(t, []int{1, 2, 3}, order, "typed handlers before wildcard")
}

func TestEventBus_Off(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	var first, second int
	id := eb.On(EventFailed, func(Event) { first++ })
	eb.On(EventFailed, func(Event) { second++ })

	eb.Emit(Event{Type: EventFailed})
	eb.Off(EventFailed, id)
	eb.Off(EventFailed, "no-such-handler")
	eb.Emit(Event{Type: EventFailed})

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)
}

func TestEventBus_HandlerIDsAreUnique(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	a := eb.On(EventReceived, func(Event) {})
	b := eb.On(EventReceived, func(Event) {})
	assert.NotEqual(t, a, b)
}

func TestEventBus_Replay(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	eb.Emit(Event{Type: EventReceived, Timestamp: time.Now().Add(-time.Hour)})
	threshold := time.Now()
	eb.Emit(Event{Type: EventReceived})
	eb.Emit(Event{Type: EventSkipped})

	assert.Len(t, eb.Replay(EventReceived, time.Time{}), 2)
	assert.Len(t, eb.Replay("*", time.Time{}), 3)
	assert.Len(t, eb.Replay("*", threshold), 2)

	recent := eb.Replay(EventReceived, threshold)
	require.Len(t, recent, 1)
	assert.False(t, recent[0].Timestamp.IsZero(), "timestamp is set on emit")
}

func TestEventBus_HistoryIsBounded(t *testing.T) {
	eb := NewEventBus(testEBLogger())
	eb.maxHistory = 5

	for i := 0; i < 10; i++ {
		eb.Emit(Event{Type: EventReceived, EventID: string(rune('a' + i))})
	}

	require.Equal(t, 5, eb.HistoryLen())
	assert.Equal(t, "f", eb.Replay("*", time.Time{})[0].EventID, "oldest events are dropped first")
}

func TestEventBus_PanickingHandlerIsContained(t *testing.T) {
	eb := NewEventBus(testEBLogger())

	reached := false
	eb.On(EventGenerating, func(Event) { panic("boom") })
	eb.On(EventGenerating, func(Event) { reached = true })

	assert.NotPanics(t, func() { eb.Emit(Event{Type: EventGenerating}) })
	assert.True(t, reached, "later handlers still run")
}

func TestEventBus_NilBusEmit(t *testing.T) {
	var eb *EventBus
	assert.NotPanics(t, func() { eb.Emit(Event{Type: EventReceived}) })
}
