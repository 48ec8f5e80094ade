package metrics

import (
	"fmt"

	"github.com/JaakkoLipp/jarvis/internal/bus"
)

// LatencyBuckets are the generation latency buckets in seconds. The top
// bucket matches the default generation timeout.
var LatencyBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 120}

// PipelineMetrics turns pipeline lifecycle events into counters.
type PipelineMetrics struct {
	reg *Registry

	Received   *Counter
	Commands   *Counter
	Segments   *Counter
	Latency    *Histogram
	handlerIDs map[string]string
}

// NewPipelineMetrics registers the pipeline series on reg.
func NewPipelineMetrics(reg *Registry) *PipelineMetrics {
	ns := reg.namespace
	return &PipelineMetrics{
		reg:      reg,
		Received: reg.Counter(ns+"_events_received_total", "Inbound chat events seen by the pipeline", ""),
		Commands: reg.Counter(ns+"_commands_total", "Auxiliary chat commands answered", ""),
		Segments: reg.Counter(ns+"_reply_segments_total", "Reply segments sent to gateways", ""),
		Latency: reg.Histogram(ns+"_generation_latency_seconds", "Generation request latency in seconds", "",
			LatencyBuckets),
	}
}

// Skipped returns the skip counter for reason.
func (m *PipelineMetrics) Skipped(reason string) *Counter {
	ns := m.reg.namespace
	return m.reg.Counter(ns+"_events_skipped_total", "Inbound events not handled by the pipeline",
		fmt.Sprintf("reason=%q", reason))
}

// Generations returns the generation counter for outcome
// (success, empty, or a failure kind).
func (m *PipelineMetrics) Generations(outcome string) *Counter {
	ns := m.reg.namespace
	return m.reg.Counter(ns+"_generations_total", "Generation requests by outcome",
		fmt.Sprintf("outcome=%q", outcome))
}

// Dispatches returns the dispatch counter for result (ok or failed).
func (m *PipelineMetrics) Dispatches(result string) *Counter {
	ns := m.reg.namespace
	return m.reg.Counter(ns+"_dispatches_total", "Answer dispatches by result",
		fmt.Sprintf("result=%q", result))
}

// Subscribe registers handlers on events. Call Unsubscribe to remove them.
func (m *PipelineMetrics) Subscribe(events *bus.EventBus) {
	m.handlerIDs = map[string]string{
		bus.EventReceived: events.On(bus.EventReceived, func(bus.Event) { m.Received.Inc() }),
		bus.EventSkipped: events.On(bus.EventSkipped, func(e bus.Event) {
			reason, _ := e.Payload["reason"].(string)
			m.Skipped(reason).Inc()
		}),
		bus.EventCommand: events.On(bus.EventCommand, func(bus.Event) { m.Commands.Inc() }),
		bus.EventSucceeded: events.On(bus.EventSucceeded, func(e bus.Event) {
			m.Generations("success").Inc()
			m.observeLatency(e)
		}),
		bus.EventFailed: events.On(bus.EventFailed, func(e bus.Event) {
			kind, _ := e.Payload["kind"].(string)
			m.Generations(kind).Inc()
			m.observeLatency(e)
		}),
		bus.EventEmptyAnswer: events.On(bus.EventEmptyAnswer, func(bus.Event) { m.Generations("empty").Inc() }),
		bus.EventDispatched: events.On(bus.EventDispatched, func(e bus.Event) {
			m.Dispatches("ok").Inc()
			if n, ok := e.Payload["segments"].(int); ok {
				m.Segments.Add(int64(n))
			}
		}),
		bus.EventDispatchFailed: events.On(bus.EventDispatchFailed, func(e bus.Event) {
			m.Dispatches("failed").Inc()
			if n, ok := e.Payload["segments"].(int); ok {
				m.Segments.Add(int64(n))
			}
		}),
	}
}

// Unsubscribe removes the handlers added by Subscribe.
func (m *PipelineMetrics) Unsubscribe(events *bus.EventBus) {
	for eventType, id := range m.handlerIDs {
		events.Off(eventType, id)
	}
	m.handlerIDs = nil
}

func (m *PipelineMetrics) observeLatency(e bus.Event) {
	if ms, ok := e.Payload["latency_ms"].(int64); ok {
		m.Latency.Observe(float64(ms) / 1000)
	}
}
