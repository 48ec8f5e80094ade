package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JaakkoLipp/jarvis/internal/bus"
	"github.com/JaakkoLipp/jarvis/internal/domain"
	"github.com/JaakkoLipp/jarvis/internal/provider"
)

const (
	errorNoticePrefix = "⚠️ LLM error: "
	previewLen        = 50
)

// Outcome is the terminal state of one pipeline run.
type Outcome string

const (
	OutcomeSkipped        Outcome = "skipped"
	OutcomeCommand        Outcome = "command"
	OutcomeAnswered       Outcome = "answered"
	OutcomeEmptyAnswer    Outcome = "empty_answer"
	OutcomeErrorReported  Outcome = "error_reported"
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// Loop is the message pipeline: it consumes inbound events and runs
// extract → assemble → generate → dispatch for each one in its own goroutine.
type Loop struct {
	generator domain.Generator
	model     string
	prompt    *PromptBuilder
	commands  *CommandRouter
	bus       domain.MessageBus
	events    *bus.EventBus
	logger    *slog.Logger

	mu       sync.RWMutex
	gateways map[string]domain.Gateway
	inflight sync.WaitGroup
}

// LoopConfig holds all dependencies of the pipeline.
type LoopConfig struct {
	Generator domain.Generator
	Model     string
	Prompt    *PromptBuilder
	Commands  *CommandRouter // optional: handles non-addressed messages
	Bus       domain.MessageBus
	Events    *bus.EventBus // optional: lifecycle notifications
	Logger    *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Prompt == nil {
		cfg.Prompt = NewPromptBuilder(PromptConfig{})
	}
	return &Loop{
		generator: cfg.Generator,
		model:     cfg.Model,
		prompt:    cfg.Prompt,
		commands:  cfg.Commands,
		bus:       cfg.Bus,
		events:    cfg.Events,
		logger:    cfg.Logger,
		gateways:  make(map[string]domain.Gateway),
	}
}

// Register makes a gateway's replies and lookups available to events from it.
func (l *Loop) Register(gw domain.Gateway) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gateways[gw.Name()] = gw
}

func (l *Loop) gateway(name string) (domain.Gateway, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	gw, ok := l.gateways[name]
	return gw, ok
}

// Run consumes the bus until ctx is done or the bus is closed, then waits
// for in-flight events to finish.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("pipeline started")
	defer l.inflight.Wait()

	inbound := l.bus.Subscribe()
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("pipeline stopping")
			return
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound bus closed, pipeline stopping")
				return
			}
			l.inflight.Add(1)
			go func(ev domain.InboundEvent) {
				defer l.inflight.Done()
				defer func() {
					if r := recover(); r != nil {
						l.logger.Error("pipeline panic", "channel", ev.Channel, "message_id", ev.ID, "panic", r)
					}
				}()
				l.Process(ctx, ev)
			}(ev)
		}
	}
}

// Process runs the whole pipeline for one event and returns where it ended.
func (l *Loop) Process(ctx context.Context, ev domain.InboundEvent) Outcome {
	runID := uuid.NewString()
	log := l.logger.With("run_id", runID, "channel", ev.Channel, "chat_id", ev.ChatID, "message_id", ev.ID)
	l.emit(bus.EventReceived, runID, ev, nil)

	gw, ok := l.gateway(ev.Channel)
	if !ok {
		log.Warn("no gateway registered for event")
		l.emit(bus.EventSkipped, runID, ev, map[string]any{"reason": "unknown_gateway"})
		return OutcomeSkipped
	}

	req, reason := Extract(ctx, ev, gw.AddressTokens(), gw, log)
	if reason != NotSkipped {
		l.emit(bus.EventSkipped, runID, ev, map[string]any{"reason": string(reason)})
		if reason == SkipNotAddressed && l.commands != nil {
			handled, err := l.commands.Handle(ctx, gw, ev)
			if err != nil {
				log.Error("command reply failed", "err", err)
			}
			if handled {
				l.emit(bus.EventCommand, runID, ev, nil)
				return OutcomeCommand
			}
		}
		return OutcomeSkipped
	}

	log.Info("addressed message",
		"author", ev.AuthorName,
		"preview", preview(req.UserText),
		"has_context", req.ContextText != "",
	)
	l.emit(bus.EventExtracted, runID, ev, map[string]any{"has_context": req.ContextText != ""})

	prompt := l.prompt.Build(req)
	log.Debug("asking generator", "generator", l.generator.Name(), "prompt_len", len(prompt))

	start := time.Now()
	answer, err := l.generate(ctx, gw, ev, runID, prompt)
	latency := time.Since(start)
	if err != nil {
		kind, _ := provider.KindOf(err)
		log.Error("generation failed", "kind", kind, "err", err, "latency", latency)
		l.emit(bus.EventFailed, runID, ev, map[string]any{"kind": string(kind), "latency_ms": latency.Milliseconds()})
		if rerr := gw.Reply(ctx, ev, ErrorNotice(err)); rerr != nil {
			log.Error("error reply failed", "err", rerr)
		}
		return OutcomeErrorReported
	}
	l.emit(bus.EventSucceeded, runID, ev, map[string]any{"latency_ms": latency.Milliseconds(), "answer_len": len(answer)})

	n, err := Dispatch(ctx, gw, ev, answer, gw.MaxMessageLen())
	switch {
	case errors.Is(err, ErrEmptyAnswer):
		log.Warn("generator returned an empty answer, nothing sent")
		l.emit(bus.EventEmptyAnswer, runID, ev, nil)
		return OutcomeEmptyAnswer
	case err != nil:
		log.Error("reply dispatch failed", "sent", n, "err", err)
		l.emit(bus.EventDispatchFailed, runID, ev, map[string]any{"segments": n})
		return OutcomeDispatchFailed
	}

	log.Info("answer sent", "segments", n, "latency", latency)
	l.emit(bus.EventDispatched, runID, ev, map[string]any{"segments": n})
	return OutcomeAnswered
}

// generate holds the typing indicator for exactly the duration of the call.
func (l *Loop) generate(ctx context.Context, gw domain.Gateway, ev domain.InboundEvent, runID, prompt string) (string, error) {
	release := gw.Typing(ctx, ev)
	defer release()
	l.emit(bus.EventGenerating, runID, ev, nil)
	return l.generator.Generate(ctx, prompt, l.model)
}

func (l *Loop) emit(eventType, runID string, ev domain.InboundEvent, payload map[string]any) {
	l.events.Emit(bus.Event{Type: eventType, Source: ev.Channel, EventID: runID, Payload: payload})
}

// ErrorNotice is the single user-visible reply for a failed generation.
func ErrorNotice(err error) string {
	return errorNoticePrefix + err.Error()
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "…"
}
