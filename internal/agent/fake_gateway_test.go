package agent

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/JaakkoLipp/jarvis/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway records replies and typing usage for assertions.
type fakeGateway struct {
	name    string
	tokens  []string
	limit   int
	fetch   func(ref domain.MessageRef) (string, error)
	replyFn func(text string) error

	mu         sync.Mutex
	replies    []string
	fetches    int
	typingOn   int
	typingOff  int
	typingLive bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		name:   "fake",
		tokens: []string{"<@42>", "<@!42>"},
		limit:  2000,
	}
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Start(ctx context.Context, publish domain.PublishFunc, onReady func()) error {
	<-ctx.Done()
	return nil
}

func (g *fakeGateway) AddressTokens() []string { return g.tokens }
func (g *fakeGateway) MaxMessageLen() int      { return g.limit }

func (g *fakeGateway) Reply(ctx context.Context, ev domain.InboundEvent, text string) error {
	if g.replyFn != nil {
		if err := g.replyFn(text); err != nil {
			return err
		}
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, text)
	return nil
}

func (g *fakeGateway) FetchMessage(ctx context.Context, ref domain.MessageRef) (string, error) {
	g.mu.Lock()
	g.fetches++
	g.mu.Unlock()
	if g.fetch == nil {
		return "", domain.ErrMessageNotFound
	}
	return g.fetch(ref)
}

func (g *fakeGateway) Typing(ctx context.Context, ev domain.InboundEvent) func() {
	g.mu.Lock()
	g.typingOn++
	g.typingLive = true
	g.mu.Unlock()
	return func() {
		g.mu.Lock()
		g.typingOff++
		g.typingLive = false
		g.mu.Unlock()
	}
}

func (g *fakeGateway) Replies() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.replies...)
}

// fakeGenerator returns a canned answer or error and records prompts.
type fakeGenerator struct {
	answer string
	err    error
	onCall func(prompt string)

	mu      sync.Mutex
	prompts []string
	models  []string
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(ctx context.Context, prompt, model string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.models = append(f.models, model)
	f.mu.Unlock()
	if f.onCall != nil {
		f.onCall(prompt)
	}
	return f.answer, f.err
}

func (f *fakeGenerator) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}
