package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaakkoLipp/jarvis/internal/channel"
	"github.com/JaakkoLipp/jarvis/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type lockedBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}

func fakeOllama(t *testing.T, answer string) (*httptest.Server, *[]string) {
	t.Helper()
	var (
		mu      sync.Mutex
		prompts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		prompts = append(prompts, body.Prompt)
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{"response": answer})
	}))
	t.Cleanup(srv.Close)
	return srv, &prompts
}

func TestApp_ConsoleEndToEnd(t *testing.T) {
	srv, prompts := fakeOllama(t, "  Hello there.  ")
	cfg := config.Defaults()
	cfg.Generation.APIBase = srv.URL

	a := newApp(cfg, testLogger())
	out := &lockedBuffer{}
	console := channel.NewConsole(channel.ConsoleConfig{
		Logger: testLogger(),
		In:     strings.NewReader("@jarvis   say hi\n!ping\nnot for the bot\n"),
		Out:    out,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.serve(ctx, console))

	got := out.String()
	assert.Contains(t, got, "jarvis> Hello there.\n")
	assert.Contains(t, got, "jarvis> 🏓 Pong!\n")
	require.Len(t, *prompts, 1)
	assert.True(t, strings.HasSuffix((*prompts)[0], "The user's request: say hi"))

	_, err := a.pool.Client()
	assert.Error(t, err, "pool is closed after serve returns")
}

func TestApp_ConsoleReportsGenerationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	cfg := config.Defaults()
	cfg.Generation.APIBase = srv.URL
	a := newApp(cfg, testLogger())
	out := &lockedBuffer{}
	console := channel.NewConsole(channel.ConsoleConfig{
		Logger: testLogger(),
		In:     strings.NewReader("@jarvis hi\n"),
		Out:    out,
	})

	require.NoError(t, a.serve(context.Background(), console))
	assert.Contains(t, out.String(), "jarvis> ⚠️ LLM error: http_status")
}

func TestApp_ServeStopsOnCancelWithIdleConsole(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	a := newApp(config.Defaults(), testLogger())
	console := channel.NewConsole(channel.ConsoleConfig{Logger: testLogger(), In: pr, Out: io.Discard})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.serve(ctx, console) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("serve still blocked after cancel")
	}
}

func TestApp_MetricsCountPipelineEvents(t *testing.T) {
	srv, _ := fakeOllama(t, "ok")
	cfg := config.Defaults()
	cfg.Generation.APIBase = srv.URL
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "127.0.0.1:0"

	a := newApp(cfg, testLogger())
	require.NotNil(t, a.metrics)
	console := channel.NewConsole(channel.ConsoleConfig{
		Logger: testLogger(),
		In:     strings.NewReader("@jarvis one\n@jarvis two\n"),
		Out:    io.Discard,
	})
	require.NoError(t, a.serve(context.Background(), console))

	var sb strings.Builder
	_, err := a.metrics.WriteTo(&sb)
	require.NoError(t, err)
	assert.Contains(t, sb.String(), "jarvis_events_received_total 2")
	assert.Contains(t, sb.String(), `jarvis_generations_total{outcome="success"} 2`)
}

func TestApp_ServeWithoutGateways(t *testing.T) {
	a := newApp(config.Defaults(), testLogger())
	assert.Error(t, a.serve(context.Background()))
}

func TestBuildGateways(t *testing.T) {
	cfg := config.Defaults()
	a := newApp(cfg, testLogger())

	_, err := buildGateways(cfg, a)
	assert.ErrorContains(t, err, "DISCORD_TOKEN")

	cfg.Channels.Discord.Token = "token"
	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123:abc"
	gws, err := buildGateways(cfg, a)
	require.NoError(t, err)
	require.Len(t, gws, 2)
	assert.Equal(t, "discord", gws[0].Name())
	assert.Equal(t, "telegram", gws[1].Name())

	cfg.Channels.Discord.Enabled = false
	cfg.Channels.Telegram.Enabled = false
	_, err = buildGateways(cfg, a)
	assert.Error(t, err)
}

func TestApp_PoolFollowsGatewayLifecycle(t *testing.T) {
	a := newApp(config.Defaults(), testLogger())

	a.onReady("discord")()
	_, err := a.pool.Client()
	require.NoError(t, err)

	a.onDisconnect()
	_, err = a.pool.Client()
	assert.Error(t, err)

	a.onReady("discord")()
	_, err = a.pool.Client()
	assert.NoError(t, err, "pool reopens after reconnect")
	a.pool.Close()
}
