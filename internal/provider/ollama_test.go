package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestOllama(t *testing.T, url string, timeout time.Duration) *Ollama {
	t.Helper()
	pool := NewPool(timeout, testLogger())
	pool.Open()
	t.Cleanup(pool.Close)
	return NewOllama(OllamaConfig{APIBase: url, DefaultModel: "phi4-mini", Timeout: timeout, Logger: testLogger()}, pool)
}

func TestOllama_Generate_Success(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"model":"phi4-mini","response":"  It's short.\n","done":true}`))
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL, time.Second)
	answer, err := o.Generate(context.Background(), "summarize this", "")
	require.NoError(t, err)
	assert.Equal(t, "It's short.", answer)
	assert.Equal(t, generateRequest{Model: "phi4-mini", Prompt: "summarize this", Stream: false}, got)
}

func TestOllama_Generate_StreamFieldAlwaysFalse(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL, time.Second)
	_, err := o.Generate(context.Background(), "p", "llama3")
	require.NoError(t, err)
	assert.Equal(t, false, raw["stream"])
	assert.Equal(t, "llama3", raw["model"])
}

func TestOllama_Generate_MissingResponseFieldIsEmptyAnswer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"done":true}`))
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL, time.Second)
	answer, err := o.Generate(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Empty(t, answer)
}

func TestOllama_Generate_HTTPStatusFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL, time.Second)
	_, err := o.Generate(context.Background(), "p", "")
	require.Error(t, err)

	var ge *GenerationError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, FailureHTTPStatus, ge.Kind)
	assert.Equal(t, http.StatusNotFound, ge.StatusCode)
	assert.Contains(t, ge.Detail, "model not found")
}

func TestOllama_Generate_DecodeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL, time.Second)
	_, err := o.Generate(context.Background(), "p", "")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, FailureDecode, kind)
}

func TestOllama_Generate_Timeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL, 50*time.Millisecond)
	_, err := o.Generate(context.Background(), "p", "")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, FailureTimeout, kind)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "no retry expected")
}

func TestOllama_Generate_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	o := newTestOllama(t, url, time.Second)
	_, err := o.Generate(context.Background(), "p", "")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, FailureNetwork, kind)
}

func TestOllama_Generate_PoolNotOpen(t *testing.T) {
	pool := NewPool(time.Second, testLogger())
	o := NewOllama(OllamaConfig{APIBase: "http://127.0.0.1:1", Logger: testLogger()}, pool)

	_, err := o.Generate(context.Background(), "p", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPoolClosed)
	kind, _ := KindOf(err)
	assert.Equal(t, FailureNetwork, kind)
}

func TestOllama_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"models":[]}`))
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL+"/", time.Second)
	assert.NoError(t, o.Healthy(context.Background()))
}

func TestOllama_Models(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"models":[{"name":"phi4-mini:latest"},{"name":"llama3:8b"}]}`))
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL, time.Second)
	models, err := o.Models(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"phi4-mini:latest", "llama3:8b"}, models)

	assert.True(t, HasModel(models, "phi4-mini"))
	assert.True(t, HasModel(models, "llama3:8b"))
	assert.False(t, HasModel(models, "llama3:70b"))
	assert.False(t, HasModel(models, "mistral"))
}

func TestOllama_HealthyStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	o := newTestOllama(t, srv.URL, time.Second)
	assert.Error(t, o.Healthy(context.Background()))
}

func TestNewOllama_Defaults(t *testing.T) {
	o := NewOllama(OllamaConfig{Logger: testLogger()}, NewPool(0, testLogger()))
	assert.Equal(t, ollamaDefaultBase, o.apiBase)
	assert.Equal(t, "phi4-mini", o.DefaultModel())
	assert.Equal(t, defaultHTTPTimeout, o.timeout)
}
