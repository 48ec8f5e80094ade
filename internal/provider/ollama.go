package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	ollamaDefaultBase  = "http://localhost:11434"
	ollamaDefaultModel = "phi4-mini"
	maxErrorBodyBytes  = 512
)

// Ollama calls the /api/generate endpoint of an Ollama-compatible server.
// It holds no per-request state; the HTTP transport comes from the shared Pool.
type Ollama struct {
	apiBase      string
	defaultModel string
	timeout      time.Duration
	pool         *Pool
	logger       *slog.Logger
}

type OllamaConfig struct {
	APIBase      string
	DefaultModel string
	Timeout      time.Duration // ceiling for one whole generate call
	Logger       *slog.Logger
}

func NewOllama(cfg OllamaConfig, pool *Pool) *Ollama {
	if cfg.APIBase == "" {
		cfg.APIBase = ollamaDefaultBase
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = ollamaDefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &Ollama{
		apiBase:      strings.TrimRight(cfg.APIBase, "/"),
		defaultModel: cfg.DefaultModel,
		timeout:      cfg.Timeout,
		pool:         pool,
		logger:       cfg.Logger,
	}
}

func (o *Ollama) Name() string { return "ollama" }

// DefaultModel is the model used when Generate is called with an empty model.
func (o *Ollama) DefaultModel() string { return o.defaultModel }

// Healthy checks that the server answers GET /api/tags.
func (o *Ollama) Healthy(ctx context.Context) error {
	_, err := o.Models(ctx)
	return err
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// Models lists the models installed on the server.
func (o *Ollama) Models(ctx context.Context) ([]string, error) {
	client, err := o.pool.Client()
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.apiBase+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama not reachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decode model list: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// HasModel reports whether model is installed. A tag-less name matches any tag.
func HasModel(installed []string, model string) bool {
	for _, name := range installed {
		if name == model {
			return true
		}
		if !strings.Contains(model, ":") && strings.SplitN(name, ":", 2)[0] == model {
			return true
		}
	}
	return false
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate sends one non-streaming generate request and returns the trimmed answer.
// Every error is a *GenerationError; a missing "response" field yields "" and no error.
// There are no retries.
func (o *Ollama) Generate(ctx context.Context, prompt, model string) (string, error) {
	if model == "" {
		model = o.defaultModel
	}

	client, err := o.pool.Client()
	if err != nil {
		return "", &GenerationError{Kind: FailureNetwork, Detail: err.Error(), Err: err}
	}

	body, err := json.Marshal(generateRequest{Model: model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", &GenerationError{Kind: FailureNetwork, Detail: "marshal request: " + err.Error(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.apiBase+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", &GenerationError{Kind: FailureNetwork, Detail: "new request: " + err.Error(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		detail := fmt.Sprintf("HTTP %d", resp.StatusCode)
		if s := strings.TrimSpace(string(excerpt)); s != "" {
			detail += ": " + s
		}
		return "", &GenerationError{Kind: FailureHTTPStatus, Detail: detail, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", classifyTransportError(ctx, err)
	}

	var out generateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &GenerationError{Kind: FailureDecode, Detail: "decode response: " + err.Error(), Err: err}
	}

	o.logger.Debug("ollama generate done",
		"model", model,
		"prompt_len", len(prompt),
		"answer_len", len(out.Response),
		"latency", time.Since(start),
	)
	return strings.TrimSpace(out.Response), nil
}
