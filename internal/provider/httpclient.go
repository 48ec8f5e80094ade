package provider

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// ErrPoolClosed is returned when the pool is used before Open or after Close.
var ErrPoolClosed = errors.New("http connection pool is not open")

const defaultHTTPTimeout = 120 * time.Second

// Pool owns the pooled HTTP client shared by every in-flight generation.
// It is opened once the gateway session is ready and closed on disconnect or shutdown.
type Pool struct {
	mu      sync.RWMutex
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewPool creates a closed pool. Call Open before handing it to requests.
func NewPool(timeout time.Duration, logger *slog.Logger) *Pool {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Pool{timeout: timeout, logger: logger}
}

// Open creates the underlying client if the pool is not already open.
// It reports whether a new client was created.
func (p *Pool) Open() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return false
	}
	p.client = newHTTPClient(p.timeout)
	p.logger.Info("http pool opened", "timeout", p.timeout)
	return true
}

// Close releases idle connections. Requests already holding the client finish normally.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return
	}
	p.client.CloseIdleConnections()
	p.client = nil
	p.logger.Info("http pool closed")
}

// Client returns the shared client or ErrPoolClosed.
func (p *Pool) Client() (*http.Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.client == nil {
		return nil, ErrPoolClosed
	}
	return p.client, nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
