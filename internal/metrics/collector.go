// Package metrics exposes pipeline counters and latencies in the Prometheus
// text exposition format without pulling in client_golang.
package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Registry aggregates counters and histograms.
type Registry struct {
	namespace string
	startTime time.Time

	mu         sync.RWMutex
	counters   map[string]*Counter
	histograms map[string]*Histogram
}

// NewRegistry creates a registry whose built-in metrics are prefixed with namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		namespace:  namespace,
		startTime:  time.Now(),
		counters:   make(map[string]*Counter),
		histograms: make(map[string]*Histogram),
	}
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels string
	value  atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  string
	mu      sync.Mutex
	count   int64
	sum     float64
	buckets []histBucket
}

type histBucket struct {
	le    float64
	count int64
}

// Observe records v in every bucket whose upper bound is >= v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i := range h.buckets {
		if v <= h.buckets[i].le {
			h.buckets[i].count++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns or creates the counter identified by name and labels.
// labels is the rendered label set, e.g. `kind="timeout"`.
func (r *Registry) Counter(name, help, labels string) *Counter {
	key := seriesKey(name, labels)
	r.mu.RLock()
	c, ok := r.counters[key]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[key]; ok {
		return c
	}
	c = &Counter{name: name, help: help, labels: labels}
	r.counters[key] = c
	return c
}

// Histogram returns or creates a histogram. Buckets are only used on creation.
func (r *Registry) Histogram(name, help, labels string, buckets []float64) *Histogram {
	key := seriesKey(name, labels)
	r.mu.RLock()
	h, ok := r.histograms[key]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[key]; ok {
		return h
	}
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	hb := make([]histBucket, len(sorted))
	for i, b := range sorted {
		hb[i] = histBucket{le: b}
	}
	h = &Histogram{name: name, help: help, labels: labels, buckets: hb}
	r.histograms[key] = h
	return h
}

func seriesKey(name, labels string) string {
	return name + "{" + labels + "}"
}

// WriteTo renders all series in Prometheus text format, sorted by name and labels.
func (r *Registry) WriteTo(w io.Writer) (int64, error) {
	var sb strings.Builder

	uptime := r.namespace + "_uptime_seconds"
	fmt.Fprintf(&sb, "# HELP %s Time since start in seconds\n", uptime)
	fmt.Fprintf(&sb, "# TYPE %s gauge\n", uptime)
	fmt.Fprintf(&sb, "%s %d\n", uptime, int64(r.Uptime().Seconds()))

	r.mu.RLock()
	counters := make([]*Counter, 0, len(r.counters))
	for _, c := range r.counters {
		counters = append(counters, c)
	}
	histograms := make([]*Histogram, 0, len(r.histograms))
	for _, h := range r.histograms {
		histograms = append(histograms, h)
	}
	r.mu.RUnlock()

	sort.Slice(counters, func(i, j int) bool {
		return seriesKey(counters[i].name, counters[i].labels) < seriesKey(counters[j].name, counters[j].labels)
	})
	sort.Slice(histograms, func(i, j int) bool {
		return seriesKey(histograms[i].name, histograms[i].labels) < seriesKey(histograms[j].name, histograms[j].labels)
	})

	helpWritten := make(map[string]bool)
	for _, c := range counters {
		if !helpWritten[c.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", c.name, c.help)
			fmt.Fprintf(&sb, "# TYPE %s counter\n", c.name)
			helpWritten[c.name] = true
		}
		fmt.Fprintf(&sb, "%s %d\n", series(c.name, c.labels), c.Value())
	}

	for _, h := range histograms {
		h.mu.Lock()
		if !helpWritten[h.name] {
			fmt.Fprintf(&sb, "# HELP %s %s\n", h.name, h.help)
			fmt.Fprintf(&sb, "# TYPE %s histogram\n", h.name)
			helpWritten[h.name] = true
		}
		for _, b := range h.buckets {
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, `le="`+formatBound(b.le)+`"`)), b.count)
		}
		if n := len(h.buckets); n == 0 || !math.IsInf(h.buckets[n-1].le, 1) {
			fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_bucket", joinLabels(h.labels, `le="+Inf"`)), h.count)
		}
		fmt.Fprintf(&sb, "%s %g\n", series(h.name+"_sum", h.labels), h.sum)
		fmt.Fprintf(&sb, "%s %d\n", series(h.name+"_count", h.labels), h.count)
		h.mu.Unlock()
	}

	n, err := io.WriteString(w, sb.String())
	return int64(n), err
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = r.WriteTo(w)
	}
}

func series(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

func joinLabels(a, b string) string {
	if a == "" {
		return b
	}
	return a + "," + b
}

func formatBound(le float64) string {
	if math.IsInf(le, 1) {
		return "+Inf"
	}
	return fmt.Sprintf("%g", le)
}
