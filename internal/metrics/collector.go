// Package metrics provides a small Prometheus-compatible collector for
// hookchat. It writes the text exposition format directly.
package metrics

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Collector is the process-wide collector used by the pre-defined metrics.
var Collector = NewMetricsCollector()

// MetricsCollector holds counters, gauges and histograms keyed by
// name and label set.
type MetricsCollector struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the collector has been running.
func (c *MetricsCollector) Uptime() time.Duration {
	return time.Since(c.startTime)
}

type series struct {
	name   string
	help   string
	labels string
}

func (s series) key() string { return s.name + "{" + s.labels + "}" }

func (s series) ident() string {
	if s.labels == "" {
		return s.name
	}
	return s.name + "{" + s.labels + "}"
}

// Counter only goes up.
type Counter struct {
	series
	value atomic.Int64
}

func (c *Counter) Inc()         { c.value.Add(1) }
func (c *Counter) Add(n int64)  { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge can go up and down.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64)  { g.value.Store(v) }
func (g *Gauge) Inc()         { g.value.Add(1) }
func (g *Gauge) Dec()         { g.value.Add(-1) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram counts observations into cumulative buckets.
type Histogram struct {
	series
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Counter returns the counter for name+labels, creating it on first use.
func (c *MetricsCollector) Counter(name, help, labels string) *Counter {
	s := series{name: name, help: help, labels: labels}
	c.mu.RLock()
	ctr, ok := c.counters[s.key()]
	c.mu.RUnlock()
	if ok {
		return ctr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok := c.counters[s.key()]; ok {
		return ctr
	}
	ctr = &Counter{series: s}
	c.counters[s.key()] = ctr
	return ctr
}

// Gauge returns the gauge for name+labels, creating it on first use.
func (c *MetricsCollector) Gauge(name, help, labels string) *Gauge {
	s := series{name: name, help: help, labels: labels}
	c.mu.Lock()
	defer c.mu.Unlock()
	if g, ok := c.gauges[s.key()]; ok {
		return g
	}
	g := &Gauge{series: s}
	c.gauges[s.key()] = g
	return g
}

// Histogram returns the histogram for name+labels, creating it with the
// given bucket bounds on first use.
func (c *MetricsCollector) Histogram(name, help, labels string, bounds []float64) *Histogram {
	s := series{name: name, help: help, labels: labels}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.histograms[s.key()]; ok {
		return h
	}
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	h := &Histogram{series: s, bounds: b, buckets: make([]int64, len(b))}
	c.histograms[s.key()] = h
	return h
}

// WriteTo renders every metric in Prometheus text format, sorted by series.
func (c *MetricsCollector) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "# HELP hookchat_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&buf, "# TYPE hookchat_uptime_seconds gauge\n")
	fmt.Fprintf(&buf, "hookchat_uptime_seconds %d\n", int64(c.Uptime().Seconds()))

	c.mu.RLock()
	counters := sortedValues(c.counters)
	gauges := sortedValues(c.gauges)
	histograms := sortedValues(c.histograms)
	c.mu.RUnlock()

	seen := make(map[string]bool)
	header := func(s series, typ string) {
		if seen[s.name] {
			return
		}
		seen[s.name] = true
		fmt.Fprintf(&buf, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, typ)
	}

	for _, ctr := range counters {
		header(ctr.series, "counter")
		fmt.Fprintf(&buf, "%s %d\n", ctr.ident(), ctr.Value())
	}
	for _, g := range gauges {
		header(g.series, "gauge")
		fmt.Fprintf(&buf, "%s %d\n", g.ident(), g.Value())
	}
	for _, h := range histograms {
		header(h.series, "histogram")
		writeHistogram(&buf, h)
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

func writeHistogram(buf *bytes.Buffer, h *Histogram) {
	h.mu.Lock()
	defer h.mu.Unlock()

	labelPrefix := ""
	if h.labels != "" {
		labelPrefix = h.labels + ","
	}
	for i, le := range h.bounds {
		bound := fmt.Sprintf("%g", le)
		if math.IsInf(le, 1) {
			bound = "+Inf"
		}
		fmt.Fprintf(buf, "%s_bucket{%sle=%q} %d\n", h.name, labelPrefix, bound, h.buckets[i])
	}
	fmt.Fprintf(buf, "%s_bucket{%sle=\"+Inf\"} %d\n", h.name, labelPrefix, h.count)
	suffix := ""
	if h.labels != "" {
		suffix = "{" + h.labels + "}"
	}
	fmt.Fprintf(buf, "%s_count%s %d\n", h.name, suffix, h.count)
	fmt.Fprintf(buf, "%s_sum%s %f\n", h.name, suffix, h.sum)
}

func sortedValues[T any](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// Handler serves the collector in Prometheus text format.
func (c *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = c.WriteTo(w)
	}
}

// --- Pre-defined metrics used across the application ---

var (
	WebhookRequests = Collector.Counter("hookchat_webhook_requests_total", "Total webhook calls attempted", "")
	Submissions     = Collector.Counter("hookchat_submissions_total", "Conversation submissions accepted", "")
	BusyRejections  = Collector.Counter("hookchat_busy_rejections_total", "Submissions rejected while a request was in flight", "")
	FormSubmissions = Collector.Counter("hookchat_form_submissions_total", "Structured form submissions sent", "")
	InsightRuns     = Collector.Counter("hookchat_insight_runs_total", "Insight panel runs", "")
	ActiveSessions  = Collector.Gauge("hookchat_active_sessions", "Sessions currently held in memory", "")

	WebhookLatency = Collector.Histogram("hookchat_webhook_latency_seconds", "Webhook round-trip latency in seconds", "",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60})
)

// WebhookFailures returns the failure counter for one failure kind.
func WebhookFailures(kind string) *Counter {
	return Collector.Counter("hookchat_webhook_failures_total", "Webhook calls that failed, by kind", `kind="`+kind+`"`)
}
