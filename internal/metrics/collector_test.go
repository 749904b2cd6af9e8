package metrics

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCounter_SameSeriesIsShared(t *testing.T) {
	c := NewMetricsCollector()
	a := c.Counter("x_total", "help", `kind="a"`)
	b := c.Counter("x_total", "help", `kind="a"`)
	a.Inc()
	b.Add(2)
	if a != b {
		t.Fatal("expected the same counter for identical name and labels")
	}
	if a.Value() != 3 {
		t.Fatalf("expected 3, got %d", a.Value())
	}
}

func TestGauge_IncDec(t *testing.T) {
	c := NewMetricsCollector()
	g := c.Gauge("sessions", "help", "")
	g.Inc()
	g.Inc()
	g.Dec()
	if g.Value() != 1 {
		t.Fatalf("expected 1, got %d", g.Value())
	}
	g.Set(7)
	if g.Value() != 7 {
		t.Fatalf("expected 7, got %d", g.Value())
	}
}

func TestWriteTo_RendersSortedSeries(t *testing.T) {
	c := NewMetricsCollector()
	c.Counter("b_total", "b help", `kind="z"`).Inc()
	c.Counter("b_total", "b help", `kind="a"`).Add(4)
	h := c.Histogram("lat_seconds", "latency", "", []float64{1, 0.5})
	h.Observe(0.2)
	h.Observe(3)

	var buf bytes.Buffer
	if _, err := c.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	if strings.Count(out, "# TYPE b_total counter") != 1 {
		t.Errorf("expected a single TYPE line for b_total:\n%s", out)
	}
	ia := strings.Index(out, `b_total{kind="a"} 4`)
	iz := strings.Index(out, `b_total{kind="z"} 1`)
	if ia < 0 || iz < 0 || ia > iz {
		t.Errorf("expected sorted counter series:\n%s", out)
	}
	for _, want := range []string{
		`lat_seconds_bucket{le="0.5"} 1`,
		`lat_seconds_bucket{le="1"} 1`,
		`lat_seconds_bucket{le="+Inf"} 2`,
		"lat_seconds_count 2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
	if h.Count() != 2 {
		t.Errorf("expected count 2, got %d", h.Count())
	}
}

func TestHandler_ContentType(t *testing.T) {
	c := NewMetricsCollector()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "hookchat_uptime_seconds") {
		t.Errorf("missing uptime gauge: %s", rec.Body.String())
	}
}

func TestWebhookFailures_ByKind(t *testing.T) {
	WebhookFailures("http").Inc()
	if WebhookFailures("http").Value() < 1 {
		t.Fatal("expected failure counter to be shared per kind")
	}
	if WebhookFailures("http") == WebhookFailures("transport") {
		t.Fatal("different kinds must be different series")
	}
}
