package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	metrics:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if h := m.GetHistogram(); h != nil {
				return float64(h.GetSampleCount())
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return 0
}

func TestObserveQuery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.ObserveQuery("api", "found_valid", 2, 3*time.Second)
	m.ObserveQuery("api", "found_valid", 1, time.Second)
	m.ObserveQuery("webhook", "error", 0, time.Second)

	if got := counterValue(t, reg, "agentcheck_query_outcomes_total", map[string]string{"status": "found_valid", "source": "api"}); got != 2 {
		t.Fatalf("found_valid/api = %v, want 2", got)
	}
	if got := counterValue(t, reg, "agentcheck_query_outcomes_total", map[string]string{"status": "error", "source": "webhook"}); got != 1 {
		t.Fatalf("error/webhook = %v, want 1", got)
	}
	// Errors carry no attempt count.
	if got := counterValue(t, reg, "agentcheck_query_captcha_attempts", nil); got != 2 {
		t.Fatalf("attempt samples = %v, want 2", got)
	}
}

func TestTrackInFlight(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	done := m.TrackInFlight()
	if got := counterValue(t, reg, "agentcheck_queries_in_flight", nil); got != 1 {
		t.Fatalf("in flight = %v, want 1", got)
	}
	done()
	if got := counterValue(t, reg, "agentcheck_queries_in_flight", nil); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveQuery("api", "found_valid", 1, time.Second)
	m.IncrementCardJob("done")
	m.IncrementWebhook("queued")
	m.TrackInFlight()()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Fatalf("nil metrics handler status = %d, want 404", rec.Code)
	}
}

func TestHandlerExposition(t *testing.T) {
	m := NewMetrics(nil)
	m.IncrementCardJob("done")
	m.IncrementWebhook("ignored")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`agentcheck_card_jobs_total{result="done"} 1`,
		`agentcheck_webhook_deliveries_total{result="ignored"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
