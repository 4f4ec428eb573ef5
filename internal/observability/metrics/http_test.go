package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := New()
	handler := m.Middleware("parse", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/parse", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("parse", http.MethodPost, "503")); got != 1 {
		t.Fatalf("requests = %v", got)
	}
	if got := testutil.ToFloat64(m.httpErrors.WithLabelValues("parse", http.MethodPost)); got != 1 {
		t.Fatalf("errors = %v", got)
	}
}

func TestObserveTurnAndExposition(t *testing.T) {
	m := New()
	m.ObserveTurn("command_ready", "LEND", 3*time.Millisecond)
	m.ObserveTurn("rejected", "", time.Millisecond)

	if got := testutil.ToFloat64(m.turns.WithLabelValues("rejected", "none")); got != 1 {
		t.Fatalf("rejected turns = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `intentd_pipeline_turns_total{intent="LEND",state="command_ready"} 1`) {
		t.Fatalf("exposition missing turn counter:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("rejected", "", time.Millisecond)
	m.ObserveHTTPRequest("parse", http.MethodGet, 200, time.Millisecond)
}
