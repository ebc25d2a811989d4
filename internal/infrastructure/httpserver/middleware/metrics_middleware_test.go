package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/infrastructure/httpserver/middleware"
)

func newMetricsFixture() (*middleware.MetricsMiddleware, *prometheus.CounterVec, *prometheus.CounterVec) {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "requests_total_test", Help: "requests"},
		[]string{"method", "endpoint", "status"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "request_duration_seconds_test", Help: "latency"},
		[]string{"method", "endpoint"},
	)
	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "decisions_total_test", Help: "decisions"},
		[]string{"decision", "endpoint"},
	)
	return middleware.NewMetricsMiddleware(requests, duration, decisions), requests, decisions
}

func runMetrics(t *testing.T, m *middleware.MetricsMiddleware, handler echo.HandlerFunc) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/reports/windows", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/reports/windows")

	if err := m.Collect()(handler)(c); err != nil {
		t.Fatalf("middleware: %v", err)
	}
}

func TestMetricsMiddleware_CountsRequestsAndDecisions(t *testing.T) {
	m, requests, decisions := newMetricsFixture()

	runMetrics(t, m, func(c echo.Context) error {
		c.Set(middleware.DecisionContextKey, string(gate.DecisionThrottled))
		return c.NoContent(http.StatusOK)
	})

	if got := testutil.ToFloat64(requests.WithLabelValues("GET", "/v1/reports/windows", "200")); got != 1 {
		t.Fatalf("requests counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(decisions.WithLabelValues("throttled", "/v1/reports/windows")); got != 1 {
		t.Fatalf("decisions counter = %v, want 1", got)
	}
}

func TestMetricsMiddleware_UngatedRouteCountsNoDecision(t *testing.T) {
	m, requests, decisions := newMetricsFixture()

	runMetrics(t, m, func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	if got := testutil.ToFloat64(requests.WithLabelValues("GET", "/v1/reports/windows", "200")); got != 1 {
		t.Fatalf("requests counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(decisions.WithLabelValues("allow", "/v1/reports/windows")); got != 0 {
		t.Fatalf("decisions counter = %v, want 0 without an admission decision", got)
	}
}
