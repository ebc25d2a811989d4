package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// DecisionContextKey is where the admission middleware leaves the decision so
// the metrics layer can attribute the request to an outcome.
const DecisionContextKey = "admission_decision"

// MetricsMiddleware records request volume, latency and admission outcomes.
type MetricsMiddleware struct {
	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	decisions *prometheus.CounterVec
}

func NewMetricsMiddleware(requests *prometheus.CounterVec, duration *prometheus.HistogramVec, decisions *prometheus.CounterVec) *MetricsMiddleware {
	return &MetricsMiddleware{requests: requests, duration: duration, decisions: decisions}
}

// Collect observes every request. Routes behind the admission middleware
// additionally feed the per-decision counter from the context value it stored.
func (m *MetricsMiddleware) Collect() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			method := c.Request().Method

			m.requests.WithLabelValues(method, path, strconv.Itoa(c.Response().Status)).Inc()
			m.duration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

			if decision, ok := c.Get(DecisionContextKey).(string); ok && decision != "" {
				m.decisions.WithLabelValues(decision, path).Inc()
			}

			return err
		}
	}
}
