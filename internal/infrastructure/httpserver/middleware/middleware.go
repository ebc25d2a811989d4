package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/admission-gate/internal/core/ports"
)

// MiddlewareCollection bundles the server's custom middleware.
type MiddlewareCollection struct {
	Logging   *LoggingMiddleware
	Metrics   *MetricsMiddleware
	Admission *AdmissionMiddleware
}

func NewMiddlewareCollection(
	admission ports.AdmissionController,
	logger *logrus.Logger,
	requestsTotal *prometheus.CounterVec,
	requestDuration *prometheus.HistogramVec,
	decisionsTotal *prometheus.CounterVec,
) *MiddlewareCollection {
	return &MiddlewareCollection{
		Logging:   NewLoggingMiddleware(logger),
		Metrics:   NewMetricsMiddleware(requestsTotal, requestDuration, decisionsTotal),
		Admission: NewAdmissionMiddleware(admission, logger),
	}
}
