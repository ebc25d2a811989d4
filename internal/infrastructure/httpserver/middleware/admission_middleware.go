package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
	"github.com/avatarctic/admission-gate/internal/core/ports"
)

// AdmissionMiddleware gates routes through the admission controller. The
// identity is the authenticated caller id when present (X-Identity header set
// by the auth layer upstream), falling back to the client network address.
type AdmissionMiddleware struct {
	admission ports.AdmissionController
	logger    *logrus.Logger
}

func NewAdmissionMiddleware(admission ports.AdmissionController, logger *logrus.Logger) *AdmissionMiddleware {
	return &AdmissionMiddleware{admission: admission, logger: logger}
}

func (m *AdmissionMiddleware) Handler() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			identity, kind := callerIdentity(c)
			endpoint := c.Path()

			result, err := m.admission.EvaluateAdmission(c.Request().Context(), identity, kind, endpoint)
			if err != nil {
				// A malformed identity is a client error; only infrastructure
				// failures fall open.
				if errors.Is(err, gate.ErrInvalidIdentity) {
					return echo.NewHTTPError(http.StatusBadRequest, "invalid identity")
				}
				if m.logger != nil {
					m.logger.WithFields(logrus.Fields{"identity": identity, "endpoint": endpoint}).WithError(err).Warn("admission middleware: evaluation failed, allowing request (fail-open)")
				}
				return next(c)
			}

			setAdmissionHeaders(c, result)
			c.Set(DecisionContextKey, string(result.Decision))

			switch result.Decision {
			case gate.DecisionBlocked:
				return echo.NewHTTPError(http.StatusTooManyRequests, "temporarily blocked")
			case gate.DecisionQuotaExceeded:
				return echo.NewHTTPError(http.StatusTooManyRequests, fmt.Sprintf("daily quota of %d queries exhausted", result.QueriesLimit))
			}

			if err := next(c); err != nil {
				return err
			}

			// Only successfully served requests consume quota and window budget.
			if recErr := m.admission.RecordSuccess(c.Request().Context(), identity, kind, endpoint); recErr != nil && m.logger != nil {
				m.logger.WithFields(logrus.Fields{"identity": identity, "endpoint": endpoint}).WithError(recErr).Warn("admission middleware: failed to record usage")
			}
			return nil
		}
	}
}

func callerIdentity(c echo.Context) (string, gate.IdentifierKind) {
	if id := c.Request().Header.Get("X-Identity"); id != "" {
		return id, gate.IdentifierUser
	}
	return c.RealIP(), gate.IdentifierIP
}

func setAdmissionHeaders(c echo.Context, result *gate.AdmissionResult) {
	h := c.Response().Header()
	if !result.Unlimited {
		h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", result.QueriesLimit))
		remaining := result.QueriesLimit - result.QueriesUsed
		if remaining < 0 {
			remaining = 0
		}
		h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
	}
	if !result.ResetTime.IsZero() {
		h.Set("X-RateLimit-Reset", fmt.Sprintf("%d", result.ResetTime.Unix()))
	}
	if result.RetryAfter > 0 {
		h.Set("Retry-After", fmt.Sprintf("%d", int(result.RetryAfter.Seconds())+1))
	}
}
