package httpserver

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
)

type admissionRequest struct {
	Identity string `json:"identity"`
	Kind     string `json:"kind"`
	Endpoint string `json:"endpoint"`
}

type suspiciousRequest struct {
	Identifier string `json:"identifier"`
	Kind       string `json:"kind"`
	Severity   string `json:"severity"`
}

type admissionResponse struct {
	Decision          gate.Decision `json:"decision"`
	QueriesUsed       int           `json:"queries_used"`
	QueriesLimit      int           `json:"queries_limit"`
	Unlimited         bool          `json:"unlimited"`
	ResetTime         int64         `json:"reset_time,omitempty"`
	RetryAfterSeconds int           `json:"retry_after_seconds,omitempty"`
}

func (req *admissionRequest) identifierKind() gate.IdentifierKind {
	if req.Kind == string(gate.IdentifierIP) {
		return gate.IdentifierIP
	}
	return gate.IdentifierUser
}

// evaluateAdmissionHandler answers the combined allow/throttle/block/quota
// verdict without consuming any budget.
func (s *Server) evaluateAdmissionHandler(c echo.Context) error {
	var req admissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.admission.EvaluateAdmission(c.Request().Context(), req.Identity, req.identifierKind(), req.Endpoint)
	if err != nil {
		if errors.Is(err, gate.ErrInvalidIdentity) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid identity")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "admission check unavailable, try again")
	}

	decisionsTotal.WithLabelValues(string(result.Decision), req.Endpoint).Inc()

	resp := admissionResponse{
		Decision:     result.Decision,
		QueriesUsed:  result.QueriesUsed,
		QueriesLimit: result.QueriesLimit,
		Unlimited:    result.Unlimited,
	}
	if !result.ResetTime.IsZero() {
		resp.ResetTime = result.ResetTime.Unix()
	}
	if result.RetryAfter > 0 {
		resp.RetryAfterSeconds = int(result.RetryAfter.Seconds()) + 1
	}
	return c.JSON(http.StatusOK, resp)
}

// recordSuccessHandler consumes one unit of quota and window budget for a
// completed metered operation.
func (s *Server) recordSuccessHandler(c echo.Context) error {
	var req admissionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.admission.RecordSuccess(c.Request().Context(), req.Identity, req.identifierKind(), req.Endpoint); err != nil {
		if errors.Is(err, gate.ErrInvalidIdentity) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid identity")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to record usage, try again")
	}
	return c.NoContent(http.StatusNoContent)
}

// reportSuspiciousHandler feeds an externally observed anomaly into the
// adaptive gate's fast-path escalation.
func (s *Server) reportSuspiciousHandler(c echo.Context) error {
	var req suspiciousRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	severity := gate.Severity(req.Severity)
	switch severity {
	case gate.SeverityLow, gate.SeverityMedium, gate.SeverityHigh:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "severity must be low, medium or high")
	}

	kind := gate.IdentifierUser
	if req.Kind == string(gate.IdentifierIP) {
		kind = gate.IdentifierIP
	}

	if err := s.admission.ReportSuspiciousSignal(c.Request().Context(), req.Identifier, kind, severity); err != nil {
		if errors.Is(err, gate.ErrInvalidIdentity) {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid identifier")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "failed to record signal, try again")
	}
	return c.NoContent(http.StatusNoContent)
}

// quotaHandler exposes current quota metadata for an identity.
func (s *Server) quotaHandler(c echo.Context) error {
	identity := c.Param("identity")
	if err := gate.ValidateIdentity(identity); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid identity")
	}

	verdict, err := s.quota.Check(c.Request().Context(), identity)
	if err != nil && verdict == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "quota lookup unavailable, try again")
	}
	return c.JSON(http.StatusOK, verdict)
}
