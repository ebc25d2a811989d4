package httpserver

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/avatarctic/admission-gate/internal/core/domain/gate"
)

const (
	defaultReportLimit = 100
	maxReportLimit     = 1000
)

// listWindowsHandler returns historical window records for an endpoint. Only
// the durable window stores support this; Redis deployments get a 501.
func (s *Server) listWindowsHandler(c echo.Context) error {
	endpoint := c.QueryParam("endpoint")
	if endpoint == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "endpoint query parameter is required")
	}

	since := s.clock.Now().Add(-24 * time.Hour)
	if raw := c.QueryParam("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "since must be RFC3339")
		}
		since = parsed
	}

	limit := defaultReportLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if parsed > maxReportLimit {
			parsed = maxReportLimit
		}
		limit = parsed
	}

	records, err := s.windowRepo.ListWindows(c.Request().Context(), endpoint, since, limit)
	if err != nil {
		if errors.Is(err, gate.ErrUnsupported) {
			return echo.NewHTTPError(http.StatusNotImplemented, "window reporting requires a durable window store")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "report unavailable, try again")
	}
	return c.JSON(http.StatusOK, map[string]any{
		"endpoint": endpoint,
		"since":    since,
		"windows":  records,
	})
}
