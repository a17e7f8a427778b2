package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/EmmaGarrr/ai-pm/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.probeHandler(startupProbeTimeout))
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.probeHandler(readinessProbeTimeout))
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// probeHandler runs every registered health check within the given timeout
// and reports per-check latencies. The first failing check sets the
// failed_check field and turns the response into a 503.
func (s *Server) probeHandler(timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		checks := make(map[string]string, len(s.healthChecks))
		var failed *HealthCheck
		var failure error

		for i, hc := range s.healthChecks {
			started := time.Now()
			err := hc.Check(ctx)
			checks[hc.Name] = time.Since(started).Round(time.Millisecond).String()
			if err != nil && failed == nil {
				failed = &s.healthChecks[i]
				failure = err
			}
		}

		if failed != nil {
			response := map[string]any{
				"status":       "unhealthy",
				"failed_check": failed.Name,
				"error":        failure.Error(),
				"checks":       checks,
			}
			if err := c.JSON(http.StatusServiceUnavailable, response); err != nil {
				return fmt.Errorf("failed to send JSON response: %w", err)
			}
			return nil
		}

		response := map[string]any{
			"status": "ready",
			"checks": checks,
		}
		if err := c.JSON(http.StatusOK, response); err != nil {
			return fmt.Errorf("failed to send JSON response: %w", err)
		}
		return nil
	}
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
