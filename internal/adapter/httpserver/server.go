// Package httpserver exposes the operational HTTP surface: health probes,
// Prometheus metrics, the websocket endpoint, and the read-mostly status API.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/EmmaGarrr/ai-pm/internal/engine"
	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/monitor"
	"github.com/EmmaGarrr/ai-pm/internal/platform/config"
	"github.com/EmmaGarrr/ai-pm/internal/registry"
	"github.com/EmmaGarrr/ai-pm/internal/resilience"
)

type broadcastService interface {
	Stats() engine.Stats
	Status(messageID string) (engine.Status, bool)
	ListActive(limit int) []engine.Status
	BroadcastSystemWide(eventType string, data map[string]any, priority event.Priority) string
	BroadcastToSubscribers(eventType string, data map[string]any, roomID string, priority event.Priority) string
}

type registryService interface {
	Statistics() registry.Statistics
	ConnectionDetails(id uuid.UUID) (registry.Details, bool)
}

type monitorService interface {
	CurrentStatus() monitor.StatusReport
	ForceHealthCheck(ctx context.Context) map[string]monitor.ComponentHealth
	Alerts(severity string, limit int) []monitor.Alert
	History(hours int) []monitor.Sample
	Thresholds() map[string]monitor.Threshold
	UpdateThreshold(metric string, th monitor.Threshold) bool
}

type eventStoreService interface {
	RecentEvents(ctx context.Context, roomID string, limit int) ([]event.Event, error)
	DeleteSession(ctx context.Context, sessionRef string) error
}

type errorService interface {
	Recent(sev resilience.Severity, limit int) []resilience.Record
	Statistics(window time.Duration) resilience.Statistics
	Resolve(id string) bool
	BreakerStates() map[string]resilience.BreakerSnapshot
	ResetBreaker(name string) bool
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	broadcasts broadcastService
	registry   registryService
	monitor    monitorService
	errors     errorService
	history    *event.History
	eventStore eventStoreService

	websocketHandler http.Handler
	healthChecks     []HealthCheck
	startTime        time.Time
}

func NewServer(
	cfg *config.Config,
	broadcasts broadcastService,
	reg registryService,
	mon monitorService,
	errs errorService,
	history *event.History,
	eventStore eventStoreService,
	websocketHandler http.Handler,
	healthChecks []HealthCheck,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		broadcasts:       broadcasts,
		registry:         reg,
		monitor:          mon,
		errors:           errs,
		history:          history,
		eventStore:       eventStore,
		websocketHandler: websocketHandler,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
