package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/monitor"
	"github.com/EmmaGarrr/ai-pm/internal/resilience"
)

const defaultListLimit = 50

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.monitor.CurrentStatus())
}

func (s *Server) handleForceHealthCheck(c echo.Context) error {
	results := s.monitor.ForceHealthCheck(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{"components": results})
}

func (s *Server) handleStatusHistory(c echo.Context) error {
	hours := queryInt(c, "hours", 1)
	return c.JSON(http.StatusOK, map[string]any{
		"samples": s.monitor.History(hours),
	})
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"connections": s.registry.Statistics(),
		"broadcasts":  s.broadcasts.Stats(),
	})
}

func (s *Server) handleListBroadcasts(c echo.Context) error {
	limit := queryInt(c, "limit", defaultListLimit)
	return c.JSON(http.StatusOK, map[string]any{
		"broadcasts": s.broadcasts.ListActive(limit),
	})
}

func (s *Server) handleBroadcastStatus(c echo.Context) error {
	status, ok := s.broadcasts.Status(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "broadcast not found"})
	}
	return c.JSON(http.StatusOK, status)
}

type systemBroadcastRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	Priority  int            `json:"priority"`
}

func (s *Server) handleSystemBroadcast(c echo.Context) error {
	var req systemBroadcastRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.EventType == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event_type is required"})
	}

	priority := event.PriorityNormal
	if req.Priority >= int(event.PriorityLow) && req.Priority <= int(event.PriorityCritical) {
		priority = event.Priority(req.Priority)
	}

	messageID := s.broadcasts.BroadcastSystemWide(req.EventType, req.Data, priority)
	return c.JSON(http.StatusAccepted, map[string]string{"message_id": messageID})
}

type subscriberBroadcastRequest struct {
	EventType string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	RoomID    string         `json:"room_id"`
	Priority  int            `json:"priority"`
}

// handleSubscriberBroadcast targets only connections whose subscription
// matches the event's type, room scope, and filters.
func (s *Server) handleSubscriberBroadcast(c echo.Context) error {
	var req subscriberBroadcastRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.EventType == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event_type is required"})
	}

	priority := event.PriorityNormal
	if req.Priority >= int(event.PriorityLow) && req.Priority <= int(event.PriorityCritical) {
		priority = event.Priority(req.Priority)
	}

	messageID := s.broadcasts.BroadcastToSubscribers(req.EventType, req.Data, req.RoomID, priority)
	return c.JSON(http.StatusAccepted, map[string]string{"message_id": messageID})
}

func (s *Server) handleConnectionDetails(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid connection id"})
	}

	details, ok := s.registry.ConnectionDetails(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "connection not found"})
	}
	return c.JSON(http.StatusOK, details)
}

func (s *Server) handleRecentEvents(c echo.Context) error {
	limit := queryInt(c, "limit", defaultListLimit)
	events := s.history.Recent(c.QueryParam("event_type"), c.QueryParam("room_id"), limit)
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// handleRoomEvents serves the persisted event log for one room, surviving
// process restarts unlike the in-memory history.
func (s *Server) handleRoomEvents(c echo.Context) error {
	limit := queryInt(c, "limit", defaultListLimit)
	events, err := s.eventStore.RecentEvents(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event store unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]any{"events": events})
}

// handleRevokeSession drops a session binding so the next reconnect with
// that session_id starts unauthenticated.
func (s *Server) handleRevokeSession(c echo.Context) error {
	if err := s.eventStore.DeleteSession(c.Request().Context(), c.Param("ref")); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event store unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleRecentErrors(c echo.Context) error {
	limit := queryInt(c, "limit", defaultListLimit)
	severity := resilience.Severity(c.QueryParam("severity"))
	return c.JSON(http.StatusOK, map[string]any{
		"errors": s.errors.Recent(severity, limit),
	})
}

func (s *Server) handleErrorStats(c echo.Context) error {
	hours := queryInt(c, "window_hours", 24)
	return c.JSON(http.StatusOK, s.errors.Statistics(time.Duration(hours)*time.Hour))
}

func (s *Server) handleResolveError(c echo.Context) error {
	if !s.errors.Resolve(c.Param("id")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "error record not found"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleBreakerStates(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"breakers": s.errors.BreakerStates()})
}

func (s *Server) handleResetBreaker(c echo.Context) error {
	if !s.errors.ResetBreaker(c.Param("name")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "breaker not found"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) handleAlerts(c echo.Context) error {
	limit := queryInt(c, "limit", defaultListLimit)
	return c.JSON(http.StatusOK, map[string]any{
		"alerts": s.monitor.Alerts(c.QueryParam("severity"), limit),
	})
}

func (s *Server) handleThresholds(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"thresholds": s.monitor.Thresholds()})
}

func (s *Server) handleUpdateThreshold(c echo.Context) error {
	var th monitor.Threshold
	if err := c.Bind(&th); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	if !s.monitor.UpdateThreshold(c.Param("metric"), th) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown metric or invalid levels"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
