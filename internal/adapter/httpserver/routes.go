package httpserver

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const apiRatePerSecond = 20

func (s *Server) registerRoutes() {
	s.echo.Use(s.setupRequestLoggerMiddleware())
	s.echo.Use(middleware.Recover())

	s.registerHealthRoutes()

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/ws", echo.WrapHandler(s.websocketHandler))

	api := s.echo.Group("/api/v1", newRateLimiter(apiRatePerSecond, 2*apiRatePerSecond))
	api.GET("/status", s.handleStatus)
	api.POST("/status/check", s.handleForceHealthCheck)
	api.GET("/status/history", s.handleStatusHistory)
	api.GET("/stats", s.handleStats)
	api.GET("/broadcasts", s.handleListBroadcasts)
	api.GET("/broadcasts/:id", s.handleBroadcastStatus)
	api.POST("/broadcasts/system", s.handleSystemBroadcast)
	api.POST("/broadcasts/subscribers", s.handleSubscriberBroadcast)
	api.GET("/connections/:id", s.handleConnectionDetails)
	api.GET("/events", s.handleRecentEvents)
	api.GET("/rooms/:id/events", s.handleRoomEvents)
	api.DELETE("/sessions/:ref", s.handleRevokeSession)
	api.GET("/errors", s.handleRecentErrors)
	api.GET("/errors/stats", s.handleErrorStats)
	api.POST("/errors/:id/resolve", s.handleResolveError)
	api.GET("/breakers", s.handleBreakerStates)
	api.POST("/breakers/:name/reset", s.handleResetBreaker)
	api.GET("/alerts", s.handleAlerts)
	api.GET("/thresholds", s.handleThresholds)
	api.PUT("/thresholds/:metric", s.handleUpdateThreshold)
}

func (s *Server) setupRequestLoggerMiddleware() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
			}
			slog.Info("Request", attrs...)
			return nil
		},
	})
}
