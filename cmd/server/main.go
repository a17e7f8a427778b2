package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/EmmaGarrr/ai-pm/internal/adapter/ai"
	"github.com/EmmaGarrr/ai-pm/internal/adapter/httpserver"
	"github.com/EmmaGarrr/ai-pm/internal/adapter/redisstore"
	gateway "github.com/EmmaGarrr/ai-pm/internal/adapter/websocket"
	"github.com/EmmaGarrr/ai-pm/internal/engine"
	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/monitor"
	"github.com/EmmaGarrr/ai-pm/internal/platform/config"
	"github.com/EmmaGarrr/ai-pm/internal/platform/logging"
	"github.com/EmmaGarrr/ai-pm/internal/registry"
	"github.com/EmmaGarrr/ai-pm/internal/resilience"
)

const persistTimeout = 2 * time.Second

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupStore(cfg *config.Config) *redisstore.Store {
	store, err := redisstore.New(cfg.RedisURL)
	if err != nil {
		slog.Error("Failed to create store", "error", err)
		os.Exit(1)
	}
	return store
}

// roomBroadcaster persists room events before handing them to the engine and
// forwards chat messages to the AI producer when one is configured.
type roomBroadcaster struct {
	eng      *engine.Engine
	store    *redisstore.Store
	producer *ai.Producer
	clock    clockwork.Clock
}

func (b *roomBroadcaster) BroadcastToRoom(roomID, eventType string, data map[string]any, priority event.Priority) string {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	e := event.New(eventType, data, roomID, "", b.clock.Now())
	if err := b.store.PersistEvent(ctx, e); err != nil {
		slog.Warn("Failed to persist room event", "room_id", roomID, "error", err)
	}
	cancel()

	messageID := b.eng.BroadcastToRoom(roomID, eventType, data, priority)

	if eventType == event.TypeNewMessage && b.producer.Enabled() {
		userID, _ := data["user_id"].(string)
		prompt, _ := data["text"].(string)
		if prompt != "" {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				if _, err := b.producer.Process(ctx, roomID, userID, prompt); err != nil {
					slog.Warn("AI processing failed", "room_id", roomID, "error", err)
				}
			}()
		}
	}

	return messageID
}

func runGracefulShutdown(srv *httpserver.Server, gw *gateway.Gateway, eng *engine.Engine, store *redisstore.Store, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		gw.Stop()
		eng.Stop()
		cancel()

		if err := store.Close(); err != nil {
			slog.Error("Store close error", "error", err)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	store := setupStore(cfg)

	errs := resilience.NewHandler(clock)
	reg := registry.New(registry.Config{
		MaxConnections:   cfg.MaxConnections,
		MaxPerAddress:    cfg.MaxConnectionsPerAddr,
		MessageRateLimit: cfg.MessageRateLimit,
		IdleTimeout:      cfg.ConnectionIdleTimeout,
		CleanupInterval:  cfg.CleanupInterval,
	}, clock)
	history := event.NewHistory(0)

	checkOrigin := gateway.NewCheckOrigin(cfg.AppURL, cfg.AppEnv == "development")
	gw := gateway.New(reg, nil, errs, clock, checkOrigin)

	eng := engine.New(engine.Config{
		QueueCapacity:   cfg.BroadcastQueueSize,
		MaxAttempts:     cfg.MaxDeliveryAttempts,
		BaseRetryDelay:  cfg.BaseRetryDelay,
		RateLimit:       cfg.BroadcastRateLimit,
		RetentionWindow: cfg.BroadcastRetention,
		ReaperInterval:  cfg.ReaperInterval,
	}, reg, gw, history, clock)

	producer := ai.New(cfg.AIServiceURL, cfg.AIServiceKey, eng, errs)
	gw.BindBroadcaster(&roomBroadcaster{eng: eng, store: store, producer: producer, clock: clock})
	gw.BindSessions(store, cfg.SessionTimeout)

	engineCheck := func(ctx context.Context) error {
		if stats := eng.Stats(); stats.Timestamp.IsZero() {
			return errors.New("broadcast engine not responding")
		}
		return nil
	}
	monitorChecks := []monitor.HealthCheck{
		{Name: "store", Check: store.Health},
		{Name: "transport", Check: gw.Healthy},
		{Name: "broadcast_engine", Check: engineCheck},
	}
	httpChecks := []httpserver.HealthCheck{
		{Name: "store", Check: store.Health},
		{Name: "transport", Check: gw.Healthy},
		{Name: "broadcast_engine", Check: engineCheck},
	}

	mon := monitor.New(monitor.Config{
		HealthInterval:          cfg.HealthCheckInterval,
		MetricsInterval:         cfg.MetricsInterval,
		StatusBroadcastInterval: cfg.StatusBroadcastInterval,
	}, eng, reg, monitorChecks, clock)

	wsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := gw.HandleConnection(w, r); err != nil {
			slog.Debug("Websocket connection ended with error", "error", err)
		}
	})

	srv := httpserver.NewServer(cfg, eng, reg, mon, errs, history, store, wsHandler, httpChecks)

	ctx, cancel := context.WithCancel(context.Background())
	eng.Start()
	go reg.Run(ctx)
	go mon.Run(ctx)

	done := runGracefulShutdown(srv, gw, eng, store, cancel)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
