package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"

	"github.com/EmmaGarrr/ai-pm/internal/metrics"
)

const cacheTTL = 5 * time.Minute

// CircuitBreakerHook implements redis.Hook to guard every Redis operation
// with a circuit breaker. While the circuit is open, reads are served from a
// short-lived fallback cache of previously seen values; writes fail fast.
type CircuitBreakerHook struct {
	cb    circuitbreaker.CircuitBreaker[any]
	cache *fallbackCache
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

type fallbackCache struct {
	mu     sync.RWMutex
	values map[string]cachedValue
}

type cachedValue struct {
	data      string
	timestamp time.Time
}

// NewCircuitBreakerHook creates the hook. The breaker opens at a 60% failure
// rate over at least 5 requests in a 10s window, probes after 30s, and
// closes on the first probe success.
func NewCircuitBreakerHook() *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(30 * time.Second).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Redis circuit breaker state changed",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
			metrics.CircuitBreakerStateChanges.WithLabelValues("redis", e.NewState.String()).Inc()
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateToFloat(e.NewState))
		}).
		Build()

	return &CircuitBreakerHook{
		cb:    cb,
		cache: &fallbackCache{values: make(map[string]cachedValue)},
	}
}

func stateToFloat(state circuitbreaker.State) float64 {
	switch state {
	case circuitbreaker.ClosedState:
		return 0
	case circuitbreaker.HalfOpenState:
		return 1
	case circuitbreaker.OpenState:
		return 2
	default:
		return -1
	}
}

// DialHook wraps connection establishment.
func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !h.cb.TryAcquirePermit() {
			return nil, fmt.Errorf("redis dial rejected: %w", circuitbreaker.ErrOpen)
		}
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.cb.RecordError(err)
			return nil, fmt.Errorf("redis dial failed: %w", err)
		}
		h.cb.RecordSuccess()
		return conn, nil
	}
}

// ProcessHook wraps single command execution.
func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return h.handleFallback(cmd)
		}

		err := next(ctx, cmd)
		if err != nil && !errors.Is(err, goredis.Nil) {
			h.cb.RecordError(err)
		} else {
			h.cb.RecordSuccess()
		}

		if err == nil {
			h.cacheResult(cmd)
		}

		if err != nil {
			return err
		}
		return nil
	}
}

// ProcessPipelineHook wraps pipeline execution. Pipelines are write paths
// here, so an open circuit fails them fast.
func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		if !h.cb.TryAcquirePermit() {
			return fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
		}

		err := next(ctx, cmds)
		if err != nil {
			h.cb.RecordError(err)
			return err
		}
		h.cb.RecordSuccess()
		return nil
	}
}

// handleFallback serves reads from the fallback cache while the circuit is
// open.
func (h *CircuitBreakerHook) handleFallback(cmd goredis.Cmder) error {
	switch cmd.Name() {
	case "get":
		if result, ok := h.getFromCache(cmd); ok {
			if c, isString := cmd.(*goredis.StringCmd); isString {
				slog.Debug("Redis circuit open, serving read from fallback cache", "args", cmd.Args())
				metrics.StoreFallbackServes.Inc()
				c.SetVal(result)
				return nil
			}
		}
		return fmt.Errorf("redis circuit breaker open, no cached value: %w", circuitbreaker.ErrOpen)
	default:
		return fmt.Errorf("redis circuit breaker open: %w", circuitbreaker.ErrOpen)
	}
}

// cacheResult stores successful read results for future fallback.
func (h *CircuitBreakerHook) cacheResult(cmd goredis.Cmder) {
	if cmd.Name() != "get" {
		return
	}

	args := cmd.Args()
	if len(args) < 2 {
		return
	}

	c, ok := cmd.(*goredis.StringCmd)
	if !ok {
		return
	}
	value, err := c.Result()
	if err != nil || value == "" {
		return
	}

	key := fmt.Sprintf("%v", args[1])
	h.cache.mu.Lock()
	h.cache.values[key] = cachedValue{data: value, timestamp: time.Now()}
	h.cache.mu.Unlock()
}

// getFromCache retrieves a cached value if present and within its TTL.
func (h *CircuitBreakerHook) getFromCache(cmd goredis.Cmder) (string, bool) {
	args := cmd.Args()
	if len(args) < 2 {
		return "", false
	}
	key := fmt.Sprintf("%v", args[1])

	h.cache.mu.RLock()
	defer h.cache.mu.RUnlock()

	cached, ok := h.cache.values[key]
	if !ok || time.Since(cached.timestamp) > cacheTTL {
		return "", false
	}
	return cached.data, true
}

// State returns the breaker's current state.
func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}
