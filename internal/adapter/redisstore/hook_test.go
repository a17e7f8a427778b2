package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookStartsClosed(t *testing.T) {
	h := NewCircuitBreakerHook()
	assert.Equal(t, circuitbreaker.ClosedState, h.State())
}

func TestFallbackServesCachedGet(t *testing.T) {
	h := NewCircuitBreakerHook()

	read := goredis.NewStringCmd(context.Background(), "get", "session:abc")
	read.SetVal("cached-value")
	h.cacheResult(read)

	probe := goredis.NewStringCmd(context.Background(), "get", "session:abc")
	err := h.handleFallback(probe)

	require.NoError(t, err)
	val, err := probe.Result()
	require.NoError(t, err)
	assert.Equal(t, "cached-value", val)
}

func TestFallbackFailsWithoutCache(t *testing.T) {
	h := NewCircuitBreakerHook()

	probe := goredis.NewStringCmd(context.Background(), "get", "session:missing")
	err := h.handleFallback(probe)

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestFallbackRejectsWrites(t *testing.T) {
	h := NewCircuitBreakerHook()

	write := goredis.NewStatusCmd(context.Background(), "set", "session:abc", "v")
	err := h.handleFallback(write)

	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}

func TestCacheExpiry(t *testing.T) {
	h := NewCircuitBreakerHook()

	read := goredis.NewStringCmd(context.Background(), "get", "k")
	read.SetVal("v")
	h.cacheResult(read)

	h.cache.mu.Lock()
	entry := h.cache.values["k"]
	entry.timestamp = time.Now().Add(-cacheTTL - time.Second)
	h.cache.values["k"] = entry
	h.cache.mu.Unlock()

	_, ok := h.getFromCache(goredis.NewStringCmd(context.Background(), "get", "k"))
	assert.False(t, ok)
}

func TestCacheIgnoresNonReadCommands(t *testing.T) {
	h := NewCircuitBreakerHook()

	write := goredis.NewStatusCmd(context.Background(), "set", "k", "v")
	h.cacheResult(write)

	_, ok := h.getFromCache(goredis.NewStringCmd(context.Background(), "get", "k"))
	assert.False(t, ok)
}

func TestNewStoreRejectsBadURL(t *testing.T) {
	_, err := New("not-a-url")
	assert.Error(t, err)
}
