package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker("test", 3, 30*time.Second, 3, clock)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker("test", 3, 30*time.Second, 3, clock)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	// Two failures after the reset: still below the threshold.
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpensAfterCooldown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker("test", 1, 30*time.Second, 3, clock)

	b.RecordFailure()
	require.False(t, b.Allow())

	clock.Advance(29 * time.Second)
	assert.False(t, b.Allow())

	clock.Advance(time.Second)
	assert.True(t, b.Allow(), "probe admitted once cooldown elapsed")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerClosesAfterProbeSuccesses(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker("test", 1, 30*time.Second, 3, clock)

	b.RecordFailure()
	clock.Advance(30 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()
	b.RecordSuccess()
	assert.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker("test", 1, 30*time.Second, 3, clock)

	b.RecordFailure()
	clock.Advance(30 * time.Second)
	require.True(t, b.Allow())

	b.RecordSuccess()
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	// The cooldown restarts from the probe failure.
	clock.Advance(30 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerDo(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker("test", 1, 30*time.Second, 3, clock)

	boom := errors.New("boom")
	err := b.Do(func() error { return boom })
	require.ErrorIs(t, err, boom)

	err = b.Do(func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorContains(t, err, "test")
}

func TestBreakerReset(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBreaker("test", 1, 30*time.Second, 3, clock)

	b.RecordFailure()
	require.Equal(t, StateOpen, b.State())

	b.Reset()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}
