package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyRecordsAndRoutes(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHandler(clock)

	var recovered []Record
	h.OnCategory(CategoryStore, func(rec Record) {
		recovered = append(recovered, rec)
	})

	rec := h.Classify(errors.New("redis timeout"), CategoryStore, SeverityHigh, map[string]any{"op": "get"})

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, CategoryStore, rec.Category)
	assert.Equal(t, StrategyFallback, rec.Strategy)
	assert.False(t, rec.Resolved)

	require.Len(t, recovered, 1)
	assert.Equal(t, rec.ID, recovered[0].ID)
}

func TestRecoveryStrategyTable(t *testing.T) {
	assert.Equal(t, StrategyRetry, recoveryTable[CategoryTransport])
	assert.Equal(t, StrategyFallback, recoveryTable[CategoryStore])
	assert.Equal(t, StrategyCircuitBreaker, recoveryTable[CategoryAIService])
	assert.Equal(t, StrategyFallback, recoveryTable[CategoryBroadcast])
	assert.Equal(t, StrategyNotify, recoveryTable[CategoryAuth])
	assert.Equal(t, StrategyNotify, recoveryTable[CategoryValidation])
	assert.Equal(t, StrategyNotify, recoveryTable[CategorySystem])
}

func TestResolveMarksRecord(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHandler(clock)

	rec := h.Classify(errors.New("bad token"), CategoryAuth, SeverityMedium, nil)

	assert.True(t, h.Resolve(rec.ID))
	assert.False(t, h.Resolve("err_unknown"))

	recent := h.Recent("", 1)
	require.Len(t, recent, 1)
	assert.True(t, recent[0].Resolved)
}

func TestRecentFiltersBySeverity(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHandler(clock)

	h.Classify(errors.New("a"), CategorySystem, SeverityLow, nil)
	h.Classify(errors.New("b"), CategorySystem, SeverityCritical, nil)
	h.Classify(errors.New("c"), CategorySystem, SeverityLow, nil)

	crit := h.Recent(SeverityCritical, 10)
	require.Len(t, crit, 1)
	assert.Equal(t, "b", crit[0].Message)

	all := h.Recent("", 10)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Message, "most recent first")
}

func TestHistoryIsBounded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHandler(clock)

	for i := 0; i < historyCapacity+10; i++ {
		h.Classify(errors.New("x"), CategorySystem, SeverityLow, nil)
	}

	assert.Len(t, h.Recent("", 0), historyCapacity)
	assert.Equal(t, int64(historyCapacity+10), h.Statistics(time.Hour).AllTime)
}

func TestStatisticsWindow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHandler(clock)

	h.Classify(errors.New("old"), CategoryStore, SeverityHigh, nil)
	clock.Advance(2 * time.Hour)
	rec := h.Classify(errors.New("recent"), CategoryTransport, SeverityLow, nil)
	h.Resolve(rec.ID)

	stats := h.Statistics(time.Hour)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.ByCategory[CategoryTransport])
	assert.Zero(t, stats.ByCategory[CategoryStore])
	assert.Equal(t, int64(2), stats.AllTime)
}

func TestStatisticsResolutionRateAndBreakers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHandler(clock)

	rec := h.Classify(errors.New("a"), CategoryStore, SeverityLow, nil)
	h.Classify(errors.New("b"), CategoryStore, SeverityLow, nil)
	require.True(t, h.Resolve(rec.ID))

	// Trip one breaker so the snapshot reflects live state.
	for i := 0; i < 3; i++ {
		_ = h.Do("ai_service", func() error { return errors.New("ai down") })
	}

	stats := h.Statistics(time.Hour)
	assert.InDelta(t, 0.5, stats.ResolutionRate, 0.001)
	require.Len(t, stats.Breakers, 4)
	assert.Equal(t, StateClosed, stats.Breakers["store"].State)
	assert.Equal(t, StateOpen, stats.Breakers["ai_service"].State)
}

func TestHandlerDefaultBreakers(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHandler(clock)

	states := h.BreakerStates()
	require.Len(t, states, 4)
	for _, name := range []string{"ai_service", "store", "transport", "broadcast"} {
		require.Contains(t, states, name)
		assert.Equal(t, StateClosed, states[name].State)
	}
	assert.Equal(t, 3, states["ai_service"].FailureThreshold)
	assert.Equal(t, 5, states["store"].FailureThreshold)
	assert.Equal(t, 10, states["transport"].FailureThreshold)
	assert.Equal(t, float64(60), states["store"].Cooldown)
}

func TestHandlerDoGuardsByName(t *testing.T) {
	clock := clockwork.NewFakeClock()
	h := NewHandler(clock)

	boom := errors.New("ai down")
	for i := 0; i < 3; i++ {
		err := h.Do("ai_service", func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	err := h.Do("ai_service", func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)

	// Unknown breaker names run unguarded.
	assert.NoError(t, h.Do("nope", func() error { return nil }))

	require.True(t, h.ResetBreaker("ai_service"))
	assert.NoError(t, h.Do("ai_service", func() error { return nil }))
	assert.False(t, h.ResetBreaker("nope"))
}
