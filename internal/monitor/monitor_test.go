package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmmaGarrr/ai-pm/internal/engine"
	"github.com/EmmaGarrr/ai-pm/internal/event"
)

type stubEngine struct {
	mu         sync.Mutex
	stats      engine.Stats
	broadcasts []string
}

func (s *stubEngine) Stats() engine.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *stubEngine) BroadcastSystemWide(eventType string, _ map[string]any, _ event.Priority) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.broadcasts = append(s.broadcasts, eventType)
	return "system_system_test"
}

func (s *stubEngine) broadcastCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.broadcasts)
}

type stubRegistry struct {
	count     int
	processed int64
}

func (s *stubRegistry) Count() int               { return s.count }
func (s *stubRegistry) MessagesProcessed() int64 { return s.processed }

func okCheck(name string) HealthCheck {
	return HealthCheck{Name: name, Check: func(context.Context) error { return nil }}
}

func failCheck(name string) HealthCheck {
	return HealthCheck{Name: name, Check: func(context.Context) error { return errors.New("down") }}
}

func TestForceHealthCheck(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(Config{}, &stubEngine{}, &stubRegistry{}, []HealthCheck{okCheck("store"), failCheck("ai_service")}, clock)

	results := m.ForceHealthCheck(context.Background())

	require.Len(t, results, 2)
	assert.True(t, results["store"].Healthy)
	assert.False(t, results["ai_service"].Healthy)
	assert.Equal(t, "down", results["ai_service"].Error)
}

func TestStatusCriticalWhenComponentUnhealthy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(Config{}, &stubEngine{}, &stubRegistry{}, []HealthCheck{failCheck("store")}, clock)

	m.ForceHealthCheck(context.Background())

	assert.Equal(t, "critical", m.CurrentStatus().Status)
}

func TestConnectionCountThresholds(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := &stubRegistry{count: 600}
	m := New(Config{}, &stubEngine{}, reg, nil, clock)

	m.collectSample()

	alerts := m.Alerts("warning", 10)
	require.Len(t, alerts, 1)
	assert.Equal(t, "connection_count", alerts[0].Metric)
	assert.InDelta(t, 600, alerts[0].Value, 0.001)
	assert.Equal(t, "degraded", m.CurrentStatus().Status)

	reg.count = 900
	m.collectSample()

	crit := m.Alerts("critical", 10)
	require.Len(t, crit, 1)
	assert.Equal(t, "critical", m.CurrentStatus().Status)
}

func TestErrorRateFromEngineStats(t *testing.T) {
	clock := clockwork.NewFakeClock()
	eng := &stubEngine{stats: engine.Stats{SuccessfulDeliveries: 80, FailedDeliveries: 20}}
	m := New(Config{}, eng, &stubRegistry{}, nil, clock)

	m.collectSample()

	samples := m.Samples(1)
	require.Len(t, samples, 1)
	assert.InDelta(t, 0.20, samples[0].ErrorRate, 0.001)

	// 0.20 is above the 0.10 critical threshold.
	require.NotEmpty(t, m.Alerts("critical", 10))
}

func TestHistoryFiltersByAge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(Config{}, &stubEngine{}, &stubRegistry{}, nil, clock)

	m.collectSample()
	clock.Advance(2 * time.Hour)
	m.collectSample()
	clock.Advance(90 * time.Minute)
	m.collectSample()

	assert.Len(t, m.History(1), 1, "only the newest sample is under an hour old")
	assert.Len(t, m.History(2), 2)
	assert.Len(t, m.History(4), 3)
	assert.Len(t, m.History(0), 1, "non-positive hours defaults to one")
}

func TestAlertRingIsBounded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := &stubRegistry{count: 900}
	m := New(Config{}, &stubEngine{}, reg, nil, clock)

	for i := 0; i < alertCapacity+20; i++ {
		m.collectSample()
	}

	assert.Len(t, m.Alerts("", 0), alertCapacity)
}

func TestUpdateThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := New(Config{}, &stubEngine{}, &stubRegistry{}, nil, clock)

	assert.True(t, m.UpdateThreshold("connection_count", Threshold{Warning: 100, Critical: 200}))
	assert.False(t, m.UpdateThreshold("unknown_metric", Threshold{Warning: 1, Critical: 2}))
	assert.False(t, m.UpdateThreshold("connection_count", Threshold{Warning: 200, Critical: 100}), "critical must exceed warning")

	th := m.Thresholds()["connection_count"]
	assert.Equal(t, float64(100), th.Warning)
	assert.Equal(t, float64(200), th.Critical)
}

func TestRunBroadcastsStatus(t *testing.T) {
	clock := clockwork.NewFakeClock()
	eng := &stubEngine{}
	m := New(Config{}, eng, &stubRegistry{}, []HealthCheck{okCheck("store")}, clock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Wait for the three loop tickers to be armed.
	clock.BlockUntil(3)
	clock.Advance(time.Minute)

	require.Eventually(t, func() bool {
		return eng.broadcastCount() >= 1
	}, time.Second, 10*time.Millisecond)

	eng.mu.Lock()
	assert.Equal(t, event.TypeSystemStatusUpdate, eng.broadcasts[0])
	eng.mu.Unlock()
}

func TestStatusHealthyWhenAlertsAreStale(t *testing.T) {
	clock := clockwork.NewFakeClock()
	reg := &stubRegistry{count: 600}
	m := New(Config{}, &stubEngine{}, reg, nil, clock)

	m.collectSample()
	require.Equal(t, "degraded", m.CurrentStatus().Status)

	// Once the alert ages past the sampling interval the status recovers.
	clock.Advance(time.Minute)
	assert.Equal(t, "healthy", m.CurrentStatus().Status)
}
