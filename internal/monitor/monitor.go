// Package monitor runs periodic health checks, samples core metrics against
// alert thresholds, and publishes system status snapshots to all clients.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/EmmaGarrr/ai-pm/internal/engine"
	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/metrics"
	"github.com/EmmaGarrr/ai-pm/internal/platform/correlation"
)

const (
	checkTimeout    = 5 * time.Second
	historyCapacity = 1000
	alertCapacity   = 100
)

// HealthCheck probes one component. Check must respect the context deadline.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ComponentHealth is the outcome of one component probe.
type ComponentHealth struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	Latency   float64   `json:"latency_seconds"`
	CheckedAt time.Time `json:"checked_at"`
}

// Threshold holds the warning and critical levels for one observed metric.
type Threshold struct {
	Warning  float64 `json:"warning"`
	Critical float64 `json:"critical"`
}

// Alert is a threshold violation raised by the metrics loop.
type Alert struct {
	ID        string    `json:"alert_id"`
	Severity  string    `json:"severity"`
	Metric    string    `json:"metric"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Sample is one metrics-loop observation.
type Sample struct {
	Timestamp         time.Time `json:"timestamp"`
	ConnectionCount   int       `json:"connection_count"`
	MessagesProcessed int64     `json:"messages_processed"`
	QueueDepth        int       `json:"queue_depth"`
	ErrorRate         float64   `json:"error_rate"`
	ResponseTime      float64   `json:"response_time"`
}

// StatusReport is the operator-facing system status snapshot.
type StatusReport struct {
	Status     string                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Sample     Sample                     `json:"metrics"`
	Alerts     []Alert                    `json:"recent_alerts"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// EngineSource is the broadcast engine surface the monitor needs.
type EngineSource interface {
	Stats() engine.Stats
	BroadcastSystemWide(eventType string, data map[string]any, priority event.Priority) string
}

// RegistrySource is the connection registry surface the monitor needs.
type RegistrySource interface {
	Count() int
	MessagesProcessed() int64
}

// Config sets the monitor's loop intervals. Zero values fall back to
// defaults.
type Config struct {
	HealthInterval          time.Duration
	MetricsInterval         time.Duration
	StatusBroadcastInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 10 * time.Second
	}
	if c.StatusBroadcastInterval <= 0 {
		c.StatusBroadcastInterval = 60 * time.Second
	}
	return c
}

func defaultThresholds() map[string]Threshold {
	return map[string]Threshold{
		"response_time":    {Warning: 5, Critical: 10},
		"error_rate":       {Warning: 0.05, Critical: 0.10},
		"connection_count": {Warning: 500, Critical: 800},
	}
}

// Monitor owns the periodic health, metrics, and status-broadcast loops.
type Monitor struct {
	cfg      Config
	clock    clockwork.Clock
	engine   EngineSource
	registry RegistrySource
	checks   []HealthCheck

	mu         sync.RWMutex
	components map[string]ComponentHealth
	thresholds map[string]Threshold
	samples    []Sample
	alerts     []Alert
	lastSample Sample
}

// New creates a monitor. Checks run in registration order.
func New(cfg Config, eng EngineSource, reg RegistrySource, checks []HealthCheck, clock clockwork.Clock) *Monitor {
	return &Monitor{
		cfg:        cfg.withDefaults(),
		clock:      clock,
		engine:     eng,
		registry:   reg,
		checks:     checks,
		components: make(map[string]ComponentHealth),
		thresholds: defaultThresholds(),
	}
}

// Run drives the three loops until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	health := m.clock.NewTicker(m.cfg.HealthInterval)
	defer health.Stop()
	metricsTick := m.clock.NewTicker(m.cfg.MetricsInterval)
	defer metricsTick.Stop()
	status := m.clock.NewTicker(m.cfg.StatusBroadcastInterval)
	defer status.Stop()

	// Prime component state so the first status report is not empty.
	m.runHealthChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Status monitor stopped")
			return
		case <-health.Chan():
			m.runHealthChecks(correlation.Fresh(ctx))
		case <-metricsTick.Chan():
			m.collectSample()
		case <-status.Chan():
			m.broadcastStatus()
		}
	}
}

// ForceHealthCheck runs all probes immediately and returns the results.
func (m *Monitor) ForceHealthCheck(ctx context.Context) map[string]ComponentHealth {
	m.runHealthChecks(ctx)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ComponentHealth, len(m.components))
	for k, v := range m.components {
		out[k] = v
	}
	return out
}

func (m *Monitor) runHealthChecks(ctx context.Context) {
	for _, hc := range m.checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := m.clock.Now()
		err := hc.Check(checkCtx)
		cancel()

		ch := ComponentHealth{
			Name:      hc.Name,
			Healthy:   err == nil,
			Latency:   m.clock.Since(start).Seconds(),
			CheckedAt: m.clock.Now(),
		}
		if err != nil {
			ch.Error = err.Error()
			slog.WarnContext(ctx, "Health check failed", "component", hc.Name, "error", err)
			metrics.MonitorComponentHealthy.WithLabelValues(hc.Name).Set(0)
		} else {
			metrics.MonitorComponentHealthy.WithLabelValues(hc.Name).Set(1)
		}

		m.mu.Lock()
		m.components[hc.Name] = ch
		m.mu.Unlock()
	}
}

// collectSample takes one metrics observation and evaluates thresholds.
func (m *Monitor) collectSample() {
	stats := m.engine.Stats()

	var errorRate float64
	if attempts := stats.SuccessfulDeliveries + stats.FailedDeliveries; attempts > 0 {
		errorRate = float64(stats.FailedDeliveries) / float64(attempts)
	}

	m.mu.RLock()
	var worstLatency float64
	for _, ch := range m.components {
		if ch.Latency > worstLatency {
			worstLatency = ch.Latency
		}
	}
	m.mu.RUnlock()

	sample := Sample{
		Timestamp:         m.clock.Now(),
		ConnectionCount:   m.registry.Count(),
		MessagesProcessed: m.registry.MessagesProcessed(),
		QueueDepth:        stats.Queues.High + stats.Queues.Normal + stats.Queues.Low,
		ErrorRate:         errorRate,
		ResponseTime:      worstLatency,
	}

	m.mu.Lock()
	if len(m.samples) >= historyCapacity {
		copy(m.samples, m.samples[1:])
		m.samples = m.samples[:len(m.samples)-1]
	}
	m.samples = append(m.samples, sample)
	m.lastSample = sample
	m.mu.Unlock()

	m.evaluate("connection_count", float64(sample.ConnectionCount))
	m.evaluate("error_rate", sample.ErrorRate)
	m.evaluate("response_time", sample.ResponseTime)
}

// evaluate raises an alert when a metric crosses its warning or critical
// threshold.
func (m *Monitor) evaluate(metric string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	th, ok := m.thresholds[metric]
	if !ok {
		return
	}

	var severity string
	var crossed float64
	switch {
	case value >= th.Critical:
		severity, crossed = "critical", th.Critical
	case value >= th.Warning:
		severity, crossed = "warning", th.Warning
	default:
		return
	}

	alert := Alert{
		ID:        "alert_" + uuid.NewString(),
		Severity:  severity,
		Metric:    metric,
		Value:     value,
		Threshold: crossed,
		Message:   fmt.Sprintf("%s at %.2f crossed %s threshold %.2f", metric, value, severity, crossed),
		Timestamp: m.clock.Now(),
	}

	if len(m.alerts) >= alertCapacity {
		copy(m.alerts, m.alerts[1:])
		m.alerts = m.alerts[:len(m.alerts)-1]
	}
	m.alerts = append(m.alerts, alert)

	metrics.MonitorAlertsTotal.WithLabelValues(severity).Inc()
	slog.Warn("Threshold alert raised", "metric", metric, "severity", severity, "value", value, "threshold", crossed)
}

// broadcastStatus pushes the current status report to every connection.
func (m *Monitor) broadcastStatus() {
	report := m.CurrentStatus()

	data := map[string]any{
		"status":    report.Status,
		"metrics":   report.Sample,
		"timestamp": report.Timestamp,
	}
	m.engine.BroadcastSystemWide(event.TypeSystemStatusUpdate, data, event.PriorityNormal)
}

// CurrentStatus assembles the overall system status from component health
// and recent alerts.
func (m *Monitor) CurrentStatus() StatusReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth, len(m.components))
	allHealthy := true
	for k, v := range m.components {
		components[k] = v
		if !v.Healthy {
			allHealthy = false
		}
	}

	status := "healthy"
	if !allHealthy {
		status = "critical"
	} else {
		for i := len(m.alerts) - 1; i >= 0; i-- {
			a := m.alerts[i]
			if m.clock.Since(a.Timestamp) > m.cfg.MetricsInterval {
				break
			}
			if a.Severity == "critical" {
				status = "critical"
				break
			}
			status = "degraded"
		}
	}

	recent := make([]Alert, 0, 10)
	for i := len(m.alerts) - 1; i >= 0 && len(recent) < 10; i-- {
		recent = append(recent, m.alerts[i])
	}

	return StatusReport{
		Status:     status,
		Components: components,
		Sample:     m.lastSample,
		Alerts:     recent,
		Timestamp:  m.clock.Now(),
	}
}

// Alerts returns up to limit alerts most-recent-first, optionally filtered
// by severity (empty matches all).
func (m *Monitor) Alerts(severity string, limit int) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = len(m.alerts)
	}

	out := make([]Alert, 0, min(limit, len(m.alerts)))
	for i := len(m.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if severity != "" && m.alerts[i].Severity != severity {
			continue
		}
		out = append(out, m.alerts[i])
	}
	return out
}

// Samples returns up to limit metric samples most-recent-first.
func (m *Monitor) Samples(limit int) []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > len(m.samples) {
		limit = len(m.samples)
	}

	out := make([]Sample, 0, limit)
	for i := len(m.samples) - 1; i >= len(m.samples)-limit; i-- {
		out = append(out, m.samples[i])
	}
	return out
}

// History returns every sample collected within the last given number of
// hours, oldest first. Zero or negative hours means one hour.
func (m *Monitor) History(hours int) []Sample {
	if hours <= 0 {
		hours = 1
	}
	cutoff := m.clock.Now().Add(-time.Duration(hours) * time.Hour)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Sample, 0, len(m.samples))
	for _, s := range m.samples {
		if s.Timestamp.After(cutoff) {
			out = append(out, s)
		}
	}
	return out
}

// Thresholds returns a copy of the current alert thresholds.
func (m *Monitor) Thresholds() map[string]Threshold {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Threshold, len(m.thresholds))
	for k, v := range m.thresholds {
		out[k] = v
	}
	return out
}

// UpdateThreshold replaces the threshold for a known metric. It reports
// whether the metric exists and the levels are sane.
func (m *Monitor) UpdateThreshold(metric string, th Threshold) bool {
	if th.Warning <= 0 || th.Critical <= th.Warning {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.thresholds[metric]; !ok {
		return false
	}
	m.thresholds[metric] = th
	slog.Info("Alert threshold updated", "metric", metric, "warning", th.Warning, "critical", th.Critical)
	return true
}
