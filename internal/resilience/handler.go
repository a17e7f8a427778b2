package resilience

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/EmmaGarrr/ai-pm/internal/metrics"
)

// Severity ranks how bad a classified error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category names the subsystem an error originated from. Each category maps
// to a fixed recovery strategy.
type Category string

const (
	CategoryTransport  Category = "transport"
	CategoryStore      Category = "store"
	CategoryAIService  Category = "ai_service"
	CategoryBroadcast  Category = "broadcast"
	CategoryAuth       Category = "auth"
	CategoryValidation Category = "validation"
	CategorySystem     Category = "system"
)

// Strategy is the recovery action taken for a category.
type Strategy string

const (
	StrategyRetry          Strategy = "retry"
	StrategyFallback       Strategy = "fallback"
	StrategyCircuitBreaker Strategy = "circuit_breaker"
	StrategyNotify         Strategy = "notify"
)

var recoveryTable = map[Category]Strategy{
	CategoryTransport:  StrategyRetry,
	CategoryStore:      StrategyFallback,
	CategoryAIService:  StrategyCircuitBreaker,
	CategoryBroadcast:  StrategyFallback,
	CategoryAuth:       StrategyNotify,
	CategoryValidation: StrategyNotify,
	CategorySystem:     StrategyNotify,
}

// Record is a classified error occurrence kept in the bounded history.
type Record struct {
	ID        string         `json:"error_id"`
	Timestamp time.Time      `json:"timestamp"`
	Severity  Severity       `json:"severity"`
	Category  Category       `json:"category"`
	Strategy  Strategy       `json:"recovery_strategy"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	Resolved  bool           `json:"resolved"`
}

// RecoveryFunc is invoked after an error of its category is classified. The
// record describes the occurrence; implementations must not block.
type RecoveryFunc func(rec Record)

const historyCapacity = 1000

// breakerDefaults are the per-boundary breaker parameters.
var breakerDefaults = []struct {
	name      string
	threshold int
	cooldown  time.Duration
}{
	{"ai_service", 3, 30 * time.Second},
	{"store", 5, 60 * time.Second},
	{"transport", 10, 15 * time.Second},
	{"broadcast", 5, 30 * time.Second},
}

const successesToClose = 3

// Handler classifies errors, keeps a bounded record history, routes each
// category to its recovery strategy, and owns the named circuit breakers.
type Handler struct {
	clock clockwork.Clock

	mu         sync.RWMutex
	history    []Record
	recoverers map[Category]RecoveryFunc
	breakers   map[string]*Breaker

	totalErrors int64
}

// NewHandler creates a handler with the default breaker set.
func NewHandler(clock clockwork.Clock) *Handler {
	h := &Handler{
		clock:      clock,
		history:    make([]Record, 0, historyCapacity),
		recoverers: make(map[Category]RecoveryFunc),
		breakers:   make(map[string]*Breaker),
	}
	for _, d := range breakerDefaults {
		h.breakers[d.name] = NewBreaker(d.name, d.threshold, d.cooldown, successesToClose, clock)
	}
	return h
}

// OnCategory registers a recovery callback for a category, replacing any
// previous one.
func (h *Handler) OnCategory(cat Category, fn RecoveryFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recoverers[cat] = fn
}

// Classify records an error occurrence and triggers its category's recovery
// callback. It returns the stored record.
func (h *Handler) Classify(err error, cat Category, sev Severity, context map[string]any) Record {
	if context == nil {
		context = map[string]any{}
	}

	rec := Record{
		ID:        "err_" + uuid.NewString(),
		Timestamp: h.clock.Now(),
		Severity:  sev,
		Category:  cat,
		Strategy:  recoveryTable[cat],
		Message:   err.Error(),
		Context:   context,
	}

	h.mu.Lock()
	if len(h.history) >= historyCapacity {
		copy(h.history, h.history[1:])
		h.history = h.history[:len(h.history)-1]
	}
	h.history = append(h.history, rec)
	h.totalErrors++
	recoverer := h.recoverers[cat]
	h.mu.Unlock()

	metrics.ErrorsClassifiedTotal.WithLabelValues(string(cat), string(sev)).Inc()
	h.log(rec)

	if recoverer != nil {
		recoverer(rec)
	}
	return rec
}

func (h *Handler) log(rec Record) {
	attrs := []any{
		"error_id", rec.ID,
		"category", string(rec.Category),
		"severity", string(rec.Severity),
		"strategy", string(rec.Strategy),
	}
	switch rec.Severity {
	case SeverityCritical, SeverityHigh:
		slog.Error(rec.Message, attrs...)
	case SeverityMedium:
		slog.Warn(rec.Message, attrs...)
	default:
		slog.Info(rec.Message, attrs...)
	}
}

// Do runs op through the named breaker. An unknown name runs unguarded.
func (h *Handler) Do(name string, op func() error) error {
	h.mu.RLock()
	b := h.breakers[name]
	h.mu.RUnlock()

	if b == nil {
		return op()
	}
	return b.Do(op)
}

// Breaker returns the named breaker, or nil if it does not exist.
func (h *Handler) Breaker(name string) *Breaker {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.breakers[name]
}

// ResetBreaker forces the named breaker closed. It reports whether the
// breaker exists.
func (h *Handler) ResetBreaker(name string) bool {
	h.mu.RLock()
	b := h.breakers[name]
	h.mu.RUnlock()

	if b == nil {
		return false
	}
	b.Reset()
	slog.Info("Circuit breaker reset", "breaker", name)
	return true
}

// BreakerStates returns a snapshot of every breaker, keyed by name.
func (h *Handler) BreakerStates() map[string]BreakerSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make(map[string]BreakerSnapshot, len(h.breakers))
	for name, b := range h.breakers {
		out[name] = b.snapshot()
	}
	return out
}

// Resolve marks the record with the given ID resolved. It reports whether
// the record was found.
func (h *Handler) Resolve(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range h.history {
		if h.history[i].ID == id {
			h.history[i].Resolved = true
			return true
		}
	}
	return false
}

// Recent returns up to limit records most-recent-first, optionally filtered
// by severity (empty matches all).
func (h *Handler) Recent(sev Severity, limit int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 {
		limit = len(h.history)
	}

	out := make([]Record, 0, min(limit, len(h.history)))
	for i := len(h.history) - 1; i >= 0 && len(out) < limit; i-- {
		if sev != "" && h.history[i].Severity != sev {
			continue
		}
		out = append(out, h.history[i])
	}
	return out
}

// Statistics summarizes the retained records inside the window, together
// with the current state of every named breaker.
type Statistics struct {
	Window         string                     `json:"window"`
	Total          int                        `json:"total_errors"`
	Resolved       int                        `json:"resolved_errors"`
	ResolutionRate float64                    `json:"resolution_rate"`
	BySeverity     map[Severity]int           `json:"by_severity"`
	ByCategory     map[Category]int           `json:"by_category"`
	Breakers       map[string]BreakerSnapshot `json:"circuit_breakers"`
	AllTime        int64                      `json:"all_time_errors"`
}

// Statistics aggregates retained records no older than the window.
func (h *Handler) Statistics(window time.Duration) Statistics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := h.clock.Now().Add(-window)
	stats := Statistics{
		Window:     fmt.Sprintf("%.0fh", window.Hours()),
		BySeverity: make(map[Severity]int),
		ByCategory: make(map[Category]int),
		Breakers:   make(map[string]BreakerSnapshot, len(h.breakers)),
		AllTime:    h.totalErrors,
	}

	for _, rec := range h.history {
		if rec.Timestamp.Before(cutoff) {
			continue
		}
		stats.Total++
		if rec.Resolved {
			stats.Resolved++
		}
		stats.BySeverity[rec.Severity]++
		stats.ByCategory[rec.Category]++
	}
	if stats.Total > 0 {
		stats.ResolutionRate = float64(stats.Resolved) / float64(stats.Total)
	}

	for name, b := range h.breakers {
		stats.Breakers[name] = b.snapshot()
	}
	return stats
}
