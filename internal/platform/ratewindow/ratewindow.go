// Package ratewindow implements a soft sliding-window rate limiter.
//
// The window appends the current sample before evicting expired ones, so a
// sample landing exactly on the window boundary still counts. This admits one
// extra event at the edge compared to a strict token bucket; that behavior is
// intentional and relied upon by callers.
package ratewindow

import "time"

// Window counts events inside a sliding time window.
type Window struct {
	span    time.Duration
	limit   int
	samples []time.Time
}

// New creates a window spanning the given duration with the given ceiling.
func New(span time.Duration, limit int) *Window {
	return &Window{
		span:    span,
		limit:   limit,
		samples: make([]time.Time, 0, limit+1),
	}
}

// Allow records an event at now and reports whether the count after evicting
// expired samples is within the ceiling. The event is recorded regardless of
// the outcome.
func (w *Window) Allow(now time.Time) bool {
	w.samples = append(w.samples, now)

	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}

	return len(w.samples) <= w.limit
}

// Count returns the number of samples currently inside the window.
func (w *Window) Count(now time.Time) int {
	cutoff := now.Add(-w.span)
	n := 0
	for _, s := range w.samples {
		if !s.Before(cutoff) {
			n++
		}
	}
	return n
}
