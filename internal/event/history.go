package event

import "sync"

const defaultHistoryCapacity = 1000

// History is a bounded, most-recent-first event log. When full, the oldest
// event is evicted. Safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	events   []Event
	capacity int
}

// NewHistory creates a history ring. A non-positive capacity falls back to
// the default of 1000.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = defaultHistoryCapacity
	}
	return &History{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
	}
}

// Add appends an event, evicting the oldest entry when at capacity.
func (h *History) Add(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.events) >= h.capacity {
		copy(h.events, h.events[1:])
		h.events = h.events[:len(h.events)-1]
	}
	h.events = append(h.events, e)
}

// Len returns the number of retained events.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.events)
}

// Recent returns up to limit events most-recent-first, optionally filtered by
// event type and room. Empty filter strings match everything. The returned
// slice is a copy; callers may retain it.
func (h *History) Recent(eventType, roomID string, limit int) []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 {
		limit = len(h.events)
	}

	out := make([]Event, 0, min(limit, len(h.events)))
	for i := len(h.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := h.events[i]
		if eventType != "" && e.Type != eventType {
			continue
		}
		if roomID != "" && e.RoomID != roomID {
			continue
		}
		out = append(out, e)
	}
	return out
}
