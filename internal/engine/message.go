package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/EmmaGarrr/ai-pm/internal/event"
)

// TargetKind names how a broadcast's target set was resolved.
type TargetKind string

const (
	TargetRoom        TargetKind = "room"
	TargetUser        TargetKind = "user"
	TargetConnections TargetKind = "connections"
	TargetSubscribers TargetKind = "subscribers"
	TargetSystem      TargetKind = "system"
)

// message is a delivery job: an event plus a resolved target set, tracked
// through completion. Owned by the dispatch goroutine after enqueue.
type message struct {
	id        string
	eventType string
	data      map[string]any
	kind      TargetKind
	targets   []uuid.UUID
	priority  event.Priority
	createdAt time.Time

	delivered map[uuid.UUID]struct{}
	failed    map[uuid.UUID]struct{}

	attempts    int
	maxAttempts int
	baseDelay   time.Duration
}

func newMessage(id, eventType string, data map[string]any, kind TargetKind, targets []uuid.UUID, priority event.Priority, now time.Time, maxAttempts int, baseDelay time.Duration) *message {
	return &message{
		id:          id,
		eventType:   eventType,
		data:        data,
		kind:        kind,
		targets:     targets,
		priority:    priority,
		createdAt:   now,
		delivered:   make(map[uuid.UUID]struct{}),
		failed:      make(map[uuid.UUID]struct{}),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// markDelivered records a successful delivery. Delivered always wins: a
// target that later succeeds is removed from the failed set.
func (m *message) markDelivered(id uuid.UUID) {
	m.delivered[id] = struct{}{}
	delete(m.failed, id)
}

// markFailed records a failed delivery unless the target already succeeded.
func (m *message) markFailed(id uuid.UUID) {
	if _, ok := m.delivered[id]; ok {
		return
	}
	m.failed[id] = struct{}{}
}

func (m *message) shouldRetry() bool {
	return m.attempts < m.maxAttempts
}

// retryDelay returns the exponential backoff for the next dispatch pass.
func (m *message) retryDelay() time.Duration {
	return m.baseDelay * (1 << m.attempts)
}

// abandon fails every undelivered target and exhausts the attempt budget so
// the message reads as complete and the reaper can evict it. It returns the
// number of targets failed.
func (m *message) abandon() int {
	var failed int
	for _, t := range m.targets {
		if _, ok := m.delivered[t]; !ok {
			m.failed[t] = struct{}{}
			failed++
		}
	}
	m.attempts = m.maxAttempts
	return failed
}

// isComplete reports whether every target was delivered or attempts are
// exhausted.
func (m *message) isComplete() bool {
	return len(m.delivered) >= len(m.targets) || !m.shouldRetry()
}

// Status is the externally visible state of a broadcast message.
type Status struct {
	MessageID      string         `json:"message_id"`
	EventType      string         `json:"event_type"`
	TargetKind     TargetKind     `json:"target_kind"`
	TargetCount    int            `json:"target_count"`
	Delivered      []uuid.UUID    `json:"delivered"`
	Failed         []uuid.UUID    `json:"failed"`
	DeliveredCount int            `json:"delivered_count"`
	FailedCount    int            `json:"failed_count"`
	Attempts       int            `json:"attempts"`
	Priority       event.Priority `json:"priority"`
	CreatedAt      time.Time      `json:"created_at"`
	IsComplete     bool           `json:"is_complete"`
}

func (m *message) status() Status {
	return Status{
		MessageID:      m.id,
		EventType:      m.eventType,
		TargetKind:     m.kind,
		TargetCount:    len(m.targets),
		Delivered:      setToSlice(m.delivered),
		Failed:         setToSlice(m.failed),
		DeliveredCount: len(m.delivered),
		FailedCount:    len(m.failed),
		Attempts:       m.attempts,
		Priority:       m.priority,
		CreatedAt:      m.createdAt,
		IsComplete:     m.isComplete(),
	}
}

func setToSlice(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}
