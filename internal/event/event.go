// Package event defines the immutable event records that flow through the
// realtime core, the bounded event history, and subscription matching.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders event delivery. Higher values dispatch first.
type Priority int

const (
	PriorityLow      Priority = 1
	PriorityNormal   Priority = 2
	PriorityHigh     Priority = 3
	PriorityCritical Priority = 4
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// Event is an immutable fact: something that happened, with an optional
// room/user scope. Events are created once and never mutated.
type Event struct {
	Type      string         `json:"event_type"`
	Data      map[string]any `json:"data"`
	RoomID    string         `json:"room_id,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// New creates an event stamped with the given time. Metadata defaults to an
// empty map so consumers never see nil.
func New(eventType string, data map[string]any, roomID, userID string, now time.Time) Event {
	if data == nil {
		data = map[string]any{}
	}
	return Event{
		Type:      eventType,
		Data:      data,
		RoomID:    roomID,
		UserID:    userID,
		Timestamp: now,
		Metadata:  map[string]any{},
	}
}

// Encode serializes the event to JSON for the wire.
func (e Event) Encode() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", e.Type, err)
	}
	return b, nil
}

// Decode parses a JSON-encoded event.
func Decode(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.Metadata == nil {
		e.Metadata = map[string]any{}
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return e, nil
}
