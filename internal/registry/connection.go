package registry

import (
	"time"

	"github.com/google/uuid"

	"github.com/EmmaGarrr/ai-pm/internal/event"
)

// connection is the registry's mutable record of one live transport session.
// All access goes through the registry's lock.
type connection struct {
	id         uuid.UUID
	sessionRef string
	address    string
	clientInfo string

	userID        string
	authenticated bool
	rooms         map[string]struct{}
	subscriptions []event.Subscription

	connectedAt       time.Time
	lastActivity      time.Time
	messageCount      int
	heartbeatCount    int
	reconnectAttempts int
	metadata          map[string]any
}

// Snapshot is an immutable copy of a connection's state, safe to hand out.
type Snapshot struct {
	ID                uuid.UUID      `json:"connection_id"`
	SessionRef        string         `json:"session_ref"`
	Address           string         `json:"address"`
	ClientInfo        string         `json:"client_info"`
	UserID            string         `json:"user_id,omitempty"`
	Authenticated     bool           `json:"is_authenticated"`
	Rooms             []string       `json:"room_ids"`
	ConnectedAt       time.Time      `json:"connected_at"`
	LastActivity      time.Time      `json:"last_activity"`
	MessageCount      int            `json:"message_count"`
	HeartbeatCount    int            `json:"heartbeat_count"`
	ReconnectAttempts int            `json:"reconnect_attempts"`
	SubscriptionCount int            `json:"subscription_count"`
	Metadata          map[string]any `json:"metadata"`
}

// Details extends Snapshot with derived diagnostics for operator endpoints.
type Details struct {
	Snapshot
	Uptime        float64              `json:"uptime_seconds"`
	RateLimited   bool                 `json:"rate_limited"`
	Subscriptions []event.Subscription `json:"subscriptions"`
}

func (c *connection) snapshot() Snapshot {
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}

	meta := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}

	return Snapshot{
		ID:                c.id,
		SessionRef:        c.sessionRef,
		Address:           c.address,
		ClientInfo:        c.clientInfo,
		UserID:            c.userID,
		Authenticated:     c.authenticated,
		Rooms:             rooms,
		ConnectedAt:       c.connectedAt,
		LastActivity:      c.lastActivity,
		MessageCount:      c.messageCount,
		HeartbeatCount:    c.heartbeatCount,
		ReconnectAttempts: c.reconnectAttempts,
		SubscriptionCount: len(c.subscriptions),
		Metadata:          meta,
	}
}

func (c *connection) touch(now time.Time) {
	c.lastActivity = now
}

func (c *connection) idleFor(now time.Time) time.Duration {
	return now.Sub(c.lastActivity)
}
