// Package websocket is the client-facing transport: it upgrades HTTP
// requests, registers connections, translates client frames into registry
// and broadcast operations, and delivers events back out.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/registry"
	"github.com/EmmaGarrr/ai-pm/internal/resilience"
)

// Broadcaster is the engine surface the gateway submits client-originated
// events to.
type Broadcaster interface {
	BroadcastToRoom(roomID, eventType string, data map[string]any, priority event.Priority) string
}

// SessionStore persists session-to-user bindings so a reconnecting client
// that presents a known session_id resumes as an authenticated user.
type SessionStore interface {
	PutSession(ctx context.Context, sessionRef, value string, ttl time.Duration) error
	GetSession(ctx context.Context, sessionRef string) (string, bool, error)
}

const sessionOpTimeout = 2 * time.Second

// clientMessage is one inbound frame from a client.
type clientMessage struct {
	Type       string         `json:"type"`
	UserID     string         `json:"user_id,omitempty"`
	RoomID     string         `json:"room_id,omitempty"`
	EventTypes []string       `json:"event_types,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Priority   int            `json:"priority,omitempty"`
}

// Gateway bridges websocket clients to the connection registry and the
// broadcast engine. It implements the engine's Transport.
type Gateway struct {
	registry    *registry.Registry
	broadcaster Broadcaster
	sessions    SessionStore
	sessionTTL  time.Duration
	errs        *resilience.Handler
	clock       clockwork.Clock
	upgrader    websocket.Upgrader

	mu      sync.RWMutex
	writers map[uuid.UUID]*clientWriter
}

// New creates a gateway. checkOrigin guards the upgrade handshake.
func New(reg *registry.Registry, broadcaster Broadcaster, errs *resilience.Handler, clock clockwork.Clock, checkOrigin func(*http.Request) bool) *Gateway {
	return &Gateway{
		registry:    reg,
		broadcaster: broadcaster,
		errs:        errs,
		clock:       clock,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		writers: make(map[uuid.UUID]*clientWriter),
	}
}

// BindBroadcaster wires the broadcast engine in after construction; the
// engine and gateway reference each other. Must be called before the first
// connection is served.
func (g *Gateway) BindBroadcaster(b Broadcaster) {
	g.broadcaster = b
}

// BindSessions enables session resumption backed by the given store.
// Bindings expire after ttl.
func (g *Gateway) BindSessions(store SessionStore, ttl time.Duration) {
	g.sessions = store
	g.sessionTTL = ttl
}

// HandleConnection upgrades the request and runs the connection's read loop
// until the client disconnects.
func (g *Gateway) HandleConnection(w http.ResponseWriter, r *http.Request) error {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.errs.Classify(err, resilience.CategoryTransport, resilience.SeverityLow, map[string]any{"remote_addr": r.RemoteAddr})
		return fmt.Errorf("upgrade: %w", err)
	}

	id := uuid.New()
	sessionRef := r.URL.Query().Get("session_id")
	if sessionRef == "" {
		sessionRef = uuid.NewString()
	}

	if !g.registry.Add(id, sessionRef, remoteHost(r), r.UserAgent()) {
		g.sendRaw(conn, event.TypeConnectionError, map[string]any{"reason": "connection limit reached"})
		conn.Close()
		return fmt.Errorf("connection rejected: registry full")
	}

	cw := newClientWriter(conn)
	g.mu.Lock()
	g.writers[id] = cw
	g.mu.Unlock()

	g.deliver(id, event.TypeConnectionEstablished, map[string]any{
		"connection_id": id.String(),
		"session_id":    sessionRef,
	})
	g.resumeSession(id, sessionRef)

	g.readLoop(id, conn)

	g.mu.Lock()
	delete(g.writers, id)
	g.mu.Unlock()
	cw.stop()
	g.registry.Remove(id)
	return nil
}

func (g *Gateway) readLoop(id uuid.UUID, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.errs.Classify(err, resilience.CategoryTransport, resilience.SeverityLow, map[string]any{"connection_id": id.String()})
			}
			return
		}

		if !g.registry.CheckRateLimit(id) {
			g.deliver(id, event.TypeError, map[string]any{"reason": "rate limit exceeded"})
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			g.deliver(id, event.TypeError, map[string]any{"reason": "malformed message"})
			continue
		}

		g.handleMessage(id, msg)
	}
}

func (g *Gateway) handleMessage(id uuid.UUID, msg clientMessage) {
	g.registry.RecordMessage(id)

	switch msg.Type {
	case "authenticate":
		if msg.UserID == "" {
			g.deliver(id, event.TypeAuthenticationFailed, map[string]any{"reason": "missing user_id"})
			return
		}
		g.registry.Authenticate(id, msg.UserID)
		g.persistSession(id, msg.UserID)
		g.deliver(id, event.TypeAuthenticationOK, map[string]any{"user_id": msg.UserID})

	case "join_room":
		if msg.RoomID == "" || !g.registry.JoinRoom(id, msg.RoomID) {
			g.deliver(id, event.TypeError, map[string]any{"reason": "invalid room"})
			return
		}
		g.deliver(id, event.TypeRoomJoined, map[string]any{"room_id": msg.RoomID})

	case "leave_room":
		g.registry.LeaveRoom(id, msg.RoomID)
		g.deliver(id, event.TypeRoomLeft, map[string]any{"room_id": msg.RoomID})

	case "subscribe":
		sub := event.Subscription{
			EventTypes: msg.EventTypes,
			Filters:    msg.Filters,
		}
		if msg.RoomID != "" {
			sub.RoomIDs = []string{msg.RoomID}
		}
		if msg.Priority > 0 {
			sub.Priority = event.Priority(msg.Priority)
		}
		g.registry.Subscribe(id, sub)
		g.deliver(id, event.TypeSubscriptionConfirmed, map[string]any{"event_types": msg.EventTypes})

	case "unsubscribe":
		g.registry.Unsubscribe(id, msg.EventTypes...)
		g.deliver(id, event.TypeUnsubscribed, map[string]any{"event_types": msg.EventTypes})

	case "ping":
		g.registry.RecordHeartbeat(id)
		g.deliver(id, event.TypePong, map[string]any{"timestamp": g.clock.Now()})

	case "chat_message":
		snap, ok := g.registry.Get(id)
		if !ok || !snap.Authenticated {
			g.deliver(id, event.TypeAuthenticationFailed, map[string]any{"reason": "authenticate before sending messages"})
			return
		}
		data := msg.Data
		if data == nil {
			data = map[string]any{}
		}
		data["user_id"] = snap.UserID
		g.broadcaster.BroadcastToRoom(msg.RoomID, event.TypeNewMessage, data, event.PriorityNormal)

	default:
		g.deliver(id, event.TypeError, map[string]any{"reason": "unknown message type", "type": msg.Type})
	}
}

// resumeSession re-authenticates a reconnecting client whose session_id is
// still bound to a user in the store.
func (g *Gateway) resumeSession(id uuid.UUID, sessionRef string) {
	if g.sessions == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()

	userID, ok, err := g.sessions.GetSession(ctx, sessionRef)
	if err != nil {
		g.errs.Classify(err, resilience.CategoryStore, resilience.SeverityMedium, map[string]any{"session_ref": sessionRef})
		return
	}
	if !ok {
		return
	}

	g.registry.Authenticate(id, userID)
	g.deliver(id, event.TypeAuthenticationOK, map[string]any{"user_id": userID, "resumed": true})
}

func (g *Gateway) persistSession(id uuid.UUID, userID string) {
	if g.sessions == nil {
		return
	}
	snap, ok := g.registry.Get(id)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sessionOpTimeout)
	defer cancel()

	if err := g.sessions.PutSession(ctx, snap.SessionRef, userID, g.sessionTTL); err != nil {
		g.errs.Classify(err, resilience.CategoryStore, resilience.SeverityMedium, map[string]any{"session_ref": snap.SessionRef})
	}
}

// Send delivers an event to one connection. It is called from the broadcast
// dispatch path and never blocks on a slow client.
func (g *Gateway) Send(_ context.Context, connID uuid.UUID, eventType string, data map[string]any) error {
	g.mu.RLock()
	cw := g.writers[connID]
	g.mu.RUnlock()

	if cw == nil {
		return fmt.Errorf("connection %s has no writer", connID)
	}

	e := event.New(eventType, data, "", "", g.clock.Now())
	frame, err := e.Encode()
	if err != nil {
		return err
	}

	if !cw.enqueue(frame) {
		slog.Warn("Dropping frame for slow client", "connection_id", connID.String(), "event_type", eventType)
		return fmt.Errorf("connection %s send buffer full", connID)
	}
	return nil
}

// deliver pushes a locally generated event to one connection, outside the
// broadcast pipeline.
func (g *Gateway) deliver(id uuid.UUID, eventType string, data map[string]any) {
	if err := g.Send(context.Background(), id, eventType, data); err != nil {
		slog.Debug("Local delivery failed", "connection_id", id.String(), "error", err)
	}
}

// sendRaw writes one frame directly, used before a writer exists.
func (g *Gateway) sendRaw(conn *websocket.Conn, eventType string, data map[string]any) {
	e := event.New(eventType, data, "", "", g.clock.Now())
	frame, err := e.Encode()
	if err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = conn.WriteMessage(websocket.TextMessage, frame)
}

// Healthy is the gateway's health probe: it verifies the writer table and
// registry agree on the live connection population.
func (g *Gateway) Healthy(context.Context) error {
	g.mu.RLock()
	writers := len(g.writers)
	g.mu.RUnlock()

	if count := g.registry.Count(); writers > count {
		return fmt.Errorf("writer table (%d) exceeds registry population (%d)", writers, count)
	}
	return nil
}

// Stop closes every client writer.
func (g *Gateway) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, cw := range g.writers {
		cw.stop()
		delete(g.writers, id)
	}
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
