// Package registry tracks live transport connections, their room and user
// membership, and per-connection rate limits. It is the single source of
// truth the broadcast engine resolves delivery targets against.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/metrics"
	"github.com/EmmaGarrr/ai-pm/internal/platform/correlation"
	"github.com/EmmaGarrr/ai-pm/internal/platform/ratewindow"
)

const (
	rateWindowSpan         = time.Minute
	heartbeatLogInterval   = 30 * time.Second
	defaultMaxConnections  = 1000
	defaultMaxPerAddress   = 10
	defaultMessageCeiling  = 100
	defaultIdleTimeout     = 5 * time.Minute
	defaultCleanupInterval = time.Minute
)

// Config bounds the registry. Zero values fall back to defaults.
type Config struct {
	MaxConnections   int
	MaxPerAddress    int
	MessageRateLimit int
	IdleTimeout      time.Duration
	CleanupInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxConnections <= 0 {
		c.MaxConnections = defaultMaxConnections
	}
	if c.MaxPerAddress <= 0 {
		c.MaxPerAddress = defaultMaxPerAddress
	}
	if c.MessageRateLimit <= 0 {
		c.MessageRateLimit = defaultMessageCeiling
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = defaultIdleTimeout
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	return c
}

// Registry owns all connection state. Every multi-step mutation happens
// under the write lock, so room indices can never dangle.
type Registry struct {
	cfg   Config
	clock clockwork.Clock

	mu        sync.RWMutex
	conns     map[uuid.UUID]*connection
	bySession map[string]uuid.UUID
	byUser    map[string]map[uuid.UUID]struct{}
	byRoom    map[string]map[uuid.UUID]struct{}
	perAddr   map[string]int
	rates     map[uuid.UUID]*ratewindow.Window

	totalConnections  int
	messagesProcessed int64
}

// New creates an empty registry.
func New(cfg Config, clock clockwork.Clock) *Registry {
	return &Registry{
		cfg:       cfg.withDefaults(),
		clock:     clock,
		conns:     make(map[uuid.UUID]*connection),
		bySession: make(map[string]uuid.UUID),
		byUser:    make(map[string]map[uuid.UUID]struct{}),
		byRoom:    make(map[string]map[uuid.UUID]struct{}),
		perAddr:   make(map[string]int),
		rates:     make(map[uuid.UUID]*ratewindow.Window),
	}
}

// Add registers a new connection. It returns false without mutating anything
// when the global connection ceiling or the per-address ceiling is reached,
// or when the connection ID is already registered.
func (r *Registry) Add(id uuid.UUID, sessionRef, address, clientInfo string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[id]; exists {
		return false
	}
	if len(r.conns) >= r.cfg.MaxConnections {
		slog.Warn("Connection limit reached", "current", len(r.conns), "max", r.cfg.MaxConnections)
		metrics.RegistryConnectionsTotal.WithLabelValues("limit_reached").Inc()
		return false
	}
	if r.perAddr[address] >= r.cfg.MaxPerAddress {
		slog.Warn("Per-address connection limit reached", "address", address, "max", r.cfg.MaxPerAddress)
		metrics.RegistryConnectionsTotal.WithLabelValues("addr_limit_reached").Inc()
		return false
	}

	now := r.clock.Now()
	r.conns[id] = &connection{
		id:           id,
		sessionRef:   sessionRef,
		address:      address,
		clientInfo:   clientInfo,
		rooms:        make(map[string]struct{}),
		metadata:     make(map[string]any),
		connectedAt:  now,
		lastActivity: now,
	}
	r.bySession[sessionRef] = id
	r.perAddr[address]++
	r.totalConnections++

	metrics.RegistryConnectionsTotal.WithLabelValues("accepted").Inc()
	metrics.RegistryActiveConnections.Set(float64(len(r.conns)))
	slog.Info("Connection added", "connection_id", id.String(), "address", address)
	return true
}

// Remove deletes a connection and every index entry pointing at it. Returns
// false if the connection is unknown.
func (r *Registry) Remove(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(id)
}

func (r *Registry) removeLocked(id uuid.UUID) bool {
	conn, ok := r.conns[id]
	if !ok {
		return false
	}

	if conn.authenticated {
		r.dropUserIndex(conn.userID, id)
	}
	for room := range conn.rooms {
		r.dropRoomIndex(room, id)
	}

	r.perAddr[conn.address]--
	if r.perAddr[conn.address] <= 0 {
		delete(r.perAddr, conn.address)
	}

	delete(r.bySession, conn.sessionRef)
	delete(r.rates, id)
	delete(r.conns, id)

	metrics.RegistryActiveConnections.Set(float64(len(r.conns)))
	slog.Info("Connection removed", "connection_id", id.String())
	return true
}

func (r *Registry) dropUserIndex(userID string, id uuid.UUID) {
	set, ok := r.byUser[userID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

func (r *Registry) dropRoomIndex(room string, id uuid.UUID) {
	set, ok := r.byRoom[room]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(r.byRoom, room)
	}
}

// Authenticate binds the connection to a user. Re-authenticating under a
// different user moves the connection between user indices.
func (r *Registry) Authenticate(id uuid.UUID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}

	if conn.authenticated && conn.userID != userID {
		r.dropUserIndex(conn.userID, id)
	}

	conn.userID = userID
	conn.authenticated = true
	conn.touch(r.clock.Now())

	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[uuid.UUID]struct{})
	}
	r.byUser[userID][id] = struct{}{}

	slog.Info("Connection authenticated", "connection_id", id.String(), "user_id", userID)
	return true
}

// Deauthenticate clears the user binding.
func (r *Registry) Deauthenticate(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	if conn.authenticated {
		r.dropUserIndex(conn.userID, id)
	}
	conn.userID = ""
	conn.authenticated = false
	conn.touch(r.clock.Now())
	return true
}

// JoinRoom adds the connection to a room, updating the connection's own
// membership set and the room index in one critical section.
func (r *Registry) JoinRoom(id uuid.UUID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}

	conn.rooms[roomID] = struct{}{}
	conn.touch(r.clock.Now())
	if r.byRoom[roomID] == nil {
		r.byRoom[roomID] = make(map[uuid.UUID]struct{})
	}
	r.byRoom[roomID][id] = struct{}{}

	slog.Debug("Connection joined room", "connection_id", id.String(), "room_id", roomID)
	return true
}

// LeaveRoom is the symmetric inverse of JoinRoom.
func (r *Registry) LeaveRoom(id uuid.UUID, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return false
	}

	delete(conn.rooms, roomID)
	conn.touch(r.clock.Now())
	r.dropRoomIndex(roomID, id)

	slog.Debug("Connection left room", "connection_id", id.String(), "room_id", roomID)
	return true
}

// CheckRateLimit records a message sample and reports whether the connection
// is within its per-minute ceiling. The sample is appended before expired
// ones are evicted, so a boundary sample counts (soft limiter).
func (r *Registry) CheckRateLimit(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; !ok {
		return false
	}

	w := r.rates[id]
	if w == nil {
		w = ratewindow.New(rateWindowSpan, r.cfg.MessageRateLimit)
		r.rates[id] = w
	}

	allowed := w.Allow(r.clock.Now())
	if !allowed {
		metrics.RegistryRateLimited.Inc()
	}
	return allowed
}

// RecordActivity bumps the connection's last-activity timestamp.
func (r *Registry) RecordActivity(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.touch(r.clock.Now())
	}
}

// RecordMessage counts a processed message on the connection.
func (r *Registry) RecordMessage(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.messageCount++
		conn.touch(r.clock.Now())
		r.messagesProcessed++
	}
}

// RecordHeartbeat counts a heartbeat on the connection.
func (r *Registry) RecordHeartbeat(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.heartbeatCount++
		conn.touch(r.clock.Now())
	}
}

// RecordReconnect counts a reconnect attempt on the connection.
func (r *Registry) RecordReconnect(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[id]; ok {
		conn.reconnectAttempts++
		conn.touch(r.clock.Now())
	}
}

// SetMetadata stores a free-form metadata entry on the connection.
func (r *Registry) SetMetadata(id uuid.UUID, key string, value any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	conn.metadata[key] = value
	return true
}

// Subscribe appends an event subscription to the connection.
func (r *Registry) Subscribe(id uuid.UUID, sub event.Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}
	conn.subscriptions = append(conn.subscriptions, sub)
	conn.touch(r.clock.Now())
	return true
}

// Unsubscribe removes subscriptions naming any of the given event types.
// With no types, all subscriptions are removed.
func (r *Registry) Unsubscribe(id uuid.UUID, eventTypes ...string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if !ok {
		return false
	}

	if len(eventTypes) == 0 {
		conn.subscriptions = nil
		return true
	}

	drop := make(map[string]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		drop[t] = struct{}{}
	}

	kept := conn.subscriptions[:0]
	for _, sub := range conn.subscriptions {
		remove := false
		for _, t := range sub.EventTypes {
			if _, ok := drop[t]; ok {
				remove = true
				break
			}
		}
		if !remove {
			kept = append(kept, sub)
		}
	}
	conn.subscriptions = kept
	return true
}

// SubscribersFor returns the IDs of connections holding at least one
// subscription matching the event.
func (r *Registry) SubscribersFor(e event.Event) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []uuid.UUID
	for id, conn := range r.conns {
		for _, sub := range conn.subscriptions {
			if sub.Matches(e) {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

// Get returns a snapshot of the connection, or false if unknown.
func (r *Registry) Get(id uuid.UUID) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	if !ok {
		return Snapshot{}, false
	}
	return conn.snapshot(), true
}

// Has reports whether the connection is currently registered.
func (r *Registry) Has(id uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[id]
	return ok
}

// BySession resolves a transport session reference to a connection ID.
func (r *Registry) BySession(sessionRef string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.bySession[sessionRef]
	return id, ok
}

// ByRoom returns the IDs of all connections currently in the room.
func (r *Registry) ByRoom(roomID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return idsOf(r.byRoom[roomID])
}

// ByUser returns the IDs of all connections authenticated as the user.
func (r *Registry) ByUser(userID string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return idsOf(r.byUser[userID])
}

// All returns every live connection ID.
func (r *Registry) All() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uuid.UUID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// MessagesProcessed returns the cumulative processed-message count.
func (r *Registry) MessagesProcessed() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.messagesProcessed
}

func idsOf(set map[uuid.UUID]struct{}) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// RoomStat reports a room's live connection count.
type RoomStat struct {
	RoomID      string `json:"room_id"`
	Connections int    `json:"active_connections"`
}

// Statistics is an operator-facing snapshot of registry state.
type Statistics struct {
	TotalConnections  int            `json:"total_connections"`
	ActiveConnections int            `json:"active_connections"`
	MessagesProcessed int64          `json:"messages_processed"`
	UniqueUsers       int            `json:"unique_users"`
	ActiveRooms       int            `json:"active_rooms"`
	PerAddress        map[string]int `json:"connections_per_address"`
	TopRooms          []RoomStat     `json:"top_rooms"`
	AverageUptime     float64        `json:"average_uptime_seconds"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Statistics returns current registry statistics.
func (r *Registry) Statistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()

	perAddr := make(map[string]int, len(r.perAddr))
	for addr, n := range r.perAddr {
		perAddr[addr] = n
	}

	rooms := make([]RoomStat, 0, len(r.byRoom))
	for room, set := range r.byRoom {
		rooms = append(rooms, RoomStat{RoomID: room, Connections: len(set)})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Connections > rooms[j].Connections })
	if len(rooms) > 10 {
		rooms = rooms[:10]
	}

	var totalUptime float64
	for _, conn := range r.conns {
		totalUptime += now.Sub(conn.connectedAt).Seconds()
	}
	var avgUptime float64
	if len(r.conns) > 0 {
		avgUptime = totalUptime / float64(len(r.conns))
	}

	return Statistics{
		TotalConnections:  r.totalConnections,
		ActiveConnections: len(r.conns),
		MessagesProcessed: r.messagesProcessed,
		UniqueUsers:       len(r.byUser),
		ActiveRooms:       len(r.byRoom),
		PerAddress:        perAddr,
		TopRooms:          rooms,
		AverageUptime:     avgUptime,
		Timestamp:         now,
	}
}

// ConnectionDetails returns the full diagnostic view of a connection.
func (r *Registry) ConnectionDetails(id uuid.UUID) (Details, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	if !ok {
		return Details{}, false
	}

	now := r.clock.Now()
	rateLimited := false
	if w := r.rates[id]; w != nil {
		rateLimited = w.Count(now) > r.cfg.MessageRateLimit
	}

	subs := make([]event.Subscription, len(conn.subscriptions))
	copy(subs, conn.subscriptions)

	return Details{
		Snapshot:      conn.snapshot(),
		Uptime:        now.Sub(conn.connectedAt).Seconds(),
		RateLimited:   rateLimited,
		Subscriptions: subs,
	}, true
}

// Run drives the idle-cleanup sweep and the periodic stats log. It blocks
// until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	cleanup := r.clock.NewTicker(r.cfg.CleanupInterval)
	defer cleanup.Stop()
	heartbeat := r.clock.NewTicker(heartbeatLogInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-cleanup.Chan():
			r.sweepIdle(correlation.Fresh(ctx))
		case <-heartbeat.Chan():
			stats := r.Statistics()
			slog.Debug("Registry stats",
				"active_connections", stats.ActiveConnections,
				"unique_users", stats.UniqueUsers,
				"active_rooms", stats.ActiveRooms,
				"messages_processed", stats.MessagesProcessed,
			)
		}
	}
}

// sweepIdle removes every connection idle for longer than the configured
// timeout, following the same path as Remove.
func (r *Registry) sweepIdle(ctx context.Context) {
	now := r.clock.Now()

	r.mu.Lock()
	var idle []uuid.UUID
	for id, conn := range r.conns {
		if conn.idleFor(now) > r.cfg.IdleTimeout {
			idle = append(idle, id)
		}
	}
	for _, id := range idle {
		r.removeLocked(id)
		metrics.RegistryIdleCleanups.Inc()
	}
	r.mu.Unlock()

	if len(idle) > 0 {
		slog.InfoContext(ctx, "Cleaned up idle connections", "count", len(idle))
	}
}
