// Package engine implements the priority-queued broadcast pipeline: target
// resolution, at-least-once-effort delivery with per-target tracking,
// exponential retry, and bounded bookkeeping of active broadcasts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/metrics"
	"github.com/EmmaGarrr/ai-pm/internal/platform/ratewindow"
)

const (
	dispatchInterval = 100 * time.Millisecond
	dispatchBudget   = 50 * time.Millisecond
	commandTimeout   = 5 * time.Second
	sendTimeout      = 5 * time.Second
	stopTimeout      = 10 * time.Second
	throttleSpan     = time.Minute
)

// Queue tiers, highest priority first.
const (
	tierHigh = iota
	tierNormal
	tierLow
	tierCount
)

var tierNames = [tierCount]string{"high", "normal", "low"}

// TargetResolver resolves broadcast scopes to live connection IDs.
// Implemented by the connection registry.
type TargetResolver interface {
	ByRoom(roomID string) []uuid.UUID
	ByUser(userID string) []uuid.UUID
	SubscribersFor(e event.Event) []uuid.UUID
	All() []uuid.UUID
	Has(id uuid.UUID) bool
}

// Transport pushes an event to a single connection. Implemented by the
// websocket gateway.
type Transport interface {
	Send(ctx context.Context, connID uuid.UUID, eventType string, data map[string]any) error
}

// Config bounds the engine. Zero values fall back to defaults.
type Config struct {
	QueueCapacity   int
	MaxAttempts     int
	BaseRetryDelay  time.Duration
	RateLimit       int // processed dispatch passes per minute
	RetentionWindow time.Duration
	ReaperInterval  time.Duration
}

func (c Config) withDefaults() Config {
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1000
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseRetryDelay <= 0 {
		c.BaseRetryDelay = time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 100
	}
	if c.RetentionWindow <= 0 {
		c.RetentionWindow = time.Hour
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = 5 * time.Minute
	}
	return c
}

// engineCmd is the command interface for the engine actor.
type engineCmd interface{ isEngineCmd() }

type baseEngineCmd struct{}

func (baseEngineCmd) isEngineCmd() {}

type enqueueCmd struct {
	baseEngineCmd
	msg *message
}

type requeueCmd struct {
	baseEngineCmd
	msg *message
}

type statusCmd struct {
	baseEngineCmd
	messageID string
	replyCh   chan statusReply
}

type statusReply struct {
	status Status
	found  bool
}

type listActiveCmd struct {
	baseEngineCmd
	limit   int
	replyCh chan []Status
}

type statsCmd struct {
	baseEngineCmd
	replyCh chan Stats
}

type stopCmd struct {
	baseEngineCmd
}

// Engine owns the priority queues and the active-broadcast map. All of that
// state is mutated only by the dispatch goroutine; public methods post
// commands over a channel, so every multi-step mutation is a critical
// section by construction.
type Engine struct {
	cfg       Config
	clock     clockwork.Clock
	resolver  TargetResolver
	transport Transport
	history   *event.History

	cmdCh  chan engineCmd
	queues [tierCount]*fifo
	active map[string]*message

	throttle *ratewindow.Window

	totalBroadcasts      int64
	successfulDeliveries int64
	failedDeliveries     int64
	retryCount           int64

	done chan struct{}
}

// New creates a broadcast engine. The engine does not dispatch until Start
// is called.
func New(cfg Config, resolver TargetResolver, transport Transport, history *event.History, clock clockwork.Clock) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:       cfg,
		clock:     clock,
		resolver:  resolver,
		transport: transport,
		history:   history,
		cmdCh:     make(chan engineCmd, 256),
		active:    make(map[string]*message),
		throttle:  ratewindow.New(throttleSpan, cfg.RateLimit),
		done:      make(chan struct{}),
	}
	for i := range e.queues {
		e.queues[i] = newFIFO(cfg.QueueCapacity)
	}
	return e
}

// Start launches the dispatch goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Stop shuts the engine down, blocking until the dispatch goroutine exits
// or the stop timeout is reached.
func (e *Engine) Stop() {
	e.post(stopCmd{})

	timeout := e.clock.NewTimer(stopTimeout)
	defer timeout.Stop()

	select {
	case <-e.done:
		slog.Info("Broadcast engine stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("Broadcast engine stop timeout exceeded", "timeout", stopTimeout)
	}
}

// BroadcastToRoom fans an event out to every connection in the room.
func (e *Engine) BroadcastToRoom(roomID, eventType string, data map[string]any, priority event.Priority) string {
	targets := e.resolver.ByRoom(roomID)
	return e.submit(TargetRoom, roomID, eventType, data, targets, priority)
}

// BroadcastToUser fans an event out to every connection of the user.
func (e *Engine) BroadcastToUser(userID, eventType string, data map[string]any, priority event.Priority) string {
	targets := e.resolver.ByUser(userID)
	return e.submit(TargetUser, userID, eventType, data, targets, priority)
}

// BroadcastToConnections targets an explicit connection list.
func (e *Engine) BroadcastToConnections(ids []uuid.UUID, eventType string, data map[string]any, priority event.Priority) string {
	return e.submit(TargetConnections, fmt.Sprintf("%d", len(ids)), eventType, data, ids, priority)
}

// BroadcastToSubscribers fans an event out to every connection whose
// subscription matches its type, scope, and filters.
func (e *Engine) BroadcastToSubscribers(eventType string, data map[string]any, roomID string, priority event.Priority) string {
	evt := event.New(eventType, data, roomID, "", e.clock.Now())
	targets := e.resolver.SubscribersFor(evt)
	return e.submit(TargetSubscribers, eventType, eventType, data, targets, priority)
}

// BroadcastSystemWide targets every live connection.
func (e *Engine) BroadcastSystemWide(eventType string, data map[string]any, priority event.Priority) string {
	targets := e.resolver.All()
	return e.submit(TargetSystem, "system", eventType, data, targets, priority)
}

// submit builds the broadcast message and hands it to the dispatcher. A
// resolution yielding zero targets still returns a message ID but enqueues
// nothing ("fire and track").
func (e *Engine) submit(kind TargetKind, scope, eventType string, data map[string]any, targets []uuid.UUID, priority event.Priority) string {
	now := e.clock.Now()
	msgID := fmt.Sprintf("%s_%s_%s", kind, scope, uuid.NewString())

	if e.history != nil {
		roomID, userID := "", ""
		switch kind {
		case TargetRoom:
			roomID = scope
		case TargetUser:
			userID = scope
		}
		e.history.Add(event.New(eventType, data, roomID, userID, now))
	}

	if len(targets) == 0 {
		slog.Warn("No targets for broadcast", "message_id", msgID, "target_kind", string(kind))
		return msgID
	}

	msg := newMessage(msgID, eventType, data, kind, targets, priority, now, e.cfg.MaxAttempts, e.cfg.BaseRetryDelay)
	e.post(enqueueCmd{msg: msg})

	metrics.BroadcastsTotal.WithLabelValues(string(kind)).Inc()
	slog.Info("Broadcast queued", "message_id", msgID, "target_kind", string(kind), "targets", len(targets), "priority", priority.String())
	return msgID
}

// post delivers a command unless the engine has already stopped.
func (e *Engine) post(cmd engineCmd) {
	select {
	case e.cmdCh <- cmd:
	case <-e.done:
	}
}

// Status returns the delivery state of a broadcast, or false if unknown or
// already reaped.
func (e *Engine) Status(messageID string) (Status, bool) {
	replyCh := make(chan statusReply, 1)
	e.post(statusCmd{messageID: messageID, replyCh: replyCh})

	timer := e.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case r := <-replyCh:
		return r.status, r.found
	case <-timer.Chan():
		slog.Warn("Status query timed out", "message_id", messageID)
		return Status{}, false
	case <-e.done:
		return Status{}, false
	}
}

// ListActive returns up to limit tracked broadcasts, most recent first.
func (e *Engine) ListActive(limit int) []Status {
	replyCh := make(chan []Status, 1)
	e.post(listActiveCmd{limit: limit, replyCh: replyCh})

	timer := e.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case out := <-replyCh:
		return out
	case <-timer.Chan():
		slog.Warn("ListActive query timed out")
		return nil
	case <-e.done:
		return nil
	}
}

// QueueStats reports per-tier queue depths.
type QueueStats struct {
	High   int `json:"high_priority"`
	Normal int `json:"normal_priority"`
	Low    int `json:"low_priority"`
}

// ActiveStats reports the tracked broadcast population.
type ActiveStats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Pending   int `json:"pending"`
}

// Stats is the engine's operator-facing counters snapshot.
type Stats struct {
	Queues               QueueStats  `json:"queues"`
	Active               ActiveStats `json:"active_broadcasts"`
	TotalBroadcasts      int64       `json:"total_broadcasts"`
	SuccessfulDeliveries int64       `json:"successful_deliveries"`
	FailedDeliveries     int64       `json:"failed_deliveries"`
	RetryCount           int64       `json:"retry_count"`
	SuccessRate          float64     `json:"success_rate"`
	Timestamp            time.Time   `json:"timestamp"`
}

// Stats returns current engine statistics.
func (e *Engine) Stats() Stats {
	replyCh := make(chan Stats, 1)
	e.post(statsCmd{replyCh: replyCh})

	timer := e.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case out := <-replyCh:
		return out
	case <-timer.Chan():
		slog.Warn("Stats query timed out")
		return Stats{}
	case <-e.done:
		return Stats{}
	}
}

func (e *Engine) run() {
	defer close(e.done)

	ticker := e.clock.NewTicker(dispatchInterval)
	defer ticker.Stop()
	reaper := e.clock.NewTicker(e.cfg.ReaperInterval)
	defer reaper.Stop()

	for {
		select {
		case cmd := <-e.cmdCh:
			switch c := cmd.(type) {
			case enqueueCmd:
				e.handleEnqueue(c.msg)
			case requeueCmd:
				e.handleEnqueue(c.msg)
			case statusCmd:
				msg, ok := e.active[c.messageID]
				if ok {
					c.replyCh <- statusReply{status: msg.status(), found: true}
				} else {
					c.replyCh <- statusReply{}
				}
			case listActiveCmd:
				c.replyCh <- e.listActive(c.limit)
			case statsCmd:
				c.replyCh <- e.stats()
			case stopCmd:
				slog.Info("Broadcast engine shutting down", "active_broadcasts", len(e.active))
				return
			default:
				slog.Warn("Broadcast engine received unknown command", "command_type", fmt.Sprintf("%T", cmd))
			}
		case <-ticker.Chan():
			e.dispatchPending()
		case <-reaper.Chan():
			e.reapCompleted()
		}
	}
}

// handleEnqueue places the message in its tier queue and tracks it in the
// active map. A full queue evicts its oldest entry; the evicted message has
// its undelivered targets failed so it completes and ages out via the reaper.
func (e *Engine) handleEnqueue(msg *message) {
	tier := tierFor(msg.priority)
	if dropped := e.queues[tier].push(msg); dropped != nil {
		failed := dropped.abandon()
		e.failedDeliveries += int64(failed)
		metrics.BroadcastDeliveriesTotal.WithLabelValues("failed").Add(float64(failed))
		slog.Warn("Queue full, dropping oldest broadcast", "tier", tierNames[tier], "dropped_message_id", dropped.id, "failed_targets", failed)
	}
	if _, tracked := e.active[msg.id]; !tracked {
		e.active[msg.id] = msg
		e.totalBroadcasts++
	}
	metrics.BroadcastQueueDepth.WithLabelValues(tierNames[tier]).Set(float64(e.queues[tier].len()))
}

func tierFor(p event.Priority) int {
	switch {
	case p >= event.PriorityHigh:
		return tierHigh
	case p >= event.PriorityNormal:
		return tierNormal
	default:
		return tierLow
	}
}

// dispatchPending drains queued messages, highest tier first, until the
// queues are empty or the per-tick budget is spent. A panic in one pass is
// contained so the dispatch loop itself never dies.
func (e *Engine) dispatchPending() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatch pass panic recovered", "panic", r)
			metrics.BroadcastPanicsTotal.Inc()
		}
	}()

	start := e.clock.Now()
	for e.clock.Since(start) < dispatchBudget {
		msg := e.popNext()
		if msg == nil {
			return
		}
		e.processMessage(msg)
	}
}

// popNext returns the next message in strict priority order, FIFO within a
// tier, or nil when all queues are empty.
func (e *Engine) popNext() *message {
	for tier := tierHigh; tier < tierCount; tier++ {
		if msg := e.queues[tier].pop(); msg != nil {
			metrics.BroadcastQueueDepth.WithLabelValues(tierNames[tier]).Set(float64(e.queues[tier].len()))
			return msg
		}
	}
	return nil
}

// processMessage runs one dispatch pass: deliver to every not-yet-delivered
// target, count one attempt, and schedule a retry if incomplete.
func (e *Engine) processMessage(msg *message) {
	passStart := e.clock.Now()
	defer func() {
		metrics.BroadcastDispatchDuration.Observe(e.clock.Since(passStart).Seconds())
	}()

	// Global processing throttle. A throttled pass does not consume an
	// attempt; the message is rescheduled after the base delay.
	if !e.throttle.Allow(e.clock.Now()) {
		slog.Warn("Broadcast rate limit exceeded, deferring dispatch", "message_id", msg.id)
		metrics.BroadcastThrottledTotal.Inc()
		e.scheduleRequeue(msg, msg.baseDelay)
		return
	}

	for _, target := range msg.targets {
		if _, ok := msg.delivered[target]; ok {
			continue
		}

		if !e.resolver.Has(target) {
			msg.markFailed(target)
			e.failedDeliveries++
			metrics.BroadcastDeliveriesTotal.WithLabelValues("failed").Inc()
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		err := e.transport.Send(ctx, target, msg.eventType, msg.data)
		cancel()

		if err != nil {
			slog.Warn("Delivery failed", "message_id", msg.id, "connection_id", target.String(), "error", err)
			msg.markFailed(target)
			e.failedDeliveries++
			metrics.BroadcastDeliveriesTotal.WithLabelValues("failed").Inc()
			continue
		}

		msg.markDelivered(target)
		e.successfulDeliveries++
		metrics.BroadcastDeliveriesTotal.WithLabelValues("delivered").Inc()
	}

	msg.attempts++

	if !msg.isComplete() {
		delay := msg.retryDelay()
		slog.Info("Scheduling broadcast retry", "message_id", msg.id, "attempt", msg.attempts, "delay", delay)
		e.retryCount++
		metrics.BroadcastRetriesTotal.Inc()
		e.scheduleRequeue(msg, delay)
	}
}

// scheduleRequeue re-enqueues the message after the delay, preserving its
// accumulated delivery state.
func (e *Engine) scheduleRequeue(msg *message, delay time.Duration) {
	e.clock.AfterFunc(delay, func() {
		e.post(requeueCmd{msg: msg})
	})
}

// reapCompleted evicts completed broadcasts older than the retention window.
func (e *Engine) reapCompleted() {
	cutoff := e.clock.Now().Add(-e.cfg.RetentionWindow)
	var reaped int
	for id, msg := range e.active {
		if msg.isComplete() && msg.createdAt.Before(cutoff) {
			delete(e.active, id)
			reaped++
		}
	}
	if reaped > 0 {
		slog.Info("Reaped completed broadcasts", "count", reaped)
	}
}

func (e *Engine) listActive(limit int) []Status {
	msgs := make([]*message, 0, len(e.active))
	for _, msg := range e.active {
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].createdAt.After(msgs[j].createdAt) })

	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}

	out := make([]Status, 0, limit)
	for _, msg := range msgs[:limit] {
		out = append(out, msg.status())
	}
	return out
}

func (e *Engine) stats() Stats {
	var completed int
	for _, msg := range e.active {
		if msg.isComplete() {
			completed++
		}
	}

	attempts := e.successfulDeliveries + e.failedDeliveries
	var successRate float64
	if attempts > 0 {
		successRate = float64(e.successfulDeliveries) / float64(attempts)
	}

	return Stats{
		Queues: QueueStats{
			High:   e.queues[tierHigh].len(),
			Normal: e.queues[tierNormal].len(),
			Low:    e.queues[tierLow].len(),
		},
		Active: ActiveStats{
			Total:     len(e.active),
			Completed: completed,
			Pending:   len(e.active) - completed,
		},
		TotalBroadcasts:      e.totalBroadcasts,
		SuccessfulDeliveries: e.successfulDeliveries,
		FailedDeliveries:     e.failedDeliveries,
		RetryCount:           e.retryCount,
		SuccessRate:          successRate,
		Timestamp:            e.clock.Now(),
	}
}
