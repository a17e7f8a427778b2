// Package redisstore persists session state and event history in Redis,
// with circuit breaker protection on every operation.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/metrics"
)

const (
	sessionKeyPrefix = "session:"
	roomEventsPrefix = "room_events:"
	roomEventsCap    = 1000
)

// Store wraps a go-redis client with the operations the realtime core needs.
type Store struct {
	rdb *goredis.Client
}

// New creates a store from a URL (e.g. "redis://localhost:6379") and installs
// the circuit breaker hook.
func New(redisURL string) (*Store, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	rdb := goredis.NewClient(opts)
	rdb.AddHook(NewCircuitBreakerHook())
	return &Store{rdb: rdb}, nil
}

// Health verifies the Redis connection.
func (s *Store) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// PutSession stores a session value with a TTL.
func (s *Store) PutSession(ctx context.Context, sessionRef, value string, ttl time.Duration) error {
	err := s.rdb.Set(ctx, sessionKeyPrefix+sessionRef, value, ttl).Err()
	s.countOp("put_session", err)
	if err != nil {
		return fmt.Errorf("put session %q: %w", sessionRef, err)
	}
	return nil
}

// GetSession loads a session value. A missing session returns ok=false with
// no error.
func (s *Store) GetSession(ctx context.Context, sessionRef string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, sessionKeyPrefix+sessionRef).Result()
	if errors.Is(err, goredis.Nil) {
		s.countOp("get_session", nil)
		return "", false, nil
	}
	s.countOp("get_session", err)
	if err != nil {
		return "", false, fmt.Errorf("get session %q: %w", sessionRef, err)
	}
	return val, true, nil
}

// DeleteSession removes a session value.
func (s *Store) DeleteSession(ctx context.Context, sessionRef string) error {
	err := s.rdb.Del(ctx, sessionKeyPrefix+sessionRef).Err()
	s.countOp("delete_session", err)
	if err != nil {
		return fmt.Errorf("delete session %q: %w", sessionRef, err)
	}
	return nil
}

// PersistEvent appends an event to its room's capped history list.
func (s *Store) PersistEvent(ctx context.Context, e event.Event) error {
	if e.RoomID == "" {
		return nil
	}

	frame, err := e.Encode()
	if err != nil {
		return err
	}

	key := roomEventsPrefix + e.RoomID
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, frame)
	pipe.LTrim(ctx, key, 0, roomEventsCap-1)
	_, err = pipe.Exec(ctx)
	s.countOp("persist_event", err)
	if err != nil {
		return fmt.Errorf("persist event to room %q: %w", e.RoomID, err)
	}
	return nil
}

// RecentEvents loads up to limit persisted events for a room, most recent
// first.
func (s *Store) RecentEvents(ctx context.Context, roomID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = roomEventsCap
	}

	raw, err := s.rdb.LRange(ctx, roomEventsPrefix+roomID, 0, int64(limit-1)).Result()
	s.countOp("recent_events", err)
	if err != nil {
		return nil, fmt.Errorf("load events for room %q: %w", roomID, err)
	}

	out := make([]event.Event, 0, len(raw))
	for _, frame := range raw {
		e, err := event.Decode([]byte(frame))
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) countOp(op string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.StoreOpsTotal.WithLabelValues(op, status).Inc()
}
