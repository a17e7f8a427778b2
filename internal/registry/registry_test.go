package registry

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmmaGarrr/ai-pm/internal/event"
)

func newTestRegistry(cfg Config) (*Registry, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return New(cfg, clock), clock
}

func addConn(t *testing.T, r *Registry, address string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.True(t, r.Add(id, uuid.NewString(), address, "test-agent"))
	return id
}

func TestAddAndRemove(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	id := addConn(t, r, "10.0.0.1")
	assert.Equal(t, 1, r.Count())
	assert.True(t, r.Has(id))

	snap, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", snap.Address)

	assert.True(t, r.Remove(id))
	assert.False(t, r.Has(id))
	assert.False(t, r.Remove(id), "second remove is a no-op")
}

func TestDuplicateIDRejected(t *testing.T) {
	r, _ := newTestRegistry(Config{})

	id := uuid.New()
	require.True(t, r.Add(id, "s1", "10.0.0.1", ""))
	assert.False(t, r.Add(id, "s2", "10.0.0.2", ""))
	assert.Equal(t, 1, r.Count())
}

func TestGlobalConnectionCeiling(t *testing.T) {
	r, _ := newTestRegistry(Config{MaxConnections: 2})

	addConn(t, r, "10.0.0.1")
	addConn(t, r, "10.0.0.2")

	rejected := uuid.New()
	assert.False(t, r.Add(rejected, "s3", "10.0.0.3", ""))
	assert.Equal(t, 2, r.Count())
	assert.False(t, r.Has(rejected), "rejected add must not mutate state")

	// Capacity opens up again after a removal.
	r.Remove(r.All()[0])
	assert.True(t, r.Add(rejected, "s3", "10.0.0.3", ""))
}

func TestPerAddressCeiling(t *testing.T) {
	r, _ := newTestRegistry(Config{MaxPerAddress: 2})

	addConn(t, r, "10.0.0.1")
	second := addConn(t, r, "10.0.0.1")

	assert.False(t, r.Add(uuid.New(), "s3", "10.0.0.1", ""))
	assert.True(t, r.Add(uuid.New(), "s4", "10.0.0.9", ""), "other addresses unaffected")

	r.Remove(second)
	assert.True(t, r.Add(uuid.New(), "s5", "10.0.0.1", ""))
}

func TestAuthenticateMovesUserIndex(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	id := addConn(t, r, "10.0.0.1")

	require.True(t, r.Authenticate(id, "alice"))
	assert.Len(t, r.ByUser("alice"), 1)

	// Re-authentication under a different user moves the index entry.
	require.True(t, r.Authenticate(id, "bob"))
	assert.Empty(t, r.ByUser("alice"))
	assert.Len(t, r.ByUser("bob"), 1)

	require.True(t, r.Deauthenticate(id))
	assert.Empty(t, r.ByUser("bob"))
}

func TestRoomMembershipConsistency(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	a := addConn(t, r, "10.0.0.1")
	b := addConn(t, r, "10.0.0.2")

	require.True(t, r.JoinRoom(a, "room-1"))
	require.True(t, r.JoinRoom(b, "room-1"))
	require.True(t, r.JoinRoom(a, "room-2"))

	assert.Len(t, r.ByRoom("room-1"), 2)
	assert.Len(t, r.ByRoom("room-2"), 1)

	snap, _ := r.Get(a)
	assert.ElementsMatch(t, []string{"room-1", "room-2"}, snap.Rooms)

	require.True(t, r.LeaveRoom(a, "room-1"))
	assert.Len(t, r.ByRoom("room-1"), 1)

	// Removal clears every index in one step.
	r.Remove(a)
	assert.Empty(t, r.ByRoom("room-2"))
	assert.Len(t, r.ByRoom("room-1"), 1)
}

func TestRateLimitSoftBoundary(t *testing.T) {
	r, clock := newTestRegistry(Config{MessageRateLimit: 3})
	id := addConn(t, r, "10.0.0.1")

	for i := 0; i < 3; i++ {
		assert.True(t, r.CheckRateLimit(id), "sample %d within ceiling", i)
	}
	assert.False(t, r.CheckRateLimit(id), "fourth sample in the window rejected")

	// Samples expire as the window slides.
	clock.Advance(time.Minute + time.Second)
	assert.True(t, r.CheckRateLimit(id))
}

func TestRateLimitUnknownConnection(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	assert.False(t, r.CheckRateLimit(uuid.New()))
}

func TestSubscriptionsAndMatching(t *testing.T) {
	r, clock := newTestRegistry(Config{})
	a := addConn(t, r, "10.0.0.1")
	b := addConn(t, r, "10.0.0.2")

	require.True(t, r.Subscribe(a, event.Subscription{EventTypes: []string{event.TypeProjectUpdated}}))
	require.True(t, r.Subscribe(b, event.Subscription{
		EventTypes: []string{event.TypeProjectUpdated},
		RoomIDs:    []string{"room-9"},
	}))

	e := event.New(event.TypeProjectUpdated, nil, "room-1", "", clock.Now())
	subs := r.SubscribersFor(e)
	assert.ElementsMatch(t, []uuid.UUID{a}, subs, "room-scoped subscription does not match other rooms")

	require.True(t, r.Unsubscribe(a, event.TypeProjectUpdated))
	assert.Empty(t, r.SubscribersFor(e))
}

func TestIdleSweep(t *testing.T) {
	r, clock := newTestRegistry(Config{IdleTimeout: 5 * time.Minute})
	idle := addConn(t, r, "10.0.0.1")
	active := addConn(t, r, "10.0.0.2")

	clock.Advance(4 * time.Minute)
	r.RecordActivity(active)
	clock.Advance(2 * time.Minute)

	r.sweepIdle(context.Background())

	assert.False(t, r.Has(idle))
	assert.True(t, r.Has(active))
}

func TestStatistics(t *testing.T) {
	r, clock := newTestRegistry(Config{})
	a := addConn(t, r, "10.0.0.1")
	b := addConn(t, r, "10.0.0.1")

	r.Authenticate(a, "alice")
	r.JoinRoom(a, "room-1")
	r.JoinRoom(b, "room-1")
	r.RecordMessage(a)
	r.RecordMessage(a)

	clock.Advance(10 * time.Second)
	stats := r.Statistics()

	assert.Equal(t, 2, stats.ActiveConnections)
	assert.Equal(t, 2, stats.TotalConnections)
	assert.Equal(t, int64(2), stats.MessagesProcessed)
	assert.Equal(t, 1, stats.UniqueUsers)
	assert.Equal(t, 1, stats.ActiveRooms)
	assert.Equal(t, 2, stats.PerAddress["10.0.0.1"])
	require.Len(t, stats.TopRooms, 1)
	assert.Equal(t, "room-1", stats.TopRooms[0].RoomID)
	assert.InDelta(t, 10, stats.AverageUptime, 0.001)
}

func TestConnectionDetails(t *testing.T) {
	r, clock := newTestRegistry(Config{})
	id := addConn(t, r, "10.0.0.1")

	r.RecordHeartbeat(id)
	r.RecordReconnect(id)
	r.SetMetadata(id, "client_version", "1.2.3")
	r.Subscribe(id, event.Subscription{EventTypes: []string{event.TypeNewMessage}})

	clock.Advance(30 * time.Second)
	details, ok := r.ConnectionDetails(id)
	require.True(t, ok)

	assert.Equal(t, 1, details.HeartbeatCount)
	assert.Equal(t, 1, details.ReconnectAttempts)
	assert.Equal(t, "1.2.3", details.Metadata["client_version"])
	assert.Len(t, details.Subscriptions, 1)
	assert.InDelta(t, 30, details.Uptime, 0.001)
	assert.False(t, details.RateLimited)
}

func TestBySession(t *testing.T) {
	r, _ := newTestRegistry(Config{})
	id := uuid.New()
	require.True(t, r.Add(id, "session-abc", "10.0.0.1", ""))

	got, ok := r.BySession("session-abc")
	require.True(t, ok)
	assert.Equal(t, id, got)

	r.Remove(id)
	_, ok = r.BySession("session-abc")
	assert.False(t, ok)
}
