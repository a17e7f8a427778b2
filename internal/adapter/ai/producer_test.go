package ai

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/platform/retry"
	"github.com/EmmaGarrr/ai-pm/internal/resilience"
)

type capturingPublisher struct {
	mu    sync.Mutex
	types []string
}

func (p *capturingPublisher) BroadcastToRoom(_, eventType string, _ map[string]any, _ event.Priority) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	return "room_r_test"
}

func (p *capturingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func TestProcessSuccess(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/process", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Write([]byte(`{"content":"answer","metadata":{}}`))
	}))
	defer backend.Close()

	pub := &capturingPublisher{}
	p := New(backend.URL, "secret", pub, resilience.NewHandler(clockwork.NewRealClock()))

	resp, err := p.Process(context.Background(), "room-1", "user-1", "hello")

	require.NoError(t, err)
	assert.Equal(t, "answer", resp.Content)
	assert.Equal(t, []string{event.TypeAIProcessingStart, event.TypeAIResponseGenerated}, pub.eventTypes())
}

func TestProcessRetriesServerErrors(t *testing.T) {
	var calls int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"content":"eventually","metadata":{}}`))
	}))
	defer backend.Close()

	pub := &capturingPublisher{}
	p := New(backend.URL, "", pub, resilience.NewHandler(clockwork.NewRealClock()))

	resp, err := p.Process(context.Background(), "room-1", "user-1", "hello")

	require.NoError(t, err)
	assert.Equal(t, "eventually", resp.Content)
	assert.Equal(t, 3, calls)
}

func TestProcessStopsOnClientError(t *testing.T) {
	var calls int
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer backend.Close()

	pub := &capturingPublisher{}
	p := New(backend.URL, "", pub, resilience.NewHandler(clockwork.NewRealClock()))

	_, err := p.Process(context.Background(), "room-1", "user-1", "hello")

	require.Error(t, err)
	assert.Equal(t, 1, calls, "client errors must not be retried")
	assert.Contains(t, pub.eventTypes(), event.TypeAIProcessingError)
}

func TestProcessDisabledWithoutURL(t *testing.T) {
	pub := &capturingPublisher{}
	p := New("", "", pub, resilience.NewHandler(clockwork.NewRealClock()))

	assert.False(t, p.Enabled())
	_, err := p.Process(context.Background(), "room-1", "user-1", "hello")
	assert.Error(t, err)
	assert.Empty(t, pub.eventTypes())
}

func TestClassifyHTTPError(t *testing.T) {
	assert.Equal(t, retry.After, classifyHTTPError(&statusError{code: 429}))
	assert.Equal(t, retry.Retry, classifyHTTPError(&statusError{code: 503}))
	assert.Equal(t, retry.Stop, classifyHTTPError(&statusError{code: 401}))
}
