// Package ai calls the external AI backend and turns its responses into
// realtime events. Every call runs through the ai_service circuit breaker
// with retry on transient failures.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/EmmaGarrr/ai-pm/internal/event"
	"github.com/EmmaGarrr/ai-pm/internal/platform/retry"
	"github.com/EmmaGarrr/ai-pm/internal/resilience"
)

const (
	requestTimeout = 30 * time.Second
	maxAttempts    = 3
	breakerName    = "ai_service"
)

// Publisher is the engine surface the producer emits progress and result
// events through.
type Publisher interface {
	BroadcastToRoom(roomID, eventType string, data map[string]any, priority event.Priority) string
}

// Response is the AI backend's answer to a processing request.
type Response struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Producer submits work to the AI backend and publishes lifecycle events
// for the requesting room.
type Producer struct {
	baseURL   string
	apiKey    string
	client    *http.Client
	publisher Publisher
	errs      *resilience.Handler
}

// New creates a producer. An empty baseURL yields a disabled producer whose
// Process returns an error immediately.
func New(baseURL, apiKey string, publisher Publisher, errs *resilience.Handler) *Producer {
	return &Producer{
		baseURL:   baseURL,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: requestTimeout},
		publisher: publisher,
		errs:      errs,
	}
}

// Enabled reports whether a backend is configured.
func (p *Producer) Enabled() bool {
	return p.baseURL != ""
}

// Process sends the prompt to the AI backend and publishes processing
// lifecycle events to the room. The call is guarded by the ai_service
// circuit breaker and retried on transient failures.
func (p *Producer) Process(ctx context.Context, roomID, userID, prompt string) (*Response, error) {
	if !p.Enabled() {
		return nil, errors.New("ai backend not configured")
	}

	p.publisher.BroadcastToRoom(roomID, event.TypeAIProcessingStart, map[string]any{
		"user_id": userID,
	}, event.PriorityNormal)

	policy := retry.Policy{
		MaxAttempts:      maxAttempts,
		InitialBackoff:   500 * time.Millisecond,
		RateLimitBackoff: 5 * time.Second,
	}

	resp, err := retry.Do(ctx, policy, classifyHTTPError, func() (*Response, error) {
		var out *Response
		callErr := p.errs.Do(breakerName, func() error {
			var err error
			out, err = p.call(ctx, roomID, userID, prompt)
			return err
		})
		return out, callErr
	})
	if err != nil {
		p.errs.Classify(err, resilience.CategoryAIService, resilience.SeverityHigh, map[string]any{
			"room_id": roomID,
			"user_id": userID,
		})
		p.publisher.BroadcastToRoom(roomID, event.TypeAIProcessingError, map[string]any{
			"user_id": userID,
			"error":   err.Error(),
		}, event.PriorityHigh)
		return nil, err
	}

	p.publisher.BroadcastToRoom(roomID, event.TypeAIResponseGenerated, map[string]any{
		"user_id": userID,
		"content": resp.Content,
	}, event.PriorityNormal)
	return resp, nil
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ai backend returned %d: %s", e.code, e.body)
}

func classifyHTTPError(err error) retry.Action {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return retry.Stop
	}

	var se *statusError
	if errors.As(err, &se) {
		switch {
		case se.code == http.StatusTooManyRequests:
			return retry.After
		case se.code >= 500:
			return retry.Retry
		default:
			return retry.Stop
		}
	}
	// Network errors are transient.
	return retry.Retry
}

func (p *Producer) call(ctx context.Context, roomID, userID, prompt string) (*Response, error) {
	payload, err := json.Marshal(map[string]string{
		"room_id": roomID,
		"user_id": userID,
		"prompt":  prompt,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/process", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ai backend: %w", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read ai response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, &statusError{code: httpResp.StatusCode, body: string(body)}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode ai response: %w", err)
	}
	return &out, nil
}
