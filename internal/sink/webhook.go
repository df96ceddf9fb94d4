// Package sink delivers rendered greetings to the downstream message
// endpoint over HTTP. A circuit breaker sits in front of the endpoint so
// that a dead sink fails calls fast instead of holding worker invocations
// open for the full timeout.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"wisher/internal/types"
)

// DefaultTimeout bounds one send attempt.
const DefaultTimeout = 10 * time.Second

// messagePayload is the sink's wire format.
type messagePayload struct {
	Message string `json:"message"`
}

// WebhookSink posts messages to a single HTTP endpoint.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewWebhookSink creates a WebhookSink for the given endpoint URL. A zero
// timeout falls back to DefaultTimeout.
func NewWebhookSink(url string, timeout time.Duration, logger *slog.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	s := &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}

	s.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "message-sink",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("sink breaker state change",
				slog.String("name", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})

	return s
}

// Send posts one message. Any non-2xx-success status, transport error, or
// open breaker is returned as an error; callers decide whether the attempt is
// retried through queue redelivery.
func (s *WebhookSink) Send(ctx context.Context, message string) error {
	body, err := json.Marshal(messagePayload{Message: message})
	if err != nil {
		return fmt.Errorf("sink: marshal payload: %w", err)
	}

	_, err = s.breaker.Execute(func() (struct{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
		if err != nil {
			return struct{}{}, fmt.Errorf("sink: build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return struct{}{}, fmt.Errorf("sink: post: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch resp.StatusCode {
		case http.StatusOK, http.StatusCreated, http.StatusNoContent:
			return struct{}{}, nil
		default:
			return struct{}{}, types.NewAppError(types.ErrCodeUpstreamSink,
				fmt.Sprintf("sink returned status %d", resp.StatusCode), nil)
		}
	})
	return err
}
