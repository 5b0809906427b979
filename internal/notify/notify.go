// Package notify delivers contradiction events outward. The core only
// surfaces conflicts; resolution is deferred to the user-interaction layer,
// so delivery is one-way with no synchronous response.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Event carries everything the receiving layer needs to present a
// contradiction: both record texts plus the Reasoner's explanation.
type Event struct {
	ContradictionID uuid.UUID `json:"contradiction_id"`
	TenantID        string    `json:"tenant_id"`
	RecordAID       uuid.UUID `json:"record_a_id"`
	RecordBID       uuid.UUID `json:"record_b_id"`
	TextA           string    `json:"text_a"`
	TextB           string    `json:"text_b"`
	Kind            string    `json:"kind"`
	Confidence      float64   `json:"confidence"`
	Explanation     string    `json:"explanation"`
	DetectedAt      time.Time `json:"detected_at"`
}

// Sink receives contradiction events. Implementations must be safe for
// concurrent use. Errors are advisory: the detector logs and continues.
type Sink interface {
	NotifyContradiction(ctx context.Context, ev Event) error
}

// LogSink writes events to a structured logger. The default sink when no
// webhook is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// NotifyContradiction logs the event at warn level.
func (s *LogSink) NotifyContradiction(_ context.Context, ev Event) error {
	s.logger.Warn("contradiction detected",
		"contradiction_id", ev.ContradictionID,
		"tenant_id", ev.TenantID,
		"record_a", ev.RecordAID,
		"record_b", ev.RecordBID,
		"kind", ev.Kind,
		"confidence", ev.Confidence,
		"explanation", ev.Explanation,
	)
	return nil
}

// webhookTimeout bounds a single delivery attempt.
const webhookTimeout = 10 * time.Second

// WebhookSink POSTs events as JSON to a configured URL.
type WebhookSink struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookSink creates a webhook sink for the given URL.
func NewWebhookSink(url string, logger *slog.Logger) (*WebhookSink, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookSink{
		url:    url,
		client: &http.Client{Timeout: webhookTimeout},
		logger: logger,
	}, nil
}

// NotifyContradiction delivers the event. Non-2xx responses are errors.
func (s *WebhookSink) NotifyContradiction(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("delivering webhook: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("closing webhook response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Multi fans an event out to several sinks. Delivery is attempted on every
// sink; the first error is returned after all have run.
type Multi []Sink

// NotifyContradiction delivers the event to each sink in order.
func (m Multi) NotifyContradiction(ctx context.Context, ev Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.NotifyContradiction(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
