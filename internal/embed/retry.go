package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// RetryConfig configures backoff behavior for embedding calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for embedding API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category. Matched
// case-insensitively against err.Error().
//
// NOTE: String matching is used because embedding provider SDKs do not
// expose typed errors for transient failures.
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	for _, group := range retryablePatterns {
		for _, sub := range group {
			if strings.Contains(errStr, sub) {
				return true
			}
		}
	}
	return false
}

// Retrying wraps a Provider with exponential backoff on transient errors.
// Indexing correctness depends on embeddings, so the write path retries
// where the Reasoner path (internal/reason) deliberately does not.
type Retrying struct {
	inner  Provider
	config RetryConfig
	logger *slog.Logger
}

// NewRetrying wraps inner with retry behavior.
func NewRetrying(inner Provider, config RetryConfig, logger *slog.Logger) (*Retrying, error) {
	if inner == nil {
		return nil, fmt.Errorf("inner provider is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrying{inner: inner, config: config, logger: logger}, nil
}

// Embed calls the inner provider, retrying transient failures with
// exponential backoff. Non-retryable errors fail immediately.
func (r *Retrying) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	delay := r.config.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		vec, err := r.inner.Embed(ctx, text)
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("embedding succeeded after retry",
					"attempts", attempt+1, "elapsed", time.Since(start))
			}
			return vec, nil
		}

		lastErr = err
		if !retryableError(err) {
			return nil, fmt.Errorf("embedding: %w", err)
		}
		if attempt == r.config.MaxRetries {
			break
		}

		r.logger.Debug("retrying embedding after error",
			"attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("embedding canceled during backoff: %w", ctx.Err())
		case <-time.After(delay):
		}

		delay *= 2
		if delay > r.config.MaxInterval {
			delay = r.config.MaxInterval
		}
	}

	return nil, fmt.Errorf("embedding after %d attempts: %w", r.config.MaxRetries+1, lastErr)
}
