package embed

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/mnemolabs/mnemo/internal/log"
)

// fastRetryConfig keeps backoff out of test wall-clock time.
func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit", errors.New("rate limit exceeded"), true},
		{"http 429", errors.New("googleapi: Error 429: Resource exhausted"), true},
		{"quota", errors.New("Quota Exceeded for project"), true},
		{"server error", errors.New("503 Service Unavailable"), true},
		{"unavailable", errors.New("transport is unavailable"), true},
		{"connection reset", errors.New("read tcp: connection reset by peer"), true},
		{"canceled", errors.New("context canceled"), false},
		{"timeout", errors.New("i/o timeout"), true},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"invalid argument", errors.New("invalid embedding dimension"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableError(tt.err); got != tt.want {
				t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryingRecoversFromTransientError(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, string) ([]float32, error) {
		calls++
		if calls < 3 {
			return nil, errors.New("503 service unavailable")
		}
		return []float32{0.1, 0.2}, nil
	})

	r, err := NewRetrying(inner, fastRetryConfig(), log.NewNop())
	if err != nil {
		t.Fatalf("NewRetrying: %v", err)
	}

	vec, err := r.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Errorf("vec = %v", vec)
	}
	if calls != 3 {
		t.Errorf("inner called %d times, want 3", calls)
	}
}

func TestRetryingGivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, string) ([]float32, error) {
		calls++
		return nil, errors.New("rate limit exceeded")
	})

	r, _ := NewRetrying(inner, fastRetryConfig(), log.NewNop())
	_, err := r.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("Embed succeeded, want error")
	}
	// MaxRetries retries on top of the initial attempt.
	if calls != 4 {
		t.Errorf("inner called %d times, want 4", calls)
	}
}

func TestRetryingFailsFastOnPermanentError(t *testing.T) {
	calls := 0
	permanent := errors.New("invalid api key")
	inner := Func(func(context.Context, string) ([]float32, error) {
		calls++
		return nil, permanent
	})

	r, _ := NewRetrying(inner, fastRetryConfig(), log.NewNop())
	_, err := r.Embed(context.Background(), "hello")
	if !errors.Is(err, permanent) {
		t.Fatalf("Embed error = %v, want wrapped permanent error", err)
	}
	if calls != 1 {
		t.Errorf("inner called %d times, want 1 (no retry on permanent error)", calls)
	}
}

func TestRetryingHonorsContextDuringBackoff(t *testing.T) {
	inner := Func(func(context.Context, string) ([]float32, error) {
		return nil, errors.New("429 too many requests")
	})

	cfg := RetryConfig{
		MaxRetries:      5,
		InitialInterval: time.Hour,
		MaxInterval:     time.Hour,
	}
	r, _ := NewRetrying(inner, cfg, log.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := r.Embed(ctx, "hello")
	if err == nil {
		t.Fatal("Embed succeeded, want cancellation error")
	}
	if time.Since(start) > time.Second {
		t.Errorf("Embed did not abort backoff promptly")
	}
}

func TestNewRetryingValidation(t *testing.T) {
	if _, err := NewRetrying(nil, DefaultRetryConfig(), nil); err == nil {
		t.Error("nil inner accepted")
	}
}

func TestCachedPassthroughAndHit(t *testing.T) {
	calls := 0
	inner := Func(func(_ context.Context, text string) ([]float32, error) {
		calls++
		return []float32{float32(len(text))}, nil
	})

	c, err := NewCached(inner)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	defer c.Close()

	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 1 || vec[0] != 5 {
		t.Errorf("vec = %v", vec)
	}

	// Set is buffered; wait for admission before asserting a hit.
	c.cache.Wait()

	if _, err := c.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if calls != 1 {
		t.Errorf("inner called %d times, want 1 (second call cached)", calls)
	}
}

func TestCachedNeverCachesErrors(t *testing.T) {
	calls := 0
	inner := Func(func(context.Context, string) ([]float32, error) {
		calls++
		if calls == 1 {
			return nil, fmt.Errorf("transient failure")
		}
		return []float32{1}, nil
	})

	c, err := NewCached(inner)
	if err != nil {
		t.Fatalf("NewCached: %v", err)
	}
	defer c.Close()

	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("first Embed succeeded, want error")
	}
	if _, err := c.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("second Embed: %v", err)
	}
	if calls != 2 {
		t.Errorf("inner called %d times, want 2", calls)
	}
}

func TestNewCachedValidation(t *testing.T) {
	if _, err := NewCached(nil); err == nil {
		t.Error("nil inner accepted")
	}
}
