package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mnemolabs/mnemo/internal/log"
)

func sampleEvent() Event {
	return Event{
		ContradictionID: uuid.New(),
		TenantID:        "alice",
		RecordAID:       uuid.New(),
		RecordBID:       uuid.New(),
		TextA:           "lives in Berlin",
		TextB:           "lives in Madrid",
		Kind:            "factual",
		Confidence:      0.95,
		Explanation:     "different cities of residence",
		DetectedAt:      time.Now(),
	}
}

func TestLogSink(t *testing.T) {
	s := NewLogSink(log.NewNop())
	if err := s.NotifyContradiction(context.Background(), sampleEvent()); err != nil {
		t.Errorf("NotifyContradiction: %v", err)
	}
}

func TestWebhookSinkDelivers(t *testing.T) {
	var received Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decoding body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewWebhookSink(srv.URL, log.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookSink: %v", err)
	}

	ev := sampleEvent()
	if err := s.NotifyContradiction(context.Background(), ev); err != nil {
		t.Fatalf("NotifyContradiction: %v", err)
	}
	if received.ContradictionID != ev.ContradictionID || received.TenantID != "alice" {
		t.Errorf("received = %+v", received)
	}
}

func TestWebhookSinkRejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s, err := NewWebhookSink(srv.URL, log.NewNop())
	if err != nil {
		t.Fatalf("NewWebhookSink: %v", err)
	}
	if err := s.NotifyContradiction(context.Background(), sampleEvent()); err == nil {
		t.Error("500 response accepted, want error")
	}
}

func TestNewWebhookSinkValidation(t *testing.T) {
	if _, err := NewWebhookSink("", nil); err == nil {
		t.Error("empty URL accepted")
	}
}

type recordingSink struct {
	calls int
	err   error
}

func (r *recordingSink) NotifyContradiction(context.Context, Event) error {
	r.calls++
	return r.err
}

func TestMultiDeliversToAll(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	m := Multi{a, b}

	if err := m.NotifyContradiction(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("NotifyContradiction: %v", err)
	}
	if a.calls != 1 || b.calls != 1 {
		t.Errorf("calls = (%d, %d), want (1, 1)", a.calls, b.calls)
	}
}

func TestMultiReturnsFirstErrorAfterAllRun(t *testing.T) {
	errA := errors.New("sink a failed")
	errB := errors.New("sink b failed")
	a := &recordingSink{err: errA}
	b := &recordingSink{err: errB}
	m := Multi{a, b}

	err := m.NotifyContradiction(context.Background(), sampleEvent())
	if !errors.Is(err, errA) {
		t.Errorf("error = %v, want first error", err)
	}
	// A failing sink never starves the ones after it.
	if b.calls != 1 {
		t.Errorf("second sink calls = %d, want 1", b.calls)
	}
}
