package testutil

import (
	"context"
	"sync"

	"github.com/mnemolabs/mnemo/internal/notify"
)

// CaptureSink records contradiction events for assertions.
//
// Safe for concurrent use.
type CaptureSink struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

// NewCaptureSink creates an empty capture sink.
func NewCaptureSink() *CaptureSink {
	return &CaptureSink{}
}

// Fail makes every subsequent delivery return err. Pass nil to recover.
func (c *CaptureSink) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// NotifyContradiction records the event.
func (c *CaptureSink) NotifyContradiction(_ context.Context, ev notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.events = append(c.events, ev)
	return nil
}

// Events returns a copy of the recorded events.
func (c *CaptureSink) Events() []notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Event, len(c.events))
	copy(out, c.events)
	return out
}
