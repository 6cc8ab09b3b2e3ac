package emit

import (
	"context"
	"sync"
)

// Buffered collects events in memory, for use in tests that assert on what
// was emitted without standing up a real backend.
type Buffered struct {
	mu     sync.Mutex
	events []Event
}

// NewBuffered creates an empty Buffered emitter.
func NewBuffered() *Buffered {
	return &Buffered{}
}

func (b *Buffered) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *Buffered) EmitBatch(_ context.Context, events []Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, events...)
	return nil
}

func (b *Buffered) Flush(context.Context) error { return nil }

// Events returns a copy of everything emitted so far.
func (b *Buffered) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}
