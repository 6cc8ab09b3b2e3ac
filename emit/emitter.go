package emit

import "context"

// Emitter receives observability events from the evaluation pipeline and
// the MU cranking loop. Implementations must not block the caller for long
// and must not panic.
type Emitter interface {
	// Emit sends a single event to the configured backend.
	Emit(event Event)

	// EmitBatch sends multiple events in one operation, preserving order.
	// Returns an error only on catastrophic failure; individual event
	// failures should be logged internally and not returned.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events are delivered, or ctx expires.
	Flush(ctx context.Context) error
}

// Multi fans events out to several emitters, useful for combining e.g. a
// LogEmitter with a StatsEmitter.
type Multi []Emitter

func (m Multi) Emit(event Event) {
	for _, e := range m {
		e.Emit(event)
	}
}

func (m Multi) EmitBatch(ctx context.Context, events []Event) error {
	for _, e := range m {
		if err := e.EmitBatch(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (m Multi) Flush(ctx context.Context) error {
	for _, e := range m {
		if err := e.Flush(ctx); err != nil {
			return err
		}
	}
	return nil
}
