package progress

import "context"

// Sink consumes batches of coordination events. Implementations must be safe
// for repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// engine packages stay agnostic about buffering and persistence.
type Emitter interface {
	Emit(evt Event)
}

// Discard is an Emitter that drops every event. Useful default for tests.
type Discard struct{}

// Emit implements Emitter.
func (Discard) Emit(Event) {}
