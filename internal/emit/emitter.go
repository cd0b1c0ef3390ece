// Package emit provides event emission for the ledger and the observability layer.
package emit

import "context"

// Emitter receives domain events produced by the ledger and runtime.
//
// Implementations should be non-blocking and safe for concurrent use, since
// events may be emitted from the runtime's lifecycle loop, the heartbeat
// evaluator, and the lease registry at the same time.
type Emitter interface {
	// Emit sends a single event to the configured backend. Emit must not
	// block the caller and must not panic.
	Emit(event Event)

	// EmitBatch sends multiple events in event_id order. Returns an error
	// only on catastrophic failures (misconfiguration); individual event
	// failures should be logged and swallowed.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until all buffered events have been delivered or ctx
	// expires. Safe to call multiple times.
	Flush(ctx context.Context) error
}
