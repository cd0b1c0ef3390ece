package emit

import "context"

// NullEmitter discards every event. Used when no observability sink is
// configured.
type NullEmitter struct{}

// NewNullEmitter returns an Emitter that discards all events.
func NewNullEmitter() *NullEmitter {
	return &NullEmitter{}
}

func (n *NullEmitter) Emit(event Event) {}

func (n *NullEmitter) EmitBatch(ctx context.Context, events []Event) error {
	return nil
}

func (n *NullEmitter) Flush(ctx context.Context) error {
	return nil
}
