package emit

// Event is the in-process representation of a ledger event, shaped for
// delivery to an Emitter rather than for persistence (see contract.EventRecord
// for the persisted form).
type Event struct {
	// TaskID and RunID identify the pipeline run that produced this event.
	TaskID string
	RunID  string

	// EventID is the monotonic sequence number assigned by the ledger.
	EventID int64

	// StepID is empty for run-level events (lifecycle transitions, lease
	// changes) and set for step-level events (dispatch, acceptance).
	StepID string

	// Kind names the event, e.g. "step_dispatched", "step_accepted",
	// "lease_takeover", "heartbeat_stale".
	Kind string

	// Payload carries event-specific structured data, mirroring the
	// persisted event's payload field.
	Payload map[string]interface{}
}
