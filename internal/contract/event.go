package contract

import (
	"fmt"
	"time"
)

// EventType is the closed enum of event record kinds.
type EventType string

const (
	EventLifecycleTransition EventType = "LIFECYCLE_TRANSITION"
	EventStepStarted         EventType = "STEP_STARTED"
	EventStepCompleted       EventType = "STEP_COMPLETED"
	EventStepFailed          EventType = "STEP_FAILED"
	EventDispatchCompleted   EventType = "DISPATCH_COMPLETED"
	EventHeartbeatWarning    EventType = "HEARTBEAT_WARNING"
	EventHeartbeatStale      EventType = "HEARTBEAT_STALE"
	EventLeaseTakeover       EventType = "LEASE_TAKEOVER"
	EventLeaseAdopted        EventType = "LEASE_ADOPTED"
	EventLeaseNotAdopted     EventType = "LEASE_NOT_ADOPTED"
	EventSuccessionAccepted  EventType = "SUCCESSION_ACCEPTED"
	EventReworkEmitted       EventType = "REWORK_EMITTED"
	EventHumanInput          EventType = "HUMAN_INPUT"
	EventAcceptancePassed    EventType = "ACCEPTANCE_PASSED"
	EventAcceptanceFailed    EventType = "ACCEPTANCE_FAILED"
	EventCheckpointPersisted EventType = "CHECKPOINT_PERSISTED"
	EventHandoffCreated      EventType = "HANDOFF_CREATED"
	EventHandoffApplied      EventType = "HANDOFF_APPLIED"
	EventRunDone             EventType = "RUN_DONE"
)

var validEventTypes = map[EventType]bool{
	EventLifecycleTransition: true,
	EventStepStarted:         true,
	EventStepCompleted:       true,
	EventStepFailed:          true,
	EventDispatchCompleted:   true,
	EventHeartbeatWarning:    true,
	EventHeartbeatStale:      true,
	EventLeaseTakeover:       true,
	EventLeaseAdopted:        true,
	EventLeaseNotAdopted:     true,
	EventSuccessionAccepted:  true,
	EventReworkEmitted:       true,
	EventHumanInput:          true,
	EventAcceptancePassed:    true,
	EventAcceptanceFailed:    true,
	EventCheckpointPersisted: true,
	EventHandoffCreated:      true,
	EventHandoffApplied:      true,
	EventRunDone:             true,
}

// Severity levels attached to an event record.
type Severity string

const (
	SeverityInfo    Severity = "INFO"
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// EventRecord is one append-only journal entry. Once assigned, EventID is
// never rewritten.
type EventRecord struct {
	SchemaVersion string                 `json:"schema_version"`
	EventID       int64                  `json:"event_id"`
	Timestamp     time.Time              `json:"timestamp"`
	EventType     EventType              `json:"event_type"`
	Severity      Severity               `json:"severity"`
	TaskID        string                 `json:"task_id"`
	RunID         string                 `json:"run_id"`
	StepID        string                 `json:"step_id,omitempty"`
	DedupKey      string                 `json:"dedup_key,omitempty"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
}

func (e EventRecord) Validate() error {
	if e.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: event has %q, want %q", ErrSchemaMismatch, e.SchemaVersion, SchemaVersion)
	}
	if e.EventID <= 0 {
		return fmt.Errorf("%w: event.event_id must be positive", ErrMissingField)
	}
	if !validEventTypes[e.EventType] {
		return fmt.Errorf("%w: event.event_type=%q", ErrInvalidEnum, e.EventType)
	}
	if e.TaskID == "" || e.RunID == "" {
		return fmt.Errorf("%w: event correlation triple task_id/run_id", ErrMissingField)
	}
	return nil
}
