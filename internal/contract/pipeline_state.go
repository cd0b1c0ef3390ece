package contract

import (
	"fmt"
	"time"
)

// PipelineStatus is the overall status of one (task_id, run_id) run.
type PipelineStatus string

const (
	StatusPlanning PipelineStatus = "PLANNING"
	StatusAnalysis PipelineStatus = "ANALYSIS"
	StatusFreeze   PipelineStatus = "FREEZE"
	StatusExecute  PipelineStatus = "EXECUTE"
	StatusAccept   PipelineStatus = "ACCEPT"
	StatusDone     PipelineStatus = "DONE"
	StatusDraining PipelineStatus = "DRAINING"
	StatusBlocked  PipelineStatus = "BLOCKED"
)

func (s PipelineStatus) valid() bool {
	switch s {
	case StatusPlanning, StatusAnalysis, StatusFreeze, StatusExecute, StatusAccept, StatusDone, StatusDraining, StatusBlocked:
		return true
	default:
		return false
	}
}

// SuccessorIdentity names the executor a run's leases were handed to.
type SuccessorIdentity struct {
	ThreadID string `json:"thread_id"`
	PID      int    `json:"pid,omitempty"`
}

// Succession is the free-form sub-record where succession bookkeeping lives,
// outside the closed top-level pipeline state shape.
type Succession struct {
	LastTakeoverAt *time.Time         `json:"last_takeover_at,omitempty"`
	Successor      *SuccessorIdentity `json:"successor,omitempty"`
}

// PipelineState is the single snapshot record for one (task_id, run_id).
// Only the lifecycle runtime's transition and acceptance nodes mutate it.
type PipelineState struct {
	SchemaVersion string            `json:"schema_version"`
	TaskID        string            `json:"task_id"`
	RunID         string            `json:"run_id"`
	Goal          string            `json:"goal"`
	Status        PipelineStatus    `json:"status"`
	CurrentStepID string            `json:"current_step_id"`
	Steps         []StepState       `json:"steps"`
	RoleLifecycle map[string]string `json:"role_lifecycle,omitempty"`
	Succession    Succession        `json:"succession"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// StepByID returns the step with the given ID, or false if absent.
func (p PipelineState) StepByID(id string) (StepState, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return StepState{}, false
}

// Validate checks schema_version, required identifiers, status enum, and
// each step's own validity. Duplicate step IDs are rejected: that invariant
// belongs to the plan compiler at authoring time, but a corrupted snapshot
// must not pass a later Validate() either.
func (p PipelineState) Validate() error {
	if p.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: pipeline_state has %q, want %q", ErrSchemaMismatch, p.SchemaVersion, SchemaVersion)
	}
	if p.TaskID == "" {
		return fmt.Errorf("%w: pipeline_state.task_id", ErrMissingField)
	}
	if p.RunID == "" {
		return fmt.Errorf("%w: pipeline_state.run_id", ErrMissingField)
	}
	if !p.Status.valid() {
		return fmt.Errorf("%w: pipeline_state.status=%q", ErrInvalidEnum, p.Status)
	}
	seen := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		if seen[step.ID] {
			return fmt.Errorf("%w: step id %q", ErrDuplicateID, step.ID)
		}
		seen[step.ID] = true
		if err := step.Validate(); err != nil {
			return err
		}
	}
	return nil
}
