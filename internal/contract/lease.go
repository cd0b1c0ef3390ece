package contract

import (
	"fmt"
	"time"
)

// LeaseStatus is the closed enum for a process lease's lifecycle.
type LeaseStatus string

const (
	LeaseActive   LeaseStatus = "ACTIVE"
	LeaseReleased LeaseStatus = "RELEASED"
	LeaseExpired  LeaseStatus = "EXPIRED"
)

func (s LeaseStatus) valid() bool {
	switch s {
	case LeaseActive, LeaseReleased, LeaseExpired:
		return true
	default:
		return false
	}
}

// ProcessLease binds an executor identity to one (run, step) for a bounded
// time. A lease is transferable only while ACTIVE and unexpired.
type ProcessLease struct {
	SchemaVersion string      `json:"schema_version"`
	Lane          string      `json:"lane"`
	StepID        string      `json:"step_id"`
	TaskID        string      `json:"task_id"`
	RunID         string      `json:"run_id"`
	ThreadID      string      `json:"thread_id"`
	PID           int         `json:"pid"`
	LeaseToken    string      `json:"lease_token"`
	Expiry        time.Time   `json:"expiry"`
	Status        LeaseStatus `json:"status"`
}

// Key identifies the (task_id, run_id, step_id) tuple a mutating lease
// operation must match.
func (l ProcessLease) Key() (taskID, runID, stepID string) {
	return l.TaskID, l.RunID, l.StepID
}

// Live reports whether the lease is ACTIVE and not yet expired as of now.
func (l ProcessLease) Live(now time.Time) bool {
	return l.Status == LeaseActive && now.Before(l.Expiry)
}

func (l ProcessLease) Validate() error {
	if l.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: lease has %q, want %q", ErrSchemaMismatch, l.SchemaVersion, SchemaVersion)
	}
	if l.TaskID == "" || l.RunID == "" || l.StepID == "" {
		return fmt.Errorf("%w: lease task_id/run_id/step_id", ErrMissingField)
	}
	if l.LeaseToken == "" {
		return fmt.Errorf("%w: lease.lease_token", ErrMissingField)
	}
	if !l.Status.valid() {
		return fmt.Errorf("%w: lease.status=%q", ErrInvalidEnum, l.Status)
	}
	return nil
}
