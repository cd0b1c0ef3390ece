package contract

import (
	"fmt"
	"time"
)

// LifecycleNode names one of the fixed runtime nodes a checkpoint was taken
// after.
type LifecycleNode string

const (
	NodeExtract    LifecycleNode = "extract"
	NodePlan       LifecycleNode = "plan"
	NodeDispatch   LifecycleNode = "dispatch"
	NodeVerify     LifecycleNode = "verify"
	NodeTransition LifecycleNode = "transition"
	NodeDraining   LifecycleNode = "DRAINING"
	NodeBlocked    LifecycleNode = "BLOCKED"
)

// CheckpointRecord identifies a safe resume boundary: the hash binds the
// snapshot content, and Valid is false for tampered or truncated records.
type CheckpointRecord struct {
	SchemaVersion string        `json:"schema_version"`
	CheckpointID  string        `json:"checkpoint_id"`
	StepID        string        `json:"step_id"`
	LifecycleNode LifecycleNode `json:"lifecycle_node"`
	SnapshotHash  string        `json:"snapshot_hash"`
	CreatedAt     time.Time     `json:"created_at"`
	Valid         bool          `json:"valid"`
}

func (c CheckpointRecord) Validate() error {
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("%w: checkpoint has %q, want %q", ErrSchemaMismatch, c.SchemaVersion, SchemaVersion)
	}
	if c.CheckpointID == "" {
		return fmt.Errorf("%w: checkpoint.checkpoint_id", ErrMissingField)
	}
	if c.SnapshotHash == "" {
		return fmt.Errorf("%w: checkpoint.snapshot_hash", ErrMissingField)
	}
	return nil
}
