// Package store provides the two pluggable ledger persistence backends:
// a file-tree backend (FileStore) and a transactional SQL backend
// (TableStore, over sqlite or mysql). Both implement Store, despecialized
// from the teacher's generic Store[S] interface to the five closed DAOKit
// record families, since DAOKit's ledger is not arbitrary user state but a
// fixed, versioned contract family.
package store

import (
	"context"
	"errors"

	"github.com/who96/DAOKit/internal/contract"
)

// ErrNotFound is returned when a requested pipeline state, lease, or
// checkpoint does not exist.
var ErrNotFound = errors.New("store: not found")

// Store persists the ledger's five record families. Implementations must
// provide atomic whole-object replace for the mutable blobs (pipeline
// state, leases, heartbeat) and append-only, never-rewritten storage for
// events. Checkpoints are keyed by checkpoint_id: saving one whose id
// already exists replaces it, which ledger.InvalidateCheckpoint relies on.
type Store interface {
	SavePipelineState(ctx context.Context, state contract.PipelineState) error
	LoadPipelineState(ctx context.Context, taskID, runID string) (contract.PipelineState, error)

	// AppendEvents assigns each event the next monotonic event_id for its
	// run (if not already set) and persists them in order. Implementations
	// must make the final event's persistence and the pipeline state write
	// that announces it share one write boundary when called together via
	// ledger.Ledger — see internal/ledger.
	AppendEvents(ctx context.Context, events []contract.EventRecord) error
	ListEvents(ctx context.Context, taskID, runID string, limit int) ([]contract.EventRecord, error)
	LastEventID(ctx context.Context, taskID, runID string) (int64, error)

	SaveLease(ctx context.Context, lease contract.ProcessLease) error
	LoadLease(ctx context.Context, taskID, runID, stepID string) (contract.ProcessLease, error)
	ListLeases(ctx context.Context, taskID, runID string) ([]contract.ProcessLease, error)

	SaveHeartbeat(ctx context.Context, taskID, runID string, status contract.HeartbeatStatus) error
	LoadHeartbeat(ctx context.Context, taskID, runID string) (contract.HeartbeatStatus, error)

	SaveCheckpoint(ctx context.Context, taskID, runID string, cp contract.CheckpointRecord) error
	// ListCheckpoints returns checkpoints newest-first, as the runtime's
	// resume logic expects.
	ListCheckpoints(ctx context.Context, taskID, runID string) ([]contract.CheckpointRecord, error)
}
