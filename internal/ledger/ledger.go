// Package ledger is the typed read/write façade over internal/store. It
// enforces the invariants a raw Store implementation cannot: event_id is
// always assigned monotonically, a snapshot write and the event announcing
// it share one write boundary, and every record is validated before it
// touches disk. The runtime and heartbeat evaluator never call Store
// directly; they call Ledger. The lease registry reads and writes lease
// records through Store itself.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/emit"
	"github.com/who96/DAOKit/internal/store"
)

// Ledger wraps a Store and an Emitter, and is the only component allowed to
// assign event_ids or write a pipeline snapshot.
type Ledger struct {
	store   store.Store
	emitter emit.Emitter
}

// New builds a Ledger over store, emitting domain events through emitter.
func New(s store.Store, emitter emit.Emitter) *Ledger {
	return &Ledger{store: s, emitter: emitter}
}

// LoadState returns the current snapshot for a run.
func (l *Ledger) LoadState(ctx context.Context, taskID, runID string) (contract.PipelineState, error) {
	return l.store.LoadPipelineState(ctx, taskID, runID)
}

// ListEvents returns this run's journal, oldest first.
func (l *Ledger) ListEvents(ctx context.Context, taskID, runID string, limit int) ([]contract.EventRecord, error) {
	return l.store.ListEvents(ctx, taskID, runID, limit)
}

// SaveHeartbeat persists the heartbeat evaluator's latest status. The
// heartbeat record is owned by the heartbeat evaluator, not the runtime, so
// this bypasses CommitTransition's snapshot+event pairing.
func (l *Ledger) SaveHeartbeat(ctx context.Context, taskID, runID string, status contract.HeartbeatStatus) error {
	return l.store.SaveHeartbeat(ctx, taskID, runID, status)
}

// LoadHeartbeat returns the current heartbeat record for a run.
func (l *Ledger) LoadHeartbeat(ctx context.Context, taskID, runID string) (contract.HeartbeatStatus, error) {
	return l.store.LoadHeartbeat(ctx, taskID, runID)
}

// ListLeases returns every lease on record for a run, including expired
// and released ones; callers filter by Live as needed.
func (l *Ledger) ListLeases(ctx context.Context, taskID, runID string) ([]contract.ProcessLease, error) {
	return l.store.ListLeases(ctx, taskID, runID)
}

// CommitTransition persists the new snapshot and appends the event that
// announces it, in that order, behind the store's run lock — the closest a
// file-tree and a SQL backend can both guarantee to "one write boundary"
// without a cross-method transaction. state must already carry the post-
// transition status and step set; event's EventID is overwritten with the
// next monotonic value for this run.
func (l *Ledger) CommitTransition(ctx context.Context, state contract.PipelineState, event contract.EventRecord) (contract.EventRecord, error) {
	if err := state.Validate(); err != nil {
		return contract.EventRecord{}, fmt.Errorf("ledger: invalid snapshot: %w", err)
	}

	rec, err := l.nextEventRecord(ctx, state.TaskID, state.RunID, event)
	if err != nil {
		return contract.EventRecord{}, err
	}

	if err := l.store.SavePipelineState(ctx, state); err != nil {
		return contract.EventRecord{}, fmt.Errorf("ledger: save snapshot: %w", err)
	}
	if err := l.store.AppendEvents(ctx, []contract.EventRecord{rec}); err != nil {
		return contract.EventRecord{}, fmt.Errorf("ledger: append event: %w", err)
	}

	l.emitter.Emit(toEmitEvent(rec))
	return rec, nil
}

// AppendEvent records a standalone event with no accompanying snapshot
// change, e.g. a heartbeat warning or a lease takeover notice.
func (l *Ledger) AppendEvent(ctx context.Context, taskID, runID string, event contract.EventRecord) (contract.EventRecord, error) {
	rec, err := l.nextEventRecord(ctx, taskID, runID, event)
	if err != nil {
		return contract.EventRecord{}, err
	}
	if err := l.store.AppendEvents(ctx, []contract.EventRecord{rec}); err != nil {
		return contract.EventRecord{}, fmt.Errorf("ledger: append event: %w", err)
	}
	l.emitter.Emit(toEmitEvent(rec))
	return rec, nil
}

func (l *Ledger) nextEventRecord(ctx context.Context, taskID, runID string, event contract.EventRecord) (contract.EventRecord, error) {
	last, err := l.store.LastEventID(ctx, taskID, runID)
	if err != nil {
		return contract.EventRecord{}, fmt.Errorf("ledger: read last event id: %w", err)
	}
	event.SchemaVersion = contract.SchemaVersion
	event.TaskID = taskID
	event.RunID = runID
	event.EventID = last + 1
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Severity == "" {
		event.Severity = contract.SeverityInfo
	}
	if err := event.Validate(); err != nil {
		return contract.EventRecord{}, fmt.Errorf("ledger: invalid event: %w", err)
	}
	return event, nil
}

// RecordCheckpoint hashes state's canonical snapshot into a checkpoint ID
// via contract.StableID and persists the checkpoint record.
func (l *Ledger) RecordCheckpoint(ctx context.Context, state contract.PipelineState, node contract.LifecycleNode) (contract.CheckpointRecord, error) {
	hash, err := contract.StableID(state.TaskID, state.RunID, state.CurrentStepID, state.Status, state.Steps)
	if err != nil {
		return contract.CheckpointRecord{}, fmt.Errorf("ledger: hash snapshot: %w", err)
	}
	id, err := contract.StableID(state.TaskID, state.RunID, node, hash)
	if err != nil {
		return contract.CheckpointRecord{}, fmt.Errorf("ledger: hash checkpoint id: %w", err)
	}
	cp := contract.CheckpointRecord{
		SchemaVersion: contract.SchemaVersion,
		CheckpointID:  id,
		StepID:        state.CurrentStepID,
		LifecycleNode: node,
		SnapshotHash:  hash,
		CreatedAt:     time.Now().UTC(),
		Valid:         true,
	}
	if err := cp.Validate(); err != nil {
		return contract.CheckpointRecord{}, fmt.Errorf("ledger: invalid checkpoint: %w", err)
	}
	if err := l.store.SaveCheckpoint(ctx, state.TaskID, state.RunID, cp); err != nil {
		return contract.CheckpointRecord{}, fmt.Errorf("ledger: save checkpoint: %w", err)
	}
	return cp, nil
}

// InvalidateCheckpoint marks a previously recorded checkpoint Valid=false in
// place, e.g. once its snapshot hash is found not to match the run it
// claims to describe. Resume logic built on LatestCheckpoint then falls
// back to the next newest valid checkpoint instead of trusting it.
func (l *Ledger) InvalidateCheckpoint(ctx context.Context, taskID, runID, checkpointID string) error {
	checkpoints, err := l.store.ListCheckpoints(ctx, taskID, runID)
	if err != nil {
		return err
	}
	for _, cp := range checkpoints {
		if cp.CheckpointID != checkpointID {
			continue
		}
		cp.Valid = false
		return l.store.SaveCheckpoint(ctx, taskID, runID, cp)
	}
	return store.ErrNotFound
}

// LatestCheckpoint returns the newest valid checkpoint for a run, or
// store.ErrNotFound if none exist.
func (l *Ledger) LatestCheckpoint(ctx context.Context, taskID, runID string) (contract.CheckpointRecord, error) {
	checkpoints, err := l.store.ListCheckpoints(ctx, taskID, runID)
	if err != nil {
		return contract.CheckpointRecord{}, err
	}
	for _, cp := range checkpoints {
		if cp.Valid {
			return cp, nil
		}
	}
	return contract.CheckpointRecord{}, store.ErrNotFound
}

func toEmitEvent(rec contract.EventRecord) emit.Event {
	return emit.Event{
		TaskID:  rec.TaskID,
		RunID:   rec.RunID,
		EventID: rec.EventID,
		StepID:  rec.StepID,
		Kind:    string(rec.EventType),
		Payload: rec.Payload,
	}
}
