package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/store"
)

func exerciseBackend(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()

	state := contract.PipelineState{
		SchemaVersion: contract.SchemaVersion,
		TaskID:        "T1",
		RunID:         "R1",
		Status:        contract.StatusExecute,
		Steps: []contract.StepState{
			{StepContract: contract.StepContract{ID: "S1", Title: "t", Goal: "g", Actions: []string{"a"}, AcceptanceCriteria: []string{"c"}, Dependencies: []string{}}, Status: contract.StepRunning},
		},
		UpdatedAt: time.Unix(1000, 0).UTC(),
	}
	require.NoError(t, s.SavePipelineState(ctx, state))

	loaded, err := s.LoadPipelineState(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, state.Status, loaded.Status)
	require.Equal(t, state.Steps[0].ID, loaded.Steps[0].ID)

	_, err = s.LoadPipelineState(ctx, "T1", "does-not-exist")
	require.ErrorIs(t, err, store.ErrNotFound)

	events := []contract.EventRecord{
		{TaskID: "T1", RunID: "R1", EventType: contract.EventDispatchCompleted, StepID: "S1"},
		{TaskID: "T1", RunID: "R1", EventType: contract.EventAcceptancePassed, StepID: "S1"},
	}
	require.NoError(t, s.AppendEvents(ctx, events))

	listed, err := s.ListEvents(ctx, "T1", "R1", 0)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.Equal(t, int64(1), listed[0].EventID)
	require.Equal(t, int64(2), listed[1].EventID)

	last, err := s.LastEventID(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, int64(2), last)

	lease := contract.ProcessLease{
		SchemaVersion: contract.SchemaVersion,
		StepID:        "S1", TaskID: "T1", RunID: "R1",
		ThreadID: "thread-1", LeaseToken: "token-1", Status: contract.LeaseActive,
		Expiry: time.Unix(2000, 0).UTC(),
	}
	require.NoError(t, s.SaveLease(ctx, lease))

	loadedLease, err := s.LoadLease(ctx, "T1", "R1", "S1")
	require.NoError(t, err)
	require.Equal(t, lease.LeaseToken, loadedLease.LeaseToken)

	leases, err := s.ListLeases(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Len(t, leases, 1)

	hb := contract.HeartbeatStatus{
		SchemaVersion: contract.SchemaVersion, Status: contract.HeartbeatRunning,
		LastHeartbeatAt: time.Unix(3000, 0).UTC(), ObservedAt: time.Unix(3001, 0).UTC(),
		WarningAfterSeconds: 60, StaleAfterSeconds: 120,
	}
	require.NoError(t, s.SaveHeartbeat(ctx, "T1", "R1", hb))

	loadedHB, err := s.LoadHeartbeat(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, hb.Status, loadedHB.Status)

	cp := contract.CheckpointRecord{
		SchemaVersion: contract.SchemaVersion, CheckpointID: "cp-1",
		LifecycleNode: contract.NodeDispatch, SnapshotHash: "sha256:abc",
		CreatedAt: time.Unix(4000, 0).UTC(), Valid: true,
	}
	require.NoError(t, s.SaveCheckpoint(ctx, "T1", "R1", cp))

	cp2 := cp
	cp2.CheckpointID = "cp-2"
	cp2.CreatedAt = time.Unix(4001, 0).UTC()
	require.NoError(t, s.SaveCheckpoint(ctx, "T1", "R1", cp2))

	checkpoints, err := s.ListCheckpoints(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)
	require.Equal(t, "cp-2", checkpoints[0].CheckpointID)
}

func TestFileStoreBackend(t *testing.T) {
	exerciseBackend(t, store.NewFileStore(t.TempDir()))
}

// TestFileStoreListCheckpointsFlagsTruncatedRecord covers the corrupt-file
// path: a checkpoint whose JSON never finishes writing (crash, partial
// flush) is listed as invalid rather than failing the whole list, and a
// good checkpoint already on disk is still listed as valid.
func TestFileStoreListCheckpointsFlagsTruncatedRecord(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	fs := store.NewFileStore(root)

	good := contract.CheckpointRecord{
		SchemaVersion: contract.SchemaVersion, CheckpointID: "cp-good",
		LifecycleNode: contract.NodeDispatch, SnapshotHash: "sha256:abc",
		CreatedAt: time.Unix(1000, 0).UTC(), Valid: true,
	}
	require.NoError(t, fs.SaveCheckpoint(ctx, "T1", "R1", good))

	dir := filepath.Join(root, "T1", "R1", "checkpoints")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cp-truncated.json"), []byte(`{"checkpoint_id": "cp-tr`), 0o644))

	checkpoints, err := fs.ListCheckpoints(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Len(t, checkpoints, 2)

	byID := make(map[string]contract.CheckpointRecord, len(checkpoints))
	for _, cp := range checkpoints {
		byID[cp.CheckpointID] = cp
	}
	require.True(t, byID["cp-good"].Valid)
	require.False(t, byID["cp-truncated"].Valid)
}

func TestTableStoreBackendSQLite(t *testing.T) {
	ts, err := store.NewTableStore(context.Background(), "sqlite", ":memory:")
	require.NoError(t, err)
	defer ts.Close()
	exerciseBackend(t, ts)
}

// TestBackendParity runs the identical operation sequence against both
// backends and compares canonical (volatile-field-excluded) snapshots, per
// the cross-backend equivalence requirement on pipeline state, event order,
// and checkpoint content.
func TestBackendParity(t *testing.T) {
	ctx := context.Background()
	file := store.NewFileStore(t.TempDir())
	table, err := store.NewTableStore(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer table.Close()

	for _, s := range []store.Store{file, table} {
		state := contract.PipelineState{
			SchemaVersion: contract.SchemaVersion,
			TaskID:        "T1",
			RunID:         "R1",
			Status:        contract.StatusExecute,
			Steps: []contract.StepState{
				{StepContract: contract.StepContract{ID: "S1", Title: "t", Goal: "g", Actions: []string{"a"}, AcceptanceCriteria: []string{"c"}, Dependencies: []string{}}, Status: contract.StepRunning},
			},
		}
		require.NoError(t, s.SavePipelineState(ctx, state))
		require.NoError(t, s.AppendEvents(ctx, []contract.EventRecord{
			{TaskID: "T1", RunID: "R1", EventType: contract.EventDispatchCompleted, StepID: "S1"},
		}))
	}

	fileState, err := file.LoadPipelineState(ctx, "T1", "R1")
	require.NoError(t, err)
	tableState, err := table.LoadPipelineState(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, fileState.Status, tableState.Status)
	require.Equal(t, len(fileState.Steps), len(tableState.Steps))
	require.Equal(t, fileState.Steps[0].ID, tableState.Steps[0].ID)
	require.Equal(t, fileState.Steps[0].Status, tableState.Steps[0].Status)

	fileEvents, err := file.ListEvents(ctx, "T1", "R1", 0)
	require.NoError(t, err)
	tableEvents, err := table.ListEvents(ctx, "T1", "R1", 0)
	require.NoError(t, err)
	require.Equal(t, len(fileEvents), len(tableEvents))
	for i := range fileEvents {
		require.Equal(t, fileEvents[i].EventID, tableEvents[i].EventID)
		require.Equal(t, fileEvents[i].EventType, tableEvents[i].EventType)
	}
}
