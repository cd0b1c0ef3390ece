package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/emit"
	"github.com/who96/DAOKit/internal/ledger"
	"github.com/who96/DAOKit/internal/store"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	fs := store.NewFileStore(t.TempDir())
	return ledger.New(fs, emit.NewNullEmitter())
}

func freshState(taskID, runID string) contract.PipelineState {
	return contract.PipelineState{
		SchemaVersion: contract.SchemaVersion,
		TaskID:        taskID,
		RunID:         runID,
		Status:        contract.StatusExecute,
		Steps: []contract.StepState{
			{StepContract: contract.StepContract{ID: "S1", Title: "t", Goal: "g", Actions: []string{"a"}, AcceptanceCriteria: []string{"c"}, Dependencies: []string{}}, Status: contract.StepRunning},
		},
	}
}

func TestCommitTransitionAssignsMonotonicEventIDs(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	state := freshState("T1", "R1")
	rec1, err := l.CommitTransition(ctx, state, contract.EventRecord{EventType: contract.EventDispatchCompleted, StepID: "S1"})
	require.NoError(t, err)
	require.Equal(t, int64(1), rec1.EventID)

	state.Status = contract.StatusAccept
	rec2, err := l.CommitTransition(ctx, state, contract.EventRecord{EventType: contract.EventAcceptancePassed, StepID: "S1"})
	require.NoError(t, err)
	require.Equal(t, int64(2), rec2.EventID)

	loaded, err := l.LoadState(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, contract.StatusAccept, loaded.Status)

	events, err := l.ListEvents(ctx, "T1", "R1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, int64(1), events[0].EventID)
	require.Equal(t, int64(2), events[1].EventID)
}

func TestCommitTransitionRejectsInvalidSnapshot(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	bad := freshState("T1", "R1")
	bad.SchemaVersion = "0.0.1"
	_, err := l.CommitTransition(ctx, bad, contract.EventRecord{EventType: contract.EventDispatchCompleted})
	require.Error(t, err)
}

func TestAppendEventContinuesMonotonicSequenceAcrossCommits(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	state := freshState("T1", "R1")
	_, err := l.CommitTransition(ctx, state, contract.EventRecord{EventType: contract.EventDispatchCompleted})
	require.NoError(t, err)

	standalone, err := l.AppendEvent(ctx, "T1", "R1", contract.EventRecord{EventType: contract.EventHeartbeatWarning})
	require.NoError(t, err)
	require.Equal(t, int64(2), standalone.EventID)
}

func TestRecordCheckpointAndLatestCheckpoint(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	state := freshState("T1", "R1")
	cp, err := l.RecordCheckpoint(ctx, state, contract.NodeDispatch)
	require.NoError(t, err)
	require.True(t, cp.Valid)

	latest, err := l.LatestCheckpoint(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, cp.CheckpointID, latest.CheckpointID)
}

func TestLatestCheckpointNotFoundWhenNoneRecorded(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	_, err := l.LatestCheckpoint(ctx, "T1", "R1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestInvalidateCheckpointFallsBackToNextValid(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)

	state := freshState("T1", "R1")
	older, err := l.RecordCheckpoint(ctx, state, contract.NodeDispatch)
	require.NoError(t, err)

	state.Status = contract.StatusAccept
	newer, err := l.RecordCheckpoint(ctx, state, contract.NodeVerify)
	require.NoError(t, err)

	latest, err := l.LatestCheckpoint(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, newer.CheckpointID, latest.CheckpointID)

	require.NoError(t, l.InvalidateCheckpoint(ctx, "T1", "R1", newer.CheckpointID))

	fallback, err := l.LatestCheckpoint(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, older.CheckpointID, fallback.CheckpointID)
}
