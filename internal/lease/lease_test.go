package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/emit"
	"github.com/who96/DAOKit/internal/ledger"
	"github.com/who96/DAOKit/internal/lease"
	"github.com/who96/DAOKit/internal/store"
)

func newTestRegistry(t *testing.T, now func() time.Time) (*lease.Registry, store.Store) {
	t.Helper()
	fs := store.NewFileStore(t.TempDir())
	return lease.New(fs, time.Minute, now), fs
}

func TestRegisterRejectsDoubleActiveLease(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, nil)

	_, err := r.Register(ctx, "T1", "R1", "S1", "lane-a", "thread-1", 100)
	require.NoError(t, err)

	_, err = r.Register(ctx, "T1", "R1", "S1", "lane-a", "thread-2", 101)
	require.Error(t, err)
}

func TestRenewRejectsMismatchedToken(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t, nil)

	_, err := r.Register(ctx, "T1", "R1", "S1", "lane-a", "thread-1", 100)
	require.NoError(t, err)

	_, err = r.Renew(ctx, "T1", "R1", "S1", "not-the-token")
	require.ErrorIs(t, err, lease.ErrMismatchedIdentity)
}

func TestRenewExtendsExpiry(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	r, _ := newTestRegistry(t, func() time.Time { return clock })

	l, err := r.Register(ctx, "T1", "R1", "S1", "lane-a", "thread-1", 100)
	require.NoError(t, err)
	firstExpiry := l.Expiry

	clock = clock.Add(30 * time.Second)
	renewed, err := r.Renew(ctx, "T1", "R1", "S1", l.LeaseToken)
	require.NoError(t, err)
	require.True(t, renewed.Expiry.After(firstExpiry))
}

func TestRenewFailsOnExpiredLease(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	r, _ := newTestRegistry(t, func() time.Time { return clock })

	l, err := r.Register(ctx, "T1", "R1", "S1", "lane-a", "thread-1", 100)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = r.Renew(ctx, "T1", "R1", "S1", l.LeaseToken)
	require.ErrorIs(t, err, lease.ErrNoLiveLease)
}

func TestReleaseMarksLeaseReleased(t *testing.T) {
	ctx := context.Background()
	r, fs := newTestRegistry(t, nil)

	l, err := r.Register(ctx, "T1", "R1", "S1", "lane-a", "thread-1", 100)
	require.NoError(t, err)

	require.NoError(t, r.Release(ctx, "T1", "R1", "S1", l.LeaseToken))

	stored, err := fs.LoadLease(ctx, "T1", "R1", "S1")
	require.NoError(t, err)
	require.Equal(t, contract.LeaseReleased, stored.Status)
}

func TestTakeoverAdoptsLiveLeasesAndFailsExpiredOnes(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	r, _ := newTestRegistry(t, func() time.Time { return clock })

	_, err := r.Register(ctx, "T1", "R1", "S1", "lane-a", "thread-1", 100)
	require.NoError(t, err)
	_, err = r.Register(ctx, "T1", "R1", "S2", "lane-a", "thread-1", 100)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = r.Register(ctx, "T1", "R1", "S3", "lane-a", "thread-1", 100)
	require.NoError(t, err)

	adoption, err := r.Takeover(ctx, "T1", "R1", contract.SuccessorIdentity{ThreadID: "thread-successor", PID: 200})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"S3"}, adoption.AdoptedStepIDs)
	require.ElementsMatch(t, []string{"S1", "S2"}, adoption.FailedStepIDs)
}

func TestBatchTakeoverRunFailsStepsAndCommitsSuccession(t *testing.T) {
	ctx := context.Background()
	clock := time.Now()
	fs := store.NewFileStore(t.TempDir())
	r := lease.New(fs, time.Minute, func() time.Time { return clock })
	l := ledger.New(fs, emit.NewNullEmitter())

	state := contract.PipelineState{
		SchemaVersion: contract.SchemaVersion,
		TaskID:        "T1",
		RunID:         "R1",
		Status:        contract.StatusExecute,
		Steps: []contract.StepState{
			{StepContract: contract.StepContract{ID: "S1", Title: "t", Goal: "g", Actions: []string{"a"}, AcceptanceCriteria: []string{"c"}, Dependencies: []string{}}, Status: contract.StepRunning},
		},
	}
	_, err := l.CommitTransition(ctx, state, contract.EventRecord{EventType: contract.EventDispatchCompleted, StepID: "S1"})
	require.NoError(t, err)

	_, err = r.Register(ctx, "T1", "R1", "S1", "lane-a", "thread-1", 100)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	adoption, err := lease.BatchTakeoverRun(ctx, r, l, "T1", "R1", contract.SuccessorIdentity{ThreadID: "thread-successor"})
	require.NoError(t, err)
	require.Equal(t, []string{"S1"}, adoption.FailedStepIDs)

	final, err := l.LoadState(ctx, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, contract.StepFailed, final.Steps[0].Status)
	require.NotNil(t, final.Succession.Successor)
	require.Equal(t, "thread-successor", final.Succession.Successor.ThreadID)
}
