package handoff_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/emit"
	"github.com/who96/DAOKit/internal/handoff"
	"github.com/who96/DAOKit/internal/ledger"
	"github.com/who96/DAOKit/internal/store"
)

func newTestLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	fs := store.NewFileStore(t.TempDir())
	return ledger.New(fs, emit.NewNullEmitter())
}

func seedState(t *testing.T, l *ledger.Ledger) {
	t.Helper()
	state := contract.PipelineState{
		SchemaVersion: contract.SchemaVersion,
		TaskID:        "T1",
		RunID:         "R1",
		Status:        contract.StatusExecute,
		CurrentStepID: "S1",
		Steps: []contract.StepState{
			{StepContract: contract.StepContract{ID: "S1", Title: "t", Goal: "g", Actions: []string{"a"}, AcceptanceCriteria: []string{"c"}, ExpectedOutputs: []contract.ExpectedOutput{{Name: "out", Path: "out.txt"}}, Dependencies: []string{}}, Status: contract.StepRunning},
			{StepContract: contract.StepContract{ID: "S2", Title: "t", Goal: "g", Actions: []string{"a"}, AcceptanceCriteria: []string{"c"}, ExpectedOutputs: []contract.ExpectedOutput{{Name: "out", Path: "out2.txt"}}, Dependencies: []string{}}, Status: contract.StepDone},
		},
	}
	_, err := l.CommitTransition(context.Background(), state, contract.EventRecord{EventType: contract.EventDispatchCompleted, StepID: "S1"})
	require.NoError(t, err)
}

func TestCreateWritesPackageWithHash(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedState(t, l)

	path := filepath.Join(t.TempDir(), "pkg.json")
	pkg, err := handoff.Create(ctx, l, "T1", "R1", path)
	require.NoError(t, err)
	require.NotEmpty(t, pkg.PackageHash)
	require.Equal(t, []string{"S1"}, pkg.OpenAcceptanceItems)

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestApplyComputesResumablePlan(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedState(t, l)

	path := filepath.Join(t.TempDir(), "pkg.json")
	_, err := handoff.Create(ctx, l, "T1", "R1", path)
	require.NoError(t, err)

	plan, err := handoff.Apply(ctx, l, path, "T1", "R1")
	require.NoError(t, err)
	require.Equal(t, []string{"S1"}, plan.ResumableStepIDs)
}

func TestApplyRejectsMismatchedTaskOrRun(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedState(t, l)

	path := filepath.Join(t.TempDir(), "pkg.json")
	_, err := handoff.Create(ctx, l, "T1", "R1", path)
	require.NoError(t, err)

	_, err = handoff.Apply(ctx, l, path, "T1", "R-other")
	require.ErrorIs(t, err, handoff.ErrPackageMismatch)
}

func TestApplyRejectsTamperedHash(t *testing.T) {
	ctx := context.Background()
	l := newTestLedger(t)
	seedState(t, l)

	path := filepath.Join(t.TempDir(), "pkg.json")
	_, err := handoff.Create(ctx, l, "T1", "R1", path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := bytes.Replace(data, []byte(`"resume at step S1"`), []byte(`"resume at step S2"`), 1)
	require.NotEqual(t, data, tampered)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	_, err = handoff.Apply(ctx, l, path, "T1", "R1")
	require.ErrorIs(t, err, handoff.ErrHashMismatch)
}
