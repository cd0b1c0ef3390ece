package runtime_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/dispatch"
	"github.com/who96/DAOKit/internal/emit"
	"github.com/who96/DAOKit/internal/heartbeat"
	"github.com/who96/DAOKit/internal/ledger"
	"github.com/who96/DAOKit/internal/lease"
	"github.com/who96/DAOKit/internal/runtime"
	"github.com/who96/DAOKit/internal/store"
)

// fakeBackend writes the evidence trio a default single-step plan expects,
// so verify passes on the first attempt without a real subprocess or LLM.
type fakeBackend struct{}

func (fakeBackend) Create(ctx context.Context, call dispatch.Call, req dispatch.Request) (dispatch.Result, error) {
	return finish(call)
}

func (fakeBackend) Resume(ctx context.Context, call dispatch.Call, req dispatch.Request) (dispatch.Result, error) {
	return finish(call)
}

func (fakeBackend) Rework(ctx context.Context, call dispatch.Call, req dispatch.Request, payload map[string]interface{}) (dispatch.Result, error) {
	return finish(call)
}

func finish(call dispatch.Call) (dispatch.Result, error) {
	dir := call.Path()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dispatch.Result{}, err
	}
	if call.Action == "dispatch" {
		reportPath := filepath.Join(dir, "report.md")
		if err := os.WriteFile(reportPath, []byte("done"), 0o644); err != nil {
			return dispatch.Result{}, err
		}
	}
	return dispatch.Result{Class: dispatch.ExitSuccess, CallPath: dir}, nil
}

func TestRuntimeRunDrivesDefaultStepToDone(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	fs := store.NewFileStore(filepath.Join(root, "ledger"))
	l := ledger.New(fs, emit.NewNullEmitter())

	nodes := &runtime.Nodes{
		Root:              filepath.Join(root, "artifacts"),
		Backend:           fakeBackend{},
		Rework:            dispatch.NewReworkTracker(3),
		Leases:            lease.New(fs, time.Hour, nil),
		Heartbeats:        heartbeat.NewEvaluator(l, 900, 1200, nil),
		Ledger:            l,
		RequireCommandLog: false,
	}

	rt := runtime.New(l)
	nodes.Wire(rt)

	status, err := rt.Run(ctx, "task-1", "run-1", "ship the feature")
	require.NoError(t, err)
	require.Equal(t, contract.StatusDone, status)

	state, err := l.LoadState(ctx, "task-1", "run-1")
	require.NoError(t, err)
	require.Len(t, state.Steps, 1)
	require.Equal(t, contract.StepAccepted, state.Steps[0].Status)

	events, err := l.ListEvents(ctx, "task-1", "run-1", 0)
	require.NoError(t, err)
	kinds := make([]contract.EventType, len(events))
	for i, e := range events {
		kinds[i] = e.EventType
	}
	require.Equal(t, []contract.EventType{
		contract.EventStepStarted,
		contract.EventDispatchCompleted,
		contract.EventAcceptancePassed,
		contract.EventStepCompleted,
		contract.EventRunDone,
	}, kinds)
}

func TestRuntimeRejectsIllegalTrigger(t *testing.T) {
	ctx := context.Background()
	fs := store.NewFileStore(t.TempDir())
	l := ledger.New(fs, emit.NewNullEmitter())

	rt := runtime.New(l)
	rt.AddNode(runtime.NodeExtract, func(ctx context.Context, state contract.PipelineState) (runtime.NodeResult, error) {
		return runtime.NodeResult{State: state, Trigger: runtime.Trigger("not_a_real_trigger")}, nil
	})

	_, err := rt.Run(ctx, "task-2", "run-2", "goal")
	require.Error(t, err)

	var diag runtime.Diagnostic
	require.ErrorAs(t, err, &diag)
	require.Equal(t, runtime.NodeExtract, diag.FromStatus)
}
