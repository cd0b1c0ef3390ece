package dispatch_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/dispatch"
)

func TestCallPathIsDeterministic(t *testing.T) {
	call := dispatch.Call{Root: "/root", TaskID: "T1", RunID: "R1", StepID: "S1", ThreadID: "thread-1", Action: "dispatch", Attempt: 2}
	require.Equal(t, filepath.Join("/root", "T1", "R1", "S1", "thread-1", "dispatch", "call-2"), call.Path())
}

func TestDeriveThreadIDIsStableForSameInputs(t *testing.T) {
	a := dispatch.DeriveThreadID("T1", "R1", "S1")
	b := dispatch.DeriveThreadID("T1", "R1", "S1")
	require.Equal(t, a, b)

	c := dispatch.DeriveThreadID("T1", "R1", "S2")
	require.NotEqual(t, a, c)
}

func TestSubprocessBackendCreateWritesArtifactsOnSuccess(t *testing.T) {
	root := t.TempDir()
	backend := dispatch.NewSubprocessBackend([]string{"/bin/sh", "-c", "echo status=ok"}, 0)

	call := dispatch.Call{Root: root, TaskID: "T1", RunID: "R1", StepID: "S1", ThreadID: "thread-1", Action: "extract", Attempt: 1}
	result, err := backend.Create(context.Background(), call, dispatch.Request{Action: "extract"})
	require.NoError(t, err)
	require.Equal(t, dispatch.ExitSuccess, result.Class)
	require.Equal(t, "ok", result.Output.Structured["status"])

	for _, name := range []string{"request.json", "output.json", "error.json"} {
		_, err := os.Stat(filepath.Join(call.Path(), name))
		require.NoError(t, err)
	}
}

func TestSubprocessBackendCreateClassifiesNonZeroExitAsRetryable(t *testing.T) {
	root := t.TempDir()
	backend := dispatch.NewSubprocessBackend([]string{"/bin/sh", "-c", "exit 3"}, 0)

	call := dispatch.Call{Root: root, TaskID: "T1", RunID: "R1", StepID: "S1", ThreadID: "thread-1", Action: "dispatch", Attempt: 1}
	result, err := backend.Create(context.Background(), call, dispatch.Request{Action: "dispatch"})
	require.NoError(t, err)
	require.Equal(t, dispatch.ExitRetryable, result.Class)
}

func TestSubprocessBackendReworkCarriesPayload(t *testing.T) {
	root := t.TempDir()
	backend := dispatch.NewSubprocessBackend([]string{"/bin/sh", "-c", "cat >/dev/null; echo status=reworked"}, 0)

	call := dispatch.Call{Root: root, TaskID: "T1", RunID: "R1", StepID: "S1", ThreadID: "thread-1", Action: "dispatch", Attempt: 2}
	result, err := backend.Rework(context.Background(), call, dispatch.Request{Action: "dispatch"}, map[string]interface{}{"failed_criteria": []string{"c1"}})
	require.NoError(t, err)
	require.Equal(t, dispatch.ExitSuccess, result.Class)

	data, err := os.ReadFile(filepath.Join(call.Path(), "request.json"))
	require.NoError(t, err)
	require.Contains(t, string(data), "failed_criteria")
}

func TestReworkTrackerEnforcesMaxBound(t *testing.T) {
	tr := dispatch.NewReworkTracker(2)

	allowed, count := tr.Attempt("S1")
	require.True(t, allowed)
	require.Equal(t, 1, count)

	allowed, count = tr.Attempt("S1")
	require.True(t, allowed)
	require.Equal(t, 2, count)

	allowed, count = tr.Attempt("S1")
	require.False(t, allowed)
	require.Equal(t, 3, count)
	require.Equal(t, 3, tr.Count("S1"))
}
