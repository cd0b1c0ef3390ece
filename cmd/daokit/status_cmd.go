package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/who96/DAOKit/internal/runtime"
)

type runStatusView struct {
	TaskID          string `json:"task_id"`
	RunID           string `json:"run_id"`
	Status          string `json:"status"`
	CurrentStepID   string `json:"current_step_id,omitempty"`
	HeartbeatStatus string `json:"heartbeat_status,omitempty"`
	ActiveLeases    int    `json:"active_leases"`
}

func runStatusCmd(args []string, stdout, stderr io.Writer, log zerolog.Logger) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "runtime directory root (required)")
	taskID := fs.String("task-id", "", "task identifier")
	runID := fs.String("run-id", "", "run identifier")
	jsonOut := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *root == "" {
		fmt.Fprintln(stderr, "status: --root is required")
		return exitFailure
	}
	if (*taskID == "") != (*runID == "") {
		fmt.Fprintln(stderr, "status: --task-id and --run-id must be given together")
		return exitFailure
	}

	ctx := context.Background()
	a, err := newApp(ctx, *root, log)
	if err != nil {
		log.Error().Err(err).Str("reason_code", reasonStatusFailed).Msg("status setup failed")
		fmt.Fprintf(stderr, "status: %s: %v\n", reasonStatusFailed, err)
		return exitFailure
	}
	defer a.Close()

	var views []runStatusView
	if *taskID != "" {
		view, err := loadStatusView(ctx, a.runtime, *taskID, *runID)
		if err != nil {
			log.Error().Err(err).Str("reason_code", reasonStatusFailed).Msg("status failed")
			fmt.Fprintf(stderr, "status: %s: %v\n", reasonStatusFailed, err)
			return exitFailure
		}
		views = append(views, view)
	} else {
		for _, pair := range discoverRuns(*root) {
			view, err := loadStatusView(ctx, a.runtime, pair[0], pair[1])
			if err != nil {
				continue
			}
			views = append(views, view)
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(views, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return exitOK
	}
	for _, v := range views {
		fmt.Fprintf(stdout, "%s/%s  status=%s  step=%s  heartbeat=%s  leases=%d\n",
			v.TaskID, v.RunID, v.Status, v.CurrentStepID, v.HeartbeatStatus, v.ActiveLeases)
	}
	return exitOK
}

func loadStatusView(ctx context.Context, rt *runtime.Runtime, taskID, runID string) (runStatusView, error) {
	st, err := rt.Status(ctx, taskID, runID)
	if err != nil {
		return runStatusView{}, err
	}
	return runStatusView{
		TaskID:          taskID,
		RunID:           runID,
		Status:          string(st.State.Status),
		CurrentStepID:   st.State.CurrentStepID,
		HeartbeatStatus: string(st.Heartbeat.Status),
		ActiveLeases:    len(st.Leases),
	}, nil
}

// discoverRuns walks <root>/<task_id>/<run_id>/state to find every run that
// has a state directory, for the bare `status --root` aggregate view.
func discoverRuns(root string) [][2]string {
	var pairs [][2]string
	taskEntries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	for _, taskEntry := range taskEntries {
		if !taskEntry.IsDir() || isSkeletonDir(taskEntry.Name()) {
			continue
		}
		runEntries, err := os.ReadDir(filepath.Join(root, taskEntry.Name()))
		if err != nil {
			continue
		}
		for _, runEntry := range runEntries {
			if !runEntry.IsDir() {
				continue
			}
			if _, err := os.Stat(filepath.Join(root, taskEntry.Name(), runEntry.Name(), "state")); err != nil {
				continue
			}
			pairs = append(pairs, [2]string{taskEntry.Name(), runEntry.Name()})
		}
	}
	return pairs
}
