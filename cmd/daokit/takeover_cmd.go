package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/lease"
)

func runTakeoverCmd(args []string, stdout, stderr io.Writer, log zerolog.Logger) int {
	fs := flag.NewFlagSet("takeover", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "runtime directory root (required)")
	taskID := fs.String("task-id", "", "task identifier (required)")
	runID := fs.String("run-id", "", "run identifier (required)")
	successorThread := fs.String("successor-thread-id", "", "thread ID taking over the run's leases (required)")
	successorPID := fs.Int("successor-pid", 0, "process ID of the successor")
	jsonOut := fs.Bool("json", true, "emit the adoption result as JSON")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *root == "" || *taskID == "" || *runID == "" || *successorThread == "" {
		fmt.Fprintln(stderr, "takeover: --root, --task-id, --run-id, and --successor-thread-id are required")
		return exitFailure
	}

	ctx := context.Background()
	a, err := newApp(ctx, *root, log)
	if err != nil {
		log.Error().Err(err).Str("reason_code", reasonTakeoverFailed).Msg("takeover setup failed")
		fmt.Fprintf(stderr, "takeover: %s: %v\n", reasonTakeoverFailed, err)
		return exitFailure
	}
	defer a.Close()

	successor := contract.SuccessorIdentity{ThreadID: *successorThread, PID: *successorPID}
	adoption, err := lease.BatchTakeoverRun(ctx, a.leases, a.ledger, *taskID, *runID, successor)
	if err != nil {
		log.Error().Err(err).Str("reason_code", reasonTakeoverFailed).Msg("takeover failed")
		fmt.Fprintf(stderr, "takeover: %s: %v\n", reasonTakeoverFailed, err)
		return exitFailure
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(map[string]interface{}{
			"adopted_step_ids": orEmpty(adoption.AdoptedStepIDs),
			"failed_step_ids":  orEmpty(adoption.FailedStepIDs),
			"takeover_at":      adoption.TakeoverAt,
		}, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else {
		fmt.Fprintf(stdout, "takeover: adopted=%v failed=%v\n", adoption.AdoptedStepIDs, adoption.FailedStepIDs)
	}
	return exitOK
}

// orEmpty renders a nil slice as [] rather than null in the JSON report.
func orEmpty(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
