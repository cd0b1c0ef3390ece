package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/who96/DAOKit/internal/heartbeat"
	"github.com/who96/DAOKit/internal/runtime"
)

// heartbeatTickSpec drives the background liveness scheduler while a run
// is in flight, independent of any per-node heartbeat recorded by dispatch.
const heartbeatTickSpec = "@every 30s"

// simulatedInterruptionBudget is how long --simulate-interruption lets a run
// proceed before its context is cancelled at the next node boundary. Long
// enough for dispatch to register a lease and issue its call; short enough
// that verify/transition haven't yet released it, per the forced-interruption
// scenario the flag exists to exercise.
const simulatedInterruptionBudget = 50 * time.Millisecond

func runRunCmd(args []string, stdout, stderr io.Writer, log zerolog.Logger) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "runtime directory root (required)")
	taskID := fs.String("task-id", "", "task identifier (required)")
	runID := fs.String("run-id", "", "run identifier (required)")
	goal := fs.String("goal", "", "goal text for a fresh run")
	simulateInterruption := fs.Bool("simulate-interruption", false, "cancel the run shortly after it starts")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *root == "" || *taskID == "" || *runID == "" {
		fmt.Fprintln(stderr, "run: --root, --task-id, and --run-id are required")
		return exitFailure
	}

	ctx := context.Background()
	a, err := newApp(ctx, *root, log)
	if err != nil {
		log.Error().Err(err).Str("reason_code", reasonRunFailed).Msg("run setup failed")
		fmt.Fprintf(stderr, "run: %s: %v\n", reasonRunFailed, err)
		return exitFailure
	}
	defer a.Close()

	runCtx := ctx
	var cancel context.CancelFunc
	if *simulateInterruption {
		runCtx, cancel = context.WithTimeout(ctx, simulatedInterruptionBudget)
		defer cancel()
	}

	scheduler := heartbeat.NewScheduler(a.beats)
	artifactRoot := *root + "/artifacts"
	if err := scheduler.Start(ctx, heartbeatTickSpec, func() heartbeat.RecordHeartbeat {
		state, err := a.ledger.LoadState(ctx, *taskID, *runID)
		running := err == nil && state.CurrentStepID != ""
		return heartbeat.RecordHeartbeat{
			TaskID: *taskID, RunID: *runID,
			LastHeartbeatAt:    state.UpdatedAt,
			ArtifactRoot:       artifactRoot,
			RunningStepPresent: running,
		}
	}); err != nil {
		log.Error().Err(err).Str("reason_code", reasonRunFailed).Msg("heartbeat scheduler failed to start")
		fmt.Fprintf(stderr, "run: %s: %v\n", reasonRunFailed, err)
		return exitFailure
	}
	defer scheduler.Stop()

	status, err := a.runtime.Run(runCtx, *taskID, *runID, *goal)
	if errors.Is(err, runtime.ErrRunInterrupted) {
		log.Warn().Str("reason_code", reasonRunInterrupted).Str("task_id", *taskID).Str("run_id", *runID).Msg("run interrupted")
		fmt.Fprintf(stdout, "run interrupted: %s/%s\n", *taskID, *runID)
		return exitInterrupted
	}
	if err != nil {
		log.Error().Err(err).Str("reason_code", reasonRunFailed).Msg("run failed")
		fmt.Fprintf(stderr, "run: %s: %v\n", reasonRunFailed, err)
		return exitFailure
	}

	fmt.Fprintf(stdout, "run %s/%s: %s\n", *taskID, *runID, status)
	return exitOK
}
