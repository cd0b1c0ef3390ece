package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

func runReplayCmd(args []string, stdout, stderr io.Writer, log zerolog.Logger) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "runtime directory root (required)")
	taskID := fs.String("task-id", "", "task identifier (required)")
	runID := fs.String("run-id", "", "run identifier (required)")
	source := fs.String("source", "", "events|snapshots (required)")
	limit := fs.Int("limit", 0, "limit the number of most recent entries (0 = all)")
	jsonOut := fs.Bool("json", false, "emit entries as JSON")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *root == "" || *taskID == "" || *runID == "" {
		fmt.Fprintln(stderr, "replay: --root, --task-id, and --run-id are required")
		return exitFailure
	}
	if *source != "events" && *source != "snapshots" {
		fmt.Fprintln(stderr, "replay: --source must be events or snapshots")
		return exitFailure
	}

	ctx := context.Background()
	a, err := newApp(ctx, *root, log)
	if err != nil {
		log.Error().Err(err).Str("reason_code", reasonReplayFailed).Msg("replay setup failed")
		fmt.Fprintf(stderr, "replay: %s: %v\n", reasonReplayFailed, err)
		return exitFailure
	}
	defer a.Close()

	var out interface{}
	if *source == "events" {
		events, err := a.ledger.ListEvents(ctx, *taskID, *runID, *limit)
		if err != nil {
			log.Error().Err(err).Str("reason_code", reasonReplayFailed).Msg("replay failed")
			fmt.Fprintf(stderr, "replay: %s: %v\n", reasonReplayFailed, err)
			return exitFailure
		}
		out = events
	} else {
		checkpoints, err := a.store.ListCheckpoints(ctx, *taskID, *runID)
		if err != nil {
			log.Error().Err(err).Str("reason_code", reasonReplayFailed).Msg("replay failed")
			fmt.Fprintf(stderr, "replay: %s: %v\n", reasonReplayFailed, err)
			return exitFailure
		}
		if *limit > 0 && len(checkpoints) > *limit {
			checkpoints = checkpoints[:*limit]
		}
		out = checkpoints
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(out, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return exitOK
	}
	fmt.Fprintf(stdout, "%+v\n", out)
	return exitOK
}
