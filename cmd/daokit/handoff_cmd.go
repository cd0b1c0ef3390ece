package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/who96/DAOKit/internal/handoff"
)

func runHandoffCmd(args []string, stdout, stderr io.Writer, log zerolog.Logger) int {
	fs := flag.NewFlagSet("handoff", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "runtime directory root (required)")
	taskID := fs.String("task-id", "", "task identifier (required)")
	runID := fs.String("run-id", "", "run identifier (required)")
	create := fs.Bool("create", false, "create a handoff package from the current ledger")
	apply := fs.Bool("apply", false, "apply a handoff package and compute a resume plan")
	path := fs.String("path", "", "handoff package path (defaults under <root>/handoff)")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *root == "" || *taskID == "" || *runID == "" {
		fmt.Fprintln(stderr, "handoff: --root, --task-id, and --run-id are required")
		return exitFailure
	}
	if *create == *apply {
		fmt.Fprintln(stderr, "handoff: exactly one of --create or --apply is required")
		return exitFailure
	}

	ctx := context.Background()
	a, err := newApp(ctx, *root, log)
	if err != nil {
		log.Error().Err(err).Str("reason_code", reasonHandoffFailed).Msg("handoff setup failed")
		fmt.Fprintf(stderr, "handoff: %s: %v\n", reasonHandoffFailed, err)
		return exitFailure
	}
	defer a.Close()

	packagePath := *path
	if packagePath == "" {
		packagePath = filepath.Join(*root, "handoff", *taskID+"_"+*runID+".json")
	}

	if *create {
		pkg, err := handoff.Create(ctx, a.ledger, *taskID, *runID, packagePath)
		if err != nil {
			log.Error().Err(err).Str("reason_code", reasonHandoffFailed).Msg("handoff create failed")
			fmt.Fprintf(stderr, "handoff: %s: %v\n", reasonHandoffFailed, err)
			return exitFailure
		}
		data, _ := json.MarshalIndent(pkg, "", "  ")
		fmt.Fprintln(stdout, string(data))
		return exitOK
	}

	plan, err := handoff.Apply(ctx, a.ledger, packagePath, *taskID, *runID)
	if err != nil {
		log.Error().Err(err).Str("reason_code", reasonHandoffFailed).Msg("handoff apply failed")
		fmt.Fprintf(stderr, "handoff: %s: %v\n", reasonHandoffFailed, err)
		return exitFailure
	}
	data, _ := json.MarshalIndent(plan, "", "  ")
	fmt.Fprintln(stdout, string(data))
	return exitOK
}
