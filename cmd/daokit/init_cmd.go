package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// runtime directory tree under --root. task_id/run_id subtrees are created
// lazily by the store on first write; init only scaffolds the shared,
// run-independent layout.
var rootSkeleton = []string{"state", "artifacts", "handoff"}

func runInitCmd(args []string, stdout, stderr io.Writer, log zerolog.Logger) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "runtime directory root (required)")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *root == "" {
		fmt.Fprintln(stderr, "init: --root is required")
		return exitFailure
	}

	if err := initTree(*root); err != nil {
		log.Error().Err(err).Str("reason_code", reasonInitFailed).Msg("init failed")
		fmt.Fprintf(stderr, "init: %s: %v\n", reasonInitFailed, err)
		return exitFailure
	}

	fmt.Fprintf(stdout, "initialized %s\n", *root)
	return exitOK
}

func initTree(root string) error {
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", root)
	}
	for _, sub := range rootSkeleton {
		path := filepath.Join(root, sub)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return err
		}
	}
	return nil
}
