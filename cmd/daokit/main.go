// Command daokit drives the lifecycle runtime from the command line: init,
// check, run, status, replay, takeover, and handoff. Each subcommand is a
// thin wrapper over the internal packages; this file only parses the verb
// and dispatches.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	log := zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true}).With().Timestamp().Logger()

	if len(args) < 2 {
		printUsage(stderr)
		return 1
	}

	switch args[1] {
	case "init":
		return runInitCmd(args[2:], stdout, stderr, log)
	case "check":
		return runCheckCmd(args[2:], stdout, stderr, log)
	case "run":
		return runRunCmd(args[2:], stdout, stderr, log)
	case "status":
		return runStatusCmd(args[2:], stdout, stderr, log)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr, log)
	case "takeover":
		return runTakeoverCmd(args[2:], stdout, stderr, log)
	case "handoff":
		return runHandoffCmd(args[2:], stdout, stderr, log)
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "daokit: unknown command %q\n", args[1])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "daokit <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  init      create the runtime directory tree (state, artifacts, handoff); writes no state files")
	fmt.Fprintln(w, "  check     validate layout, state, and heartbeat")
	fmt.Fprintln(w, "  run       start a run and drive it to completion")
	fmt.Fprintln(w, "  status    print the aggregated state/lease/heartbeat view")
	fmt.Fprintln(w, "  replay    iterate the event or checkpoint journal")
	fmt.Fprintln(w, "  takeover  accept succession for a run's leases")
	fmt.Fprintln(w, "  handoff   create or apply a handoff package")
}
