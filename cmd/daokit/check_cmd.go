package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/who96/DAOKit/internal/config"
	"github.com/who96/DAOKit/internal/contract"
)

type checkReport struct {
	Root       string   `json:"root"`
	OK         bool     `json:"ok"`
	ReasonCode string   `json:"reason_code,omitempty"`
	Runs       []string `json:"runs_checked"`
	Problems   []string `json:"problems,omitempty"`
}

func runCheckCmd(args []string, stdout, stderr io.Writer, log zerolog.Logger) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.SetOutput(stderr)
	root := fs.String("root", "", "runtime directory root (required)")
	jsonOut := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return exitFailure
	}
	if *root == "" {
		fmt.Fprintln(stderr, "check: --root is required")
		return exitFailure
	}

	report := checkReport{Root: *root, OK: true}

	for _, sub := range rootSkeleton {
		if info, err := os.Stat(filepath.Join(*root, sub)); err != nil || !info.IsDir() {
			report.OK = false
			report.ReasonCode = reasonCheckLayoutMissing
			report.Problems = append(report.Problems, fmt.Sprintf("missing directory %q", sub))
		}
	}

	if _, err := config.Load(*root); err != nil {
		report.OK = false
		if report.ReasonCode == "" {
			report.ReasonCode = reasonCheckStateInvalid
		}
		report.Problems = append(report.Problems, fmt.Sprintf("config: %v", err))
	}

	if report.OK || report.ReasonCode != reasonCheckLayoutMissing {
		runs, problems, hbProblems := scanRuns(*root)
		report.Runs = runs
		report.Problems = append(report.Problems, problems...)
		report.Problems = append(report.Problems, hbProblems...)
		if len(problems) > 0 {
			report.OK = false
			if report.ReasonCode == "" {
				report.ReasonCode = reasonCheckStateInvalid
			}
		}
		if len(hbProblems) > 0 {
			report.OK = false
			if report.ReasonCode == "" {
				report.ReasonCode = reasonCheckHeartbeatBroken
			}
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(stdout, string(data))
	} else if report.OK {
		fmt.Fprintf(stdout, "check: ok (%d runs)\n", len(report.Runs))
	} else {
		fmt.Fprintf(stderr, "check: %s\n", report.ReasonCode)
		for _, p := range report.Problems {
			fmt.Fprintf(stderr, "  - %s\n", p)
		}
	}

	if !report.OK {
		log.Warn().Str("reason_code", report.ReasonCode).Strs("problems", report.Problems).Msg("check failed")
		return exitFailure
	}
	return exitOK
}

// scanRuns walks <root>/<task_id>/<run_id>/state and validates each run's
// pipeline_state.json and heartbeat_status.json, since check carries no
// --task-id/--run-id: it audits every run that has a state directory.
func scanRuns(root string) (runs, stateProblems, heartbeatProblems []string) {
	taskEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, nil, nil
	}
	for _, taskEntry := range taskEntries {
		if !taskEntry.IsDir() || isSkeletonDir(taskEntry.Name()) {
			continue
		}
		taskDir := filepath.Join(root, taskEntry.Name())
		runEntries, err := os.ReadDir(taskDir)
		if err != nil {
			continue
		}
		for _, runEntry := range runEntries {
			if !runEntry.IsDir() {
				continue
			}
			stateDir := filepath.Join(taskDir, runEntry.Name(), "state")
			if _, err := os.Stat(stateDir); err != nil {
				continue
			}
			runs = append(runs, taskEntry.Name()+"/"+runEntry.Name())

			if state, err := loadPipelineStateFile(filepath.Join(stateDir, "pipeline_state.json")); err != nil {
				stateProblems = append(stateProblems, fmt.Sprintf("%s: pipeline_state: %v", runEntry.Name(), err))
			} else if err := state.Validate(); err != nil {
				stateProblems = append(stateProblems, fmt.Sprintf("%s: pipeline_state invalid: %v", runEntry.Name(), err))
			}

			if hb, err := loadHeartbeatFile(filepath.Join(stateDir, "heartbeat_status.json")); err == nil {
				if err := hb.Validate(); err != nil {
					heartbeatProblems = append(heartbeatProblems, fmt.Sprintf("%s: heartbeat invalid: %v", runEntry.Name(), err))
				}
			}
		}
	}
	return runs, stateProblems, heartbeatProblems
}

func isSkeletonDir(name string) bool {
	for _, sub := range rootSkeleton {
		if name == sub {
			return true
		}
	}
	return false
}

func loadPipelineStateFile(path string) (contract.PipelineState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contract.PipelineState{}, err
	}
	var state contract.PipelineState
	err = json.Unmarshal(data, &state)
	return state, err
}

func loadHeartbeatFile(path string) (contract.HeartbeatStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contract.HeartbeatStatus{}, err
	}
	var hb contract.HeartbeatStatus
	err = json.Unmarshal(data, &hb)
	return hb, err
}
