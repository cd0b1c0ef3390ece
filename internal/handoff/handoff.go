// Package handoff implements the pre-compact package writer and
// session-start resume planner: the mechanism that lets a fresh process
// pick up a run after context exhaustion.
package handoff

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/ledger"
)

// ErrPackageMismatch is returned when an applied package's task_id/run_id
// does not match the current ledger.
var ErrPackageMismatch = fmt.Errorf("handoff: package does not match current ledger")

// ErrHashMismatch is returned when a package's content no longer matches
// its recorded package_hash.
var ErrHashMismatch = fmt.Errorf("handoff: package hash mismatch")

// Create snapshots the current ledger state into a handoff package,
// computes its content hash, and writes it to path as JSON.
func Create(ctx context.Context, l *ledger.Ledger, taskID, runID, path string) (contract.HandoffPackage, error) {
	state, err := l.LoadState(ctx, taskID, runID)
	if err != nil {
		return contract.HandoffPackage{}, err
	}

	var openItems []string
	var evidencePaths []string
	for _, step := range state.Steps {
		if step.Status != contract.StepAccepted && step.Status != contract.StepDone {
			openItems = append(openItems, step.ID)
		}
		for _, out := range step.ExpectedOutputs {
			evidencePaths = append(evidencePaths, out.Path)
		}
	}

	pkg := contract.HandoffPackage{
		SchemaVersion:       contract.SchemaVersion,
		TaskID:              taskID,
		RunID:               runID,
		CurrentStep:         state.CurrentStepID,
		OpenAcceptanceItems: openItems,
		EvidencePaths:       evidencePaths,
		NextAction:          nextAction(state),
	}

	hash, err := contract.StableID(pkg.TaskID, pkg.RunID, pkg.CurrentStep, pkg.OpenAcceptanceItems, pkg.EvidencePaths, pkg.NextAction)
	if err != nil {
		return contract.HandoffPackage{}, err
	}
	pkg.PackageHash = hash

	if err := pkg.Validate(); err != nil {
		return contract.HandoffPackage{}, err
	}

	if err := writePackage(path, pkg); err != nil {
		return contract.HandoffPackage{}, err
	}

	if _, err := l.AppendEvent(ctx, taskID, runID, contract.EventRecord{
		EventType: contract.EventHandoffCreated,
		Payload:   map[string]interface{}{"package_hash": pkg.PackageHash, "path": path},
	}); err != nil {
		return contract.HandoffPackage{}, err
	}

	return pkg, nil
}

// ResumePlan is the set of steps eligible to replay on resume, per §4.7:
// PENDING/FAILED/RUNNING only, never DONE/ACCEPTED.
type ResumePlan struct {
	Package          contract.HandoffPackage
	ResumableStepIDs []string
}

// Apply verifies a package's hash and schema version, checks it matches
// the current ledger's (task_id, run_id), then computes a resume plan.
func Apply(ctx context.Context, l *ledger.Ledger, path, taskID, runID string) (ResumePlan, error) {
	pkg, err := readPackage(path)
	if err != nil {
		return ResumePlan{}, err
	}
	if err := pkg.Validate(); err != nil {
		return ResumePlan{}, err
	}

	recomputed, err := contract.StableID(pkg.TaskID, pkg.RunID, pkg.CurrentStep, pkg.OpenAcceptanceItems, pkg.EvidencePaths, pkg.NextAction)
	if err != nil {
		return ResumePlan{}, err
	}
	if recomputed != pkg.PackageHash {
		return ResumePlan{}, ErrHashMismatch
	}
	if pkg.TaskID != taskID || pkg.RunID != runID {
		return ResumePlan{}, ErrPackageMismatch
	}

	state, err := l.LoadState(ctx, taskID, runID)
	if err != nil {
		return ResumePlan{}, err
	}

	var resumable []string
	for _, step := range state.Steps {
		if step.Status.Resumable() {
			resumable = append(resumable, step.ID)
		}
	}

	if _, err := l.AppendEvent(ctx, taskID, runID, contract.EventRecord{
		EventType: contract.EventHandoffApplied,
		Payload:   map[string]interface{}{"package_hash": pkg.PackageHash, "resumable_step_ids": resumable},
	}); err != nil {
		return ResumePlan{}, err
	}

	return ResumePlan{Package: pkg, ResumableStepIDs: resumable}, nil
}

func nextAction(state contract.PipelineState) string {
	if state.CurrentStepID == "" {
		return "resume at extract"
	}
	return "resume at step " + state.CurrentStepID
}

func writePackage(path string, pkg contract.HandoffPackage) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readPackage(path string) (contract.HandoffPackage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contract.HandoffPackage{}, err
	}
	var pkg contract.HandoffPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		return contract.HandoffPackage{}, err
	}
	return pkg, nil
}
