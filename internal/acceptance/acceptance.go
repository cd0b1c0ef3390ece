// Package acceptance evaluates a step's acceptance criteria against the
// artifacts at its declared expected outputs, enforces the allowed-scope
// guard, and checks for command evidence in verification logs.
package acceptance

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/who96/DAOKit/internal/contract"
)

var errNoCommandMarker = errors.New("acceptance: no command entry marker found")

// Reason codes, frozen per the error handling design.
const (
	ReasonMissingEvidence        = "MISSING_EVIDENCE"
	ReasonUnreadableEvidence     = "UNREADABLE_EVIDENCE"
	ReasonInvalidEvidencePath    = "INVALID_EVIDENCE_PATH"
	ReasonOutOfScopeChange       = "OUT_OF_SCOPE_CHANGE"
	ReasonMissingCommandEvidence = "MISSING_COMMAND_EVIDENCE"
)

// CriterionState is one criterion's pass/fail outcome.
type CriterionState struct {
	Criterion  string
	Passed     bool
	ReasonCode string
	Detail     string
}

// Proof is the passing-evaluation record: a stable ID derived from step,
// criterion, and artifact content, plus the per-criterion states.
type Proof struct {
	ProofID        string
	CriteriaStates []CriterionState
}

// Rework is the failing-evaluation payload: exact failed criteria plus the
// minimum artifact delta required to pass next time.
type Rework struct {
	FailedCriteria []CriterionState
	RequiredDelta  []string
}

// Result is the outcome of EvaluateStep: exactly one of Proof or Rework is
// populated.
type Result struct {
	Passed bool
	Proof  *Proof
	Rework *Rework
}

// EvaluateStep checks step's acceptance criteria against the artifacts
// under evidenceRoot, honoring AllowedScope and, when requireCommandLog is
// true, the command-evidence check on verification.log.
func EvaluateStep(step contract.StepContract, evidenceRoot string, changedFiles []string, requireCommandLog bool) (Result, error) {
	if !step.RequiresEvidenceTrio() {
		return Result{Passed: true, Proof: &Proof{}}, nil
	}

	var states []CriterionState
	allPassed := true

	outputsByName := make(map[string]contract.ExpectedOutput, len(step.ExpectedOutputs))
	for _, out := range step.ExpectedOutputs {
		outputsByName[out.Name] = out
	}

	for _, criterion := range step.AcceptanceCriteria {
		state := evaluateCriterion(criterion, step, evidenceRoot)
		if !state.Passed {
			allPassed = false
		}
		states = append(states, state)
	}

	if allPassed && len(step.AllowedScope) > 0 {
		if violations := scopeViolations(step.AllowedScope, changedFiles); len(violations) > 0 {
			allPassed = false
			states = append(states, CriterionState{
				Criterion:  "allowed_scope",
				Passed:     false,
				ReasonCode: ReasonOutOfScopeChange,
				Detail:     strings.Join(violations, ", "),
			})
		}
	}

	if allPassed && requireCommandLog {
		if out, ok := outputsByName["verification.log"]; ok {
			if err := checkCommandEvidence(evidenceRoot, out.Path); err != nil {
				allPassed = false
				states = append(states, CriterionState{
					Criterion:  "command_evidence",
					Passed:     false,
					ReasonCode: ReasonMissingCommandEvidence,
					Detail:     err.Error(),
				})
			}
		}
	}

	if !allPassed {
		var failed []CriterionState
		var delta []string
		for _, s := range states {
			if !s.Passed {
				failed = append(failed, s)
				delta = append(delta, s.Criterion)
			}
		}
		return Result{Passed: false, Rework: &Rework{FailedCriteria: failed, RequiredDelta: delta}}, nil
	}

	var artifactHashes []string
	for _, out := range step.ExpectedOutputs {
		data, err := os.ReadFile(filepath.Join(evidenceRoot, out.Path))
		if err != nil {
			return Result{}, err
		}
		sum := sha256.Sum256(data)
		artifactHashes = append(artifactHashes, hex.EncodeToString(sum[:]))
	}
	proofID, err := contract.StableID(step.ID, states, artifactHashes)
	if err != nil {
		return Result{}, err
	}
	return Result{Passed: true, Proof: &Proof{ProofID: proofID, CriteriaStates: states}}, nil
}

func evaluateCriterion(criterion string, step contract.StepContract, evidenceRoot string) CriterionState {
	for _, out := range step.ExpectedOutputs {
		resolved := filepath.Join(evidenceRoot, out.Path)
		rel, err := filepath.Rel(evidenceRoot, resolved)
		if err != nil || strings.HasPrefix(rel, "..") {
			return CriterionState{Criterion: criterion, Passed: false, ReasonCode: ReasonInvalidEvidencePath, Detail: out.Path}
		}
		info, err := os.Stat(resolved)
		if os.IsNotExist(err) {
			return CriterionState{Criterion: criterion, Passed: false, ReasonCode: ReasonMissingEvidence, Detail: out.Path}
		}
		if err != nil {
			return CriterionState{Criterion: criterion, Passed: false, ReasonCode: ReasonUnreadableEvidence, Detail: out.Path}
		}
		if info.IsDir() {
			return CriterionState{Criterion: criterion, Passed: false, ReasonCode: ReasonUnreadableEvidence, Detail: out.Path}
		}
	}
	return CriterionState{Criterion: criterion, Passed: true}
}

// scopeViolations returns the subset of changedFiles that don't match any
// of the allowed path globs.
func scopeViolations(allowedScope, changedFiles []string) []string {
	var violations []string
	for _, f := range changedFiles {
		allowed := false
		for _, glob := range allowedScope {
			if ok, err := filepath.Match(glob, f); err == nil && ok {
				allowed = true
				break
			}
		}
		if !allowed {
			violations = append(violations, f)
		}
	}
	return violations
}

const (
	commandLineMarker = "Command: "
	commandBlockStart = "=== COMMAND ENTRY"
)

// checkCommandEvidence accepts either the line marker "Command: <cmd>" or
// the block markers "=== COMMAND ENTRY N START/END ===".
func checkCommandEvidence(evidenceRoot, relPath string) error {
	data, err := os.ReadFile(filepath.Join(evidenceRoot, relPath))
	if err != nil {
		return err
	}
	content := string(data)
	if strings.Contains(content, commandLineMarker) || strings.Contains(content, commandBlockStart) {
		return nil
	}
	return errNoCommandMarker
}
