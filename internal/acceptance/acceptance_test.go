package acceptance_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/acceptance"
	"github.com/who96/DAOKit/internal/contract"
)

func baseStep() contract.StepContract {
	return contract.StepContract{
		ID:                 "S1",
		Goal:               "produce a report",
		Actions:            []string{"write report"},
		AcceptanceCriteria: []string{"report exists"},
		ExpectedOutputs:    []contract.ExpectedOutput{{Name: "report", Path: "report.md"}},
		Dependencies:       []string{},
	}
}

func TestEvaluateStepSkipsEvidenceWhenNoCriteria(t *testing.T) {
	step := contract.StepContract{ID: "S1", Goal: "g", Actions: []string{"a"}, Dependencies: []string{}}
	result, err := acceptance.EvaluateStep(step, t.TempDir(), nil, false)
	require.NoError(t, err)
	require.True(t, result.Passed)
	require.NotNil(t, result.Proof)
}

func TestEvaluateStepFailsOnMissingEvidence(t *testing.T) {
	result, err := acceptance.EvaluateStep(baseStep(), t.TempDir(), nil, false)
	require.NoError(t, err)
	require.False(t, result.Passed)
	require.NotNil(t, result.Rework)
	require.Equal(t, acceptance.ReasonMissingEvidence, result.Rework.FailedCriteria[0].ReasonCode)
}

func TestEvaluateStepPassesWithEvidencePresent(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.md"), []byte("done"), 0o644))

	result, err := acceptance.EvaluateStep(baseStep(), root, nil, false)
	require.NoError(t, err)
	require.True(t, result.Passed)
	require.NotEmpty(t, result.Proof.ProofID)
}

func TestEvaluateStepRejectsOutOfScopeChange(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.md"), []byte("done"), 0o644))

	step := baseStep()
	step.AllowedScope = []string{"allowed/*"}

	result, err := acceptance.EvaluateStep(step, root, []string{"forbidden/file.go"}, false)
	require.NoError(t, err)
	require.False(t, result.Passed)
	found := false
	for _, c := range result.Rework.FailedCriteria {
		if c.ReasonCode == acceptance.ReasonOutOfScopeChange {
			found = true
		}
	}
	require.True(t, found)
}

func TestEvaluateStepRequiresCommandEvidence(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.md"), []byte("done"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "verification.log"), []byte("no markers here"), 0o644))

	step := baseStep()
	step.ExpectedOutputs = append(step.ExpectedOutputs, contract.ExpectedOutput{Name: "verification.log", Path: "verification.log"})

	result, err := acceptance.EvaluateStep(step, root, nil, true)
	require.NoError(t, err)
	require.False(t, result.Passed)
	found := false
	for _, c := range result.Rework.FailedCriteria {
		if c.ReasonCode == acceptance.ReasonMissingCommandEvidence {
			found = true
		}
	}
	require.True(t, found)
}

func TestEvaluateStepAcceptsCommandEvidenceMarker(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "report.md"), []byte("done"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "verification.log"), []byte("Command: go test ./...\nok"), 0o644))

	step := baseStep()
	step.ExpectedOutputs = append(step.ExpectedOutputs, contract.ExpectedOutput{Name: "verification.log", Path: "verification.log"})

	result, err := acceptance.EvaluateStep(step, root, nil, true)
	require.NoError(t, err)
	require.True(t, result.Passed)
}

func TestEvaluateStepRejectsPathEscapingEvidenceRoot(t *testing.T) {
	root := t.TempDir()
	step := baseStep()
	step.ExpectedOutputs = []contract.ExpectedOutput{{Name: "report", Path: "../escape.md"}}

	result, err := acceptance.EvaluateStep(step, root, nil, false)
	require.NoError(t, err)
	require.False(t, result.Passed)
	require.Equal(t, acceptance.ReasonInvalidEvidencePath, result.Rework.FailedCriteria[0].ReasonCode)
}
