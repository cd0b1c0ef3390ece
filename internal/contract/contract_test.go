package contract_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/who96/DAOKit/internal/contract"
)

func validStep(id string) contract.StepContract {
	return contract.StepContract{
		ID:                 id,
		Title:              "demo step",
		Goal:               "do the thing",
		Actions:            []string{"run"},
		AcceptanceCriteria: []string{"output exists"},
		ExpectedOutputs:    []contract.ExpectedOutput{{Name: "report", Path: "report.md"}},
		Dependencies:       []string{},
	}
}

func TestStepContract_ValidateRequiresAllFields(t *testing.T) {
	s := validStep("S1")
	require.NoError(t, s.Validate())

	missingGoal := s
	missingGoal.Goal = ""
	assert.ErrorIs(t, missingGoal.Validate(), contract.ErrMissingField)

	missingDeps := s
	missingDeps.Dependencies = nil
	assert.ErrorIs(t, missingDeps.Validate(), contract.ErrMissingField)
}

func TestStepContract_RequiresEvidenceTrio(t *testing.T) {
	withCriteria := validStep("S1")
	assert.True(t, withCriteria.RequiresEvidenceTrio())

	noCriteria := withCriteria
	noCriteria.AcceptanceCriteria = nil
	assert.False(t, noCriteria.RequiresEvidenceTrio())
}

func TestStepStatus_Resumable(t *testing.T) {
	assert.True(t, contract.StepPending.Resumable())
	assert.True(t, contract.StepFailed.Resumable())
	assert.True(t, contract.StepRunning.Resumable())
	assert.False(t, contract.StepAccepted.Resumable())
	assert.False(t, contract.StepDone.Resumable())
}

func TestPipelineState_ValidateRejectsDuplicateStepIDs(t *testing.T) {
	p := contract.PipelineState{
		SchemaVersion: contract.SchemaVersion,
		TaskID:        "T1",
		RunID:         "R1",
		Status:        contract.StatusExecute,
		Steps: []contract.StepState{
			{StepContract: validStep("S1"), Status: contract.StepPending},
			{StepContract: validStep("S1"), Status: contract.StepPending},
		},
	}
	assert.ErrorIs(t, p.Validate(), contract.ErrDuplicateID)
}

func TestPipelineState_ValidateRejectsSchemaMismatch(t *testing.T) {
	p := contract.PipelineState{SchemaVersion: "0.9.0", TaskID: "T1", RunID: "R1", Status: contract.StatusPlanning}
	assert.ErrorIs(t, p.Validate(), contract.ErrSchemaMismatch)
}

func TestEventRecord_ValidateRejectsUnknownEventType(t *testing.T) {
	e := contract.EventRecord{
		SchemaVersion: contract.SchemaVersion,
		EventID:       1,
		EventType:     "NOT_A_REAL_EVENT",
		TaskID:        "T1",
		RunID:         "R1",
	}
	assert.ErrorIs(t, e.Validate(), contract.ErrInvalidEnum)
}

func TestEventRecord_ValidateRequiresPositiveEventID(t *testing.T) {
	e := contract.EventRecord{
		SchemaVersion: contract.SchemaVersion,
		EventID:       0,
		EventType:     contract.EventStepStarted,
		TaskID:        "T1",
		RunID:         "R1",
	}
	require.Error(t, e.Validate())
}

func TestProcessLease_Live(t *testing.T) {
	now := time.Now()
	active := contract.ProcessLease{Status: contract.LeaseActive, Expiry: now.Add(time.Minute)}
	assert.True(t, active.Live(now))

	expired := contract.ProcessLease{Status: contract.LeaseActive, Expiry: now.Add(-time.Minute)}
	assert.False(t, expired.Live(now))

	released := contract.ProcessLease{Status: contract.LeaseReleased, Expiry: now.Add(time.Minute)}
	assert.False(t, released.Live(now))
}

func TestHeartbeatStatus_ValidateRejectsInvertedThresholds(t *testing.T) {
	h := contract.HeartbeatStatus{
		SchemaVersion:       contract.SchemaVersion,
		Status:              contract.HeartbeatRunning,
		WarningAfterSeconds: 1200,
		StaleAfterSeconds:   900,
	}
	require.Error(t, h.Validate())
}

func TestStableID_DeterministicOverSameInput(t *testing.T) {
	id1, err := contract.StableID("S1", "criterion-1", "abc123")
	require.NoError(t, err)
	id2, err := contract.StableID("S1", "criterion-1", "abc123")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := contract.StableID("S1", "criterion-2", "abc123")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}
