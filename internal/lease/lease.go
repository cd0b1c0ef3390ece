// Package lease implements the process lease registry: the cross-process
// coordination primitive for a pipeline run. The lease record in the store
// is itself the coordination mechanism; no in-memory lock substitutes for
// it across processes.
package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/ledger"
	"github.com/who96/DAOKit/internal/store"
)

// ErrMismatchedIdentity is returned when a mutating call's (task_id, run_id,
// step_id) does not match the lease on record.
var ErrMismatchedIdentity = fmt.Errorf("lease: identity mismatch")

// ErrNoLiveLease is returned when an operation requires an ACTIVE,
// unexpired lease and none exists.
var ErrNoLiveLease = fmt.Errorf("lease: no live lease")

// Registry mediates register/heartbeat/renew/release/takeover operations
// over the store's process_leases record, expiring stale leases before
// every evaluation.
type Registry struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
}

// New builds a Registry with the given lease TTL. now defaults to
// time.Now when nil; tests may override it for deterministic expiry.
func New(s store.Store, ttl time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: s, ttl: ttl, now: now}
}

// Register creates a new ACTIVE lease for (task_id, run_id, step_id),
// rejecting the call if a live lease already exists for that tuple (spec
// invariant: no two active leases for the same (run_id, step_id)).
func (r *Registry) Register(ctx context.Context, taskID, runID, stepID, lane, threadID string, pid int) (contract.ProcessLease, error) {
	if existing, err := r.expireAndLoad(ctx, taskID, runID, stepID); err == nil && existing.Live(r.now()) {
		return contract.ProcessLease{}, fmt.Errorf("lease: already active for %s/%s/%s", taskID, runID, stepID)
	}

	lease := contract.ProcessLease{
		SchemaVersion: contract.SchemaVersion,
		Lane:          lane,
		StepID:        stepID,
		TaskID:        taskID,
		RunID:         runID,
		ThreadID:      threadID,
		PID:           pid,
		LeaseToken:    uuid.NewString(),
		Expiry:        r.now().Add(r.ttl),
		Status:        contract.LeaseActive,
	}
	if err := lease.Validate(); err != nil {
		return contract.ProcessLease{}, err
	}
	if err := r.store.SaveLease(ctx, lease); err != nil {
		return contract.ProcessLease{}, err
	}
	return lease, nil
}

// Heartbeat is an alias for Renew: both refresh a live lease's expiry.
func (r *Registry) Heartbeat(ctx context.Context, taskID, runID, stepID, token string) (contract.ProcessLease, error) {
	return r.Renew(ctx, taskID, runID, stepID, token)
}

// Renew extends an ACTIVE, unexpired lease's expiry by the registry TTL.
// The caller's token must match the lease on record.
func (r *Registry) Renew(ctx context.Context, taskID, runID, stepID, token string) (contract.ProcessLease, error) {
	lease, err := r.expireAndLoad(ctx, taskID, runID, stepID)
	if err != nil {
		return contract.ProcessLease{}, err
	}
	if lease.LeaseToken != token {
		return contract.ProcessLease{}, ErrMismatchedIdentity
	}
	if !lease.Live(r.now()) {
		return contract.ProcessLease{}, ErrNoLiveLease
	}
	lease.Expiry = r.now().Add(r.ttl)
	if err := r.store.SaveLease(ctx, lease); err != nil {
		return contract.ProcessLease{}, err
	}
	return lease, nil
}

// Release marks a lease RELEASED. The caller's token must match.
func (r *Registry) Release(ctx context.Context, taskID, runID, stepID, token string) error {
	lease, err := r.expireAndLoad(ctx, taskID, runID, stepID)
	if err != nil {
		return err
	}
	if lease.LeaseToken != token {
		return ErrMismatchedIdentity
	}
	lease.Status = contract.LeaseReleased
	return r.store.SaveLease(ctx, lease)
}

// expireAndLoad loads a lease and, if it is ACTIVE but past its expiry,
// transitions it to EXPIRED in the store before returning it — "on any
// operation expired leases are first transitioned to EXPIRED before
// evaluation."
func (r *Registry) expireAndLoad(ctx context.Context, taskID, runID, stepID string) (contract.ProcessLease, error) {
	lease, err := r.store.LoadLease(ctx, taskID, runID, stepID)
	if err != nil {
		return contract.ProcessLease{}, err
	}
	if lease.Status == contract.LeaseActive && !r.now().Before(lease.Expiry) {
		lease.Status = contract.LeaseExpired
		if err := r.store.SaveLease(ctx, lease); err != nil {
			return contract.ProcessLease{}, err
		}
	}
	return lease, nil
}

// Adoption is the result of a succession takeover: which steps' leases
// were adopted by the successor and which could not be.
type Adoption struct {
	AdoptedStepIDs []string
	FailedStepIDs  []string
	TakeoverAt     time.Time
}

// Takeover adopts every ACTIVE, unexpired lease for (task_id, run_id) on
// behalf of successor, reassigning thread identity and minting fresh
// tokens. Leases that are not live are recorded as failed adoptions;
// Takeover itself does not touch pipeline state. BatchTakeoverRun marks
// those steps failed_non_adopted_lease in pipeline state and emits
// STEP_FAILED for each.
func (r *Registry) Takeover(ctx context.Context, taskID, runID string, successor contract.SuccessorIdentity) (Adoption, error) {
	leases, err := r.store.ListLeases(ctx, taskID, runID)
	if err != nil {
		return Adoption{}, err
	}
	now := r.now()
	adoption := Adoption{TakeoverAt: now}

	for _, lease := range leases {
		current, err := r.expireAndLoad(ctx, taskID, runID, lease.StepID)
		if err != nil {
			return Adoption{}, err
		}
		if !current.Live(now) {
			adoption.FailedStepIDs = append(adoption.FailedStepIDs, current.StepID)
			continue
		}
		current.ThreadID = successor.ThreadID
		current.PID = successor.PID
		current.LeaseToken = uuid.NewString()
		current.Expiry = now.Add(r.ttl)
		if err := r.store.SaveLease(ctx, current); err != nil {
			return Adoption{}, err
		}
		adoption.AdoptedStepIDs = append(adoption.AdoptedStepIDs, current.StepID)
	}
	return adoption, nil
}

// BatchTakeoverRun performs Takeover and folds the result into pipeline
// state (succession.last_takeover_at, succession.successor), failing
// steps whose leases could not be adopted and committing the updated
// snapshot plus a SUCCESSION_ACCEPTED event through l.
func BatchTakeoverRun(ctx context.Context, r *Registry, l *ledger.Ledger, taskID, runID string, successor contract.SuccessorIdentity) (Adoption, error) {
	adoption, err := r.Takeover(ctx, taskID, runID, successor)
	if err != nil {
		return Adoption{}, err
	}

	state, err := l.LoadState(ctx, taskID, runID)
	if err != nil {
		return Adoption{}, err
	}

	if state.RoleLifecycle == nil {
		state.RoleLifecycle = make(map[string]string, len(adoption.FailedStepIDs))
	}
	for _, stepID := range adoption.FailedStepIDs {
		state.RoleLifecycle["step:"+stepID] = "failed_non_adopted_lease"
		for i := range state.Steps {
			if state.Steps[i].ID == stepID {
				state.Steps[i].Status = contract.StepFailed
			}
		}
	}
	takeoverAt := adoption.TakeoverAt
	state.Succession = contract.Succession{
		LastTakeoverAt: &takeoverAt,
		Successor:      &successor,
	}
	state.UpdatedAt = takeoverAt

	event := contract.EventRecord{
		EventType: contract.EventSuccessionAccepted,
		Payload: map[string]interface{}{
			"adopted_step_ids": adoption.AdoptedStepIDs,
			"failed_step_ids":  adoption.FailedStepIDs,
			"takeover_at":      takeoverAt,
		},
	}
	if _, err := l.CommitTransition(ctx, state, event); err != nil {
		return Adoption{}, err
	}
	for _, stepID := range adoption.FailedStepIDs {
		failedEvent := contract.EventRecord{
			EventType: contract.EventStepFailed,
			StepID:    stepID,
			Severity:  contract.SeverityError,
			Payload:   map[string]interface{}{"reason": "failed_non_adopted_lease"},
		}
		if _, err := l.AppendEvent(ctx, taskID, runID, failedEvent); err != nil {
			return Adoption{}, err
		}
	}
	return adoption, nil
}
