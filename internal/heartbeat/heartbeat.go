// Package heartbeat evaluates run liveness from explicit heartbeat
// timestamps and implicit artifact activity, and drives a periodic tick
// loop via robfig/cron.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/ledger"
)

const (
	// DefaultWarningAfterSeconds is the default silence threshold for WARNING.
	DefaultWarningAfterSeconds = 900
	// DefaultStaleAfterSeconds is the default silence threshold for STALE.
	DefaultStaleAfterSeconds = 1200
)

// Evaluator computes heartbeat state for a run and persists it through a
// ledger. It carries no goroutines of its own; Evaluate is called by a
// Scheduler or directly by the lifecycle runtime.
type Evaluator struct {
	ledger              *ledger.Ledger
	warningAfterSeconds int
	staleAfterSeconds   int
	now                 func() time.Time

	// lastStaleStreak dedups HEARTBEAT_STALE emission: (task_id, run_id) ->
	// dedup key of the last streak already emitted.
	lastStaleStreak map[string]string
}

// NewEvaluator builds an Evaluator with the given thresholds (seconds).
// Zero values fall back to the package defaults. now defaults to time.Now
// when nil; tests may override it to exercise a silence streak that
// crosses a minute boundary deterministically.
func NewEvaluator(l *ledger.Ledger, warningAfterSeconds, staleAfterSeconds int, now func() time.Time) *Evaluator {
	if warningAfterSeconds <= 0 {
		warningAfterSeconds = DefaultWarningAfterSeconds
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = DefaultStaleAfterSeconds
	}
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		ledger:              l,
		warningAfterSeconds: warningAfterSeconds,
		staleAfterSeconds:   staleAfterSeconds,
		now:                 now,
		lastStaleStreak:     make(map[string]string),
	}
}

// RecordHeartbeat is Evaluate's input. LastHeartbeatAt is the explicit
// heartbeat time; Evaluate uses the later of it and the newest artifact
// modification time under ArtifactRoot.
type RecordHeartbeat struct {
	TaskID, RunID      string
	LastHeartbeatAt    time.Time
	ArtifactRoot       string
	RunningStepPresent bool
}

// Evaluate computes the current HeartbeatStatus for in and persists it,
// emitting exactly one HEARTBEAT_STALE event per silence streak. WARNING
// emits no event; like RUNNING and IDLE it ends the current stale streak.
func (e *Evaluator) Evaluate(ctx context.Context, in RecordHeartbeat) (contract.HeartbeatStatus, error) {
	lastActivity := in.LastHeartbeatAt
	if newest, err := newestArtifactMTime(in.ArtifactRoot); err == nil && newest.After(lastActivity) {
		lastActivity = newest
	}

	now := e.now()
	status := e.classify(in.RunningStepPresent, lastActivity, now)

	hb := contract.HeartbeatStatus{
		SchemaVersion:       contract.SchemaVersion,
		Status:              status.state,
		ReasonCode:          status.reasonCode,
		LastHeartbeatAt:     lastActivity,
		ObservedAt:          now,
		WarningAfterSeconds: e.warningAfterSeconds,
		StaleAfterSeconds:   e.staleAfterSeconds,
	}
	if err := hb.Validate(); err != nil {
		return contract.HeartbeatStatus{}, err
	}

	if err := e.ledger.SaveHeartbeat(ctx, in.TaskID, in.RunID, hb); err != nil {
		return contract.HeartbeatStatus{}, err
	}

	if status.state == contract.HeartbeatStale {
		dedupKey := fmt.Sprintf("%s|%s|%s", in.TaskID, lastActivity.Format(time.RFC3339Nano), status.reasonCode)
		key := in.TaskID + "/" + in.RunID
		if e.lastStaleStreak[key] != dedupKey {
			e.lastStaleStreak[key] = dedupKey
			if _, err := e.ledger.AppendEvent(ctx, in.TaskID, in.RunID, contract.EventRecord{
				EventType: contract.EventHeartbeatStale,
				Severity:  contract.SeverityError,
				DedupKey:  dedupKey,
				Payload:   map[string]interface{}{"reason_code": status.reasonCode, "silence_seconds": now.Sub(lastActivity).Seconds()},
			}); err != nil {
				return contract.HeartbeatStatus{}, err
			}
		}
	} else if status.state == contract.HeartbeatWarning {
		key := in.TaskID + "/" + in.RunID
		delete(e.lastStaleStreak, key)
	} else {
		delete(e.lastStaleStreak, in.TaskID+"/"+in.RunID)
	}

	return hb, nil
}

type classification struct {
	state      contract.HeartbeatState
	reasonCode string
}

func (e *Evaluator) classify(runningStepPresent bool, lastActivity, now time.Time) classification {
	if !runningStepPresent {
		return classification{state: contract.HeartbeatIdle}
	}
	silence := now.Sub(lastActivity)
	switch {
	case silence < time.Duration(e.warningAfterSeconds)*time.Second:
		return classification{state: contract.HeartbeatRunning}
	case silence < time.Duration(e.staleAfterSeconds)*time.Second:
		return classification{state: contract.HeartbeatWarning}
	default:
		// Fixed to the evaluator's configured threshold, not the elapsed
		// silence: the latter grows every tick and would mint a new reason
		// code (and therefore a new dedup key) each time it crosses a
		// minute boundary within the same stale streak.
		return classification{state: contract.HeartbeatStale, reasonCode: fmt.Sprintf("NO_OUTPUT_%dM", e.staleAfterSeconds/60)}
	}
}

func newestArtifactMTime(root string) (time.Time, error) {
	if root == "" {
		return time.Time{}, fmt.Errorf("heartbeat: empty artifact root")
	}
	var newest time.Time
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best-effort: skip unreadable entries
		}
		if info.IsDir() {
			return nil
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	if newest.IsZero() {
		return time.Time{}, fmt.Errorf("heartbeat: no artifacts under %s", root)
	}
	return newest, err
}
