// Package observability derives operator-facing diagnostics from the
// ledger. It never mutates state; it only reads and re-projects.
package observability

import (
	"context"
	"sort"
	"time"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/ledger"
)

// HeartbeatFreshnessDiagnostic reports the current liveness reading.
type HeartbeatFreshnessDiagnostic struct {
	Status         contract.HeartbeatState
	ReasonCode     string
	SilenceSeconds float64
	WarningAfter   int
	StaleAfter     int
}

// LeaseTransitionDiagnostic is a point-in-time snapshot of one lease.
type LeaseTransitionDiagnostic struct {
	StepID string
	Status contract.LeaseStatus
	Expiry time.Time
}

// TakeoverDiagnostic summarises one succession event: decision and takeover
// timestamps and the adopted/failed step sets. Reason is always empty:
// takeoverFromEvent does not fill it, and SUCCESSION_ACCEPTED payloads carry
// no trigger reason.
// DecisionLatency is nil when takeover precedes decision (a negative
// latency is rejected to null rather than reported as a bogus duration).
type TakeoverDiagnostic struct {
	Reason          string
	DecisionAt      time.Time
	TakeoverAt      time.Time
	DecisionLatency *time.Duration
	AdoptedStepIDs  []string
	FailedStepIDs   []string
}

// TimelineEntry is one row of the merged operator timeline.
type TimelineEntry struct {
	OccurredAt time.Time
	EventID    int64
	EventType  contract.EventType
	StepID     string
	Severity   contract.Severity
}

// Reporter derives diagnostics for one run from its ledger.
type Reporter struct {
	ledger *ledger.Ledger
}

// New builds a Reporter over l.
func New(l *ledger.Ledger) *Reporter {
	return &Reporter{ledger: l}
}

// HeartbeatFreshness returns the current heartbeat reading for a run.
func (r *Reporter) HeartbeatFreshness(ctx context.Context, taskID, runID string) (HeartbeatFreshnessDiagnostic, error) {
	hb, err := r.ledger.LoadHeartbeat(ctx, taskID, runID)
	if err != nil {
		return HeartbeatFreshnessDiagnostic{}, err
	}
	return HeartbeatFreshnessDiagnostic{
		Status:         hb.Status,
		ReasonCode:     hb.ReasonCode,
		SilenceSeconds: hb.ObservedAt.Sub(hb.LastHeartbeatAt).Seconds(),
		WarningAfter:   hb.WarningAfterSeconds,
		StaleAfter:     hb.StaleAfterSeconds,
	}, nil
}

// LeaseTransitions returns a snapshot of every lease currently on record
// for a run.
func (r *Reporter) LeaseTransitions(ctx context.Context, taskID, runID string) ([]LeaseTransitionDiagnostic, error) {
	leases, err := r.ledger.ListLeases(ctx, taskID, runID)
	if err != nil {
		return nil, err
	}
	diags := make([]LeaseTransitionDiagnostic, len(leases))
	for i, l := range leases {
		diags[i] = LeaseTransitionDiagnostic{StepID: l.StepID, Status: l.Status, Expiry: l.Expiry}
	}
	return diags, nil
}

// Takeovers scans the event journal for SUCCESSION_ACCEPTED entries and
// projects each into a TakeoverDiagnostic.
func (r *Reporter) Takeovers(ctx context.Context, taskID, runID string) ([]TakeoverDiagnostic, error) {
	events, err := r.ledger.ListEvents(ctx, taskID, runID, 0)
	if err != nil {
		return nil, err
	}
	var diags []TakeoverDiagnostic
	for _, e := range events {
		if e.EventType != contract.EventSuccessionAccepted {
			continue
		}
		diags = append(diags, takeoverFromEvent(e))
	}
	return diags, nil
}

func takeoverFromEvent(e contract.EventRecord) TakeoverDiagnostic {
	d := TakeoverDiagnostic{DecisionAt: e.Timestamp}
	d.AdoptedStepIDs = stringSliceFromPayload(e.Payload["adopted_step_ids"])
	d.FailedStepIDs = stringSliceFromPayload(e.Payload["failed_step_ids"])
	if at, ok := timeFromPayload(e.Payload["takeover_at"]); ok {
		d.TakeoverAt = at
		latency := at.Sub(e.Timestamp)
		if latency >= 0 {
			d.DecisionLatency = &latency
		}
	}
	return d
}

// stringSliceFromPayload recovers a []string field from a Payload that has
// round-tripped through JSON: encoding/json decodes a JSON array into
// []interface{}, never back into []string, so every element is asserted
// individually.
func stringSliceFromPayload(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, elem := range raw {
		s, ok := elem.(string)
		if !ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

// timeFromPayload recovers a time.Time field from a Payload that has
// round-tripped through JSON: a time.Time marshals to an RFC3339Nano string
// and decodes back as plain string, never time.Time.
func timeFromPayload(v interface{}) (time.Time, bool) {
	s, ok := v.(string)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Timeline merges heartbeat, lease, and takeover entries over the event
// journal into one deterministically ordered sequence, sorted by
// (occurred_at, event_id, event_type, step_id).
func (r *Reporter) Timeline(ctx context.Context, taskID, runID string) ([]TimelineEntry, error) {
	events, err := r.ledger.ListEvents(ctx, taskID, runID, 0)
	if err != nil {
		return nil, err
	}
	entries := make([]TimelineEntry, 0, len(events))
	for _, e := range events {
		if !isTimelineEvent(e.EventType) {
			continue
		}
		entries = append(entries, TimelineEntry{
			OccurredAt: e.Timestamp,
			EventID:    e.EventID,
			EventType:  e.EventType,
			StepID:     e.StepID,
			Severity:   e.Severity,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].OccurredAt.Equal(entries[j].OccurredAt) {
			return entries[i].OccurredAt.Before(entries[j].OccurredAt)
		}
		if entries[i].EventID != entries[j].EventID {
			return entries[i].EventID < entries[j].EventID
		}
		if entries[i].EventType != entries[j].EventType {
			return entries[i].EventType < entries[j].EventType
		}
		return entries[i].StepID < entries[j].StepID
	})
	return entries, nil
}

func isTimelineEvent(t contract.EventType) bool {
	switch t {
	case contract.EventHeartbeatWarning, contract.EventHeartbeatStale,
		contract.EventLeaseTakeover, contract.EventLeaseAdopted, contract.EventLeaseNotAdopted,
		contract.EventSuccessionAccepted:
		return true
	default:
		return false
	}
}
