package runtime

import (
	"context"

	"github.com/who96/DAOKit/internal/contract"
)

// NodeID names one of the fixed lifecycle nodes, plus the two
// reliability-only states DRAINING and BLOCKED.
type NodeID string

const (
	NodeExtract    NodeID = "extract"
	NodePlan       NodeID = "plan"
	NodeDispatch   NodeID = "dispatch"
	NodeVerify     NodeID = "verify"
	NodeTransition NodeID = "transition"
	NodeDraining   NodeID = "DRAINING"
	NodeBlocked    NodeID = "BLOCKED"
	nodeTerminal   NodeID = "__terminal__"
)

// Trigger names the condition a node's result routes on. The allowed edge
// set is fixed; any trigger a node returns that has no matching edge from
// its node aborts the run with a route-guard diagnostic.
type Trigger string

const (
	TriggerAdvance                        Trigger = "advance"
	TriggerAcceptFailed                   Trigger = "accept_failed"
	TriggerDone                           Trigger = "done"
	TriggerStaleOrSuccession              Trigger = "stale_or_succession"
	TriggerSuccessorAcceptedLeaseAdopted  Trigger = "successor_accepted_and_lease_adopted"
	TriggerNoValidLease                   Trigger = "no_valid_lease"
	TriggerManualRecovery                 Trigger = "manual_recovery"
)

// Diagnostic describes a rejected transition attempt.
type Diagnostic struct {
	Trigger        Trigger
	FromStatus     NodeID
	ToStatus       NodeID
	AllowedTargets []NodeID
}

func (d Diagnostic) Error() string {
	return "runtime: illegal transition trigger=" + string(d.Trigger) +
		" from=" + string(d.FromStatus) + " to=" + string(d.ToStatus)
}

// edges is the canonical, closed edge set from spec §4.1. Any (node,
// trigger) pair absent from this table is an illegal transition.
var edges = map[NodeID]map[Trigger]NodeID{
	NodeExtract: {
		TriggerAdvance: NodePlan,
	},
	NodePlan: {
		TriggerAdvance: NodeDispatch,
	},
	NodeDispatch: {
		TriggerAdvance:           NodeVerify,
		TriggerStaleOrSuccession: NodeDraining,
	},
	NodeVerify: {
		TriggerAdvance:           NodeTransition,
		TriggerAcceptFailed:      NodeDispatch,
		TriggerStaleOrSuccession: NodeDraining,
	},
	NodeTransition: {
		TriggerDone:    nodeTerminal,
		TriggerAdvance: NodeDispatch,
	},
	NodeDraining: {
		TriggerSuccessorAcceptedLeaseAdopted: NodeDispatch,
		TriggerNoValidLease:                  NodeBlocked,
	},
	NodeBlocked: {
		TriggerManualRecovery: NodeDispatch,
	},
}

// allowedTargets lists the node's legal next hops, for route-guard
// diagnostics.
func allowedTargets(from NodeID) []NodeID {
	var targets []NodeID
	for _, to := range edges[from] {
		targets = append(targets, to)
	}
	return targets
}

// NodeResult is one lifecycle node's output: the updated snapshot, the
// trigger it routes on, and the event that should announce the step (if
// any — extract/plan produce no step-level event).
type NodeResult struct {
	State   contract.PipelineState
	Trigger Trigger
	Event   *contract.EventRecord
}

// NodeFunc implements one lifecycle node's logic. Implementations are
// supplied by the caller (the plan compiler, dispatch adapter, acceptance
// engine) and wired in at construction; the runtime itself only knows the
// fixed graph shape.
type NodeFunc func(ctx context.Context, state contract.PipelineState) (NodeResult, error)
