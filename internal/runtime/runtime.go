// Package runtime implements the fixed five-node lifecycle graph
// (extract, plan, dispatch, verify, transition) plus the two
// reliability-triggered states DRAINING and BLOCKED. It is the
// despecialized, single-writer-per-run analogue of the teacher's generic
// Engine[S]: the graph shape is closed rather than caller-defined, but the
// sequential node loop, edge-based routing, and checkpoint/resume
// machinery follow the same pattern.
package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/ledger"
)

// ErrRunFailed wraps any runtime exception surfaced from Run or Resume.
var ErrRunFailed = errors.New("runtime: run failed")

// ErrRunInterrupted is returned when ctx is cancelled at a node boundary.
// CLI callers map this to exit code 130.
var ErrRunInterrupted = errors.New("runtime: run interrupted")

// Runtime drives one (task_id, run_id) pipeline through the lifecycle
// graph. Node implementations are supplied by the caller; Runtime only
// knows the graph shape, transition guards, and checkpoint/resume
// bookkeeping.
type Runtime struct {
	ledger *ledger.Ledger
	nodes  map[NodeID]NodeFunc
}

// New builds a Runtime over ledger l. Nodes must be registered with
// AddNode before Run or Resume is called.
func New(l *ledger.Ledger) *Runtime {
	return &Runtime{ledger: l, nodes: make(map[NodeID]NodeFunc)}
}

// AddNode registers the implementation for one lifecycle node.
func (rt *Runtime) AddNode(id NodeID, fn NodeFunc) {
	rt.nodes[id] = fn
}

// Status is the aggregate view returned by the status contract: the
// current snapshot plus the reliability fabric's current readings.
type Status struct {
	State     contract.PipelineState
	Leases    []contract.ProcessLease
	Heartbeat contract.HeartbeatStatus
}

// Run starts a fresh pipeline at the extract node and drives it until the
// transition node's done trigger. A route into DRAINING or BLOCKED ends the
// call with ErrRunFailed unless a node has been registered for that state
// (Nodes.Wire registers none); the pipeline status is not set to DRAINING
// or BLOCKED. goal seeds the initial snapshot.
func (rt *Runtime) Run(ctx context.Context, taskID, runID, goal string) (contract.PipelineStatus, error) {
	initial := contract.PipelineState{
		SchemaVersion: contract.SchemaVersion,
		TaskID:        taskID,
		RunID:         runID,
		Goal:          goal,
		Status:        contract.StatusPlanning,
	}
	return rt.drive(ctx, NodeExtract, initial)
}

// Resume takes the newest checkpoint still marked valid (skipping newer ones
// marked invalid) and, if its snapshot hash matches the re-read snapshot,
// continues the lifecycle from the node after its lifecycle_node. If that
// hash does not match, Resume restarts at extract; older valid checkpoints
// are not compared.
func (rt *Runtime) Resume(ctx context.Context, taskID, runID string) (contract.PipelineStatus, error) {
	state, err := rt.ledger.LoadState(ctx, taskID, runID)
	if err != nil {
		return "", fmt.Errorf("%w: load state: %v", ErrRunFailed, err)
	}

	resumeNode, err := rt.resumePoint(ctx, taskID, runID, state)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRunFailed, err)
	}

	return rt.drive(ctx, resumeNode, state)
}

// resumePoint compares the newest valid checkpoint's snapshot hash with
// state and, on a match, returns the node that should run next. If there is
// no valid checkpoint or its hash differs, execution restarts at extract.
func (rt *Runtime) resumePoint(ctx context.Context, taskID, runID string, state contract.PipelineState) (NodeID, error) {
	checkpoint, err := rt.ledger.LatestCheckpoint(ctx, taskID, runID)
	if err != nil {
		return NodeExtract, nil
	}
	hash, err := contract.StableID(state.TaskID, state.RunID, state.CurrentStepID, state.Status, state.Steps)
	if err != nil {
		return "", err
	}
	if !checkpoint.Valid || checkpoint.SnapshotHash != hash {
		return NodeExtract, nil
	}
	return nextAfterCheckpoint(checkpoint.LifecycleNode), nil
}

func nextAfterCheckpoint(node contract.LifecycleNode) NodeID {
	switch node {
	case contract.NodeExtract:
		return NodePlan
	case contract.NodePlan:
		return NodeDispatch
	case contract.NodeDispatch:
		return NodeVerify
	case contract.NodeVerify:
		return NodeTransition
	default:
		return NodeExtract
	}
}

// Status returns the aggregate view over state, leases, and heartbeat for
// a run.
func (rt *Runtime) Status(ctx context.Context, taskID, runID string) (Status, error) {
	state, err := rt.ledger.LoadState(ctx, taskID, runID)
	if err != nil {
		return Status{}, err
	}
	leases, err := rt.ledger.ListLeases(ctx, taskID, runID)
	if err != nil {
		return Status{}, err
	}
	heartbeat, err := rt.ledger.LoadHeartbeat(ctx, taskID, runID)
	if err != nil {
		return Status{}, err
	}
	return Status{State: state, Leases: leases, Heartbeat: heartbeat}, nil
}

// drive runs the sequential node loop starting at startNode until a
// terminal trigger, ctx cancellation, or an error (including a route into a
// node with no registered implementation).
func (rt *Runtime) drive(ctx context.Context, startNode NodeID, state contract.PipelineState) (contract.PipelineStatus, error) {
	current := startNode

	for {
		select {
		case <-ctx.Done():
			return "", ErrRunInterrupted
		default:
		}

		fn, ok := rt.nodes[current]
		if !ok {
			return "", fmt.Errorf("%w: no implementation registered for node %q", ErrRunFailed, current)
		}

		result, err := fn(ctx, state)
		if err != nil {
			return "", fmt.Errorf("%w: node %q: %v", ErrRunFailed, current, err)
		}

		next, ok := edges[current][result.Trigger]
		if !ok {
			return "", Diagnostic{
				Trigger:        result.Trigger,
				FromStatus:     current,
				ToStatus:       "",
				AllowedTargets: allowedTargets(current),
			}
		}

		state = result.State
		if result.Event != nil {
			if _, err := rt.ledger.CommitTransition(ctx, state, *result.Event); err != nil {
				return "", fmt.Errorf("%w: commit transition at %q: %v", ErrRunFailed, current, err)
			}
		}
		if _, err := rt.ledger.RecordCheckpoint(ctx, state, lifecycleNodeOf(current)); err != nil {
			return "", fmt.Errorf("%w: checkpoint at %q: %v", ErrRunFailed, current, err)
		}

		if next == nodeTerminal {
			return state.Status, nil
		}
		current = next
	}
}

func lifecycleNodeOf(n NodeID) contract.LifecycleNode {
	switch n {
	case NodeExtract:
		return contract.NodeExtract
	case NodePlan:
		return contract.NodePlan
	case NodeDispatch:
		return contract.NodeDispatch
	case NodeVerify:
		return contract.NodeVerify
	case NodeTransition:
		return contract.NodeTransition
	case NodeDraining:
		return contract.NodeDraining
	case NodeBlocked:
		return contract.NodeBlocked
	default:
		return contract.NodeExtract
	}
}
