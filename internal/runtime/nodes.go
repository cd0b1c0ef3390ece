package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/who96/DAOKit/internal/acceptance"
	"github.com/who96/DAOKit/internal/contract"
	"github.com/who96/DAOKit/internal/dispatch"
	"github.com/who96/DAOKit/internal/heartbeat"
	"github.com/who96/DAOKit/internal/ledger"
	"github.com/who96/DAOKit/internal/lease"
	"github.com/who96/DAOKit/internal/plan"
)

// Nodes wires the plan compiler, dispatch adapter, acceptance engine, lease
// registry, and heartbeat evaluator into the five NodeFunc implementations
// Runtime drives. It is the only place these subsystems meet.
type Nodes struct {
	Root              string
	Backend           dispatch.Backend
	Rework            *dispatch.ReworkTracker
	Leases            *lease.Registry
	Heartbeats        *heartbeat.Evaluator
	Ledger            *ledger.Ledger
	RequireCommandLog bool
}

// Wire registers every lifecycle node's implementation on rt.
func (n *Nodes) Wire(rt *Runtime) {
	rt.AddNode(NodeExtract, n.Extract)
	rt.AddNode(NodePlan, n.Plan)
	rt.AddNode(NodeDispatch, n.Dispatch)
	rt.AddNode(NodeVerify, n.Verify)
	rt.AddNode(NodeTransition, n.Transition)
}

// extractedSteps is the best-effort shape of the extract call's structured
// output: a raw candidate step list the plan node will validate.
type extractedSteps struct {
	Steps []contract.StepContract `json:"steps"`
}

// Extract turns the run's goal text into a candidate step list via one
// dispatch call, action "extract". A backend whose output does not parse
// into the expected shape still lets the run proceed: a single default
// step carries the goal through planning rather than aborting the run on
// unstructured LLM prose. The *content* of the candidate steps may vary
// with the backend; the *fact* that extract always advances to plan does
// not.
func (n *Nodes) Extract(ctx context.Context, state contract.PipelineState) (NodeResult, error) {
	call := dispatch.Call{
		Root:     n.Root,
		TaskID:   state.TaskID,
		RunID:    state.RunID,
		StepID:   "extract",
		ThreadID: dispatch.DeriveThreadID(state.TaskID, state.RunID, "extract"),
		Action:   "extract",
		Attempt:  1,
	}
	result, err := n.Backend.Create(ctx, call, dispatch.Request{
		Action:   "extract",
		Inputs:   map[string]interface{}{"goal": state.Goal},
		IssuedAt: time.Now().UTC(),
		Attempt:  1,
	})
	if err != nil {
		return NodeResult{}, fmt.Errorf("extract: %w", err)
	}

	steps := extractStepsFromOutput(result.Output, state.Goal)
	state.Steps = make([]contract.StepState, len(steps))
	for i, s := range steps {
		state.Steps[i] = contract.StepState{StepContract: s, Status: contract.StepPending}
	}
	state.Status = contract.StatusAnalysis
	state.UpdatedAt = time.Now().UTC()

	return NodeResult{State: state, Trigger: TriggerAdvance}, nil
}

func extractStepsFromOutput(out dispatch.Output, goal string) []contract.StepContract {
	if len(out.Structured) > 0 {
		data, err := json.Marshal(out.Structured)
		if err == nil {
			var parsed extractedSteps
			if err := json.Unmarshal(data, &parsed); err == nil && len(parsed.Steps) > 0 {
				return parsed.Steps
			}
		}
	}
	return []contract.StepContract{defaultStep(goal)}
}

func defaultStep(goal string) contract.StepContract {
	return contract.StepContract{
		ID:                 "step-1",
		Title:              "complete goal",
		Goal:               goal,
		Actions:            []string{"execute"},
		AcceptanceCriteria: []string{"goal satisfied"},
		ExpectedOutputs:    []contract.ExpectedOutput{{Name: "report", Path: "report.md"}},
		Dependencies:       []string{},
	}
}

// Plan validates and canonicalises the extract node's candidate steps into
// a dispatch-ready DAG via the plan compiler.
func (n *Nodes) Plan(ctx context.Context, state contract.PipelineState) (NodeResult, error) {
	contracts := make([]contract.StepContract, len(state.Steps))
	for i, s := range state.Steps {
		contracts[i] = s.StepContract
	}

	compiled, err := plan.Compile(plan.Input{
		Goal:   state.Goal,
		Steps:  contracts,
		TaskID: state.TaskID,
		RunID:  state.RunID,
	})
	if err != nil {
		return NodeResult{}, fmt.Errorf("plan: %w", err)
	}

	state.TaskID = compiled.TaskID
	state.RunID = compiled.RunID
	state.Steps = make([]contract.StepState, len(compiled.Steps))
	for i, s := range compiled.Steps {
		state.Steps[i] = contract.StepState{StepContract: s, Status: contract.StepPending}
	}
	state.CurrentStepID = firstDispatchableStep(state.Steps)
	state.Status = contract.StatusFreeze
	state.UpdatedAt = time.Now().UTC()

	return NodeResult{State: state, Trigger: TriggerAdvance}, nil
}

// firstDispatchableStep returns the first non-terminal step (in declared
// order) whose dependencies are all terminal (ACCEPTED, DONE, or FAILED —
// a failed dependency does not block its dependents), or "" if none remain.
// A dependency declared external resolves outside this plan and is always
// treated as satisfied.
func firstDispatchableStep(steps []contract.StepState) string {
	done := make(map[string]bool, len(steps))
	for _, s := range steps {
		if isTerminal(s.Status) {
			done[s.ID] = true
		}
	}
	for _, s := range steps {
		if isTerminal(s.Status) {
			continue
		}
		external := make(map[string]bool, len(s.ExternalDependencies))
		for _, dep := range s.ExternalDependencies {
			external[dep] = true
		}
		ready := true
		for _, dep := range s.Dependencies {
			if external[dep] {
				continue
			}
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			return s.ID
		}
	}
	return ""
}

// isTerminal reports whether a step's status is resolved and should never
// be dispatched again: accepted/done steps succeeded, failed steps have
// exhausted their rework bound.
func isTerminal(s contract.StepStatus) bool {
	return s == contract.StepAccepted || s == contract.StepDone || s == contract.StepFailed
}

// Dispatch registers a lease for the current step and issues its call. A
// retryable result routes stale_or_succession (to DRAINING); every other
// result advances to verify, with the backend's success class carried
// forward in the event payload rather than decided here.
func (n *Nodes) Dispatch(ctx context.Context, state contract.PipelineState) (NodeResult, error) {
	step, ok := state.StepByID(state.CurrentStepID)
	if !ok {
		return NodeResult{}, fmt.Errorf("dispatch: unknown current step %q", state.CurrentStepID)
	}

	threadID := dispatch.DeriveThreadID(state.TaskID, state.RunID, step.ID)
	tokenKey := "lease_token:" + step.ID
	if existingToken, ok := state.RoleLifecycle[tokenKey]; ok {
		if _, err := n.Leases.Renew(ctx, state.TaskID, state.RunID, step.ID, existingToken); err != nil {
			return NodeResult{}, fmt.Errorf("dispatch: lease renew: %w", err)
		}
	} else {
		registered, err := n.Leases.Register(ctx, state.TaskID, state.RunID, step.ID, "primary", threadID, 0)
		if err != nil {
			return NodeResult{}, fmt.Errorf("dispatch: lease register: %w", err)
		}
		state.RoleLifecycle = withRole(state.RoleLifecycle, tokenKey, registered.LeaseToken)
	}

	attempt := n.Rework.Count(step.ID) + 1
	if attempt == 1 {
		if _, err := n.Ledger.AppendEvent(ctx, state.TaskID, state.RunID, contract.EventRecord{
			EventType: contract.EventStepStarted,
			StepID:    step.ID,
			Severity:  contract.SeverityInfo,
		}); err != nil {
			return NodeResult{}, fmt.Errorf("dispatch: step started event: %w", err)
		}
	}
	call := dispatch.Call{
		Root:     n.Root,
		TaskID:   state.TaskID,
		RunID:    state.RunID,
		StepID:   step.ID,
		ThreadID: threadID,
		Action:   "dispatch",
		Attempt:  attempt,
	}
	req := dispatch.Request{
		Action:   "dispatch",
		Inputs:   map[string]interface{}{"goal": step.Goal, "actions": step.Actions},
		IssuedAt: time.Now().UTC(),
		Attempt:  attempt,
	}

	var result dispatch.Result
	var err error
	if attempt == 1 {
		result, err = n.Backend.Create(ctx, call, req)
	} else {
		result, err = n.Backend.Resume(ctx, call, req)
	}
	if err != nil {
		return NodeResult{}, fmt.Errorf("dispatch: %w", err)
	}

	if result.Class == dispatch.ExitRetryable {
		return NodeResult{State: state, Trigger: TriggerStaleOrSuccession}, nil
	}

	for i := range state.Steps {
		if state.Steps[i].ID == step.ID {
			state.Steps[i].Status = contract.StepRunning
		}
	}
	state.RoleLifecycle = withRole(state.RoleLifecycle, "call_path:"+step.ID, call.Path())
	state.Status = contract.StatusExecute
	state.UpdatedAt = time.Now().UTC()

	event := &contract.EventRecord{
		EventType: contract.EventDispatchCompleted,
		StepID:    step.ID,
		Severity:  classSeverity(result.Class),
		Payload:   map[string]interface{}{"class": string(result.Class), "call_path": call.Path()},
	}

	if n.Heartbeats != nil {
		if _, err := n.Heartbeats.Evaluate(ctx, heartbeat.RecordHeartbeat{
			TaskID:             state.TaskID,
			RunID:              state.RunID,
			LastHeartbeatAt:    time.Now().UTC(),
			ArtifactRoot:       call.Path(),
			RunningStepPresent: true,
		}); err != nil {
			return NodeResult{}, fmt.Errorf("dispatch: heartbeat: %w", err)
		}
	}

	return NodeResult{State: state, Trigger: TriggerAdvance, Event: event}, nil
}

// withRole sets key=value in roles, allocating the map on first use. The
// map doubles as a small side channel for per-step bookkeeping (call paths,
// lease tokens) that has no dedicated field in PipelineState.
func withRole(roles map[string]string, key, value string) map[string]string {
	if roles == nil {
		roles = make(map[string]string, 1)
	}
	roles[key] = value
	return roles
}

func classSeverity(class dispatch.ExitClass) contract.Severity {
	if class == dispatch.ExitFatal {
		return contract.SeverityError
	}
	return contract.SeverityInfo
}

// Verify evaluates the current step's acceptance criteria against its last
// dispatch call's artifacts. Passing steps are accepted; failing steps
// rework (bounded) back through dispatch.
func (n *Nodes) Verify(ctx context.Context, state contract.PipelineState) (NodeResult, error) {
	step, ok := state.StepByID(state.CurrentStepID)
	if !ok {
		return NodeResult{}, fmt.Errorf("verify: unknown current step %q", state.CurrentStepID)
	}

	evidenceRoot := state.RoleLifecycle["call_path:"+step.ID]
	result, err := acceptance.EvaluateStep(step.StepContract, evidenceRoot, nil, n.RequireCommandLog)
	if err != nil {
		return NodeResult{}, fmt.Errorf("verify: %w", err)
	}

	if result.Passed {
		for i := range state.Steps {
			if state.Steps[i].ID == step.ID {
				state.Steps[i].Status = contract.StepAccepted
			}
		}
		state.Status = contract.StatusAccept
		state.UpdatedAt = time.Now().UTC()
		event := &contract.EventRecord{
			EventType: contract.EventAcceptancePassed,
			StepID:    step.ID,
			Severity:  contract.SeverityInfo,
			Payload:   map[string]interface{}{"proof_id": result.Proof.ProofID},
		}
		return NodeResult{State: state, Trigger: TriggerAdvance, Event: event}, nil
	}

	allowed, count := n.Rework.Attempt(step.ID)
	reason := "acceptance criteria not met"
	trigger := TriggerAcceptFailed
	if !allowed {
		for i := range state.Steps {
			if state.Steps[i].ID == step.ID {
				state.Steps[i].Status = contract.StepFailed
			}
		}
		reason = "REWORK_EXHAUSTED"
		// A permanently failed step is terminal like an accepted one: there
		// is no edge back to dispatch for it, so verify advances to
		// transition instead of looping forever on the exhausted step.
		trigger = TriggerAdvance
	}
	state.UpdatedAt = time.Now().UTC()
	event := &contract.EventRecord{
		EventType: contract.EventAcceptanceFailed,
		StepID:    step.ID,
		Severity:  contract.SeverityWarning,
		Payload: map[string]interface{}{
			"reason":          reason,
			"rework_count":    count,
			"failed_criteria": result.Rework.FailedCriteria,
		},
	}
	return NodeResult{State: state, Trigger: trigger, Event: event}, nil
}

// Transition releases the just-verified step's lease and either advances to
// the next dispatchable step or, once every step is terminal, concludes the
// run.
func (n *Nodes) Transition(ctx context.Context, state contract.PipelineState) (NodeResult, error) {
	if step, ok := state.StepByID(state.CurrentStepID); ok {
		if token, ok := state.RoleLifecycle["lease_token:"+step.ID]; ok {
			_ = n.Leases.Release(ctx, state.TaskID, state.RunID, step.ID, token)
		}
		if step.Status == contract.StepAccepted || step.Status == contract.StepDone {
			if _, err := n.Ledger.AppendEvent(ctx, state.TaskID, state.RunID, contract.EventRecord{
				EventType: contract.EventStepCompleted,
				StepID:    step.ID,
				Severity:  contract.SeverityInfo,
			}); err != nil {
				return NodeResult{}, fmt.Errorf("transition: step completed event: %w", err)
			}
		}
	}

	next := firstDispatchableStep(state.Steps)
	if next == "" {
		state.Status = contract.StatusDone
		state.CurrentStepID = ""
		state.UpdatedAt = time.Now().UTC()
		event := &contract.EventRecord{EventType: contract.EventRunDone, Severity: contract.SeverityInfo}
		return NodeResult{State: state, Trigger: TriggerDone, Event: event}, nil
	}

	state.CurrentStepID = next
	state.Status = contract.StatusExecute
	state.UpdatedAt = time.Now().UTC()
	return NodeResult{State: state, Trigger: TriggerAdvance}, nil
}
