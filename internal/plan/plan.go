// Package plan compiles a goal plus optional constraints and a pre-authored
// step list into a canonical, fully-validated step DAG ready for dispatch.
package plan

import (
	"fmt"
	"path"
	"strings"

	"github.com/who96/DAOKit/internal/contract"
)

// Diagnostic is one structured plan-rejection entry.
type Diagnostic struct {
	Code    string
	StepID  string
	Message string
}

func (d Diagnostic) Error() string {
	if d.StepID != "" {
		return fmt.Sprintf("%s: step %q: %s", d.Code, d.StepID, d.Message)
	}
	return fmt.Sprintf("%s: %s", d.Code, d.Message)
}

// Diagnostics is a batch of rejections; a plan fails as a whole if any
// diagnostic was produced.
type Diagnostics []Diagnostic

func (ds Diagnostics) Error() string {
	msgs := make([]string, len(ds))
	for i, d := range ds {
		msgs[i] = d.Error()
	}
	return strings.Join(msgs, "; ")
}

// Input is the plan compiler's input: a goal, optional free-form
// constraints, and an optional pre-authored step list. When Steps is nil,
// callers are expected to have derived it upstream (e.g. from an extract
// node); the compiler only validates and normalises, it never invents
// steps from goal text alone.
type Input struct {
	Goal        string
	Constraints []string
	Steps       []contract.StepContract
	TaskID      string // optional; derived if empty
	RunID       string // optional; derived if empty
}

// Plan is the canonical, validated output: a dispatch-ready step DAG plus
// the identifiers it will run under.
type Plan struct {
	TaskID string
	RunID  string
	Goal   string
	Steps  []contract.StepContract
}

// Compile normalises in.Steps, derives task_id/run_id when not supplied,
// and validates every invariant the plan node is responsible for. Returns
// Diagnostics (never a bare error) on any rejection so callers can surface
// every problem at once rather than one at a time.
func Compile(in Input) (Plan, error) {
	var diags Diagnostics

	steps := normalizeOutputPaths(in.Steps)

	seenIDs := make(map[string]bool, len(steps))
	outputOwner := make(map[string]string, len(steps))
	for _, s := range steps {
		if err := s.Validate(); err != nil {
			diags = append(diags, Diagnostic{Code: "INVALID_STEP", StepID: s.ID, Message: err.Error()})
			continue
		}
		if seenIDs[s.ID] {
			diags = append(diags, Diagnostic{Code: "DUPLICATE_STEP_ID", StepID: s.ID, Message: "step id already used in this plan"})
		}
		seenIDs[s.ID] = true

		for _, out := range s.ExpectedOutputs {
			if owner, ok := outputOwner[out.Path]; ok && owner != s.ID {
				diags = append(diags, Diagnostic{
					Code: "DUPLICATE_OUTPUT_PATH", StepID: s.ID,
					Message: fmt.Sprintf("output path %q also claimed by step %q", out.Path, owner),
				})
			}
			outputOwner[out.Path] = s.ID
		}
	}

	for _, s := range steps {
		external := make(map[string]bool, len(s.ExternalDependencies))
		for _, dep := range s.ExternalDependencies {
			external[dep] = true
		}
		for _, dep := range s.Dependencies {
			if dep == s.ID {
				diags = append(diags, Diagnostic{Code: "SELF_DEPENDENCY", StepID: s.ID, Message: "step depends on itself"})
				continue
			}
			if !seenIDs[dep] && !external[dep] {
				diags = append(diags, Diagnostic{
					Code: "UNKNOWN_DEPENDENCY", StepID: s.ID,
					Message: fmt.Sprintf("depends on undeclared step %q", dep),
				})
			}
		}
	}

	if len(diags) == 0 {
		if cyclic := findCycle(steps); len(cyclic) > 0 {
			diags = append(diags, Diagnostic{
				Code: "CYCLIC_DEPENDENCY", StepID: cyclic[0],
				Message: fmt.Sprintf("cycle through steps: %s", strings.Join(cyclic, " -> ")),
			})
		}
	}

	if len(diags) > 0 {
		return Plan{}, diags
	}

	taskID := in.TaskID
	runID := in.RunID
	if taskID == "" || runID == "" {
		derivedTask, derivedRun, err := deriveIDs(in.Goal, in.Constraints, steps)
		if err != nil {
			return Plan{}, Diagnostics{{Code: "ID_DERIVATION_FAILED", Message: err.Error()}}
		}
		if taskID == "" {
			taskID = derivedTask
		}
		if runID == "" {
			runID = derivedRun
		}
	}

	return Plan{TaskID: taskID, RunID: runID, Goal: in.Goal, Steps: steps}, nil
}

// normalizeOutputPaths collapses path aliases like "a/./b" onto "a/b" so
// duplicate-output detection cannot be defeated by spelling.
func normalizeOutputPaths(steps []contract.StepContract) []contract.StepContract {
	out := make([]contract.StepContract, len(steps))
	for i, s := range steps {
		normalized := s
		normalized.ExpectedOutputs = make([]contract.ExpectedOutput, len(s.ExpectedOutputs))
		for j, o := range s.ExpectedOutputs {
			normalized.ExpectedOutputs[j] = contract.ExpectedOutput{Name: o.Name, Path: path.Clean(o.Path)}
		}
		out[i] = normalized
	}
	return out
}

// findCycle runs iterative (non-recursive) Kahn's algorithm: steps with
// zero remaining in-degree are peeled off a queue one at a time. Anything
// left unpeeled after the queue drains sits on a cycle.
func findCycle(steps []contract.StepContract) []string {
	inDegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for _, s := range steps {
		if _, ok := inDegree[s.ID]; !ok {
			inDegree[s.ID] = 0
		}
		external := make(map[string]bool, len(s.ExternalDependencies))
		for _, dep := range s.ExternalDependencies {
			external[dep] = true
		}
		for _, dep := range s.Dependencies {
			if external[dep] {
				continue
			}
			inDegree[s.ID]++
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	queue := make([]string, 0, len(steps))
	for _, s := range steps {
		if inDegree[s.ID] == 0 {
			queue = append(queue, s.ID)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if processed == len(steps) {
		return nil
	}
	var remaining []string
	for _, s := range steps {
		if inDegree[s.ID] > 0 {
			remaining = append(remaining, s.ID)
		}
	}
	return remaining
}

// deriveIDs computes stable task_id/run_id values by hashing the
// canonicalised goal, constraints, and step set, so identical input always
// produces the same identifiers.
func deriveIDs(goal string, constraints []string, steps []contract.StepContract) (taskID, runID string, err error) {
	hash, err := contract.StableID(goal, constraints, steps)
	if err != nil {
		return "", "", err
	}
	taskID = "task-" + hash[len("sha256:"):len("sha256:")+16]
	runID = "run-" + hash[len("sha256:")+16:len("sha256:")+32]
	return taskID, runID, nil
}
