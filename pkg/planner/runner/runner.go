// Package runner executes a Playbook's step DAG: the scheduler launches
// every dependency-satisfied step concurrently, retries failed steps with
// exponential backoff, and substitutes ${name} variable references before
// each action call.
package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sentorproj/sentor/pkg/planner"
)

// ErrCyclicPlaybook is returned when no step in a pending set has all of
// its dependencies satisfied — a circular dependency or a dangling
// depends_on reference.
var ErrCyclicPlaybook = errors.New("runner: circular or unsatisfiable playbook dependency")

// ErrPlaybookNotFound is returned when Execute is asked for an unknown
// playbook ID.
var ErrPlaybookNotFound = errors.New("runner: playbook not found")

// StepStatus is a step's terminal or in-flight state.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepRunning StepStatus = "running"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
	StepSkipped StepStatus = "skipped"
)

// StepResult is one step's execution outcome.
type StepResult struct {
	StepID     string
	Status     StepStatus
	Start      time.Time
	End        time.Time
	Output     map[string]any
	Err        error
	RetryCount int
}

// Run is a single playbook execution's full state, append-only once a step
// result is recorded.
type Run struct {
	RunID        string
	PlaybookID   string
	PlaybookName string
	Start        time.Time
	End          time.Time
	Status       string // running | completed | partial_failure | failed
	Variables    map[string]string
	Steps        []StepResult
	TotalSteps   int
}

// Executor performs one named action, returning a structured result or an
// error.
type Executor interface {
	Execute(ctx context.Context, action string, parameters map[string]string) (map[string]any, error)
}

// Runner executes playbooks loaded from a Library against an Executor.
type Runner struct {
	library  planner.Library
	executor Executor

	mu     sync.Mutex
	active map[string]*Run
}

// New constructs a Runner.
func New(library planner.Library, executor Executor) *Runner {
	return &Runner{library: library, executor: executor, active: make(map[string]*Run)}
}

// Execute runs a playbook to completion, resolving dependency-satisfied
// steps concurrently at each frontier.
func (r *Runner) Execute(ctx context.Context, runID, playbookID string, variables map[string]string) (*Run, error) {
	pb, ok := r.library.Get(playbookID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlaybookNotFound, playbookID)
	}

	runVars := make(map[string]string, len(pb.Variables)+len(variables))
	for k, v := range pb.Variables {
		runVars[k] = v
	}
	for k, v := range variables {
		runVars[k] = v
	}

	run := &Run{
		RunID: runID, PlaybookID: pb.ID, PlaybookName: pb.Name,
		Start: time.Now(), Status: "running", Variables: runVars, TotalSteps: len(pb.Steps),
	}

	r.mu.Lock()
	r.active[runID] = run
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.active, runID)
		r.mu.Unlock()
	}()

	if err := r.executeSteps(ctx, pb, run); err != nil {
		run.Status = "failed"
		run.End = time.Now()
		return run, err
	}

	run.End = time.Now()
	run.Status = "completed"
	for _, s := range run.Steps {
		if s.Status == StepFailed {
			run.Status = "partial_failure"
			break
		}
	}
	return run, nil
}

func stepName(s planner.Step, idx int) string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("%s#%d", s.Action, idx)
}

// executeSteps implements the pending/frontier scheduling loop: at each
// round, every step whose dependencies are already in completed runs
// concurrently; a round with no runnable step but pending steps remaining
// means a cycle.
func (r *Runner) executeSteps(ctx context.Context, pb planner.Playbook, run *Run) error {
	type namedStep struct {
		name string
		step planner.Step
	}

	pending := make(map[string]namedStep, len(pb.Steps))
	for i, s := range pb.Steps {
		pending[stepName(s, i)] = namedStep{name: stepName(s, i), step: s}
	}
	completed := make(map[string]bool, len(pb.Steps))
	failed := make(map[string]bool, len(pb.Steps))

	for len(pending) > 0 {
		var frontier []namedStep
		var skipped []namedStep
		for _, ns := range pending {
			ready := true
			blocked := false
			for _, dep := range ns.step.DependsOn {
				if failed[dep] {
					blocked = true
					break
				}
				if !completed[dep] {
					ready = false
				}
			}
			switch {
			case blocked:
				skipped = append(skipped, ns)
			case ready:
				frontier = append(frontier, ns)
			}
		}
		if len(frontier) == 0 && len(skipped) == 0 {
			return ErrCyclicPlaybook
		}

		for _, ns := range skipped {
			run.Steps = append(run.Steps, StepResult{StepID: ns.name, Status: StepSkipped})
			failed[ns.name] = true // propagate skip to further dependents
			delete(pending, ns.name)
		}

		results := make([]StepResult, len(frontier))
		var wg sync.WaitGroup
		for i, ns := range frontier {
			wg.Add(1)
			go func(i int, ns namedStep) {
				defer wg.Done()
				results[i] = r.executeStep(ctx, ns.name, ns.step, run.Variables)
			}(i, ns)
		}
		wg.Wait()

		for i, ns := range frontier {
			run.Steps = append(run.Steps, results[i])
			switch results[i].Status {
			case StepSuccess:
				completed[ns.name] = true
			case StepFailed:
				failed[ns.name] = true
			}
			delete(pending, ns.name)
		}
	}
	return nil
}

// executeStep runs a single step with per-attempt timeout and exponential
// backoff retry (min(2^n, 10)s), matching the runner's fixed cap on sleep
// between attempts.
func (r *Runner) executeStep(ctx context.Context, name string, step planner.Step, variables map[string]string) StepResult {
	result := StepResult{StepID: name, Status: StepRunning, Start: time.Now()}
	params := resolveVariables(step.Parameters, variables)

	timeout := time.Duration(step.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	var lastErr error
	for attempt := 0; attempt <= step.RetryCount; attempt++ {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		output, err := r.executor.Execute(stepCtx, step.Action, params)
		cancel()

		if err == nil {
			result.Status = StepSuccess
			result.End = time.Now()
			result.Output = output
			result.RetryCount = attempt
			return result
		}

		lastErr = err
		if attempt < step.RetryCount {
			backoff := time.Duration(min(1<<uint(attempt+1), 10)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				result.Status = StepFailed
				result.End = time.Now()
				result.Err = ctx.Err()
				result.RetryCount = attempt
				return result
			}
		}
	}

	result.Status = StepFailed
	result.End = time.Now()
	result.Err = lastErr
	result.RetryCount = step.RetryCount
	return result
}

// resolveVariables substitutes `${name}` parameter values with the run's
// variable bindings; unresolved references are left as literal text.
func resolveVariables(parameters map[string]string, variables map[string]string) map[string]string {
	resolved := make(map[string]string, len(parameters))
	for k, v := range parameters {
		if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
			name := v[2 : len(v)-1]
			if val, ok := variables[name]; ok {
				resolved[k] = val
				continue
			}
		}
		resolved[k] = v
	}
	return resolved
}

// Status returns the in-flight Run for runID, if any.
func (r *Runner) Status(runID string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.active[runID]
	return run, ok
}
