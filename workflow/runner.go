package workflow

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/taskflow/types"
)

// StepRunner is the external capability that performs the actual work of a
// named step. Implementations must be safe to call concurrently for
// different instances, must honor context cancellation and deadlines, and
// should return types.Error values marked retryable or fatal so the
// executor can decide whether step-level retry applies. Plain errors are
// treated as retryable.
type StepRunner interface {
	Execute(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error)
}

// RunnerFunc adapts a function to the StepRunner interface. Synchronous
// handlers are normalized to this single asynchronous calling convention at
// the boundary; call sites never branch on sync vs async.
type RunnerFunc func(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error)

// Execute implements StepRunner.
func (f RunnerFunc) Execute(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error) {
	return f(ctx, stepName, action, inputs)
}

// ============================================================
// ActionMux — action name to handler dispatch
// ============================================================

// ActionMux routes actions to registered handlers by name. It ships with a
// few builtin actions (noop, echo, sleep) so simple workflows run without
// any wiring.
type ActionMux struct {
	mu      sync.RWMutex
	actions map[string]RunnerFunc
}

// NewActionMux creates a mux with the builtin actions registered.
func NewActionMux() *ActionMux {
	m := &ActionMux{actions: make(map[string]RunnerFunc)}
	m.Handle("noop", noopAction)
	m.Handle("echo", echoAction)
	m.Handle("sleep", sleepAction)
	return m
}

// Handle registers a handler for an action name, replacing any previous one.
func (m *ActionMux) Handle(action string, fn RunnerFunc) {
	m.mu.Lock()
	m.actions[action] = fn
	m.mu.Unlock()
}

// Execute implements StepRunner. Unknown actions fail fatally: retrying
// cannot make an unregistered action appear.
func (m *ActionMux) Execute(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error) {
	m.mu.RLock()
	fn, ok := m.actions[action]
	m.mu.RUnlock()

	if !ok {
		return nil, types.NewErrorf(types.ErrStepExecution,
			"unknown action %q", action).WithStep(stepName).WithRetryable(false)
	}
	return fn(ctx, stepName, action, inputs)
}

// noop performs no work and produces no outputs.
func noopAction(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

// echo returns its inputs as outputs unchanged.
func echoAction(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(inputs))
	for k, v := range inputs {
		out[k] = v
	}
	return out, nil
}

// sleep waits for the "duration" input (Go duration string or seconds).
func sleepAction(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error) {
	d := time.Second
	switch v := inputs["duration"].(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return nil, types.NewErrorf(types.ErrStepExecution,
				"sleep: bad duration %q", v).WithStep(stepName).WithRetryable(false).WithCause(err)
		}
		d = parsed
	case time.Duration:
		d = v
	case float64:
		d = time.Duration(v * float64(time.Second))
	case int:
		d = time.Duration(v) * time.Second
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(d):
		return map[string]any{"slept": d.String()}, nil
	}
}

// ============================================================
// Parallel fan-out
// ============================================================

// Branch describes one arm of a parallel fan-out.
type Branch struct {
	Name   string         `json:"name" yaml:"name"`
	Action string         `json:"action" yaml:"action"`
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// RunParallel executes branches concurrently against runner and joins the
// results keyed by branch name. The first branch error cancels the rest.
// From the executor's point of view this is a single atomic step; within
// one instance, step execution stays strictly sequential.
func RunParallel(ctx context.Context, runner StepRunner, stepName string, branches []Branch, maxParallel int) (map[string]any, error) {
	if len(branches) == 0 {
		return map[string]any{}, nil
	}

	results := make([]map[string]any, len(branches))
	g, gctx := errgroup.WithContext(ctx)
	if maxParallel > 0 {
		g.SetLimit(maxParallel)
	}

	for i, branch := range branches {
		g.Go(func() error {
			out, err := runner.Execute(gctx, stepName+"/"+branch.Name, branch.Action, branch.Inputs)
			if err != nil {
				return types.NewErrorf(types.ErrStepExecution,
					"branch %q failed", branch.Name).
					WithStep(stepName).
					WithRetryable(types.IsRetryable(err)).
					WithCause(err)
			}
			results[i] = out
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	joined := make(map[string]any, len(branches))
	for i, branch := range branches {
		joined[branch.Name] = results[i]
	}
	return joined, nil
}

// ParallelAction builds a RunnerFunc that fans out to the given branches,
// so a mux action can express fan-out/join as one step.
func ParallelAction(runner StepRunner, branches []Branch, maxParallel int) RunnerFunc {
	return func(ctx context.Context, stepName, action string, inputs map[string]any) (map[string]any, error) {
		return RunParallel(ctx, runner, stepName, branches, maxParallel)
	}
}
