package workflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/internal/ctxkeys"
	"github.com/BaSui01/taskflow/internal/metrics"
	"github.com/BaSui01/taskflow/types"
)

// pausePollInterval is how often a paused instance rechecks its state
// before dispatching the next step.
const pausePollInterval = 20 * time.Millisecond

// Executor runs the steps of one workflow instance strictly sequentially,
// enforcing the per-step timeout, the per-step retry sub-policy, and the
// optional skip condition. Cross-instance concurrency belongs to the
// scheduler; within one instance exactly one step is current at a time.
type Executor struct {
	runner     StepRunner
	conditions *conditionEvaluator
	logger     *zap.Logger
	metrics    *metrics.Collector
}

// NewExecutor creates an executor dispatching steps to the given runner.
func NewExecutor(runner StepRunner, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		runner:     runner,
		conditions: newConditionEvaluator(),
		logger:     logger.With(zap.String("component", "executor")),
	}
}

// RunInstance executes the definition's steps against the instance.
// The instance must be Ready; a second concurrent invocation is rejected
// with an INVALID_STATE error instead of being silently queued.
//
// On step failure (after the step's own retries are exhausted) the instance
// is marked Failed and a STEP_EXECUTION error carrying the workflow, step,
// retry count, and cause is returned to the caller.
func (e *Executor) RunInstance(ctx context.Context, inst *Instance, def *Definition) error {
	if err := inst.transition(StateRunning); err != nil {
		if inst.GetState() == StateRunning {
			return types.NewErrorf(types.ErrInvalidState,
				"instance %s is already executing", inst.ID)
		}
		return err
	}

	e.logger.Info("workflow execution started",
		zap.String("instance_id", inst.ID),
		zap.String("definition", def.Name),
		zap.Int("steps", len(def.Steps)),
	)
	start := time.Now()

	for i := range def.Steps {
		step := def.Steps[i]

		// Cancellation and pause are observed here, at the step boundary.
		if err := e.awaitDispatchable(ctx, inst); err != nil {
			return e.finishCancelled(inst, def, start, err)
		}

		if step.Condition != "" {
			ok, condErr := e.conditions.Evaluate(step.Condition, inst.variablesCopy())
			if condErr != nil {
				return e.finishFailed(inst, def, start, step, 0, condErr)
			}
			if !ok {
				inst.appendHistory(HistoryEntry{Step: step.Name, Status: HistorySkipped})
				e.metrics.RecordStep(def.Name, step.Action, string(HistorySkipped), 0)
				e.logger.Debug("step skipped",
					zap.String("instance_id", inst.ID),
					zap.String("step", step.Name),
				)
				continue
			}
		}

		inst.setCurrentStep(step.Name)
		stepStart := time.Now()
		outputs, attempts, err := e.runStep(ctx, inst, def.Name, step)
		stepDuration := time.Since(stepStart)

		if err != nil {
			if types.HasCode(err, types.ErrCancelled) {
				return e.finishCancelled(inst, def, start, err)
			}
			status := HistoryFailed
			if types.IsStepTimeout(err) {
				status = HistoryTimeout
			}
			inst.appendHistory(HistoryEntry{
				Step:     step.Name,
				Status:   status,
				Error:    err.Error(),
				Attempts: attempts,
			})
			e.metrics.RecordStep(def.Name, step.Action, string(status), stepDuration)
			return e.finishFailed(inst, def, start, step, attempts, err)
		}

		extracted := extractOutputs(step.Outputs, outputs)
		inst.mergeVariables(extracted)
		inst.appendHistory(HistoryEntry{
			Step:     step.Name,
			Status:   HistoryCompleted,
			Result:   extracted,
			Attempts: attempts,
		})
		e.metrics.RecordStep(def.Name, step.Action, string(HistoryCompleted), stepDuration)
		e.logger.Debug("step completed",
			zap.String("instance_id", inst.ID),
			zap.String("step", step.Name),
			zap.Int("attempts", attempts),
			zap.Duration("duration", stepDuration),
		)
	}

	// A pause landing between the last step and completion still holds the
	// instance until resumed.
	if err := e.awaitDispatchable(ctx, inst); err != nil {
		return e.finishCancelled(inst, def, start, err)
	}

	inst.setCurrentStep("")
	if err := inst.transition(StateCompleted); err != nil {
		return err
	}
	e.metrics.RecordExecution(def.Name, string(StateCompleted), time.Since(start))
	e.logger.Info("workflow execution completed",
		zap.String("instance_id", inst.ID),
		zap.String("definition", def.Name),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// runStep dispatches one step with its timeout and retry sub-policy.
// Returns the raw runner outputs and the number of attempts spent.
// The attempt counter resets per step; step retries use a fixed delay, not
// the workflow-level backoff policy.
func (e *Executor) runStep(ctx context.Context, inst *Instance, defName string, step Step) (map[string]any, int, error) {
	maxAttempts := 1 + step.Retry.MaxRetries
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			e.metrics.RecordRetry(defName, "step")
			e.logger.Debug("retrying step",
				zap.String("instance_id", inst.ID),
				zap.String("step", step.Name),
				zap.Int("attempt", attempt),
				zap.Duration("delay", step.Retry.Delay),
				zap.Error(lastErr),
			)
			select {
			case <-ctx.Done():
				return nil, attempt - 1, types.NewError(types.ErrCancelled, "execution cancelled").WithCause(ctx.Err())
			case <-time.After(step.Retry.Delay):
			}
			if inst.cancelPending() {
				return nil, attempt - 1, types.NewError(types.ErrCancelled, "cancellation requested")
			}
		}

		// Step inputs overlay the current variables; static inputs win.
		merged := inst.variablesCopy()
		for k, v := range step.Inputs {
			merged[k] = v
		}

		dispatchCtx := ctxkeys.WithStepName(ctxkeys.WithWorkflowID(ctx, inst.ID), step.Name)
		var cancel context.CancelFunc
		if step.Timeout > 0 {
			dispatchCtx, cancel = context.WithTimeout(dispatchCtx, step.Timeout)
		}
		outputs, err := e.runner.Execute(dispatchCtx, step.Name, step.Action, merged)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			return outputs, attempt, nil
		}

		if ctx.Err() != nil {
			return nil, attempt, types.NewError(types.ErrCancelled, "execution cancelled").WithCause(ctx.Err())
		}

		if step.Timeout > 0 && errors.Is(dispatchCtx.Err(), context.DeadlineExceeded) {
			// Timeouts are distinct from runner-raised errors and always
			// step-level retryable.
			lastErr = types.NewErrorf(types.ErrStepTimeout,
				"step %q exceeded timeout %s", step.Name, step.Timeout).
				WithStep(step.Name).
				WithRetryable(true).
				WithCause(err)
			continue
		}

		lastErr = err
		if !types.IsRetryable(err) {
			return nil, attempt, lastErr
		}
	}

	return nil, maxAttempts, lastErr
}

// awaitDispatchable blocks while the instance is paused and reports
// cancellation. Returns nil when the next step may be dispatched.
func (e *Executor) awaitDispatchable(ctx context.Context, inst *Instance) error {
	for {
		if ctx.Err() != nil {
			return types.NewError(types.ErrCancelled, "execution cancelled").WithCause(ctx.Err())
		}
		if inst.cancelPending() {
			return types.NewError(types.ErrCancelled, "cancellation requested")
		}
		switch inst.GetState() {
		case StateCancelled:
			return types.NewError(types.ErrCancelled, "instance cancelled")
		case StatePaused:
			select {
			case <-ctx.Done():
			case <-time.After(pausePollInterval):
			}
		default:
			return nil
		}
	}
}

// finishFailed marks the instance Failed and builds the surfaced error.
func (e *Executor) finishFailed(inst *Instance, def *Definition, start time.Time, step Step, attempts int, cause error) error {
	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	// The surfaced failure stays workflow-level retryable unless the cause
	// was fatal (bad condition, non-retryable runner error); retrying those
	// cannot change the outcome.
	execErr := types.NewErrorf(types.ErrStepExecution,
		"step %q failed after %d attempts", step.Name, attempts).
		WithWorkflow(def.Name).
		WithStep(step.Name).
		WithRetries(retries).
		WithRetryable(types.IsRetryable(cause)).
		WithCause(cause)

	inst.markFailed(execErr)
	e.metrics.RecordExecution(def.Name, string(StateFailed), time.Since(start))
	e.logger.Warn("workflow execution failed",
		zap.String("instance_id", inst.ID),
		zap.String("definition", def.Name),
		zap.String("step", step.Name),
		zap.Int("attempts", attempts),
		zap.Error(cause),
	)
	return execErr
}

// finishCancelled settles the instance into the Cancelled state.
func (e *Executor) finishCancelled(inst *Instance, def *Definition, start time.Time, cause error) error {
	if !inst.GetState().IsTerminal() {
		// Running or Paused -> Cancelled is always legal.
		_ = inst.transition(StateCancelled)
	}
	e.metrics.RecordExecution(def.Name, string(StateCancelled), time.Since(start))
	e.logger.Info("workflow execution cancelled",
		zap.String("instance_id", inst.ID),
		zap.String("definition", def.Name),
	)
	return cause
}
