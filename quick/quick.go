// =============================================================================
// Package quick — One-Line Engine Construction
// =============================================================================
// Provides a convenience entry point for creating workflow engines with
// minimal boilerplate. Delegates to workflow.NewEngine internally.
//
// The package lives under quick/ (not root) so the root package can stay a
// thin alias layer without dragging config/ into every import graph.
//
// Usage:
//
//	import "github.com/BaSui01/taskflow/quick"
//
//	eng, err := quick.New(quick.WithMaxConcurrent(4))
//	eng, err := quick.New(quick.WithRunner(myRunner), quick.WithLogger(logger))
//
// =============================================================================
package quick

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskflow/workflow"
)

// Option configures the engine created by New.
type Option func(*options)

type options struct {
	cfg     workflow.EngineConfig
	runner  workflow.StepRunner
	logger  *zap.Logger
	actions map[string]workflow.RunnerFunc
}

// WithRunner sets a pre-built step runner. Overrides WithAction.
func WithRunner(r workflow.StepRunner) Option {
	return func(o *options) { o.runner = r }
}

// WithAction registers a named action on the builtin ActionMux.
// Ignored when WithRunner is also given.
func WithAction(name string, fn workflow.RunnerFunc) Option {
	return func(o *options) { o.actions[name] = fn }
}

// WithMaxConcurrent bounds simultaneously executing workflow instances.
func WithMaxConcurrent(n int) Option {
	return func(o *options) { o.cfg.Scheduler.MaxConcurrent = n }
}

// WithSchedulerInterval sets the scan period of the scheduling loop.
func WithSchedulerInterval(d time.Duration) Option {
	return func(o *options) { o.cfg.Scheduler.Interval = d }
}

// WithRetryPolicy sets the workflow-level retry policy.
func WithRetryPolicy(p workflow.RetryPolicy) Option {
	return func(o *options) { o.cfg.DefaultRetry = p }
}

// WithRetention evicts terminal instances after the given duration.
func WithRetention(d time.Duration) Option {
	return func(o *options) { o.cfg.Retention = d }
}

// WithMetricsNamespace enables prometheus metrics under the namespace.
func WithMetricsNamespace(ns string) Option {
	return func(o *options) { o.cfg.MetricsNamespace = ns }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// New creates a workflow.Engine with minimal configuration.
func New(opts ...Option) (*workflow.Engine, error) {
	o := &options{
		cfg:     workflow.DefaultEngineConfig(),
		actions: map[string]workflow.RunnerFunc{},
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.cfg.Scheduler.MaxConcurrent < 0 {
		return nil, fmt.Errorf("max concurrent must be non-negative, got %d", o.cfg.Scheduler.MaxConcurrent)
	}

	runner := o.runner
	if runner == nil && len(o.actions) > 0 {
		mux := workflow.NewActionMux()
		for name, fn := range o.actions {
			mux.Handle(name, fn)
		}
		runner = mux
	}

	return workflow.NewEngine(o.cfg, runner, o.logger), nil
}
