// Package taskflow provides a top-level convenience entry point for creating
// workflow engines with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/taskflow"
//
//	eng, err := taskflow.New(taskflow.WithMaxConcurrent(4))
//	eng, err := taskflow.New(taskflow.WithRunner(myRunner))
//
// This is a thin wrapper around [quick.New]; both produce identical results.
// Use this package when you prefer the shorter import path.
package taskflow

import (
	"github.com/BaSui01/taskflow/quick"
	"github.com/BaSui01/taskflow/workflow"
)

// Option configures the engine created by [New].
type Option = quick.Option

// New creates a [workflow.Engine] with minimal configuration.
// With no options, it runs builtin actions with default scheduling.
func New(opts ...Option) (*workflow.Engine, error) {
	return quick.New(opts...)
}

// Re-export option shortcuts so callers never need to import quick/.

// WithRunner sets a pre-built step runner.
var WithRunner = quick.WithRunner

// WithAction registers a named action on the builtin ActionMux.
var WithAction = quick.WithAction

// WithMaxConcurrent bounds simultaneously executing workflow instances.
var WithMaxConcurrent = quick.WithMaxConcurrent

// WithSchedulerInterval sets the scan period of the scheduling loop.
var WithSchedulerInterval = quick.WithSchedulerInterval

// WithRetryPolicy sets the workflow-level retry policy.
var WithRetryPolicy = quick.WithRetryPolicy

// WithRetention evicts terminal instances after the given duration.
var WithRetention = quick.WithRetention

// WithMetricsNamespace enables prometheus metrics under the namespace.
var WithMetricsNamespace = quick.WithMetricsNamespace

// WithLogger sets a custom zap logger.
var WithLogger = quick.WithLogger
