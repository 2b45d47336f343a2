package workflow

import (
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/BaSui01/taskflow/types"
)

// Step conditions are evaluated with expr-lang/expr: a restricted, sandboxed
// expression language over the instance variables. Conditions never reach a
// general-purpose evaluator and cannot perform side effects.
//
// Compiled programs are cached and reused across goroutines.
type conditionEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func newConditionEvaluator() *conditionEvaluator {
	return &conditionEvaluator{cache: make(map[string]*vm.Program)}
}

// CompileCondition checks that expression is a valid boolean condition.
// Used at registration time so bad conditions fail fast, not mid-run.
func CompileCondition(expression string) error {
	_, err := compileCondition(expression)
	return err
}

func compileCondition(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
	if err != nil {
		return nil, types.NewErrorf(types.ErrValidation,
			"condition %q does not compile", expression).WithCause(err)
	}
	return prg, nil
}

// Evaluate runs the condition against the given variables and returns the
// boolean outcome. Undefined variables evaluate to nil: equality against a
// missing key is false rather than an error, but ordering comparisons
// (e.g. missing > 5) fail at runtime with a VALIDATION error.
func (e *conditionEvaluator) Evaluate(expression string, variables map[string]any) (bool, error) {
	prg, err := e.getOrCompile(expression)
	if err != nil {
		return false, err
	}

	env := variables
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, types.NewErrorf(types.ErrValidation,
			"condition %q evaluation failed", expression).WithCause(err)
	}

	b, ok := out.(bool)
	if !ok {
		return false, types.NewErrorf(types.ErrValidation,
			"condition %q did not produce a boolean", expression)
	}
	return b, nil
}

func (e *conditionEvaluator) getOrCompile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prg, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prg, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double-check after acquiring write lock.
	if prg, ok := e.cache[expression]; ok {
		return prg, nil
	}

	prg, err := compileCondition(expression)
	if err != nil {
		return nil, err
	}
	e.cache[expression] = prg
	return prg, nil
}
