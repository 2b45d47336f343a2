package workflow

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/taskflow/types"
)

// StepRetry configures step-level retry behavior.
// Retries happen inside the executor with a fixed delay between attempts;
// the attempt counter resets for every step.
type StepRetry struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retry)
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// Delay is the fixed wait between attempts
	Delay time.Duration `json:"delay" yaml:"delay"`
}

// Step is a single unit of work inside a workflow definition.
// Steps are immutable once the definition is registered.
type Step struct {
	// Name uniquely identifies the step within its definition
	Name string `json:"name" yaml:"name"`

	// Action names the operation the StepRunner should perform
	Action string `json:"action" yaml:"action"`

	// Inputs are static parameters passed to the action
	Inputs map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`

	// Outputs lists the keys to extract from the action result into the
	// instance variables, in order. Empty means merge every result key.
	Outputs []string `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Condition is an optional boolean expression evaluated against the
	// instance variables; when present and false the step is skipped.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Timeout bounds a single dispatch to the StepRunner (0 = unbounded)
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// Retry is the step-level retry sub-policy
	Retry StepRetry `json:"retry" yaml:"retry"`

	// Metadata carries opaque annotations, never interpreted by the engine
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Definition is a named, ordered collection of steps.
// A definition is registered once and never mutated afterwards.
type Definition struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Validate checks the structural invariants of a definition.
// A definition with zero steps is invalid; step names must be unique.
func (d *Definition) Validate() error {
	if d == nil {
		return types.NewError(types.ErrValidation, "definition is nil")
	}
	if d.Name == "" {
		return types.NewError(types.ErrValidation, "definition name is empty")
	}
	if len(d.Steps) == 0 {
		return types.NewErrorf(types.ErrValidation, "definition %q has no steps", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		if step.Name == "" {
			return types.NewErrorf(types.ErrValidation, "definition %q: step %d has no name", d.Name, i)
		}
		if _, dup := seen[step.Name]; dup {
			return types.NewErrorf(types.ErrValidation, "definition %q: duplicate step name %q", d.Name, step.Name)
		}
		seen[step.Name] = struct{}{}

		if step.Action == "" {
			return types.NewErrorf(types.ErrValidation, "definition %q: step %q has no action", d.Name, step.Name)
		}
		if step.Retry.MaxRetries < 0 {
			return types.NewErrorf(types.ErrValidation, "definition %q: step %q has negative max_retries", d.Name, step.Name)
		}
		if step.Retry.Delay < 0 {
			return types.NewErrorf(types.ErrValidation, "definition %q: step %q has negative retry delay", d.Name, step.Name)
		}
		if step.Timeout < 0 {
			return types.NewErrorf(types.ErrValidation, "definition %q: step %q has negative timeout", d.Name, step.Name)
		}
		if step.Condition != "" {
			if err := CompileCondition(step.Condition); err != nil {
				return types.NewErrorf(types.ErrValidation,
					"definition %q: step %q has invalid condition", d.Name, step.Name).WithCause(err)
			}
		}
	}
	return nil
}

// ParseDefinition decodes a YAML document into a validated Definition.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, types.NewError(types.ErrValidation, "definition is not valid YAML").WithCause(err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// clone returns a deep copy so registered definitions stay immutable even if
// the caller keeps mutating the value it passed in.
func (d *Definition) clone() *Definition {
	out := &Definition{Name: d.Name, Steps: make([]Step, len(d.Steps))}
	for i, step := range d.Steps {
		cp := step
		cp.Inputs = copyMap(step.Inputs)
		cp.Metadata = copyMap(step.Metadata)
		if step.Outputs != nil {
			cp.Outputs = append([]string(nil), step.Outputs...)
		}
		out.Steps[i] = cp
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
