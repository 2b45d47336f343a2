package workflow

import (
	"sync"
	"time"

	"github.com/BaSui01/taskflow/types"
)

// HistoryStatus is the recorded outcome of a single step.
type HistoryStatus string

const (
	// HistoryCompleted indicates the step finished successfully
	HistoryCompleted HistoryStatus = "completed"
	// HistoryFailed indicates the step exhausted its retries and failed
	HistoryFailed HistoryStatus = "failed"
	// HistorySkipped indicates the step condition evaluated to false
	HistorySkipped HistoryStatus = "skipped"
	// HistoryTimeout indicates the final attempt exceeded the step timeout
	HistoryTimeout HistoryStatus = "timeout"
)

// HistoryEntry records the final outcome of one step of one run.
// Step-level retries are internal: only the final outcome is listed, with
// Attempts counting how many dispatches it took.
type HistoryEntry struct {
	Step      string         `json:"step"`
	Status    HistoryStatus  `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	Attempts  int            `json:"attempts,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Instance is the in-memory record of a single workflow execution.
// It is owned exclusively by the scheduler/executor pair while running and
// becomes read-only once it reaches a terminal state. The embedded mutex
// only guards against concurrent readers (GetStatus, snapshots); there is
// never more than one writer.
//
// JSON field names are the engine's snapshot wire format; see the
// persistence package.
type Instance struct {
	ID            string         `json:"id"`
	DefinitionRef string         `json:"definitionRef"`
	State         State          `json:"state"`
	Variables     map[string]any `json:"variables"`
	CurrentStep   string         `json:"currentStep,omitempty"`
	History       []HistoryEntry `json:"history"`
	StartedAt     time.Time      `json:"startedAt"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Error         string         `json:"error,omitempty"`

	// InitialInputs lets a workflow-level retry re-run from scratch. It is
	// serialized so a restored instance retries with its true inputs rather
	// than the variables accumulated up to the snapshot.
	InitialInputs map[string]any `json:"initialInputs,omitempty"`

	// termErr keeps the typed terminating error; Error holds its message
	// for serialization
	termErr error

	cancelRequested bool
	mu              sync.RWMutex
}

func newInstance(id, definitionRef string, inputs map[string]any) *Instance {
	inst := &Instance{
		ID:            id,
		DefinitionRef: definitionRef,
		State:         StateInitializing,
		Variables:     make(map[string]any, len(inputs)),
		History:       make([]HistoryEntry, 0, 8),
		StartedAt:     time.Now(),
		InitialInputs: copyMap(inputs),
	}
	for k, v := range inputs {
		inst.Variables[k] = v
	}
	inst.State = StateReady
	return inst
}

// GetState returns the current state.
func (in *Instance) GetState() State {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.State
}

// transition moves the instance to next, enforcing the state machine.
// Attempts to mutate a terminal instance fail with an INVALID_STATE error.
func (in *Instance) transition(next State) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.State.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState,
			"instance %s is terminal (%s)", in.ID, in.State)
	}
	if !in.State.CanTransitionTo(next) {
		return types.NewErrorf(types.ErrInvalidState,
			"instance %s cannot transition %s -> %s", in.ID, in.State, next)
	}
	in.State = next
	if next.IsTerminal() {
		now := time.Now()
		in.CompletedAt = &now
		in.CurrentStep = ""
	}
	return nil
}

// resume moves a paused instance back to Running. Only Paused qualifies:
// Ready -> Running is legal in the transition table but reserved for the
// executor, so a resume on a Ready instance is rejected instead of flipping
// it to Running with no executor owning it.
func (in *Instance) resume() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.State != StatePaused {
		return types.NewErrorf(types.ErrInvalidState,
			"instance %s is %s, only paused instances can be resumed", in.ID, in.State)
	}
	in.State = StateRunning
	return nil
}

// markFailed transitions to Failed and records the terminating error.
func (in *Instance) markFailed(err error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.State.IsTerminal() {
		return
	}
	in.State = StateFailed
	in.Error = err.Error()
	in.termErr = err
	now := time.Now()
	in.CompletedAt = &now
}

// requestCancel flags the instance for cooperative cancellation. A pending
// instance flips to Cancelled immediately; a running one keeps the flag and
// the executor observes it at the next step boundary.
func (in *Instance) requestCancel() error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.State.IsTerminal() {
		return types.NewErrorf(types.ErrInvalidState,
			"instance %s is terminal (%s)", in.ID, in.State)
	}
	in.cancelRequested = true
	if in.State != StateRunning {
		in.State = StateCancelled
		now := time.Now()
		in.CompletedAt = &now
		in.CurrentStep = ""
	}
	return nil
}

func (in *Instance) cancelPending() bool {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.cancelRequested
}

// resetForRetry reverts a failed instance to a retry-eligible Ready state
// for a workflow-level retry. Variables reset to the initial inputs and the
// whole workflow re-runs from its first step; history is kept so the audit
// trail spans all attempts.
func (in *Instance) resetForRetry() {
	in.mu.Lock()
	defer in.mu.Unlock()

	in.State = StateReady
	in.Variables = copyMap(in.InitialInputs)
	if in.Variables == nil {
		in.Variables = make(map[string]any)
	}
	in.CurrentStep = ""
	in.CompletedAt = nil
	in.Error = ""
	in.termErr = nil
	in.cancelRequested = false
}

func (in *Instance) setCurrentStep(name string) {
	in.mu.Lock()
	in.CurrentStep = name
	in.mu.Unlock()
}

func (in *Instance) appendHistory(entry HistoryEntry) {
	in.mu.Lock()
	entry.Timestamp = time.Now()
	in.History = append(in.History, entry)
	in.mu.Unlock()
}

// mergeVariables merges the given outputs into the variables map.
func (in *Instance) mergeVariables(outputs map[string]any) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.Variables == nil {
		in.Variables = make(map[string]any)
	}
	for k, v := range outputs {
		in.Variables[k] = v
	}
}

// extractOutputs selects the named keys from a step result, in order.
// An empty key list extracts every result key.
func extractOutputs(keys []string, result map[string]any) map[string]any {
	if len(keys) == 0 {
		return copyMap(result)
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := result[k]; ok {
			out[k] = v
		}
	}
	return out
}

// variablesCopy returns a shallow copy safe to hand to condition evaluation
// and step dispatch without holding the lock.
func (in *Instance) variablesCopy() map[string]any {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make(map[string]any, len(in.Variables))
	for k, v := range in.Variables {
		out[k] = v
	}
	return out
}

// historyCopy returns a copy of the history slice.
func (in *Instance) historyCopy() []HistoryEntry {
	in.mu.RLock()
	defer in.mu.RUnlock()
	out := make([]HistoryEntry, len(in.History))
	copy(out, in.History)
	return out
}

// terminalError returns the recorded terminating error, if any.
func (in *Instance) terminalError() error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.termErr
}

// snapshotCopy returns a detached copy of the instance for serialization.
func (in *Instance) snapshotCopy() *Instance {
	in.mu.RLock()
	defer in.mu.RUnlock()

	cp := &Instance{
		ID:            in.ID,
		DefinitionRef: in.DefinitionRef,
		State:         in.State,
		Variables:     copyMap(in.Variables),
		CurrentStep:   in.CurrentStep,
		History:       make([]HistoryEntry, len(in.History)),
		StartedAt:     in.StartedAt,
		Error:         in.Error,
		InitialInputs: copyMap(in.InitialInputs),
	}
	copy(cp.History, in.History)
	if in.CompletedAt != nil {
		t := *in.CompletedAt
		cp.CompletedAt = &t
	}
	return cp
}

// InstanceSummary is the read model returned by Engine.ListInstances.
type InstanceSummary struct {
	ID          string     `json:"id"`
	Definition  string     `json:"definition"`
	State       State      `json:"state"`
	CurrentStep string     `json:"currentStep,omitempty"`
	Steps       int        `json:"steps"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

func (in *Instance) summary() InstanceSummary {
	in.mu.RLock()
	defer in.mu.RUnlock()

	s := InstanceSummary{
		ID:          in.ID,
		Definition:  in.DefinitionRef,
		State:       in.State,
		CurrentStep: in.CurrentStep,
		Steps:       len(in.History),
		StartedAt:   in.StartedAt,
		Error:       in.Error,
	}
	if in.CompletedAt != nil {
		t := *in.CompletedAt
		s.CompletedAt = &t
	}
	return s
}
