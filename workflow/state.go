package workflow

// State represents the lifecycle state of a workflow instance.
type State string

const (
	// StateInitializing means the instance exists but its variables are not
	// seeded yet. Instances leave this state inside CreateInstance.
	StateInitializing State = "initializing"
	// StateReady means the instance may be scheduled or executed.
	StateReady State = "ready"
	// StateRunning means the executor currently owns the instance.
	StateRunning State = "running"
	// StatePaused means no new step will be dispatched; the in-flight step,
	// if any, runs to completion.
	StatePaused State = "paused"
	// StateCompleted is terminal: every step finished successfully.
	StateCompleted State = "completed"
	// StateFailed is terminal once workflow-level retries are exhausted.
	StateFailed State = "failed"
	// StateCancelled is terminal: the instance was cancelled cooperatively.
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether the state permits no further transitions.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state value.
func (s State) Valid() bool {
	switch s {
	case StateInitializing, StateReady, StateRunning, StatePaused,
		StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// stateTransitions is the legal transition table. Terminal states have no
// outgoing edges here; the scheduler's retry revert (Failed -> Ready) goes
// through Instance.resetForRetry instead of this table.
var stateTransitions = map[State][]State{
	StateInitializing: {StateReady, StateCancelled},
	StateReady:        {StateRunning, StateCancelled},
	StateRunning:      {StatePaused, StateCompleted, StateFailed, StateCancelled},
	StatePaused:       {StateRunning, StateCancelled},
}

// CanTransitionTo reports whether the transition s -> next is legal.
func (s State) CanTransitionTo(next State) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
