package recorder

import "fmt"

// State is the recording lifecycle position. Transitions are validated;
// boolean flags like "isRecording" are deliberately absent.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateRecording
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// validTransitions is the full lifecycle graph. Starting may fall back to
// Idle when backend or device setup fails.
var validTransitions = map[State][]State{
	StateIdle:      {StateStarting},
	StateStarting:  {StateRecording, StateIdle},
	StateRecording: {StateStopping, StateIdle},
	StateStopping:  {StateIdle},
}

// CanTransition reports whether s -> to is a legal lifecycle step.
func (s State) CanTransition(to State) bool {
	for _, t := range validTransitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a rejected lifecycle step.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition %s -> %s", e.From, e.To)
}

// AcceptsTranscripts reports whether backend results may still be
// incorporated. Stopping keeps accepting through the grace window; the
// orchestrator flips to Idle only after teardown, after which late results
// are dropped.
func (s State) AcceptsTranscripts() bool {
	return s == StateRecording || s == StateStopping
}
