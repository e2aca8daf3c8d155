package cursor

import (
	"errors"
	"slices"
	"time"
)

// State is the in-process mode of a filter cursor. It is not persisted:
// every start begins in StateInit.
type State string

const (
	StateInit     State = "init"
	StateScanning State = "scanning"
	StateCatchup  State = "catchup"
	StatePaused   State = "paused"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidTransitions defines allowed state transitions.
// Key is the current state, value is the list of valid next states.
var ValidTransitions = map[State][]State{
	StateInit:     {StateScanning, StateCatchup, StatePaused},
	StateScanning: {StateCatchup, StatePaused},
	StateCatchup:  {StateScanning, StatePaused},
	StatePaused:   {StateScanning, StateCatchup},
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to State) bool {
	return slices.Contains(ValidTransitions[from], to)
}

// Transition represents a state change with metadata.
type Transition struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// NewTransition creates a new transition record.
func NewTransition(from, to State, reason string) Transition {
	return Transition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

// IsValid returns true if this transition is allowed by the state machine.
func (t Transition) IsValid() bool {
	return CanTransition(t.From, t.To)
}

// StateDescription returns a human-readable description of a state.
func StateDescription(s State) string {
	switch s {
	case StateInit:
		return "Initializing - cursor loaded, no window synced yet"
	case StateScanning:
		return "Scanning - following the sync head"
	case StateCatchup:
		return "Catching up - more than one window behind the sync head"
	case StatePaused:
		return "Paused - stopped by operator"
	default:
		return "Unknown state"
	}
}
