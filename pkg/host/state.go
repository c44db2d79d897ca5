package host

import "slices"

// State is the lifecycle state of a plugin.
type State string

// Plugin states.
const (
	StateUnloaded  State = "UNLOADED"
	StateResolving State = "RESOLVING"
	StateLoading   State = "LOADING"
	StateLoaded    State = "LOADED"
	StateUnloading State = "UNLOADING"
	// StateInvalid is terminal for the current descriptor. Only a reload or a
	// changed descriptor moves the plugin back to UNLOADED.
	StateInvalid State = "INVALID"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{StateUnloaded, StateResolving, StateLoading, StateLoaded, StateUnloading, StateInvalid}

var transitions = map[State][]State{
	StateUnloaded:  {StateResolving},
	StateResolving: {StateLoading, StateInvalid, StateUnloaded},
	StateLoading:   {StateLoaded, StateInvalid, StateUnloaded},
	StateLoaded:    {StateUnloading},
	StateUnloading: {StateUnloaded, StateInvalid},
	StateInvalid:   {StateUnloaded},
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s State) CanTransition(next State) bool {
	return slices.Contains(transitions[s], next)
}

// Pending reports whether a transition is in flight.
func (s State) Pending() bool {
	return s == StateResolving || s == StateLoading || s == StateUnloading
}

func (s State) String() string { return string(s) }
