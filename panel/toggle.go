package panel

// ToggleState is where one field is in its optimistic update cycle.
//
//	Idle -> Pending -> Committed | RolledBack -> Pending -> ...
//
// A field stays Pending while any toggle on it is still unresolved.
type ToggleState string

const (
	StateIdle       ToggleState = "idle"
	StatePending    ToggleState = "pending"
	StateCommitted  ToggleState = "committed"
	StateRolledBack ToggleState = "rolled_back"
)

// FieldStatus is the per-field state machine record
type FieldStatus struct {
	State    ToggleState `json:"state"`
	Want     bool        `json:"want"`     // value asked for by the latest toggle
	InFlight int         `json:"inFlight"` // toggles not yet resolved
	Err      string      `json:"error,omitempty"`
}

// FSM manages state transitions for a field.
type FSM struct {
	transitions map[ToggleState][]ToggleState
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[ToggleState][]ToggleState{
			StateIdle:       {StatePending},
			StatePending:    {StatePending, StateCommitted, StateRolledBack},
			StateCommitted:  {StatePending, StateIdle},
			StateRolledBack: {StatePending, StateIdle},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to ToggleState) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition updates the status if the transition is allowed.
func (f *FSM) Transition(st *FieldStatus, to ToggleState) bool {
	if f.CanTransition(st.State, to) {
		st.State = to
		return true
	}
	return false
}
