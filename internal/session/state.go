package session

// State is the capture session state.
type State string

const (
	StateIdle       State = "idle"
	StateGraphBuilt State = "graph_built"
	StatePreviewing State = "previewing"
)

func (s State) String() string { return string(s) }

// Built reports whether a pipeline exists in this state.
func (s State) Built() bool { return s != StateIdle }
