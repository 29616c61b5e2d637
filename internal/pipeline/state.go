package pipeline

// State is the phase an orchestrator cycle is in. A cycle always walks
// Idle, Fetching, Merging, Classifying, Persisted and back to Idle.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateMerging
	StateClassifying
	StatePersisted
)

var stateNames = [...]string{"idle", "fetching", "merging", "classifying", "persisted"}

func (s State) String() string {
	if s < StateIdle || s > StatePersisted {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
