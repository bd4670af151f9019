package lifecycle

// State is the lifecycle state of the model provider.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateFailed  State = "failed"
)

// Snapshot is a read-only view of the manager state. Progress is the last
// value reported by the loader; last value wins.
type Snapshot struct {
	State    State
	ModelID  string
	Progress float64
	Err      string
}
