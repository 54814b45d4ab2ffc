package agent

// EventKind discriminates the agent's observable events.
type EventKind int

const (
	// EventRequest is emitted once per completed proxy round-trip.
	EventRequest EventKind = iota
	// EventError is emitted for asynchronous failures that do not end
	// the tunnel, and for terminal reconnection exhaustion.
	EventError
	// EventClose is emitted exactly once, at terminal teardown.
	EventClose
)

// Event is one entry on the agent's event stream.
type Event struct {
	Kind   EventKind
	Method string
	Path   string
	Status int
	Err    error
}
