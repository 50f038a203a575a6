package types

// State represents the controller lifecycle state.
//
// States follow a defined progression during normal operation:
//
//	StateInit → StateSpawning → StateReady
//
// During fleet regeneration:
//
//	StateReady → StateReplacing → StateReady
//
// A unit exhausting its restart policy degrades the fleet until an operator
// respawns it or replaces the generation:
//
//	StateReady → StateDegraded → StateReady/StateReplacing
//
// Shutdown is terminal.
type State int

const (
	// StateInit is the initial state before Start is called.
	StateInit State = iota

	// StateSpawning indicates the spawn queue is still materializing units.
	StateSpawning

	// StateReady indicates every expected unit has signaled ready.
	StateReady

	// StateReplacing indicates a fleet regeneration is in progress.
	StateReplacing

	// StateDegraded indicates at least one unit is terminally exited.
	StateDegraded

	// StateShutdown indicates graceful shutdown is in progress.
	StateShutdown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateSpawning:
		return "Spawning"
	case StateReady:
		return "Ready"
	case StateReplacing:
		return "Replacing"
	case StateDegraded:
		return "Degraded"
	case StateShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}
