package types

import "time"

// ControllerID is the reserved address of the controller in message routing.
// Unit IDs are always >= 0.
const ControllerID = -1

// BroadcastID is the reserved target address for fan-out delivery to every
// unit except the sender.
const BroadcastID = -2

// Lifecycle represents the lifecycle phase of a single cluster unit.
type Lifecycle int

const (
	// LifecycleSpawning indicates the unit's execution handle exists but the
	// unit has not yet signaled ready.
	LifecycleSpawning Lifecycle = iota

	// LifecycleReady indicates the unit signaled ready and is serving its shards.
	LifecycleReady

	// LifecycleExited indicates the unit's handle terminated (crash or kill).
	LifecycleExited
)

// String returns the string representation of the lifecycle phase.
func (l Lifecycle) String() string {
	switch l {
	case LifecycleSpawning:
		return "Spawning"
	case LifecycleReady:
		return "Ready"
	case LifecycleExited:
		return "Exited"
	default:
		return "Unknown"
	}
}

// HeartbeatState tracks the liveness bookkeeping for one unit.
type HeartbeatState struct {
	// LastAck is the time of the most recent heartbeat acknowledgment.
	LastAck time.Time

	// Missed is the number of consecutive heartbeat probes without an ack.
	Missed int

	// Restarts is the number of times this unit ID was respawned after being
	// declared unresponsive.
	Restarts int
}

// UnitSnapshot is a point-in-time copy of a cluster unit's public state.
//
// Snapshots are safe to retain; they never alias registry-internal state.
type UnitSnapshot struct {
	ID        int
	ShardIDs  []int
	Lifecycle Lifecycle
	Ready     bool
	Heartbeat HeartbeatState
	PID       int
}

// SpawnItem describes one unit to materialize: its ID and shard assignment.
//
// Items are consumed by the spawn queue in FIFO order.
type SpawnItem struct {
	UnitID   int
	ShardIDs []int
}
