package types

import "context"

// Handle is the controller-side endpoint of one unit's execution transport.
//
// A handle is exclusively owned by the registry entry for its unit ID.
// Implementations cover isolated-memory OS processes, shared-memory
// goroutines, and broker-carried remote units; the registry treats them all
// identically.
type Handle interface {
	// Send delivers a message to the unit. Payloads must satisfy the
	// transmission constraint; violations fail with ErrSerialization before
	// anything is written. Sending on a terminated handle returns
	// ErrUnitTerminated.
	Send(msg Message) error

	// Terminate tears the unit down. It is idempotent; the handle's exit
	// notification fires exactly once with Crashed=false for deliberate
	// termination.
	Terminate(reason string) error

	// PID returns the OS process ID backing the unit, or 0 for transports
	// without one. Used by the liveness marker for orphan detection.
	PID() int
}

// ExitInfo describes how a unit's execution ended.
type ExitInfo struct {
	UnitID  int
	Code    int
	Reason  string
	Crashed bool
}

// SpawnInfo is the serializable startup data handed to a new unit.
type SpawnInfo struct {
	UnitID           int            `json:"unitId"`
	ShardIDs         []int          `json:"shardIds"`
	TotalShards      int            `json:"totalShards"`
	TotalClusters    int            `json:"totalClusters"`
	ShardsPerCluster int            `json:"shardsPerCluster"`
	Data             map[string]any `json:"data,omitempty"`
}

// SpawnOptions configures one unit spawn.
type SpawnOptions struct {
	// Info is the startup data delivered to the unit.
	Info SpawnInfo

	// Deliver receives every inbound message from the unit. It is invoked
	// from the transport's reader and must not block on slow work.
	Deliver func(msg Message)

	// OnExit is invoked exactly once when the unit's execution ends,
	// whether by crash or deliberate termination.
	OnExit func(info ExitInfo)
}

// Spawner materializes execution handles for new units.
//
// The concrete implementation (process, thread, broker) is selected at
// manager construction time; the registry only ever sees this interface.
type Spawner interface {
	Spawn(ctx context.Context, opts SpawnOptions) (Handle, error)
}

// Conn is the unit-side endpoint of the execution transport.
//
// The unit runtime reads its inbound messages from Recv and talks to the
// controller through Send. Recv returns an error once the transport closes.
type Conn interface {
	Send(msg Message) error
	Recv(ctx context.Context) (Message, error)
	Close() error
}
