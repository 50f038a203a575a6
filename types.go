package cluster

import "github.com/LucasCzechia/discord-cluster/types"

// Re-export types from the internal types package.
//
// This file provides a stable public API for the library's core types and
// interfaces. It uses type aliases to re-export definitions from the `types`
// subpackage, which contains the actual implementations.
//
// This pattern solves the "import cycle" problem by allowing internal
// packages to depend on `types` without depending on the root `cluster`
// package, while still providing a convenient `cluster.State`,
// `cluster.Logger`, etc. for users.
type (
	State            = types.State
	Message          = types.Message
	MsgType          = types.MsgType
	Result           = types.Result
	ResultCollection = types.ResultCollection
	UnitSnapshot     = types.UnitSnapshot
	SpawnInfo        = types.SpawnInfo
	SpawnItem        = types.SpawnItem
	ExitInfo         = types.ExitInfo
	Lifecycle        = types.Lifecycle
)

// Re-export interfaces from the internal types package for convenience.
type (
	Spawner          = types.Spawner
	Handle           = types.Handle
	Conn             = types.Conn
	Handler          = types.Handler
	MetricsCollector = types.MetricsCollector
	Logger           = types.Logger
	Hooks            = types.Hooks
)

// Re-export State constants from the internal types package.
const (
	StateInit      = types.StateInit
	StateSpawning  = types.StateSpawning
	StateReady     = types.StateReady
	StateReplacing = types.StateReplacing
	StateDegraded  = types.StateDegraded
	StateShutdown  = types.StateShutdown
)

// Re-export addressing constants.
const (
	// ControllerID addresses the controller in message routing.
	ControllerID = types.ControllerID

	// BroadcastID addresses every unit except the sender.
	BroadcastID = types.BroadcastID
)
