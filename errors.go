package cluster

import "github.com/LucasCzechia/discord-cluster/types"

// Re-export sentinel errors from the types package so callers can match
// with errors.Is against the root package.
var (
	ErrSerialization         = types.ErrSerialization
	ErrHandlerNotFound       = types.ErrHandlerNotFound
	ErrHandlerFailed         = types.ErrHandlerFailed
	ErrRequestTimeout        = types.ErrRequestTimeout
	ErrUnreachableUnit       = types.ErrUnreachableUnit
	ErrSpawnTimeout          = types.ErrSpawnTimeout
	ErrHeartbeatExhausted    = types.ErrHeartbeatExhausted
	ErrReplacementFailed     = types.ErrReplacementFailed
	ErrReplacementInProgress = types.ErrReplacementInProgress
	ErrUnitTerminated        = types.ErrUnitTerminated
	ErrInvalidConfig         = types.ErrInvalidConfig
	ErrSpawnerRequired       = types.ErrSpawnerRequired
	ErrAlreadyStarted        = types.ErrAlreadyStarted
	ErrNotStarted            = types.ErrNotStarted
	ErrShuttingDown          = types.ErrShuttingDown
	ErrQueueEmpty            = types.ErrQueueEmpty
	ErrAutoAdvance           = types.ErrAutoAdvance
)
