package types

import "errors"

// Sentinel errors for the cluster library.
//
// These errors provide type-safe error checking using errors.Is() and errors.As().
// All components should use these sentinel errors for known error conditions
// and wrap external errors with context using fmt.Errorf("%s: %w", msg, err).

// Protocol errors - failures in the IPC message path.
var (
	// ErrSerialization is returned when a payload is not transmittable.
	// The send is rejected before anything reaches the wire.
	ErrSerialization = errors.New("payload not serializable")

	// ErrHandlerNotFound is returned when a remote unit has no handler
	// registered under the requested name. This is an ordinary error reply,
	// not a transport fault.
	ErrHandlerNotFound = errors.New("no handler registered")

	// ErrHandlerFailed is returned when a remote handler raised an error.
	// The wrapped message carries the failure description only.
	ErrHandlerFailed = errors.New("handler failed")

	// ErrRequestTimeout is returned when no reply arrived within the
	// caller's deadline. In-flight remote work is abandoned, not cancelled.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrUnreachableUnit is returned when the targeted unit ID is not
	// present in the registry.
	ErrUnreachableUnit = errors.New("unit not present in registry")
)

// HandlerNotFoundError reports a request naming an unregistered handler.
// Its message is the exact description carried in the error reply on the
// wire, so every responder phrases it identically.
type HandlerNotFoundError struct {
	Name string
}

func (e *HandlerNotFoundError) Error() string {
	return "No handler registered for '" + e.Name + "'"
}

func (e *HandlerNotFoundError) Unwrap() error { return ErrHandlerNotFound }

// Lifecycle errors - failures in fleet spawning and supervision.
var (
	// ErrSpawnTimeout is returned when a unit did not signal ready within
	// the configured spawn timeout.
	ErrSpawnTimeout = errors.New("unit did not become ready in time")

	// ErrHeartbeatExhausted indicates a unit exceeded both the missed
	// heartbeat limit and the restart cap. The unit ID stays exited until
	// externally respawned.
	ErrHeartbeatExhausted = errors.New("heartbeat restart cap exhausted")

	// ErrReplacementFailed is returned when a fleet regeneration could not
	// complete. Partial state is left in place and surfaced, never retried
	// silently.
	ErrReplacementFailed = errors.New("fleet replacement failed")

	// ErrReplacementInProgress is returned when a regeneration is requested
	// while another one is still running.
	ErrReplacementInProgress = errors.New("replacement already in progress")

	// ErrUnitTerminated is returned when sending on a handle whose unit has
	// already exited.
	ErrUnitTerminated = errors.New("unit terminated")
)

// Manager errors - public API errors returned by the Manager.
var (
	// ErrInvalidConfig is returned when the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSpawnerRequired is returned when no unit spawner is configured.
	ErrSpawnerRequired = errors.New("unit spawner is required")

	// ErrAlreadyStarted is returned when Start is called on a running manager.
	ErrAlreadyStarted = errors.New("manager already started")

	// ErrNotStarted is returned when operations require a started manager.
	ErrNotStarted = errors.New("manager not started")

	// ErrShuttingDown is returned for operations issued during shutdown.
	ErrShuttingDown = errors.New("manager shutting down")
)

// SpawnQueue errors.
var (
	// ErrQueueEmpty is returned by a manual advance on an empty queue.
	ErrQueueEmpty = errors.New("spawn queue is empty")

	// ErrAutoAdvance is returned when Advance is called externally while the
	// queue is in automatic mode.
	ErrAutoAdvance = errors.New("queue advances automatically")
)
