package types

import "context"

// Hooks defines callbacks for fleet lifecycle events.
//
// All hooks are optional and called asynchronously in background goroutines
// to avoid blocking the controller's dispatch path. Hooks receive the
// manager's lifecycle context, which is cancelled during shutdown.
//
// Hook execution behavior:
//   - Hooks run concurrently and may not complete before Stop() returns
//   - Hook errors are logged but never fail manager operations
//   - The core does not depend on any particular formatting of these
//     notifications; they exist for external logging/metrics collaborators
//
// Best practices for hook implementation:
//   - Complete quickly (< 1 second recommended)
//   - Respect context cancellation
//   - Make hooks idempotent
type Hooks struct {
	// OnUnitCreated is called when a unit's execution handle is created.
	OnUnitCreated func(ctx context.Context, unit UnitSnapshot) error

	// OnUnitReady is called when a unit signals ready.
	OnUnitReady func(ctx context.Context, unit UnitSnapshot) error

	// OnFleetReady is called exactly once per generation, when every
	// expected unit has signaled ready.
	OnFleetReady func(ctx context.Context) error

	// OnUnitExited is called when a unit's execution ends.
	OnUnitExited func(ctx context.Context, unit UnitSnapshot, info ExitInfo) error

	// OnStateChanged is called when the controller state transitions.
	OnStateChanged func(ctx context.Context, from, to State) error

	// OnError is called when a recoverable error occurs.
	OnError func(ctx context.Context, err error) error

	// OnFatal is called when a unit exhausts its restart policy or a
	// regeneration fails. These conditions require operator attention and
	// are never silently retried.
	OnFatal func(ctx context.Context, unitID int, err error) error
}
