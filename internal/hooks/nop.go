// Package hooks provides the default no-op lifecycle hooks.
package hooks

import (
	"context"

	"github.com/LucasCzechia/discord-cluster/types"
)

// NopHooks implements Hooks with no-op callbacks.
//
// This is the default implementation used when no custom hooks are provided,
// eliminating the need for nil checks throughout the codebase.
type NopHooks struct{}

// NewNop creates a new no-op hooks implementation.
//
// Returns:
//   - types.Hooks: Hooks with no-op implementations
func NewNop() types.Hooks {
	h := &NopHooks{}

	return types.Hooks{
		OnUnitCreated:  h.OnUnitCreated,
		OnUnitReady:    h.OnUnitReady,
		OnFleetReady:   h.OnFleetReady,
		OnUnitExited:   h.OnUnitExited,
		OnStateChanged: h.OnStateChanged,
		OnError:        h.OnError,
		OnFatal:        h.OnFatal,
	}
}

// OnUnitCreated is a no-op implementation.
func (h *NopHooks) OnUnitCreated(_ context.Context, _ types.UnitSnapshot) error {
	return nil
}

// OnUnitReady is a no-op implementation.
func (h *NopHooks) OnUnitReady(_ context.Context, _ types.UnitSnapshot) error {
	return nil
}

// OnFleetReady is a no-op implementation.
func (h *NopHooks) OnFleetReady(_ context.Context) error {
	return nil
}

// OnUnitExited is a no-op implementation.
func (h *NopHooks) OnUnitExited(_ context.Context, _ types.UnitSnapshot, _ types.ExitInfo) error {
	return nil
}

// OnStateChanged is a no-op implementation.
func (h *NopHooks) OnStateChanged(_ context.Context, _, _ types.State) error {
	return nil
}

// OnError is a no-op implementation.
func (h *NopHooks) OnError(_ context.Context, _ error) error {
	return nil
}

// OnFatal is a no-op implementation.
func (h *NopHooks) OnFatal(_ context.Context, _ int, _ error) error {
	return nil
}
