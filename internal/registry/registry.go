// Package registry owns the set of cluster units and their lifecycle.
//
// The registry is the single serialization point for structural changes to
// the unit set (spawn, kill, swap); all other subsystems hold a reference
// and use read-only lookups or send operations. Concurrent structural
// mutation during an in-flight broadcast therefore cannot corrupt the
// broadcast's expected-count accounting: fan-out snapshots the unit set
// under the read lock.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/LucasCzechia/discord-cluster/types"
)

// BaseInfo carries the generation-wide startup data shared by all spawns.
type BaseInfo struct {
	TotalShards      int
	TotalClusters    int
	ShardsPerCluster int
	Data             map[string]any
}

// Registry owns the unit set for one controller.
type Registry struct {
	mu       sync.RWMutex
	units    map[int]*Unit
	expected int
	info     BaseInfo

	spawner types.Spawner

	// deliver receives every inbound message from any spawned unit, current
	// or detached. The receiving side decides what a non-current unit may do.
	deliver func(u *Unit, msg types.Message)

	// onExit fires once per handle termination, crash or deliberate.
	onExit func(u *Unit, info types.ExitInfo)

	announced bool

	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates a registry expecting the given number of units.
func New(spawner types.Spawner, expected int, info BaseInfo, logger types.Logger, metrics types.MetricsCollector) *Registry {
	return &Registry{
		units:    make(map[int]*Unit, expected),
		expected: expected,
		info:     info,
		spawner:  spawner,
		logger:   logger,
		metrics:  metrics,
	}
}

// SetDeliver wires the inbound message sink. Must be set before any spawn.
func (r *Registry) SetDeliver(deliver func(u *Unit, msg types.Message)) {
	r.deliver = deliver
}

// SetOnExit wires the exit notification sink. Must be set before any spawn.
func (r *Registry) SetOnExit(onExit func(u *Unit, info types.ExitInfo)) {
	r.onExit = onExit
}

// Spawn materializes a detached unit: the handle exists and its messages
// flow, but the unit is not yet the registry's entry for its ID.
//
// Replacement strategies spawn detached units next to the old generation and
// swap them in only once ready. Regular fleet buildup spawns detached and
// inserts immediately via Create.
//
// Parameters:
//   - ctx: Context for the spawn operation
//   - item: Unit ID and shard assignment
//   - restarts: Restart count carried over from a respawned predecessor
//
// Returns:
//   - *Unit: Detached unit record with a live handle
//   - error: Spawner failure
func (r *Registry) Spawn(ctx context.Context, item types.SpawnItem, restarts int) (*Unit, error) {
	u := newUnit(item.UnitID, item.ShardIDs, restarts)

	r.mu.RLock()
	info := r.info
	r.mu.RUnlock()

	handle, err := r.spawner.Spawn(ctx, types.SpawnOptions{
		Info: types.SpawnInfo{
			UnitID:           item.UnitID,
			ShardIDs:         u.ShardIDs,
			TotalShards:      info.TotalShards,
			TotalClusters:    info.TotalClusters,
			ShardsPerCluster: info.ShardsPerCluster,
			Data:             info.Data,
		},
		Deliver: func(msg types.Message) { r.deliver(u, msg) },
		OnExit: func(info types.ExitInfo) {
			u.MarkExited()
			r.onExit(u, info)
		},
	})
	if err != nil {
		r.metrics.RecordSpawn(item.UnitID, false)

		return nil, fmt.Errorf("failed to spawn unit %d: %w", item.UnitID, err)
	}

	u.handle = handle
	r.metrics.RecordSpawn(item.UnitID, true)
	r.logger.Debug("unit spawned", "unit_id", item.UnitID, "shards", len(item.ShardIDs))

	return u, nil
}

// Insert makes the unit the registry's entry for its ID, terminating any
// prior entry's handle first.
func (r *Registry) Insert(u *Unit) {
	r.mu.Lock()
	prior, had := r.units[u.ID]
	r.units[u.ID] = u
	size := len(r.units)
	r.mu.Unlock()

	if had && prior != u {
		// Old handle goes down before the new entry is visible to senders.
		if err := prior.Terminate("replaced"); err != nil {
			r.logger.Warn("failed to terminate replaced unit", "unit_id", u.ID, "error", err)
		}
	}

	r.metrics.RecordFleetSize(size)
}

// Create spawns a unit and immediately inserts it as the current entry.
func (r *Registry) Create(ctx context.Context, item types.SpawnItem, restarts int) (*Unit, error) {
	u, err := r.Spawn(ctx, item, restarts)
	if err != nil {
		return nil, err
	}
	r.Insert(u)

	return u, nil
}

// Swap replaces the current entry for id with the already-ready replacement.
//
// The old entry's handle is terminated as part of the swap; its exit is
// deliberate and must not trigger the respawn policy (the old unit is no
// longer current when its exit notification fires).
func (r *Registry) Swap(id int, replacement *Unit) {
	r.mu.Lock()
	old, had := r.units[id]
	r.units[id] = replacement
	size := len(r.units)
	r.mu.Unlock()

	if had {
		if err := old.Terminate("generation swap"); err != nil {
			r.logger.Warn("failed to terminate old generation unit", "unit_id", id, "error", err)
		}
	}

	r.metrics.RecordFleetSize(size)
}

// Get returns the current entry for a unit ID.
func (r *Registry) Get(id int) (*Unit, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.units[id]

	return u, ok
}

// IsCurrent reports whether u is the registry's entry for its ID.
//
// Detached replacements and swapped-out old units fail this check; the
// dispatch path uses it to fence them off from everything except their
// ready signal.
func (r *Registry) IsCurrent(u *Unit) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.units[u.ID] == u
}

// Kill terminates the current entry for id.
func (r *Registry) Kill(id int, reason string) error {
	u, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: unit %d", types.ErrUnreachableUnit, id)
	}

	r.logger.Info("killing unit", "unit_id", id, "reason", reason)

	return u.Terminate(reason)
}

// KillAll terminates every current entry.
func (r *Registry) KillAll(reason string) {
	for _, u := range r.all() {
		if err := u.Terminate(reason); err != nil {
			r.logger.Warn("failed to terminate unit", "unit_id", u.ID, "error", err)
		}
	}
}

// Remove drops the entry for id if it is still the given unit.
//
// Used when a unit is terminally exited (restart cap exhausted) and for
// shrinking generations.
func (r *Registry) Remove(id int, u *Unit) {
	r.mu.Lock()
	if r.units[id] == u {
		delete(r.units, id)
	}
	size := len(r.units)
	r.mu.Unlock()

	r.metrics.RecordFleetSize(size)
}

// Send delivers a message to the current entry for id.
func (r *Registry) Send(id int, msg types.Message) error {
	u, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: unit %d", types.ErrUnreachableUnit, id)
	}

	return u.Send(msg)
}

// Fanout sends a message to every ready unit except exclude
// (types.ControllerID excludes nobody). Returns the IDs reached.
func (r *Registry) Fanout(msg types.Message, exclude int) []int {
	reached := make([]int, 0)
	for _, u := range r.all() {
		if u.ID == exclude || !u.Ready() {
			continue
		}
		if err := u.Send(msg); err != nil {
			r.logger.Warn("fanout send failed", "unit_id", u.ID, "type", msg.Type.String(), "error", err)

			continue
		}
		reached = append(reached, u.ID)
	}

	r.metrics.RecordBroadcastFanout(len(reached))

	return reached
}

// Size returns the number of current entries.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.units)
}

// Expected returns the configured total unit count.
func (r *Registry) Expected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.expected
}

// SetExpected updates the expected unit count for a new generation.
func (r *Registry) SetExpected(expected int) {
	r.mu.Lock()
	r.expected = expected
	r.announced = false
	r.mu.Unlock()
}

// SetBaseInfo replaces the generation-wide startup data. Subsequent spawns
// announce the new fleet shape to their units.
func (r *Registry) SetBaseInfo(info BaseInfo) {
	r.mu.Lock()
	r.info = info
	r.mu.Unlock()
}

// ReadyIDs returns the IDs of all ready units, ascending.
func (r *Registry) ReadyIDs() []int {
	ids := make([]int, 0)
	for _, u := range r.all() {
		if u.Ready() {
			ids = append(ids, u.ID)
		}
	}
	sort.Ints(ids)

	return ids
}

// IDs returns all current unit IDs, ascending.
func (r *Registry) IDs() []int {
	r.mu.RLock()
	ids := make([]int, 0, len(r.units))
	for id := range r.units {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Ints(ids)

	return ids
}

// Snapshot returns point-in-time copies of every current unit, ascending by ID.
func (r *Registry) Snapshot() []types.UnitSnapshot {
	units := r.all()
	snaps := make([]types.UnitSnapshot, 0, len(units))
	for _, u := range units {
		snaps = append(snaps, u.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	return snaps
}

// ChildPIDs returns the OS process IDs of all current units that have one.
func (r *Registry) ChildPIDs() []int {
	pids := make([]int, 0)
	for _, u := range r.all() {
		if pid := u.PID(); pid > 0 {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)

	return pids
}

// TryAnnounceReady atomically checks fleet-wide readiness.
//
// Returns true exactly once per generation, when the registry holds the
// expected number of units and every one of them is ready.
func (r *Registry) TryAnnounceReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.announced || len(r.units) != r.expected {
		return false
	}
	for _, u := range r.units {
		if !u.Ready() {
			return false
		}
	}

	r.announced = true

	return true
}

func (r *Registry) all() []*Unit {
	r.mu.RLock()
	defer r.mu.RUnlock()

	units := make([]*Unit, 0, len(r.units))
	for _, u := range r.units {
		units = append(units, u)
	}

	return units
}
