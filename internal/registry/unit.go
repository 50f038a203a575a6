package registry

import (
	"sync"
	"time"

	"github.com/LucasCzechia/discord-cluster/types"
)

// Unit is the live record of one execution unit.
//
// The handle is exclusively owned by this record. Lifecycle and heartbeat
// fields are guarded by the unit's own mutex so the dispatch path can update
// them without taking the registry write lock.
type Unit struct {
	ID       int
	ShardIDs []int

	handle types.Handle

	mu         sync.Mutex
	lifecycle  types.Lifecycle
	readyCh    chan struct{}
	spawnedAt  time.Time
	lastAck    time.Time
	missed     int
	restarts   int
	superseded bool
}

func newUnit(id int, shardIDs []int, restarts int) *Unit {
	shards := make([]int, len(shardIDs))
	copy(shards, shardIDs)

	return &Unit{
		ID:        id,
		ShardIDs:  shards,
		lifecycle: types.LifecycleSpawning,
		readyCh:   make(chan struct{}),
		spawnedAt: time.Now(),
		restarts:  restarts,
	}
}

// Send delivers a message through the unit's handle.
func (u *Unit) Send(msg types.Message) error {
	return u.handle.Send(msg)
}

// Terminate tears the unit's handle down.
func (u *Unit) Terminate(reason string) error {
	return u.handle.Terminate(reason)
}

// PID returns the OS process backing the unit, or 0.
func (u *Unit) PID() int {
	return u.handle.PID()
}

// MarkReady transitions Spawning→Ready.
//
// Returns true only on the first call; the ready channel is closed exactly once.
func (u *Unit) MarkReady() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.lifecycle != types.LifecycleSpawning {
		return false
	}

	u.lifecycle = types.LifecycleReady
	close(u.readyCh)

	return true
}

// MarkExited transitions the unit to Exited.
func (u *Unit) MarkExited() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.lifecycle = types.LifecycleExited
}

// ReadyCh returns a channel closed once the unit signals ready.
func (u *Unit) ReadyCh() <-chan struct{} {
	return u.readyCh
}

// Ready reports whether the unit has signaled ready and not exited.
func (u *Unit) Ready() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.lifecycle == types.LifecycleReady
}

// Lifecycle returns the current lifecycle phase.
func (u *Unit) Lifecycle() types.Lifecycle {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.lifecycle
}

// SpawnAge returns the time since the handle was created.
func (u *Unit) SpawnAge() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()

	return time.Since(u.spawnedAt)
}

// RecordAck resets the missed counter and stamps the last acknowledgment.
func (u *Unit) RecordAck(at time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.lastAck = at
	u.missed = 0
}

// IncrementMissed bumps the missed probe counter and returns the new value.
func (u *Unit) IncrementMissed() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.missed++

	return u.missed
}

// MarkSuperseded records that the caller terminating this unit owns its
// replacement. The controller's exit handler must not respawn a superseded
// unit; whoever marked it decides what comes next.
func (u *Unit) MarkSuperseded() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.superseded = true
}

// Superseded reports whether a terminating caller claimed the respawn.
func (u *Unit) Superseded() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.superseded
}

// Restarts returns how many times this unit ID was respawned.
func (u *Unit) Restarts() int {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.restarts
}

// Snapshot returns a point-in-time copy of the unit's public state.
func (u *Unit) Snapshot() types.UnitSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()

	shards := make([]int, len(u.ShardIDs))
	copy(shards, u.ShardIDs)

	return types.UnitSnapshot{
		ID:        u.ID,
		ShardIDs:  shards,
		Lifecycle: u.lifecycle,
		Ready:     u.lifecycle == types.LifecycleReady,
		Heartbeat: types.HeartbeatState{
			LastAck:  u.lastAck,
			Missed:   u.missed,
			Restarts: u.restarts,
		},
		PID: u.handle.PID(),
	}
}
