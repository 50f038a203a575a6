package cluster

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LucasCzechia/discord-cluster/guard"
	"github.com/LucasCzechia/discord-cluster/internal/hbmon"
	"github.com/LucasCzechia/discord-cluster/internal/ipc"
	"github.com/LucasCzechia/discord-cluster/internal/pending"
	"github.com/LucasCzechia/discord-cluster/internal/registry"
	"github.com/LucasCzechia/discord-cluster/internal/relay"
	"github.com/LucasCzechia/discord-cluster/internal/replace"
	"github.com/LucasCzechia/discord-cluster/internal/spawnq"
	"github.com/LucasCzechia/discord-cluster/internal/store"
	"github.com/LucasCzechia/discord-cluster/routing"
	"github.com/LucasCzechia/discord-cluster/types"
)

// Replacement strategy aliases for the public API.
type (
	// Strategy selects how a fleet regeneration proceeds.
	Strategy = replace.Strategy

	// Generation describes the target fleet shape of a regeneration.
	Generation = replace.Generation
)

// Re-export replacement strategies.
const (
	Rolling        = replace.Rolling
	GracefulSwitch = replace.GracefulSwitch
)

// Listener receives relay events delivered to the controller.
type Listener = relay.Listener

// Manager is the fleet controller: it owns the unit set, paces spawning,
// routes all IPC, monitors liveness, and drives regenerations.
//
// A Manager moves through a validated state machine: Init → Spawning →
// Ready, with Replacing during regenerations, Degraded when a unit is
// terminally down, and Shutdown as the terminal state.
type Manager struct {
	cfg     *Config
	spawner types.Spawner

	state atomic.Int32

	stateMu      sync.Mutex
	stateChanged chan struct{}

	// shapeMu guards the fleet-shape fields of cfg, which Replace rewrites
	// while routing reads them.
	shapeMu sync.RWMutex

	reg      *registry.Registry
	queue    *spawnq.Queue
	router   *ipc.Router
	relay    *relay.Relay
	monitor  *hbmon.Monitor
	replacer *replace.Replacer
	store    *store.Store
	marker   *guard.Marker

	dispatchTable map[types.MsgType]func(u *registry.Unit, msg types.Message)

	ctx    context.Context
	cancel context.CancelFunc

	started   atomic.Bool
	stopping  atomic.Bool
	replacing atomic.Bool
	stopOnce  sync.Once

	hooks   types.Hooks
	logger  types.Logger
	metrics types.MetricsCollector
}

// NewManager creates a fleet controller.
//
// The configuration is defaulted and validated; validation warnings are
// logged. The spawner decides where units run (goroutines, child processes,
// or remote processes over NATS).
//
// Parameters:
//   - cfg: Controller configuration; nil is rejected
//   - spawner: Unit spawner; nil is rejected
//   - opts: Optional dependencies (logger, metrics, hooks)
//
// Returns:
//   - *Manager: Controller in StateInit
//   - error: ErrInvalidConfig or ErrSpawnerRequired
func NewManager(cfg *Config, spawner types.Spawner, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is nil", types.ErrInvalidConfig)
	}
	if spawner == nil {
		return nil, types.ErrSpawnerRequired
	}

	cfg.SetDefaults()

	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	warnings, err := cfg.ValidateWithWarnings()
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		options.logger.Warn("config warning", "warning", w)
	}

	m := &Manager{
		cfg:          cfg,
		spawner:      spawner,
		stateChanged: make(chan struct{}),
		hooks:        options.hooks,
		logger:       options.logger,
		metrics:      options.metrics,
	}
	m.state.Store(int32(types.StateInit))

	nonces := pending.NewNonceSource()

	m.store = store.New(cfg.Store.SweepInterval, m.logger, m.metrics)

	m.reg = registry.New(spawner, cfg.TotalClusters, registry.BaseInfo{
		TotalShards:      cfg.TotalShards,
		TotalClusters:    cfg.TotalClusters,
		ShardsPerCluster: cfg.ShardsPerCluster,
		Data:             cfg.Data,
	}, m.logger, m.metrics)
	m.reg.SetDeliver(m.dispatch)
	m.reg.SetOnExit(m.onExit)

	m.router = ipc.New(m.reg, m.store, nonces, cfg.RequestTimeout, m.logger, m.metrics)
	m.relay = relay.New(m.reg, m.router.Broadcasts(), nonces, cfg.RequestTimeout, m.logger, m.metrics)

	m.monitor = hbmon.New(hbmon.Config{
		Interval:    cfg.Heartbeat.Interval,
		Timeout:     cfg.Heartbeat.Timeout,
		MaxMissed:   cfg.Heartbeat.MaxMissed,
		MaxRestarts: cfg.Heartbeat.MaxRestarts,
	}, m.reg, nonces, m.logger, m.metrics)
	m.monitor.SetRespawn(m.respawnUnit)
	m.monitor.SetFatal(m.fatalUnit)

	m.replacer = replace.New(m.reg, cfg.Spawn.Timeout, m.logger, m.metrics)

	mode := spawnq.Auto
	if cfg.Spawn.Mode == SpawnModeManual {
		mode = spawnq.Manual
	}
	m.queue = spawnq.New(mode, cfg.Spawn.Delay, cfg.Spawn.Timeout, m.spawnItem, m.logger)

	if cfg.Guard.MarkerPath != "" {
		m.marker = guard.NewMarker(cfg.Guard.MarkerPath, cfg.Guard.MarkerInterval, m.reg.ChildPIDs, m.logger)
	}

	m.dispatchTable = map[types.MsgType]func(u *registry.Unit, msg types.Message){
		types.MsgControl:      m.handleControl,
		types.MsgRequest:      m.router.DispatchRequest,
		types.MsgResponse:     m.router.DispatchReply,
		types.MsgError:        m.router.DispatchReply,
		types.MsgBroadcast:    m.router.DispatchBroadcast,
		types.MsgStoreOp:      m.router.DispatchStoreOp,
		types.MsgEvent:        m.relay.DispatchEvent,
		types.MsgEventAck:     m.relay.DispatchEventAck,
		types.MsgHeartbeatAck: m.handleHeartbeatAck,
	}

	return m, nil
}

// Start brings the fleet up.
//
// Orphaned unit processes from a previous crashed run are swept first, then
// the spawn queue is filled with the shard plan and, in auto mode, begins
// pacing unit creation. Start returns immediately; fleet readiness is
// observable through WaitState, the OnFleetReady hook, or the units'
// fleet-ready control message.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return types.ErrAlreadyStarted
	}

	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if m.cfg.Guard.MarkerPath != "" {
		if swept, err := guard.SweepOrphans(m.cfg.Guard.MarkerPath, m.logger); err != nil {
			m.logger.Warn("orphan sweep failed", "error", err)
		} else if swept > 0 {
			m.logger.Info("orphaned unit processes swept", "count", swept)
		}
	}

	if m.marker != nil {
		m.marker.Start(m.ctx)
	}

	m.store.Start(m.ctx)
	m.transition(types.StateInit, types.StateSpawning)

	m.shapeMu.RLock()
	totalShards, totalClusters, shardsPerCluster := m.cfg.TotalShards, m.cfg.TotalClusters, m.cfg.ShardsPerCluster
	m.shapeMu.RUnlock()

	plan := routing.Plan(totalShards, totalClusters, shardsPerCluster)
	items := make([]types.SpawnItem, 0, len(plan))
	for _, id := range sortedKeys(plan) {
		items = append(items, types.SpawnItem{UnitID: id, ShardIDs: plan[id]})
	}
	m.queue.Enqueue(items...)
	m.queue.Start(m.ctx)

	m.monitor.Start(m.ctx)

	m.logger.Info("fleet starting",
		"total_shards", totalShards,
		"total_clusters", totalClusters,
		"shards_per_cluster", shardsPerCluster,
		"spawn_mode", m.cfg.Spawn.Mode,
	)

	return nil
}

// Stop shuts the fleet down: units receive a terminate control message,
// their handles are terminated, and the liveness marker is removed.
func (m *Manager) Stop() error {
	if !m.started.Load() {
		return types.ErrNotStarted
	}

	m.stopOnce.Do(func() {
		m.stopping.Store(true)
		m.transition(m.State(), types.StateShutdown)

		m.monitor.Stop()

		// Politeness first, then force.
		m.reg.Fanout(types.Message{
			Type: types.MsgControl,
			From: types.ControllerID,
			To:   types.BroadcastID,
			Name: types.ControlTerminate,
		}, types.ControllerID)
		m.reg.KillAll("controller shutdown")

		m.cancel()
		m.queue.Wait()
		m.store.Stop()

		if m.marker != nil {
			m.marker.Stop()
			if err := m.marker.Remove(); err != nil {
				m.logger.Warn("failed to remove liveness marker", "error", err)
			}
		}

		m.logger.Info("fleet stopped")
	})

	return nil
}

// Advance spawns the next queued unit. Only valid in manual spawn mode.
func (m *Manager) Advance(ctx context.Context) error {
	if !m.started.Load() {
		return types.ErrNotStarted
	}

	return m.queue.Advance(ctx)
}

// State returns the current controller state.
func (m *Manager) State() types.State {
	return types.State(m.state.Load())
}

// WaitState blocks until the controller reaches the given state.
func (m *Manager) WaitState(ctx context.Context, want types.State) error {
	for {
		m.stateMu.Lock()
		changed := m.stateChanged
		m.stateMu.Unlock()

		if m.State() == want {
			return nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Units returns point-in-time snapshots of every current unit.
func (m *Manager) Units() []types.UnitSnapshot {
	return m.reg.Snapshot()
}

// ReadyIDs returns the IDs of all ready units, ascending.
func (m *Manager) ReadyIDs() []int {
	return m.reg.ReadyIDs()
}

// Store returns the controller-local shared store.
func (m *Manager) Store() *store.Store {
	return m.store
}

// Handle registers a named controller-side request handler.
func (m *Manager) Handle(name string, fn types.Handler) {
	m.router.Handle(name, fn)
}

// Unhandle removes a named controller-side request handler.
func (m *Manager) Unhandle(name string) {
	m.router.Unhandle(name)
}

// Request executes a named handler on one unit and waits for its reply.
func (m *Manager) Request(ctx context.Context, unitID int, name string, payload any) (any, error) {
	return m.router.Request(ctx, unitID, name, payload, m.cfg.RequestTimeout)
}

// RequestAll executes a named handler on every ready unit and aggregates
// the replies. Units missing the deadline are absent from the collection.
func (m *Manager) RequestAll(ctx context.Context, name string, payload any, timeout time.Duration) (types.ResultCollection, error) {
	return m.router.RequestAll(ctx, name, payload, timeout)
}

// RequestForKey executes a named handler on the unit owning the given
// partition key.
func (m *Manager) RequestForKey(ctx context.Context, key string, name string, payload any) (any, error) {
	m.shapeMu.RLock()
	totalShards, shardsPerCluster := m.cfg.TotalShards, m.cfg.ShardsPerCluster
	m.shapeMu.RUnlock()

	shard := routing.ShardForKey(key, totalShards)
	unitID := routing.UnitForShard(shard, shardsPerCluster)

	return m.Request(ctx, unitID, name, payload)
}

// On registers a controller-local listener for a named relay event.
func (m *Manager) On(event string, fn Listener) {
	m.relay.On(event, fn)
}

// Off removes every controller-local listener for a named relay event.
func (m *Manager) Off(event string) {
	m.relay.Off(event)
}

// Broadcast publishes an event to every ready unit. Fire-and-forget.
func (m *Manager) Broadcast(event string, data any) error {
	return m.relay.Broadcast(event, data)
}

// EmitTo publishes an event to one unit. Fire-and-forget.
func (m *Manager) EmitTo(unitID int, event string, data any) error {
	return m.relay.EmitTo(unitID, event, data)
}

// BroadcastAndWait publishes a tracked event and waits until the expected
// number of units acknowledged local delivery.
func (m *Manager) BroadcastAndWait(ctx context.Context, event string, data any, expected int, timeout time.Duration) (int, error) {
	return m.relay.BroadcastAndWait(ctx, event, data, expected, timeout)
}

// Kill terminates a unit's execution. The exit is deliberate; the respawn
// policy does not apply.
func (m *Manager) Kill(unitID int, reason string) error {
	return m.reg.Kill(unitID, reason)
}

// Respawn deliberately replaces one unit with a fresh instance of the same
// shard assignment.
func (m *Manager) Respawn(ctx context.Context, unitID int) error {
	u, ok := m.reg.Get(unitID)
	if !ok {
		return fmt.Errorf("%w: unit %d", types.ErrUnreachableUnit, unitID)
	}

	u.MarkSuperseded()

	if err := u.Terminate("manual respawn"); err != nil {
		m.logger.Warn("failed to terminate unit for respawn", "unit_id", unitID, "error", err)
	}

	_, err := m.reg.Create(ctx, types.SpawnItem{UnitID: unitID, ShardIDs: u.ShardIDs}, u.Restarts()+1)

	return err
}

// Replace regenerates the whole fleet for a new shape with zero downtime.
//
// On success the manager's configuration reflects the new shape. On failure
// the controller enters StateDegraded; already-swapped units stay in place.
func (m *Manager) Replace(ctx context.Context, strategy Strategy, gen Generation) error {
	if !m.started.Load() {
		return types.ErrNotStarted
	}
	if m.stopping.Load() {
		return types.ErrShuttingDown
	}

	if gen.Data == nil {
		gen.Data = m.cfg.Data
	}

	// Neither bad arguments nor a duplicate call may move the state machine.
	if err := gen.Validate(); err != nil {
		return err
	}
	if !m.replacing.CompareAndSwap(false, true) {
		return types.ErrReplacementInProgress
	}
	defer m.replacing.Store(false)

	from := m.State()
	m.transition(from, types.StateReplacing)

	err := m.replacer.Replace(ctx, strategy, gen)
	if err != nil {
		if m.State() == types.StateReplacing {
			m.transition(types.StateReplacing, types.StateDegraded)
		}
		m.notifyError(err)

		return err
	}

	m.shapeMu.Lock()
	m.cfg.TotalShards = gen.TotalShards
	m.cfg.TotalClusters = gen.TotalClusters
	m.cfg.ShardsPerCluster = gen.ShardsPerCluster
	m.shapeMu.Unlock()

	if m.marker != nil {
		m.marker.Rewrite()
	}

	m.transition(types.StateReplacing, types.StateReady)
	m.checkFleetReady()

	return nil
}

// Regenerate replaces every unit while keeping the current fleet shape.
func (m *Manager) Regenerate(ctx context.Context, strategy Strategy) error {
	m.shapeMu.RLock()
	gen := Generation{
		TotalShards:      m.cfg.TotalShards,
		TotalClusters:    m.cfg.TotalClusters,
		ShardsPerCluster: m.cfg.ShardsPerCluster,
		Data:             m.cfg.Data,
	}
	m.shapeMu.RUnlock()

	return m.Replace(ctx, strategy, gen)
}

// NewProcessGuard builds a shutdown guard wired to this manager: on SIGINT
// or SIGTERM it stops the fleet and removes the liveness marker before the
// process exits.
func (m *Manager) NewProcessGuard() *guard.ProcessGuard {
	g := guard.NewProcessGuard(m.marker, m.cfg.Guard.ForceExitTimeout, m.logger)
	g.OnCleanup("stop fleet", m.cfg.Guard.ForceExitTimeout/2, func(context.Context) error {
		return m.Stop()
	})

	return g
}

// dispatch is the single inbound sink for every unit message.
//
// Non-current senders (detached replacements, swapped-out old units) are
// fenced off from everything except their ready control signal.
func (m *Manager) dispatch(u *registry.Unit, msg types.Message) {
	if !m.reg.IsCurrent(u) {
		if msg.Type == types.MsgControl && msg.Name == types.ControlReady {
			m.markUnitReady(u)

			return
		}

		m.logger.Debug("message from non-current unit dropped",
			"unit_id", u.ID, "type", msg.Type.String())

		return
	}

	handler, ok := m.dispatchTable[msg.Type]
	if !ok {
		m.logger.Debug("unhandled message type", "unit_id", u.ID, "type", msg.Type.String())

		return
	}

	handler(u, msg)
}

func (m *Manager) handleControl(u *registry.Unit, msg types.Message) {
	switch msg.Name {
	case types.ControlReady:
		m.markUnitReady(u)
	default:
		m.logger.Debug("unhandled control verb", "unit_id", u.ID, "verb", msg.Name)
	}
}

func (m *Manager) handleHeartbeatAck(u *registry.Unit, msg types.Message) {
	m.monitor.HandleAck(u, msg.Nonce)
}

func (m *Manager) markUnitReady(u *registry.Unit) {
	if !u.MarkReady() {
		return
	}

	m.metrics.RecordSpawnDuration(u.SpawnAge().Seconds())
	m.logger.Info("unit ready", "unit_id", u.ID, "spawn_age", u.SpawnAge())

	if m.hooks.OnUnitReady != nil {
		snapshot := u.Snapshot()
		go func() {
			if err := m.hooks.OnUnitReady(m.ctx, snapshot); err != nil {
				m.logger.Error("unit ready hook error", "unit_id", snapshot.ID, "error", err)
			}
		}()
	}

	// Replacement units are not current yet when they signal ready; the
	// fleet check for their generation runs once the swap completes.
	if m.reg.IsCurrent(u) {
		m.checkFleetReady()
	}
}

func (m *Manager) checkFleetReady() {
	if !m.reg.TryAnnounceReady() {
		return
	}

	m.logger.Info("fleet ready", "units", m.reg.Size())

	m.reg.Fanout(types.Message{
		Type: types.MsgControl,
		From: types.ControllerID,
		To:   types.BroadcastID,
		Name: types.ControlFleetReady,
	}, types.ControllerID)

	if m.hooks.OnFleetReady != nil {
		go func() {
			if err := m.hooks.OnFleetReady(m.ctx); err != nil {
				m.logger.Error("fleet ready hook error", "error", err)
			}
		}()
	}

	switch m.State() {
	case types.StateSpawning, types.StateDegraded:
		m.transition(m.State(), types.StateReady)
	default:
	}
}

// onExit fires once per handle termination, crash or deliberate.
func (m *Manager) onExit(u *registry.Unit, info types.ExitInfo) {
	m.logger.Info("unit exited",
		"unit_id", u.ID,
		"code", info.Code,
		"reason", info.Reason,
		"crashed", info.Crashed,
	)

	if m.hooks.OnUnitExited != nil {
		snapshot := u.Snapshot()
		go func() {
			if err := m.hooks.OnUnitExited(m.ctx, snapshot, info); err != nil {
				m.logger.Error("unit exited hook error", "unit_id", snapshot.ID, "error", err)
			}
		}()
	}

	if m.marker != nil {
		m.marker.Rewrite()
	}

	if m.stopping.Load() {
		return
	}

	// Respawn policy: any exit of the current generation is respawned here,
	// crash or kill, unless the terminating caller claimed the replacement
	// for itself (heartbeat monitor, manual respawn) or the unit was fenced
	// out by a generation swap.
	if m.cfg.RespawnOnExit && m.reg.IsCurrent(u) && !u.Superseded() {
		m.metrics.RecordRespawn(u.ID)
		m.logger.Info("respawning exited unit", "unit_id", u.ID, "restarts", u.Restarts())
		m.respawnUnit(u)
	}
}

// respawnUnit replaces a down unit with a fresh instance. In auto mode the
// respawn honors queue pacing; in manual mode it runs immediately so
// liveness restoration never waits on an operator.
func (m *Manager) respawnUnit(u *registry.Unit) {
	item := types.SpawnItem{UnitID: u.ID, ShardIDs: u.ShardIDs}

	if m.cfg.Spawn.Mode == SpawnModeAuto {
		m.queue.Enqueue(item)

		return
	}

	go func() {
		if _, err := m.spawnItem(m.ctx, item); err != nil {
			m.logger.Error("respawn failed", "unit_id", item.UnitID, "error", err)
			m.notifyError(err)
		}
	}()
}

func (m *Manager) fatalUnit(unitID int, err error) {
	m.logger.Error("unit is terminally down", "unit_id", unitID, "error", err)

	if m.hooks.OnFatal != nil {
		go func() {
			if herr := m.hooks.OnFatal(m.ctx, unitID, err); herr != nil {
				m.logger.Error("fatal hook error", "unit_id", unitID, "error", herr)
			}
		}()
	}

	switch m.State() {
	case types.StateReady, types.StateSpawning:
		m.transition(m.State(), types.StateDegraded)
	default:
	}
}

// spawnItem is the spawn queue's materialization callback.
func (m *Manager) spawnItem(ctx context.Context, item types.SpawnItem) (spawnq.ReadyWaiter, error) {
	restarts := 0
	if prior, ok := m.reg.Get(item.UnitID); ok {
		restarts = prior.Restarts() + 1
	}

	u, err := m.reg.Create(ctx, item, restarts)
	if err != nil {
		m.notifyError(err)

		return nil, err
	}

	if m.marker != nil {
		m.marker.Rewrite()
	}

	if m.hooks.OnUnitCreated != nil {
		snapshot := u.Snapshot()
		go func() {
			if herr := m.hooks.OnUnitCreated(m.ctx, snapshot); herr != nil {
				m.logger.Error("unit created hook error", "unit_id", snapshot.ID, "error", herr)
			}
		}()
	}

	return u, nil
}

func (m *Manager) notifyError(err error) {
	if m.hooks.OnError == nil {
		return
	}

	go func() {
		if herr := m.hooks.OnError(m.ctx, err); herr != nil {
			m.logger.Error("error hook error", "error", herr)
		}
	}()
}

// transition moves to a new state and triggers hooks.
func (m *Manager) transition(from, to types.State) {
	if from == to {
		return
	}
	if !isValidTransition(from, to) {
		m.logger.Error("invalid state transition attempted",
			"from", from.String(),
			"to", to.String(),
		)

		return
	}

	if !m.state.CompareAndSwap(int32(from), int32(to)) {
		return
	}

	m.logger.Info("state transition", "from", from.String(), "to", to.String())

	m.stateMu.Lock()
	close(m.stateChanged)
	m.stateChanged = make(chan struct{})
	m.stateMu.Unlock()

	if m.hooks.OnStateChanged != nil {
		go func() {
			if err := m.hooks.OnStateChanged(m.ctx, from, to); err != nil {
				m.logger.Error("state change hook error", "from", from, "to", to, "error", err)
			}
		}()
	}

	m.metrics.RecordStateTransition(from, to, 0)
}

// isValidTransition validates that a state transition is allowed.
func isValidTransition(from, to types.State) bool {
	validTransitions := map[types.State][]types.State{
		types.StateInit:      {types.StateSpawning, types.StateShutdown},
		types.StateSpawning:  {types.StateReady, types.StateDegraded, types.StateReplacing, types.StateShutdown},
		types.StateReady:     {types.StateReplacing, types.StateDegraded, types.StateShutdown},
		types.StateReplacing: {types.StateReady, types.StateDegraded, types.StateShutdown},
		types.StateDegraded:  {types.StateReady, types.StateReplacing, types.StateShutdown},
		types.StateShutdown:  {}, // Terminal state - no transitions allowed
	}

	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}

	return false
}

func sortedKeys(plan map[int][]int) []int {
	ids := make([]int, 0, len(plan))
	for id := range plan {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}
