// Package unit implements the runtime that runs inside a cluster unit.
//
// A unit attaches to its controller over any transport satisfying
// types.Conn, registers named handlers and event listeners, signals ready,
// and then talks to the controller and its sibling units through correlated
// requests, the shared store, and the event relay. Heartbeat probes are
// answered inside the receive loop itself, ahead of any handler dispatch, so
// a busy or stuck handler never makes a healthy unit look dead.
package unit

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/LucasCzechia/discord-cluster/internal/pending"
	"github.com/LucasCzechia/discord-cluster/types"
)

// DefaultRequestTimeout bounds correlated requests without an explicit
// deadline.
const DefaultRequestTimeout = 10 * time.Second

// Listener receives events delivered to this unit.
type Listener func(from int, data any)

// Unit is the in-unit runtime attached to one controller.
type Unit struct {
	conn types.Conn
	info types.SpawnInfo

	handlers *xsync.Map[string, types.Handler]

	listenerMu sync.RWMutex
	listeners  map[string][]Listener

	reqs   *pending.Requests
	nonces *pending.NonceSource

	requestTimeout time.Duration
	storeTimeout   time.Duration
	noPeerGuard    bool

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
	stopOnce  sync.Once
	stopped   chan struct{}
	fleetOnce sync.Once
	fleet     chan struct{}

	logger types.Logger
}

// Attach creates a unit runtime over an established transport.
//
// Parameters:
//   - conn: Transport to the controller
//   - info: Startup data handed over by the spawner
//   - opts: Optional configuration
func Attach(conn types.Conn, info types.SpawnInfo, opts ...Option) *Unit {
	u := &Unit{
		conn:           conn,
		info:           info,
		handlers:       xsync.NewMap[string, types.Handler](),
		listeners:      make(map[string][]Listener),
		reqs:           pending.NewRequests(),
		nonces:         pending.NewNonceSource(),
		requestTimeout: DefaultRequestTimeout,
		storeTimeout:   defaultStoreTimeout,
		stopped:        make(chan struct{}),
		fleet:          make(chan struct{}),
		logger:         newDefaultLogger(),
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// ID returns this unit's fleet-wide ID.
func (u *Unit) ID() int {
	return u.info.UnitID
}

// Info returns the startup data handed over by the spawner.
func (u *Unit) Info() types.SpawnInfo {
	return u.info
}

// ShardIDs returns the shard range owned by this unit.
func (u *Unit) ShardIDs() []int {
	ids := make([]int, len(u.info.ShardIDs))
	copy(ids, u.info.ShardIDs)

	return ids
}

// Handle registers a named request handler. Registering the same name again
// replaces the previous handler.
func (u *Unit) Handle(name string, fn types.Handler) {
	u.handlers.Store(name, fn)
}

// Unhandle removes a named request handler.
func (u *Unit) Unhandle(name string) {
	u.handlers.Delete(name)
}

// On registers a listener for a named event.
func (u *Unit) On(event string, fn Listener) {
	u.listenerMu.Lock()
	u.listeners[event] = append(u.listeners[event], fn)
	u.listenerMu.Unlock()
}

// Off removes every listener for a named event.
func (u *Unit) Off(event string) {
	u.listenerMu.Lock()
	delete(u.listeners, event)
	u.listenerMu.Unlock()
}

// Store returns the shared-store client.
func (u *Unit) Store() *Store {
	return &Store{unit: u}
}

// Start launches the receive loop.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.started {
		return types.ErrAlreadyStarted
	}
	u.started = true

	ctx, u.cancel = context.WithCancel(ctx)
	u.loopDone = make(chan struct{})

	go u.recvLoop(ctx)

	u.logger.Info("unit runtime started",
		"unit_id", u.info.UnitID,
		"shards", len(u.info.ShardIDs),
		"total_shards", u.info.TotalShards,
	)

	return nil
}

// Ready signals startup completion to the controller.
//
// The controller counts ready signals toward fleet readiness and only ready
// units participate in broadcasts and heartbeat monitoring.
func (u *Unit) Ready() error {
	return u.send(types.Message{
		Type: types.MsgControl,
		From: u.info.UnitID,
		To:   types.ControllerID,
		Name: types.ControlReady,
	})
}

// Run is the common main-function body: start the loop, signal ready, and
// block until the controller terminates the unit or ctx is cancelled.
func (u *Unit) Run(ctx context.Context) error {
	if err := u.Start(ctx); err != nil {
		return err
	}
	if err := u.Ready(); err != nil {
		return err
	}

	select {
	case <-u.stopped:
		return nil
	case <-ctx.Done():
		u.Stop()

		return ctx.Err()
	}
}

// Stop shuts the runtime down and closes the transport.
func (u *Unit) Stop() {
	u.stopOnce.Do(func() {
		u.mu.Lock()
		cancel, done := u.cancel, u.loopDone
		u.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if err := u.conn.Close(); err != nil {
			u.logger.Debug("transport close failed", "error", err)
		}
		if done != nil {
			<-done
		}

		close(u.stopped)
		u.logger.Info("unit runtime stopped", "unit_id", u.info.UnitID)
	})
}

// Stopped is closed once the runtime has shut down.
func (u *Unit) Stopped() <-chan struct{} {
	return u.stopped
}

// FleetReady is closed once the controller announced fleet-wide readiness.
func (u *Unit) FleetReady() <-chan struct{} {
	return u.fleet
}

// WaitFleetReady blocks until the fleet-ready announcement or ctx expiry.
func (u *Unit) WaitFleetReady(ctx context.Context) error {
	select {
	case <-u.fleet:
		return nil
	case <-u.stopped:
		return types.ErrUnitTerminated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Request executes a named handler on another unit or the controller.
//
// Parameters:
//   - ctx: Cancels the wait
//   - to: Target unit ID, or types.ControllerID
//   - name: Handler name
//   - payload: Request payload, must be transmittable
//
// Returns:
//   - any: Decoded response payload
//   - error: ErrSerialization, ErrRequestTimeout, or a remote failure
func (u *Unit) Request(ctx context.Context, to int, name string, payload any) (any, error) {
	if err := types.CheckPayload(payload); err != nil {
		return nil, err
	}

	nonce := u.nonces.Next()
	ch := u.reqs.Add(nonce)

	if err := u.send(types.Message{
		Type:    types.MsgRequest,
		Nonce:   nonce,
		From:    u.info.UnitID,
		To:      to,
		Name:    name,
		Payload: payload,
	}); err != nil {
		u.reqs.Abandon(nonce)

		return nil, err
	}

	return u.await(ctx, nonce, ch, u.requestTimeout)
}

// RequestAll executes a named handler on every unit in the fleet, this one
// included, and aggregates the results.
//
// The local handler runs in-process while the controller fans the request
// out to every other unit; its result is merged into the aggregated
// collection. Units missing the deadline are simply absent.
func (u *Unit) RequestAll(ctx context.Context, name string, payload any, timeout time.Duration) (types.ResultCollection, error) {
	if err := types.CheckPayload(payload); err != nil {
		return types.NewResultCollection(nil), err
	}
	if timeout <= 0 {
		timeout = u.requestTimeout
	}

	nonce := u.nonces.Next()
	ch := u.reqs.Add(nonce)

	if err := u.send(types.Message{
		Type:      types.MsgBroadcast,
		Nonce:     nonce,
		From:      u.info.UnitID,
		To:        types.BroadcastID,
		Name:      name,
		Payload:   payload,
		TTLMillis: timeout.Milliseconds(),
	}); err != nil {
		u.reqs.Abandon(nonce)

		return types.NewResultCollection(nil), err
	}

	// Seed with the local handler while the fan-out is in flight.
	seed := u.localResult(ctx, name, payload)

	// The aggregation deadline is enforced controller-side; the local wait
	// gets headroom on top so a full collection is never cut short in
	// transit.
	data, err := u.await(ctx, nonce, ch, timeout+u.requestTimeout)
	if err != nil {
		return types.NewResultCollection([]types.Result{seed}), err
	}

	results, err := types.DecodeResults(data)
	if err != nil {
		return types.NewResultCollection([]types.Result{seed}), err
	}

	return types.NewResultCollection(append(results, seed)), nil
}

// Emit publishes an event to the controller's listeners. Fire-and-forget.
func (u *Unit) Emit(event string, data any) error {
	return u.emit(types.ControllerID, event, data)
}

// EmitTo publishes an event to one sibling unit. Fire-and-forget.
func (u *Unit) EmitTo(unitID int, event string, data any) error {
	return u.emit(unitID, event, data)
}

// Broadcast publishes an event to every other unit and the controller's
// listeners. Fire-and-forget.
func (u *Unit) Broadcast(event string, data any) error {
	return u.emit(types.BroadcastID, event, data)
}

// BroadcastAndWait publishes a tracked event and waits until the expected
// number of units acknowledged local delivery.
//
// Parameters:
//   - ctx: Cancels the wait
//   - event: Event name
//   - data: Event payload
//   - expected: Acknowledgment count to wait for; zero or negative returns
//     immediately with zero
//   - timeout: Acknowledgment deadline; zero or negative uses the request
//     timeout
//
// Returns:
//   - int: Acknowledgments counted before the deadline
//   - error: ErrSerialization or transport failure
func (u *Unit) BroadcastAndWait(ctx context.Context, event string, data any, expected int, timeout time.Duration) (int, error) {
	if err := types.CheckPayload(data); err != nil {
		return 0, err
	}
	if expected <= 0 {
		return 0, nil
	}
	if timeout <= 0 {
		timeout = u.requestTimeout
	}

	nonce := u.nonces.Next()
	ch := u.reqs.Add(nonce)

	if err := u.send(types.Message{
		Type:      types.MsgEvent,
		Nonce:     nonce,
		From:      u.info.UnitID,
		To:        types.BroadcastID,
		Name:      event,
		Payload:   data,
		Expected:  expected,
		TTLMillis: timeout.Milliseconds(),
	}); err != nil {
		u.reqs.Abandon(nonce)

		return 0, err
	}

	count, err := u.await(ctx, nonce, ch, timeout+u.requestTimeout)
	if err != nil {
		return 0, err
	}

	return toInt(count), nil
}

func (u *Unit) emit(to int, event string, data any) error {
	if err := types.CheckPayload(data); err != nil {
		return err
	}

	return u.send(types.Message{
		Type:    types.MsgEvent,
		From:    u.info.UnitID,
		To:      to,
		Name:    event,
		Payload: data,
	})
}

func (u *Unit) recvLoop(ctx context.Context) {
	defer close(u.loopDone)

	for {
		msg, err := u.conn.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil {
				u.logger.Debug("transport closed", "unit_id", u.info.UnitID, "error", err)
			}

			return
		}

		u.dispatch(ctx, msg)
	}
}

func (u *Unit) dispatch(ctx context.Context, msg types.Message) {
	switch msg.Type {
	case types.MsgHeartbeat:
		// Answered inline so handler load never delays liveness.
		if err := u.send(types.Message{
			Type:  types.MsgHeartbeatAck,
			Nonce: msg.Nonce,
			From:  u.info.UnitID,
			To:    types.ControllerID,
		}); err != nil {
			u.logger.Debug("heartbeat ack failed", "error", err)
		}

	case types.MsgRequest:
		go u.serveRequest(ctx, msg)

	case types.MsgResponse, types.MsgStoreResult:
		if !u.reqs.Resolve(msg.Nonce, msg.Payload) {
			u.logger.Debug("late reply discarded", "nonce", msg.Nonce)
		}

	case types.MsgError:
		if !u.reqs.Reject(msg.Nonce, types.ErrorFromCode(msg.Name, msg.Error)) {
			u.logger.Debug("late error discarded", "nonce", msg.Nonce)
		}

	case types.MsgEvent:
		u.serveEvent(msg)

	case types.MsgControl:
		u.serveControl(msg)

	default:
		u.logger.Debug("unhandled message type", "type", msg.Type.String())
	}
}

func (u *Unit) serveRequest(ctx context.Context, msg types.Message) {
	result := u.localResult(ctx, msg.Name, msg.Payload)

	var reply types.Message
	if result.Ok() {
		reply = types.Message{
			Type:    types.MsgResponse,
			Nonce:   msg.Nonce,
			From:    u.info.UnitID,
			To:      msg.From,
			Payload: result.Data,
		}
	} else {
		code := types.ErrCodeHandlerFailed
		if _, ok := u.handlers.Load(msg.Name); !ok {
			code = types.ErrCodeNoHandler
		}
		reply = types.Message{
			Type:  types.MsgError,
			Nonce: msg.Nonce,
			From:  u.info.UnitID,
			To:    msg.From,
			Name:  code,
			Error: result.Err,
		}
	}

	if err := u.send(reply); err != nil {
		u.logger.Debug("reply send failed", "nonce", msg.Nonce, "error", err)
	}
}

func (u *Unit) serveEvent(msg types.Message) {
	// Tracked events are acknowledged on delivery, before listeners run.
	if msg.Nonce != "" {
		if err := u.send(types.Message{
			Type:  types.MsgEventAck,
			Nonce: msg.Nonce,
			From:  u.info.UnitID,
			To:    types.ControllerID,
		}); err != nil {
			u.logger.Debug("event ack failed", "nonce", msg.Nonce, "error", err)
		}
	}

	u.listenerMu.RLock()
	fns := u.listeners[msg.Name]
	u.listenerMu.RUnlock()

	for _, fn := range fns {
		go fn(msg.From, msg.Payload)
	}
}

func (u *Unit) serveControl(msg types.Message) {
	switch msg.Name {
	case types.ControlFleetReady:
		u.fleetOnce.Do(func() { close(u.fleet) })
	case types.ControlTerminate:
		u.logger.Info("terminate signal from controller", "unit_id", u.info.UnitID)
		go u.Stop()
	}
}

// localResult runs this unit's own handler for a request.
func (u *Unit) localResult(ctx context.Context, name string, payload any) types.Result {
	fn, ok := u.handlers.Load(name)
	if !ok {
		return types.Result{
			UnitID: u.info.UnitID,
			Status: types.StatusError,
			Err:    (&types.HandlerNotFoundError{Name: name}).Error(),
		}
	}

	data, err := fn(ctx, payload)
	if err != nil {
		return types.Result{UnitID: u.info.UnitID, Status: types.StatusError, Err: err.Error()}
	}
	if cerr := types.CheckPayload(data); cerr != nil {
		return types.Result{UnitID: u.info.UnitID, Status: types.StatusError, Err: cerr.Error()}
	}

	return types.Result{UnitID: u.info.UnitID, Status: types.StatusOk, Data: data}
}

func (u *Unit) send(msg types.Message) error {
	return u.conn.Send(msg)
}

func (u *Unit) await(ctx context.Context, nonce string, ch <-chan pending.Outcome, timeout time.Duration) (any, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.Data, out.Err
	case <-timer.C:
		u.reqs.Abandon(nonce)

		return nil, types.ErrRequestTimeout
	case <-u.stopped:
		u.reqs.Abandon(nonce)

		return nil, types.ErrUnitTerminated
	case <-ctx.Done():
		u.reqs.Abandon(nonce)

		return nil, ctx.Err()
	}
}

// toInt normalizes a JSON-decoded count.
func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
