// Package ipc implements the controller-side message router.
//
// Every inbound message from a unit lands here after the dispatch layer has
// fenced off non-current senders. The router correlates replies to pending
// requests, relays unit-to-unit traffic, aggregates broadcast fan-outs, and
// services shared-store operations. Resolution of a nonce is at-most-once; a
// reply for an already-resolved or expired nonce is counted and dropped.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/LucasCzechia/discord-cluster/internal/pending"
	"github.com/LucasCzechia/discord-cluster/internal/registry"
	"github.com/LucasCzechia/discord-cluster/internal/store"
	"github.com/LucasCzechia/discord-cluster/types"
)

// Router routes, correlates and aggregates controller/unit IPC.
type Router struct {
	reg    *registry.Registry
	reqs   *pending.Requests
	bcs    *pending.Broadcasts
	nonces *pending.NonceSource
	store  *store.Store

	handlers *xsync.Map[string, types.Handler]

	defaultTimeout time.Duration

	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates a router over the given registry and shared store.
func New(reg *registry.Registry, st *store.Store, nonces *pending.NonceSource, defaultTimeout time.Duration, logger types.Logger, metrics types.MetricsCollector) *Router {
	return &Router{
		reg:            reg,
		reqs:           pending.NewRequests(),
		bcs:            pending.NewBroadcasts(),
		nonces:         nonces,
		store:          st,
		handlers:       xsync.NewMap[string, types.Handler](),
		defaultTimeout: defaultTimeout,
		logger:         logger,
		metrics:        metrics,
	}
}

// Handle registers a named controller-side handler. Registering the same
// name again replaces the previous handler.
func (rt *Router) Handle(name string, fn types.Handler) {
	rt.handlers.Store(name, fn)
}

// Unhandle removes a named controller-side handler.
func (rt *Router) Unhandle(name string) {
	rt.handlers.Delete(name)
}

// Broadcasts exposes the shared aggregation table. The event relay tracks
// its acknowledgment counting through the same table.
func (rt *Router) Broadcasts() *pending.Broadcasts {
	return rt.bcs
}

// PendingRequests returns the number of unresolved correlations.
func (rt *Router) PendingRequests() int {
	return rt.reqs.Len()
}

// Request executes a named handler on one unit and waits for its reply.
//
// Parameters:
//   - ctx: Cancels the wait
//   - unitID: Target unit
//   - name: Handler name
//   - payload: Request payload, must be transmittable
//   - timeout: Reply deadline; zero or negative uses the router default
//
// Returns:
//   - any: Decoded response payload
//   - error: ErrSerialization, ErrUnreachableUnit, ErrRequestTimeout, or a
//     remote failure mapped through its wire code
func (rt *Router) Request(ctx context.Context, unitID int, name string, payload any, timeout time.Duration) (any, error) {
	if err := types.CheckPayload(payload); err != nil {
		return nil, err
	}

	start := time.Now()
	nonce := rt.nonces.Next()
	ch := rt.reqs.Add(nonce)

	err := rt.reg.Send(unitID, types.Message{
		Type:    types.MsgRequest,
		Nonce:   nonce,
		From:    types.ControllerID,
		To:      unitID,
		Name:    name,
		Payload: payload,
	})
	if err != nil {
		rt.reqs.Abandon(nonce)
		rt.metrics.RecordRequest("request", false, time.Since(start).Seconds())

		return nil, err
	}

	data, err := rt.await(ctx, nonce, ch, timeout)
	rt.metrics.RecordRequest("request", err == nil, time.Since(start).Seconds())

	return data, err
}

// RequestAll executes a named handler on every ready unit and aggregates
// the replies.
//
// The collection is partial when units miss the deadline; it never carries
// a call-level failure. Individual handler failures appear as error entries.
func (rt *Router) RequestAll(ctx context.Context, name string, payload any, timeout time.Duration) (types.ResultCollection, error) {
	if err := types.CheckPayload(payload); err != nil {
		return types.NewResultCollection(nil), err
	}

	start := time.Now()
	nonce := rt.nonces.Next()

	expected := len(rt.reg.ReadyIDs())
	ticket := rt.bcs.Add(nonce, expected)

	if expected > 0 {
		rt.reg.Fanout(types.Message{
			Type:    types.MsgRequest,
			Nonce:   nonce,
			From:    types.ControllerID,
			To:      types.BroadcastID,
			Name:    name,
			Payload: payload,
		}, types.ControllerID)
	}

	collection, err := rt.awaitTicket(ctx, ticket, timeout)
	rt.metrics.RecordRequest("request_all", err == nil, time.Since(start).Seconds())

	return collection, err
}

// DispatchRequest processes an inbound MsgRequest from a unit.
//
// A request addressed to the controller runs a registered handler; anything
// else is relayed to its target unit with the correlation intact.
func (rt *Router) DispatchRequest(u *registry.Unit, msg types.Message) {
	if msg.To != types.ControllerID {
		rt.relay(u, msg)

		return
	}

	go func() {
		data, err := rt.invoke(context.Background(), msg.Name, msg.Payload)
		rt.reply(u, msg, data, err)
	}()
}

// DispatchReply processes an inbound MsgResponse or MsgError.
//
// Replies addressed to the controller resolve a pending correlation or feed
// a broadcast aggregation; replies addressed to a unit are relayed. A reply
// whose nonce is unknown is counted as late and dropped.
func (rt *Router) DispatchReply(u *registry.Unit, msg types.Message) {
	if msg.To != types.ControllerID {
		// Unit-to-unit reply relay. A vanished requester is a no-op.
		if err := rt.reg.Send(msg.To, msg); err != nil {
			rt.logger.Debug("reply relay dropped", "from", u.ID, "to", msg.To, "error", err)
		}

		return
	}

	if rt.bcs.Deliver(msg.Nonce, resultFromReply(u.ID, msg)) {
		return
	}

	var resolved bool
	if msg.Type == types.MsgError {
		resolved = rt.reqs.Reject(msg.Nonce, types.ErrorFromCode(msg.Name, msg.Error))
	} else {
		resolved = rt.reqs.Resolve(msg.Nonce, msg.Payload)
	}

	if !resolved {
		rt.metrics.RecordLateReply()
		rt.logger.Debug("late reply discarded", "from", u.ID, "nonce", msg.Nonce)
	}
}

// DispatchBroadcast processes an inbound MsgBroadcast: a unit asking the
// controller to fan a request out to every other unit and aggregate.
//
// The aggregated collection travels back to the origin as a MsgResponse
// carrying the per-unit results; the origin merges its own local result.
func (rt *Router) DispatchBroadcast(u *registry.Unit, msg types.Message) {
	expected := 0
	for _, id := range rt.reg.ReadyIDs() {
		if id != u.ID {
			expected++
		}
	}

	ticket := rt.bcs.Add(msg.Nonce, expected)

	if expected > 0 {
		rt.reg.Fanout(types.Message{
			Type:    types.MsgRequest,
			Nonce:   msg.Nonce,
			From:    types.ControllerID,
			To:      types.BroadcastID,
			Name:    msg.Name,
			Payload: msg.Payload,
		}, u.ID)
	}

	timeout := rt.defaultTimeout
	if msg.TTLMillis > 0 {
		timeout = time.Duration(msg.TTLMillis) * time.Millisecond
	}

	go func() {
		collection, _ := rt.awaitTicket(context.Background(), ticket, timeout)

		if err := u.Send(types.Message{
			Type:    types.MsgResponse,
			Nonce:   msg.Nonce,
			From:    types.ControllerID,
			To:      u.ID,
			Payload: collection.Results(),
		}); err != nil {
			rt.logger.Debug("broadcast aggregation reply dropped", "unit_id", u.ID, "error", err)
		}
	}()
}

// DispatchStoreOp services a shared-store operation and replies with the
// result.
func (rt *Router) DispatchStoreOp(u *registry.Unit, msg types.Message) {
	start := time.Now()

	sp, err := types.DecodeStorePayload(msg.Payload)
	if err != nil {
		rt.reply(u, msg, nil, err)

		return
	}

	var out types.StorePayload
	out.Key = sp.Key

	switch msg.Name {
	case types.StoreGet:
		out.Value, out.Found = rt.store.Get(sp.Key)
	case types.StoreSet:
		ttl := time.Duration(msg.TTLMillis) * time.Millisecond
		rt.store.Set(sp.Key, sp.Value, ttl)
		out.Found = true
	case types.StoreHas:
		out.Found = rt.store.Has(sp.Key)
	case types.StoreDelete:
		out.Found = rt.store.Delete(sp.Key)
	default:
		rt.reply(u, msg, nil, fmt.Errorf("unknown store operation %q", msg.Name))

		return
	}

	rt.metrics.RecordStoreOp(msg.Name, time.Since(start).Seconds())

	if err := u.Send(types.Message{
		Type:    types.MsgStoreResult,
		Nonce:   msg.Nonce,
		From:    types.ControllerID,
		To:      u.ID,
		Name:    msg.Name,
		Payload: out,
	}); err != nil {
		rt.logger.Debug("store result dropped", "unit_id", u.ID, "error", err)
	}
}

// relay forwards a unit-to-unit request; an unreachable target produces an
// error reply to the origin.
func (rt *Router) relay(u *registry.Unit, msg types.Message) {
	if err := rt.reg.Send(msg.To, msg); err != nil {
		rt.reply(u, msg, nil, fmt.Errorf("%w: unit %d", types.ErrUnreachableUnit, msg.To))
	}
}

// invoke runs a registered controller handler.
func (rt *Router) invoke(ctx context.Context, name string, data any) (any, error) {
	fn, ok := rt.handlers.Load(name)
	if !ok {
		return nil, &types.HandlerNotFoundError{Name: name}
	}

	return fn(ctx, data)
}

// reply sends a correlated success or failure back to the requester.
func (rt *Router) reply(u *registry.Unit, req types.Message, data any, err error) {
	var msg types.Message
	if err != nil {
		msg = types.Message{
			Type:  types.MsgError,
			Nonce: req.Nonce,
			From:  types.ControllerID,
			To:    u.ID,
			Name:  errCode(err),
			Error: err.Error(),
		}
	} else {
		if cerr := types.CheckPayload(data); cerr != nil {
			err = cerr
			msg = types.Message{
				Type:  types.MsgError,
				Nonce: req.Nonce,
				From:  types.ControllerID,
				To:    u.ID,
				Name:  types.ErrCodeHandlerFailed,
				Error: cerr.Error(),
			}
		} else {
			msg = types.Message{
				Type:    types.MsgResponse,
				Nonce:   req.Nonce,
				From:    types.ControllerID,
				To:      u.ID,
				Payload: data,
			}
		}
	}

	if serr := u.Send(msg); serr != nil {
		rt.logger.Debug("reply dropped", "unit_id", u.ID, "error", serr)
	}
}

func (rt *Router) await(ctx context.Context, nonce string, ch <-chan pending.Outcome, timeout time.Duration) (any, error) {
	if timeout <= 0 {
		timeout = rt.defaultTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-ch:
		return out.Data, out.Err
	case <-timer.C:
		rt.reqs.Abandon(nonce)

		return nil, types.ErrRequestTimeout
	case <-ctx.Done():
		rt.reqs.Abandon(nonce)

		return nil, ctx.Err()
	}
}

func (rt *Router) awaitTicket(ctx context.Context, ticket *pending.Ticket, timeout time.Duration) (types.ResultCollection, error) {
	if timeout <= 0 {
		timeout = rt.defaultTimeout
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ticket.Done():
	case <-timer.C:
		// Deadline reached: whatever arrived so far is the answer.
	case <-ctx.Done():
		return ticket.Collect(), ctx.Err()
	}

	return ticket.Collect(), nil
}

func resultFromReply(unitID int, msg types.Message) types.Result {
	if msg.Type == types.MsgError {
		return types.Result{UnitID: unitID, Status: types.StatusError, Err: msg.Error}
	}

	return types.Result{UnitID: unitID, Status: types.StatusOk, Data: msg.Payload}
}

func errCode(err error) string {
	switch {
	case errors.Is(err, types.ErrHandlerNotFound):
		return types.ErrCodeNoHandler
	case errors.Is(err, types.ErrUnreachableUnit):
		return types.ErrCodeUnreachable
	default:
		return types.ErrCodeHandlerFailed
	}
}
