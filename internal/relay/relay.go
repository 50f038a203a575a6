// Package relay implements fleet-wide pub/sub event distribution.
//
// Events are fire-and-forget by default. A tracked broadcast carries a nonce
// and an expected acknowledgment count; receiving units acknowledge local
// delivery automatically and the originator learns how many acknowledgments
// arrived before its deadline.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/LucasCzechia/discord-cluster/internal/pending"
	"github.com/LucasCzechia/discord-cluster/internal/registry"
	"github.com/LucasCzechia/discord-cluster/types"
)

// Listener receives events delivered to the controller.
type Listener func(from int, data any)

// Relay distributes events between the controller and the fleet.
type Relay struct {
	reg    *registry.Registry
	bcs    *pending.Broadcasts
	nonces *pending.NonceSource

	mu        sync.RWMutex
	listeners map[string][]Listener

	defaultTimeout time.Duration

	logger  types.Logger
	metrics types.MetricsCollector
}

// New creates a relay sharing the router's aggregation table.
func New(reg *registry.Registry, bcs *pending.Broadcasts, nonces *pending.NonceSource, defaultTimeout time.Duration, logger types.Logger, metrics types.MetricsCollector) *Relay {
	return &Relay{
		reg:            reg,
		bcs:            bcs,
		nonces:         nonces,
		listeners:      make(map[string][]Listener),
		defaultTimeout: defaultTimeout,
		logger:         logger,
		metrics:        metrics,
	}
}

// On registers a controller-local listener for a named event.
func (rl *Relay) On(event string, fn Listener) {
	rl.mu.Lock()
	rl.listeners[event] = append(rl.listeners[event], fn)
	rl.mu.Unlock()
}

// Off removes every controller-local listener for a named event.
func (rl *Relay) Off(event string) {
	rl.mu.Lock()
	delete(rl.listeners, event)
	rl.mu.Unlock()
}

// Broadcast publishes an event to every ready unit. Fire-and-forget.
func (rl *Relay) Broadcast(event string, data any) error {
	if err := types.CheckPayload(data); err != nil {
		return err
	}

	rl.reg.Fanout(types.Message{
		Type:    types.MsgEvent,
		From:    types.ControllerID,
		To:      types.BroadcastID,
		Name:    event,
		Payload: data,
	}, types.ControllerID)

	return nil
}

// EmitTo publishes an event to one unit. Fire-and-forget.
func (rl *Relay) EmitTo(unitID int, event string, data any) error {
	if err := types.CheckPayload(data); err != nil {
		return err
	}

	return rl.reg.Send(unitID, types.Message{
		Type:    types.MsgEvent,
		From:    types.ControllerID,
		To:      unitID,
		Name:    event,
		Payload: data,
	})
}

// BroadcastAndWait publishes a tracked event and waits for acknowledgments.
//
// Parameters:
//   - ctx: Cancels the wait
//   - event: Event name
//   - data: Event payload
//   - expected: Acknowledgment count to wait for; zero or negative returns
//     immediately with zero
//   - timeout: Acknowledgment deadline; zero or negative uses the default
//
// Returns:
//   - int: Acknowledgments received before the deadline
//   - error: ErrSerialization or context cancellation
func (rl *Relay) BroadcastAndWait(ctx context.Context, event string, data any, expected int, timeout time.Duration) (int, error) {
	if err := types.CheckPayload(data); err != nil {
		return 0, err
	}
	if expected <= 0 {
		return 0, nil
	}
	if timeout <= 0 {
		timeout = rl.defaultTimeout
	}

	start := time.Now()
	nonce := rl.nonces.Next()
	ticket := rl.bcs.Add(nonce, expected)

	rl.reg.Fanout(types.Message{
		Type:     types.MsgEvent,
		Nonce:    nonce,
		From:     types.ControllerID,
		To:       types.BroadcastID,
		Name:     event,
		Payload:  data,
		Expected: expected,
	}, types.ControllerID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ticket.Done():
	case <-timer.C:
	case <-ctx.Done():
		return ticket.Collect().Len(), ctx.Err()
	}

	acks := ticket.Collect().Len()
	rl.metrics.RecordRequest("event_wait", acks >= expected, time.Since(start).Seconds())

	return acks, nil
}

// DispatchEvent routes an inbound event from a unit.
//
// A targeted event goes to its unit; a fleet broadcast reaches every other
// unit plus the controller's local listeners. A tracked broadcast also opens
// an acknowledgment aggregation and reports the count back to the origin.
func (rl *Relay) DispatchEvent(u *registry.Unit, msg types.Message) {
	switch {
	case msg.To == types.ControllerID:
		rl.deliverLocal(msg)
	case msg.To >= 0:
		if err := rl.reg.Send(msg.To, msg); err != nil {
			rl.logger.Debug("event relay dropped", "from", u.ID, "to", msg.To, "event", msg.Name, "error", err)
		}
	default:
		rl.deliverLocal(msg)

		if msg.Nonce != "" && msg.Expected > 0 {
			rl.trackedFanout(u, msg)

			return
		}

		rl.reg.Fanout(msg, u.ID)
	}
}

// DispatchEventAck counts one unit's acknowledgment of a tracked event.
func (rl *Relay) DispatchEventAck(u *registry.Unit, msg types.Message) {
	if !rl.bcs.Deliver(msg.Nonce, types.Result{UnitID: u.ID, Status: types.StatusOk}) {
		rl.logger.Debug("late event ack discarded", "unit_id", u.ID, "nonce", msg.Nonce)
	}
}

func (rl *Relay) trackedFanout(origin *registry.Unit, msg types.Message) {
	ticket := rl.bcs.Add(msg.Nonce, msg.Expected)
	rl.reg.Fanout(msg, origin.ID)

	timeout := rl.defaultTimeout
	if msg.TTLMillis > 0 {
		timeout = time.Duration(msg.TTLMillis) * time.Millisecond
	}

	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-ticket.Done():
		case <-timer.C:
		}

		if err := origin.Send(types.Message{
			Type:    types.MsgResponse,
			Nonce:   msg.Nonce,
			From:    types.ControllerID,
			To:      origin.ID,
			Payload: ticket.Collect().Len(),
		}); err != nil {
			rl.logger.Debug("tracked event count reply dropped", "unit_id", origin.ID, "error", err)
		}
	}()
}

func (rl *Relay) deliverLocal(msg types.Message) {
	rl.mu.RLock()
	fns := rl.listeners[msg.Name]
	rl.mu.RUnlock()

	for _, fn := range fns {
		go fn(msg.From, msg.Payload)
	}
}
