package handle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/LucasCzechia/discord-cluster/types"
)

// NATSSpawner attaches units running outside the controller machine.
//
// Subject layout under the configured prefix:
//
//	<prefix>.unit.<id>.in    controller → unit
//	<prefix>.unit.<id>.out   unit → controller
//	<prefix>.unit.<id>.exit  unit exit notification (ExitInfo)
//
// The remote unit process itself is launched by an external supervisor and
// attaches with unit.AttachNATS; Spawn only establishes the message channel
// and publishes the unit's SpawnInfo as a retained request on `.in`.
// Crash detection for silently vanished remotes falls to the heartbeat
// monitor, as with any other transport.
type NATSSpawner struct {
	nc     *nats.Conn
	prefix string
}

// Compile-time assertion that NATSSpawner implements Spawner.
var _ types.Spawner = (*NATSSpawner)(nil)

// NewNATSSpawner creates a spawner attaching units over the given connection.
//
// Parameters:
//   - nc: Established NATS connection
//   - prefix: Subject prefix isolating this fleet (e.g. "fleet.prod")
func NewNATSSpawner(nc *nats.Conn, prefix string) *NATSSpawner {
	if prefix == "" {
		prefix = "fleet"
	}

	return &NATSSpawner{nc: nc, prefix: prefix}
}

// Spawn subscribes the unit's outbound subjects and hands it its SpawnInfo.
func (s *NATSSpawner) Spawn(_ context.Context, opts types.SpawnOptions) (types.Handle, error) {
	h := &natsHandle{
		nc:     s.nc,
		unitID: opts.Info.UnitID,
		in:     fmt.Sprintf("%s.unit.%d.in", s.prefix, opts.Info.UnitID),
		closed: make(chan struct{}),
		onExit: opts.OnExit,
	}

	outSubject := fmt.Sprintf("%s.unit.%d.out", s.prefix, opts.Info.UnitID)
	outSub, err := s.nc.Subscribe(outSubject, func(m *nats.Msg) {
		var msg types.Message
		if err := json.Unmarshal(m.Data, &msg); err != nil {
			return
		}
		opts.Deliver(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %s: %w", outSubject, err)
	}
	h.outSub = outSub

	exitSubject := fmt.Sprintf("%s.unit.%d.exit", s.prefix, opts.Info.UnitID)
	exitSub, err := s.nc.Subscribe(exitSubject, func(m *nats.Msg) {
		var info types.ExitInfo
		if err := json.Unmarshal(m.Data, &info); err != nil {
			info = types.ExitInfo{UnitID: h.unitID, Code: 1, Reason: "malformed exit notification", Crashed: true}
		}
		h.exit(info)
	})
	if err != nil {
		_ = outSub.Unsubscribe()

		return nil, fmt.Errorf("failed to subscribe %s: %w", exitSubject, err)
	}
	h.exitSub = exitSub

	// Hand the remote its startup data; the attach side requests it again
	// if it connects later than the controller.
	info, err := json.Marshal(opts.Info)
	if err != nil {
		h.unsubscribe()

		return nil, fmt.Errorf("%w: %v", types.ErrSerialization, err)
	}
	infoSubject := fmt.Sprintf("%s.unit.%d.info", s.prefix, opts.Info.UnitID)
	infoSub, err := s.nc.Subscribe(infoSubject, func(m *nats.Msg) {
		_ = m.Respond(info)
	})
	if err != nil {
		h.unsubscribe()

		return nil, fmt.Errorf("failed to subscribe %s: %w", infoSubject, err)
	}
	h.infoSub = infoSub

	return h, nil
}

type natsHandle struct {
	nc     *nats.Conn
	unitID int
	in     string

	outSub  *nats.Subscription
	exitSub *nats.Subscription
	infoSub *nats.Subscription

	mu         sync.Mutex
	isClosed   bool
	exitReason string

	closed   chan struct{}
	exitOnce sync.Once
	onExit   func(types.ExitInfo)
}

func (h *natsHandle) Send(msg types.Message) error {
	select {
	case <-h.closed:
		return types.ErrUnitTerminated
	default:
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerialization, err)
	}

	if err := h.nc.Publish(h.in, raw); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", h.in, err)
	}

	return nil
}

func (h *natsHandle) Terminate(reason string) error {
	h.mu.Lock()
	if h.isClosed {
		h.mu.Unlock()

		return nil
	}
	h.isClosed = true
	h.exitReason = reason
	h.mu.Unlock()

	// Ask the remote to exit before tearing the channel down.
	raw, _ := json.Marshal(types.Message{
		Type: types.MsgControl,
		From: types.ControllerID,
		To:   h.unitID,
		Name: types.ControlTerminate,
	})
	_ = h.nc.Publish(h.in, raw)

	close(h.closed)
	h.unsubscribe()
	h.exit(types.ExitInfo{UnitID: h.unitID, Reason: reason, Crashed: false})

	return nil
}

func (h *natsHandle) PID() int {
	return 0
}

func (h *natsHandle) unsubscribe() {
	if h.outSub != nil {
		_ = h.outSub.Unsubscribe()
	}
	if h.exitSub != nil {
		_ = h.exitSub.Unsubscribe()
	}
	if h.infoSub != nil {
		_ = h.infoSub.Unsubscribe()
	}
}

func (h *natsHandle) exit(info types.ExitInfo) {
	h.exitOnce.Do(func() {
		h.mu.Lock()
		if !h.isClosed {
			h.isClosed = true
			close(h.closed)
			h.unsubscribe()
		}
		h.mu.Unlock()

		h.onExit(info)
	})
}
