package handle

import (
	"context"
	"fmt"
	"sync"

	"github.com/LucasCzechia/discord-cluster/types"
)

// defaultInboxSize bounds the controller→unit message buffer of a thread
// transport. Sends block once the unit stops draining its inbox.
const defaultInboxSize = 256

// Entry is the unit main function run by a ThreadSpawner.
//
// The context is cancelled when the unit is terminated. Returning while the
// context is still live counts as a crash and triggers the respawn policy.
type Entry func(ctx context.Context, conn types.Conn, info types.SpawnInfo)

// ThreadSpawner runs units as goroutines in the controller process.
type ThreadSpawner struct {
	entry     Entry
	inboxSize int
}

// Compile-time assertion that ThreadSpawner implements Spawner.
var _ types.Spawner = (*ThreadSpawner)(nil)

// NewThreadSpawner creates a spawner running entry for each unit.
func NewThreadSpawner(entry Entry) *ThreadSpawner {
	return &ThreadSpawner{entry: entry, inboxSize: defaultInboxSize}
}

// Spawn starts a unit goroutine and returns its handle.
func (s *ThreadSpawner) Spawn(_ context.Context, opts types.SpawnOptions) (types.Handle, error) {
	unitCtx, cancel := context.WithCancel(context.Background())

	h := &threadHandle{
		unitID: opts.Info.UnitID,
		inbox:  make(chan types.Message, s.inboxSize),
		closed: make(chan struct{}),
		cancel: cancel,
		onExit: opts.OnExit,
	}

	conn := &threadConn{handle: h, deliver: opts.Deliver}

	go func() {
		defer func() {
			if p := recover(); p != nil {
				h.exit(types.ExitInfo{
					UnitID:  h.unitID,
					Code:    2,
					Reason:  fmt.Sprintf("panic: %v", p),
					Crashed: true,
				})
			}
		}()

		s.entry(unitCtx, conn, opts.Info)

		if h.terminated() {
			h.exit(types.ExitInfo{UnitID: h.unitID, Reason: h.reason(), Crashed: false})
		} else {
			// Spontaneous return without a Terminate call.
			h.exit(types.ExitInfo{UnitID: h.unitID, Code: 1, Reason: "unit returned unexpectedly", Crashed: true})
		}
	}()

	return h, nil
}

type threadHandle struct {
	unitID int
	inbox  chan types.Message

	mu         sync.Mutex
	exitReason string
	isClosed   bool

	closed   chan struct{}
	cancel   context.CancelFunc
	exitOnce sync.Once
	onExit   func(types.ExitInfo)
}

// Send clones the message through its wire encoding and queues it for the
// unit. Cloning both enforces the payload constraint and guarantees the
// receiver never aliases sender memory.
func (h *threadHandle) Send(msg types.Message) error {
	clone, err := types.CloneMessage(msg)
	if err != nil {
		return err
	}

	select {
	case <-h.closed:
		return types.ErrUnitTerminated
	default:
	}

	select {
	case h.inbox <- clone:
		return nil
	case <-h.closed:
		return types.ErrUnitTerminated
	}
}

func (h *threadHandle) Terminate(reason string) error {
	h.mu.Lock()
	if h.isClosed {
		h.mu.Unlock()

		return nil
	}
	h.isClosed = true
	h.exitReason = reason
	h.mu.Unlock()

	close(h.closed)
	h.cancel()

	return nil
}

func (h *threadHandle) PID() int {
	return 0
}

func (h *threadHandle) terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.isClosed
}

func (h *threadHandle) reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.exitReason
}

func (h *threadHandle) exit(info types.ExitInfo) {
	h.exitOnce.Do(func() {
		// Ensure the transport is closed even on spontaneous exits.
		_ = h.Terminate(info.Reason)
		h.onExit(info)
	})
}

type threadConn struct {
	handle  *threadHandle
	deliver func(types.Message)
}

func (c *threadConn) Send(msg types.Message) error {
	clone, err := types.CloneMessage(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.handle.closed:
		return types.ErrUnitTerminated
	default:
	}

	c.deliver(clone)

	return nil
}

func (c *threadConn) Recv(ctx context.Context) (types.Message, error) {
	select {
	case msg := <-c.handle.inbox:
		return msg, nil
	case <-c.handle.closed:
		return types.Message{}, types.ErrUnitTerminated
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

func (c *threadConn) Close() error {
	return c.handle.Terminate("connection closed by unit")
}
