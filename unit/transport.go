package unit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/LucasCzechia/discord-cluster/guard"
	"github.com/LucasCzechia/discord-cluster/handle"
	"github.com/LucasCzechia/discord-cluster/internal/wire"
	"github.com/LucasCzechia/discord-cluster/types"
)

// natsInfoTimeout bounds the startup-data request of a NATS attach.
const natsInfoTimeout = 10 * time.Second

// RunProcess attaches the current OS process as a unit.
//
// The spawn info is read from the environment variable set by the process
// spawner, and the controller link runs over length-prefixed frames on
// stdin/stdout. A parent liveness guard is started so the unit never
// outlives a crashed controller.
//
// Returns:
//   - *Unit: Attached runtime, not yet started
//   - error: Missing or malformed spawn info
func RunProcess(opts ...Option) (*Unit, error) {
	raw := os.Getenv(handle.SpawnInfoEnv)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set, process was not launched by a cluster spawner", handle.SpawnInfoEnv)
	}

	var info types.SpawnInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", handle.SpawnInfoEnv, err)
	}

	u := Attach(newStdioConn(os.Stdin, os.Stdout), info, opts...)

	if !u.noPeerGuard {
		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			<-u.stopped
			cancel()
		}()

		g := guard.NewPeerGuard(0, 0, u.logger)
		g.Start(ctx)
	}

	return u, nil
}

// AttachNATS attaches a remote process as a unit over NATS.
//
// The unit requests its spawn info from the controller's info subject and
// then exchanges messages on the unit's in/out subjects.
//
// Parameters:
//   - nc: Established NATS connection
//   - prefix: Subject prefix, must match the controller's spawner
//   - unitID: This unit's fleet-wide ID
//   - opts: Optional configuration
func AttachNATS(nc *nats.Conn, prefix string, unitID int, opts ...Option) (*Unit, error) {
	if prefix == "" {
		prefix = "fleet"
	}

	reply, err := nc.Request(fmt.Sprintf("%s.unit.%d.info", prefix, unitID), nil, natsInfoTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch spawn info for unit %d: %w", unitID, err)
	}

	var info types.SpawnInfo
	if err := json.Unmarshal(reply.Data, &info); err != nil {
		return nil, fmt.Errorf("invalid spawn info for unit %d: %w", unitID, err)
	}

	conn, err := newNATSConn(nc, prefix, unitID)
	if err != nil {
		return nil, err
	}

	return Attach(conn, info, opts...), nil
}

// stdioConn frames messages over a pipe pair.
type stdioConn struct {
	writeMu sync.Mutex
	w       io.Writer

	inbox chan types.Message

	closeOnce sync.Once
	closed    chan struct{}
}

func newStdioConn(r io.Reader, w io.Writer) *stdioConn {
	c := &stdioConn{
		w:      w,
		inbox:  make(chan types.Message, 64),
		closed: make(chan struct{}),
	}

	go func() {
		defer close(c.inbox)

		for {
			msg, err := wire.ReadMessage(r)
			if err != nil {
				return
			}

			select {
			case c.inbox <- msg:
			case <-c.closed:
				return
			}
		}
	}()

	return c
}

func (c *stdioConn) Send(msg types.Message) error {
	select {
	case <-c.closed:
		return types.ErrUnitTerminated
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return wire.WriteMessage(c.w, msg)
}

func (c *stdioConn) Recv(ctx context.Context) (types.Message, error) {
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return types.Message{}, types.ErrUnitTerminated
		}

		return msg, nil
	case <-c.closed:
		return types.Message{}, types.ErrUnitTerminated
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	}
}

func (c *stdioConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })

	return nil
}

// natsConn exchanges messages over per-unit subjects.
type natsConn struct {
	nc     *nats.Conn
	unitID int
	out    string
	exit   string

	sub   *nats.Subscription
	inbox chan *nats.Msg

	closeOnce sync.Once
	closed    chan struct{}
}

func newNATSConn(nc *nats.Conn, prefix string, unitID int) (*natsConn, error) {
	c := &natsConn{
		nc:     nc,
		unitID: unitID,
		out:    fmt.Sprintf("%s.unit.%d.out", prefix, unitID),
		exit:   fmt.Sprintf("%s.unit.%d.exit", prefix, unitID),
		inbox:  make(chan *nats.Msg, 256),
		closed: make(chan struct{}),
	}

	in := fmt.Sprintf("%s.unit.%d.in", prefix, unitID)
	sub, err := nc.ChanSubscribe(in, c.inbox)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe %s: %w", in, err)
	}
	c.sub = sub

	return c, nil
}

func (c *natsConn) Send(msg types.Message) error {
	select {
	case <-c.closed:
		return types.ErrUnitTerminated
	default:
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerialization, err)
	}

	return c.nc.Publish(c.out, raw)
}

func (c *natsConn) Recv(ctx context.Context) (types.Message, error) {
	for {
		select {
		case m, ok := <-c.inbox:
			if !ok {
				return types.Message{}, types.ErrUnitTerminated
			}

			var msg types.Message
			if err := json.Unmarshal(m.Data, &msg); err != nil {
				// Malformed frames are dropped, not fatal.
				continue
			}

			return msg, nil
		case <-c.closed:
			return types.Message{}, types.ErrUnitTerminated
		case <-ctx.Done():
			return types.Message{}, ctx.Err()
		}
	}
}

func (c *natsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		raw, merr := json.Marshal(types.ExitInfo{UnitID: c.unitID, Reason: "unit detached"})
		if merr == nil {
			err = c.nc.Publish(c.exit, raw)
		}

		if uerr := c.sub.Unsubscribe(); uerr != nil && err == nil {
			err = uerr
		}
	})

	return err
}
