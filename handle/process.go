package handle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/LucasCzechia/discord-cluster/internal/wire"
	"github.com/LucasCzechia/discord-cluster/types"
)

// SpawnInfoEnv is the environment variable carrying the JSON-encoded
// SpawnInfo to a child unit process.
const SpawnInfoEnv = "CLUSTER_SPAWN_INFO"

// killGracePeriod is how long Terminate waits between SIGTERM and SIGKILL.
const killGracePeriod = 5 * time.Second

// ProcessSpawner runs units as isolated OS processes.
//
// The child is expected to call unit.RunProcess, which picks up its
// SpawnInfo from the environment and speaks the frame protocol on
// stdin/stdout. Child stderr is passed through to the controller's stderr.
type ProcessSpawner struct {
	path string
	args []string
	env  []string
}

// Compile-time assertion that ProcessSpawner implements Spawner.
var _ types.Spawner = (*ProcessSpawner)(nil)

// NewProcessSpawner creates a spawner launching path with args for each unit.
//
// Parameters:
//   - path: Unit binary to execute
//   - args: Arguments passed to every unit
//   - env: Extra environment entries ("KEY=value") appended to the parent's
func NewProcessSpawner(path string, args []string, env []string) *ProcessSpawner {
	return &ProcessSpawner{path: path, args: args, env: env}
}

// Spawn launches a unit process and returns its handle.
func (s *ProcessSpawner) Spawn(_ context.Context, opts types.SpawnOptions) (types.Handle, error) {
	info, err := json.Marshal(opts.Info)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrSerialization, err)
	}

	cmd := exec.Command(s.path, s.args...) //nolint:gosec // path is operator-provided configuration
	cmd.Env = append(os.Environ(), s.env...)
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", SpawnInfoEnv, info))
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start unit process: %w", err)
	}

	h := &processHandle{
		unitID: opts.Info.UnitID,
		cmd:    cmd,
		stdin:  stdin,
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go h.readLoop(stdout, opts.Deliver)
	go h.waitExit(opts.OnExit)

	return h, nil
}

type processHandle struct {
	unitID int
	cmd    *exec.Cmd

	writeMu sync.Mutex
	stdin   io.WriteCloser

	mu         sync.Mutex
	isClosed   bool
	exitReason string

	closed chan struct{}
	done   chan struct{} // closed once Wait returns
}

func (h *processHandle) Send(msg types.Message) error {
	select {
	case <-h.closed:
		return types.ErrUnitTerminated
	default:
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if err := wire.WriteMessage(h.stdin, msg); err != nil {
		if errors.Is(err, types.ErrSerialization) {
			return err
		}

		return fmt.Errorf("%w: %v", types.ErrUnitTerminated, err)
	}

	return nil
}

func (h *processHandle) Terminate(reason string) error {
	h.mu.Lock()
	if h.isClosed {
		h.mu.Unlock()

		return nil
	}
	h.isClosed = true
	h.exitReason = reason
	h.mu.Unlock()

	close(h.closed)

	// Best-effort graceful stop before signalling.
	_ = func() error {
		h.writeMu.Lock()
		defer h.writeMu.Unlock()

		return wire.WriteMessage(h.stdin, types.Message{
			Type: types.MsgControl,
			From: types.ControllerID,
			To:   h.unitID,
			Name: types.ControlTerminate,
		})
	}()

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(syscall.SIGTERM)

		// Escalate if the child ignores SIGTERM.
		go func() {
			timer := time.NewTimer(killGracePeriod)
			defer timer.Stop()

			select {
			case <-timer.C:
				_ = h.cmd.Process.Kill()
			case <-h.done:
			}
		}()
	}

	return nil
}

func (h *processHandle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}

	return h.cmd.Process.Pid
}

func (h *processHandle) terminated() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.isClosed
}

func (h *processHandle) readLoop(stdout io.Reader, deliver func(types.Message)) {
	for {
		msg, err := wire.ReadMessage(stdout)
		if err != nil {
			// Pipe closed; waitExit reports the outcome.
			return
		}
		deliver(msg)
	}
}

func (h *processHandle) waitExit(onExit func(types.ExitInfo)) {
	err := h.cmd.Wait()
	close(h.done)

	code := 0
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = 1
	}

	deliberate := h.terminated()
	reason := "unit process exited"
	if deliberate {
		h.mu.Lock()
		reason = h.exitReason
		h.mu.Unlock()
	}

	// Stop accepting sends once the process is gone.
	h.mu.Lock()
	if !h.isClosed {
		h.isClosed = true
		close(h.closed)
	}
	h.mu.Unlock()

	onExit(types.ExitInfo{
		UnitID:  h.unitID,
		Code:    code,
		Reason:  reason,
		Crashed: !deliberate,
	})
}
