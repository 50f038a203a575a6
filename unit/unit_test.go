package unit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/internal/logging"
	"github.com/LucasCzechia/discord-cluster/internal/wire"
	"github.com/LucasCzechia/discord-cluster/types"
)

// fakeController drives the far end of a unit's stdio transport.
type fakeController struct {
	t    *testing.T
	w    io.Writer
	msgs chan types.Message
}

func newPipedUnit(t *testing.T, opts ...Option) (*Unit, *fakeController) {
	t.Helper()

	unitInR, unitInW := io.Pipe()
	unitOutR, unitOutW := io.Pipe()

	info := types.SpawnInfo{
		UnitID:           1,
		ShardIDs:         []int{2, 3},
		TotalShards:      8,
		TotalClusters:    4,
		ShardsPerCluster: 2,
	}

	opts = append([]Option{
		WithLogger(logging.NewNop()),
		WithRequestTimeout(time.Second),
	}, opts...)
	u := Attach(newStdioConn(unitInR, unitOutW), info, opts...)

	fc := &fakeController{t: t, w: unitInW, msgs: make(chan types.Message, 64)}
	go func() {
		defer close(fc.msgs)

		for {
			msg, err := wire.ReadMessage(unitOutR)
			if err != nil {
				return
			}
			fc.msgs <- msg
		}
	}()

	t.Cleanup(func() {
		u.Stop()
		_ = unitInW.Close()
		_ = unitOutR.Close()
	})

	return u, fc
}

func (fc *fakeController) send(msg types.Message) {
	fc.t.Helper()
	require.NoError(fc.t, wire.WriteMessage(fc.w, msg))
}

func (fc *fakeController) expect(msgType types.MsgType) types.Message {
	fc.t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg, ok := <-fc.msgs:
			require.True(fc.t, ok, "transport closed while waiting for %s", msgType.String())
			if msg.Type == msgType {
				return msg
			}
		case <-deadline:
			fc.t.Fatalf("no %s message arrived", msgType.String())
		}
	}
}

func TestUnit_ReadySignal(t *testing.T) {
	u, fc := newPipedUnit(t)
	require.NoError(t, u.Start(context.Background()))
	require.NoError(t, u.Ready())

	msg := fc.expect(types.MsgControl)
	require.Equal(t, types.ControlReady, msg.Name)
	require.Equal(t, 1, msg.From)
	require.Equal(t, types.ControllerID, msg.To)

	require.ErrorIs(t, u.Start(context.Background()), types.ErrAlreadyStarted)
}

func TestUnit_HeartbeatAckedAheadOfHandlers(t *testing.T) {
	u, fc := newPipedUnit(t)

	release := make(chan struct{})
	u.Handle("slow", func(ctx context.Context, _ any) (any, error) {
		<-release

		return nil, nil
	})

	require.NoError(t, u.Start(context.Background()))

	// A request parks in its handler; the probe right behind it is still
	// answered immediately.
	fc.send(types.Message{Type: types.MsgRequest, Nonce: "r1", From: types.ControllerID, To: 1, Name: "slow"})
	fc.send(types.Message{Type: types.MsgHeartbeat, Nonce: "h1", From: types.ControllerID, To: 1})

	ack := fc.expect(types.MsgHeartbeatAck)
	require.Equal(t, "h1", ack.Nonce)

	close(release)
	fc.expect(types.MsgResponse)
}

func TestUnit_ServesRequests(t *testing.T) {
	u, fc := newPipedUnit(t)
	u.Handle("echo", func(_ context.Context, data any) (any, error) {
		return data, nil
	})
	u.Handle("fail", func(context.Context, any) (any, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, u.Start(context.Background()))

	fc.send(types.Message{Type: types.MsgRequest, Nonce: "r1", From: types.ControllerID, To: 1, Name: "echo", Payload: "hi"})
	resp := fc.expect(types.MsgResponse)
	require.Equal(t, "r1", resp.Nonce)
	require.Equal(t, "hi", resp.Payload)
	require.Equal(t, types.ControllerID, resp.To)

	fc.send(types.Message{Type: types.MsgRequest, Nonce: "r2", From: types.ControllerID, To: 1, Name: "fail"})
	errMsg := fc.expect(types.MsgError)
	require.Equal(t, types.ErrCodeHandlerFailed, errMsg.Name)
	require.Equal(t, "boom", errMsg.Error)

	fc.send(types.Message{Type: types.MsgRequest, Nonce: "r3", From: types.ControllerID, To: 1, Name: "missing"})
	errMsg = fc.expect(types.MsgError)
	require.Equal(t, types.ErrCodeNoHandler, errMsg.Name)
	require.Equal(t, "No handler registered for 'missing'", errMsg.Error)
}

func TestUnit_RequestRoundTrip(t *testing.T) {
	u, fc := newPipedUnit(t)
	require.NoError(t, u.Start(context.Background()))

	done := make(chan struct{})
	var data any
	var err error
	go func() {
		defer close(done)
		data, err = u.Request(context.Background(), 2, "status", nil)
	}()

	req := fc.expect(types.MsgRequest)
	require.Equal(t, 2, req.To)
	require.Equal(t, "status", req.Name)

	fc.send(types.Message{Type: types.MsgResponse, Nonce: req.Nonce, From: 2, To: 1, Payload: "ok"})

	<-done
	require.NoError(t, err)
	require.Equal(t, "ok", data)
}

func TestUnit_RequestTimeout(t *testing.T) {
	u, _ := newPipedUnit(t, WithRequestTimeout(30*time.Millisecond))
	require.NoError(t, u.Start(context.Background()))

	_, err := u.Request(context.Background(), 2, "status", nil)
	require.ErrorIs(t, err, types.ErrRequestTimeout)
}

func TestUnit_StoreRoundTrip(t *testing.T) {
	u, fc := newPipedUnit(t)
	require.NoError(t, u.Start(context.Background()))

	done := make(chan struct{})
	var value any
	var found bool
	var err error
	go func() {
		defer close(done)
		value, found, err = u.Store().Get(context.Background(), "answer")
	}()

	op := fc.expect(types.MsgStoreOp)
	require.Equal(t, types.StoreGet, op.Name)

	fc.send(types.Message{
		Type:    types.MsgStoreResult,
		Nonce:   op.Nonce,
		From:    types.ControllerID,
		To:      1,
		Name:    types.StoreGet,
		Payload: types.StorePayload{Key: "answer", Value: 42, Found: true},
	})

	<-done
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, float64(42), value)
}

func TestUnit_TrackedEventAckedBeforeListeners(t *testing.T) {
	u, fc := newPipedUnit(t)

	fired := make(chan any, 1)
	u.On("config_changed", func(from int, data any) {
		fired <- data
	})
	require.NoError(t, u.Start(context.Background()))

	fc.send(types.Message{
		Type:     types.MsgEvent,
		Nonce:    "ev1",
		From:     types.ControllerID,
		To:       types.BroadcastID,
		Name:     "config_changed",
		Payload:  "v2",
		Expected: 3,
	})

	ack := fc.expect(types.MsgEventAck)
	require.Equal(t, "ev1", ack.Nonce)

	select {
	case data := <-fired:
		require.Equal(t, "v2", data)
	case <-time.After(time.Second):
		t.Fatal("listener never fired")
	}
}

func TestUnit_RequestAllMergesLocalSeed(t *testing.T) {
	u, fc := newPipedUnit(t)
	u.Handle("count", func(context.Context, any) (any, error) {
		return 7, nil
	})
	require.NoError(t, u.Start(context.Background()))

	done := make(chan struct{})
	var collection types.ResultCollection
	var err error
	go func() {
		defer close(done)
		collection, err = u.RequestAll(context.Background(), "count", nil, 200*time.Millisecond)
	}()

	bc := fc.expect(types.MsgBroadcast)
	require.Equal(t, "count", bc.Name)
	require.Equal(t, types.BroadcastID, bc.To)

	fc.send(types.Message{
		Type:  types.MsgResponse,
		Nonce: bc.Nonce,
		From:  types.ControllerID,
		To:    1,
		Payload: []types.Result{
			{UnitID: 0, Status: types.StatusOk, Data: 3},
			{UnitID: 2, Status: types.StatusOk, Data: 5},
		},
	})

	<-done
	require.NoError(t, err)
	require.Equal(t, 3, collection.Len())
	require.True(t, collection.AllOk())
	require.Equal(t, float64(15), collection.Sum())

	local, ok := collection.ByUnit(1)
	require.True(t, ok)
	require.Equal(t, 7, local.Data)
}

func TestUnit_TerminateControl(t *testing.T) {
	u, fc := newPipedUnit(t)
	require.NoError(t, u.Start(context.Background()))

	fc.send(types.Message{
		Type: types.MsgControl,
		From: types.ControllerID,
		To:   1,
		Name: types.ControlTerminate,
	})

	select {
	case <-u.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatal("unit never stopped")
	}
}

func TestUnit_FleetReady(t *testing.T) {
	u, fc := newPipedUnit(t)
	require.NoError(t, u.Start(context.Background()))

	go fc.send(types.Message{
		Type: types.MsgControl,
		From: types.ControllerID,
		To:   1,
		Name: types.ControlFleetReady,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, u.WaitFleetReady(ctx))
}
