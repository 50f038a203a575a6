package handle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/types"
)

func TestThreadHandle_RoundTrip(t *testing.T) {
	// Echo unit: replies to every request with the same payload.
	spawner := NewThreadSpawner(func(ctx context.Context, conn types.Conn, info types.SpawnInfo) {
		for {
			msg, err := conn.Recv(ctx)
			if err != nil {
				return
			}
			if msg.Type == types.MsgRequest {
				_ = conn.Send(types.Message{
					Type:  types.MsgResponse,
					Nonce: msg.Nonce,
					From:  info.UnitID,
					To:    types.ControllerID,
					Payload: map[string]any{
						"echo": msg.Payload,
					},
				})
			}
		}
	})

	inbound := make(chan types.Message, 8)
	exited := make(chan types.ExitInfo, 1)

	h, err := spawner.Spawn(context.Background(), types.SpawnOptions{
		Info:    types.SpawnInfo{UnitID: 3, ShardIDs: []int{6, 7}},
		Deliver: func(msg types.Message) { inbound <- msg },
		OnExit:  func(info types.ExitInfo) { exited <- info },
	})
	require.NoError(t, err)
	require.Zero(t, h.PID())

	require.NoError(t, h.Send(types.Message{Type: types.MsgRequest, Nonce: "n-1", To: 3, Payload: "ping"}))

	select {
	case msg := <-inbound:
		require.Equal(t, types.MsgResponse, msg.Type)
		require.Equal(t, "n-1", msg.Nonce)
		require.Equal(t, 3, msg.From)
	case <-time.After(time.Second):
		t.Fatal("no reply from thread unit")
	}

	require.NoError(t, h.Terminate("test done"))

	select {
	case info := <-exited:
		require.False(t, info.Crashed)
		require.Equal(t, "test done", info.Reason)
	case <-time.After(time.Second):
		t.Fatal("no exit notification")
	}

	require.ErrorIs(t, h.Send(types.Message{Type: types.MsgRequest}), types.ErrUnitTerminated)
}

func TestThreadHandle_RejectsUntransmittablePayload(t *testing.T) {
	spawner := NewThreadSpawner(func(ctx context.Context, conn types.Conn, _ types.SpawnInfo) {
		<-ctx.Done()
	})

	h, err := spawner.Spawn(context.Background(), types.SpawnOptions{
		Deliver: func(types.Message) {},
		OnExit:  func(types.ExitInfo) {},
	})
	require.NoError(t, err)
	defer func() { _ = h.Terminate("cleanup") }()

	err = h.Send(types.Message{Type: types.MsgRequest, Payload: func() {}})
	require.ErrorIs(t, err, types.ErrSerialization)
}

func TestThreadHandle_PayloadIsolation(t *testing.T) {
	got := make(chan types.Message, 1)
	spawner := NewThreadSpawner(func(ctx context.Context, conn types.Conn, _ types.SpawnInfo) {
		msg, err := conn.Recv(ctx)
		if err == nil {
			got <- msg
		}
		<-ctx.Done()
	})

	h, err := spawner.Spawn(context.Background(), types.SpawnOptions{
		Deliver: func(types.Message) {},
		OnExit:  func(types.ExitInfo) {},
	})
	require.NoError(t, err)
	defer func() { _ = h.Terminate("cleanup") }()

	payload := map[string]any{"v": "original"}
	require.NoError(t, h.Send(types.Message{Type: types.MsgEvent, Payload: payload}))
	payload["v"] = "mutated"

	select {
	case msg := <-got:
		decoded, ok := msg.Payload.(map[string]any)
		require.True(t, ok)
		require.Equal(t, "original", decoded["v"])
	case <-time.After(time.Second):
		t.Fatal("unit never received the message")
	}
}

func TestThreadHandle_CrashOnPanic(t *testing.T) {
	spawner := NewThreadSpawner(func(context.Context, types.Conn, types.SpawnInfo) {
		panic("unit blew up")
	})

	exited := make(chan types.ExitInfo, 1)
	_, err := spawner.Spawn(context.Background(), types.SpawnOptions{
		Deliver: func(types.Message) {},
		OnExit:  func(info types.ExitInfo) { exited <- info },
	})
	require.NoError(t, err)

	select {
	case info := <-exited:
		require.True(t, info.Crashed)
		require.Contains(t, info.Reason, "unit blew up")
	case <-time.After(time.Second):
		t.Fatal("no exit notification for panicking unit")
	}
}

func TestThreadHandle_SpontaneousReturnIsCrash(t *testing.T) {
	spawner := NewThreadSpawner(func(context.Context, types.Conn, types.SpawnInfo) {
		// Returns immediately without terminate.
	})

	exited := make(chan types.ExitInfo, 1)
	_, err := spawner.Spawn(context.Background(), types.SpawnOptions{
		Deliver: func(types.Message) {},
		OnExit:  func(info types.ExitInfo) { exited <- info },
	})
	require.NoError(t, err)

	select {
	case info := <-exited:
		require.True(t, info.Crashed)
	case <-time.After(time.Second):
		t.Fatal("no exit notification")
	}
}
