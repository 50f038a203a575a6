package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckPayload(t *testing.T) {
	t.Run("accepts primitives and containers", func(t *testing.T) {
		require.NoError(t, CheckPayload(nil))
		require.NoError(t, CheckPayload(42))
		require.NoError(t, CheckPayload("hello"))
		require.NoError(t, CheckPayload([]any{1, "two", nil}))
		require.NoError(t, CheckPayload(map[string]any{"a": 1, "b": []int{2, 3}}))
	})

	t.Run("rejects functions", func(t *testing.T) {
		err := CheckPayload(func() {})
		require.ErrorIs(t, err, ErrSerialization)
	})

	t.Run("rejects channels", func(t *testing.T) {
		err := CheckPayload(make(chan int))
		require.ErrorIs(t, err, ErrSerialization)
	})

	t.Run("rejects cyclic structures", func(t *testing.T) {
		cycle := map[string]any{}
		cycle["self"] = cycle

		err := CheckPayload(cycle)
		require.ErrorIs(t, err, ErrSerialization)
	})
}

func TestCloneMessage(t *testing.T) {
	t.Run("decouples payload from sender", func(t *testing.T) {
		payload := map[string]any{"count": 1}
		msg := Message{Type: MsgRequest, Nonce: "abc-1", From: 2, To: ControllerID, Name: "lookup", Payload: payload}

		clone, err := CloneMessage(msg)
		require.NoError(t, err)
		require.Equal(t, msg.Type, clone.Type)
		require.Equal(t, msg.Nonce, clone.Nonce)
		require.Equal(t, msg.From, clone.From)
		require.Equal(t, msg.Name, clone.Name)

		// Mutating the original payload must not leak into the clone.
		payload["count"] = 99
		cloned, ok := clone.Payload.(map[string]any)
		require.True(t, ok)
		require.EqualValues(t, 1, cloned["count"])
	})

	t.Run("rejects untransmittable payloads", func(t *testing.T) {
		_, err := CloneMessage(Message{Type: MsgRequest, Payload: func() {}})
		require.ErrorIs(t, err, ErrSerialization)
	})
}

func TestDecodeStorePayload(t *testing.T) {
	sp, err := DecodeStorePayload(map[string]any{"k": "key", "v": "value", "ok": true})
	require.NoError(t, err)
	require.Equal(t, "key", sp.Key)
	require.Equal(t, "value", sp.Value)
	require.True(t, sp.Found)
}
