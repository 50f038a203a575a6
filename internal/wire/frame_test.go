package wire

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/LucasCzechia/discord-cluster/types"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	in := types.Message{
		Type:    types.MsgRequest,
		Nonce:   "abc-1",
		From:    types.ControllerID,
		To:      3,
		Name:    "lookup",
		Payload: map[string]any{"id": "42"},
	}
	require.NoError(t, WriteMessage(&buf, in))

	out, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, in.Type, out.Type)
	require.Equal(t, in.Nonce, out.Nonce)
	require.Equal(t, in.To, out.To)
	require.Equal(t, map[string]any{"id": "42"}, out.Payload)
}

func TestFrameSequence(t *testing.T) {
	var buf bytes.Buffer
	for i := 0; i < 5; i++ {
		require.NoError(t, WriteMessage(&buf, types.Message{Type: types.MsgHeartbeat, To: i}))
	}

	for i := 0; i < 5; i++ {
		msg, err := ReadMessage(&buf)
		require.NoError(t, err)
		require.Equal(t, i, msg.To)
	}

	_, err := ReadMessage(&buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestWriteMessage_RejectsUntransmittablePayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteMessage(&buf, types.Message{Type: types.MsgRequest, Payload: func() {}})
	require.ErrorIs(t, err, types.ErrSerialization)
	require.Zero(t, buf.Len(), "nothing may reach the wire on a rejected payload")
}

func TestReadMessage_TruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMessage(&buf, types.Message{Type: types.MsgResponse, Nonce: "n"}))

	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])
	_, err := ReadMessage(truncated)
	require.Error(t, err)
	require.NotErrorIs(t, err, io.EOF)
}
