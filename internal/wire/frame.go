// Package wire implements the length-delimited JSON framing used by
// pipe-based unit transports.
//
// Each frame is a 4-byte big-endian length followed by one JSON-encoded
// Message. The format is shared by the controller-side process handle and
// the unit-side stdio endpoint.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/LucasCzechia/discord-cluster/types"
)

// MaxFrameSize bounds a single message frame. Payloads are coordination
// data, not bulk transfer; anything larger indicates a protocol error.
const MaxFrameSize = 8 << 20

// WriteMessage encodes msg and writes one frame to w.
//
// Callers serialize writes themselves; frames from interleaved writers
// would corrupt the stream.
func WriteMessage(w io.Writer, msg types.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrSerialization, err)
	}
	if len(raw) > MaxFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds limit", types.ErrSerialization, len(raw))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(raw)))

	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write frame header: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("failed to write frame body: %w", err)
	}

	return nil
}

// ReadMessage reads one frame from r and decodes it.
//
// Returns io.EOF unwrapped when the stream ends cleanly at a frame boundary.
func ReadMessage(r io.Reader) (types.Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return types.Message{}, io.EOF
		}

		return types.Message{}, fmt.Errorf("failed to read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return types.Message{}, fmt.Errorf("frame size %d exceeds limit", size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return types.Message{}, fmt.Errorf("failed to read frame body: %w", err)
	}

	var msg types.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return types.Message{}, fmt.Errorf("failed to decode frame: %w", err)
	}

	return msg, nil
}
