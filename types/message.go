package types

import (
	"encoding/json"
	"fmt"
)

// MsgType tags the kind of an IPC message.
//
// The router dispatches on this tag through a lookup table; adding a message
// kind means adding a constant here and one handler entry in the dispatch
// table, nothing else.
type MsgType int

const (
	// MsgRequest asks a named handler on the target to execute.
	MsgRequest MsgType = iota + 1

	// MsgResponse carries a successful handler result back to the requester.
	MsgResponse

	// MsgError carries a handler or routing failure back to the requester.
	MsgError

	// MsgBroadcast asks the controller to fan a request out to every unit
	// except the sender and aggregate the replies.
	MsgBroadcast

	// MsgControl carries lifecycle signals (ready, fleet_ready, terminate).
	MsgControl

	// MsgStoreOp asks the controller to execute a shared-store operation.
	MsgStoreOp

	// MsgStoreResult carries a shared-store operation result.
	MsgStoreResult

	// MsgEvent carries a pub/sub event through the relay.
	MsgEvent

	// MsgEventAck acknowledges local delivery of a tracked event.
	MsgEventAck

	// MsgHeartbeat is a liveness probe from the controller.
	MsgHeartbeat

	// MsgHeartbeatAck answers a liveness probe.
	MsgHeartbeatAck
)

// String returns the string representation of the message type.
func (t MsgType) String() string {
	switch t {
	case MsgRequest:
		return "Request"
	case MsgResponse:
		return "Response"
	case MsgError:
		return "Error"
	case MsgBroadcast:
		return "Broadcast"
	case MsgControl:
		return "Control"
	case MsgStoreOp:
		return "StoreOp"
	case MsgStoreResult:
		return "StoreResult"
	case MsgEvent:
		return "Event"
	case MsgEventAck:
		return "EventAck"
	case MsgHeartbeat:
		return "Heartbeat"
	case MsgHeartbeatAck:
		return "HeartbeatAck"
	default:
		return "Unknown"
	}
}

// Control verbs carried in Message.Name for MsgControl.
const (
	// ControlReady is sent by a unit once its startup completed.
	ControlReady = "ready"

	// ControlFleetReady is fanned out by the controller once every expected
	// unit signaled ready.
	ControlFleetReady = "fleet_ready"

	// ControlTerminate asks a unit to exit gracefully.
	ControlTerminate = "terminate"
)

// Shared-store operations carried in Message.Name for MsgStoreOp.
const (
	StoreGet    = "get"
	StoreSet    = "set"
	StoreHas    = "has"
	StoreDelete = "delete"
)

// Machine-readable failure codes carried in Message.Name for MsgError.
const (
	// ErrCodeNoHandler means no handler was registered for the requested name.
	ErrCodeNoHandler = "no_handler"

	// ErrCodeHandlerFailed means the handler executed and returned an error.
	ErrCodeHandlerFailed = "handler_failed"

	// ErrCodeUnreachable means the addressed unit does not exist or is down.
	ErrCodeUnreachable = "unreachable"
)

// ErrorFromCode maps a wire failure code and its detail text onto the
// matching sentinel error.
func ErrorFromCode(code, detail string) error {
	switch code {
	case ErrCodeNoHandler:
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, detail)
	case ErrCodeUnreachable:
		return fmt.Errorf("%w: %s", ErrUnreachableUnit, detail)
	default:
		return fmt.Errorf("%w: %s", ErrHandlerFailed, detail)
	}
}

// Message is the wire envelope for all controller/unit IPC.
//
// From and To are unit IDs, with ControllerID addressing the controller and
// BroadcastID addressing every unit except the sender. Nonce correlates a
// request to its eventual reply; it is empty for fire-and-forget messages.
//
// Payload is restricted to JSON-transmittable values (primitives, nil, and
// arrays/maps thereof). A payload violating this constraint fails the send
// with ErrSerialization before anything reaches the wire.
type Message struct {
	Type    MsgType `json:"t"`
	Nonce   string  `json:"n,omitempty"`
	From    int     `json:"f"`
	To      int     `json:"to"`
	Name    string  `json:"name,omitempty"`
	Payload any     `json:"p,omitempty"`
	Error   string  `json:"e,omitempty"`

	// Expected is the expected acknowledgment count for tracked event
	// broadcasts (MsgEvent with a nonce).
	Expected int `json:"exp,omitempty"`

	// TTLMillis carries a store entry TTL or a broadcast aggregation timeout
	// in milliseconds. Zero means the receiver's default.
	TTLMillis int64 `json:"ttl,omitempty"`
}

// StorePayload is the payload shape for MsgStoreOp and MsgStoreResult.
type StorePayload struct {
	Key   string `json:"k,omitempty"`
	Value any    `json:"v,omitempty"`
	Found bool   `json:"ok,omitempty"`
}

// CheckPayload verifies that a payload satisfies the transmission constraint.
//
// Functions, channels, cyclic structures and other non-serializable values
// are rejected with an error wrapping ErrSerialization.
//
// Parameters:
//   - v: Payload value to check
//
// Returns:
//   - error: nil if transmittable, ErrSerialization-wrapped error otherwise
func CheckPayload(v any) error {
	if v == nil {
		return nil
	}
	if _, err := json.Marshal(v); err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return nil
}

// CloneMessage deep-copies a message through its wire encoding.
//
// Shared-memory transports use this so a sender can never alias mutable
// state into a receiver, and so the payload constraint is enforced uniformly
// across transports: every delivered payload is plain decoded JSON.
//
// Parameters:
//   - msg: Message to clone
//
// Returns:
//   - Message: Decoded copy of the message
//   - error: ErrSerialization-wrapped error for untransmittable payloads
func CloneMessage(msg Message) (Message, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	var out Message
	if err := json.Unmarshal(raw, &out); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	return out, nil
}

// DecodeStorePayload extracts a StorePayload from a decoded message payload.
//
// Payloads arrive as generic decoded JSON (map[string]any) after crossing a
// transport; this re-shapes them into the typed form.
func DecodeStorePayload(v any) (StorePayload, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return StorePayload{}, fmt.Errorf("%w: %v", ErrSerialization, err)
	}

	var sp StorePayload
	if err := json.Unmarshal(raw, &sp); err != nil {
		return StorePayload{}, fmt.Errorf("invalid store payload: %w", err)
	}

	return sp, nil
}
