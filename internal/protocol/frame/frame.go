package frame

import (
	"errors"
	"fmt"
)

// Escape starts every message on the wire and is doubled to carry a literal
// 0x8F inside a data payload. It is outside 7-bit ASCII.
const Escape byte = 0x8F

// MessageType is the byte that follows Escape. Values are wire constants.
type MessageType byte

const (
	TypeAck   MessageType = 0
	TypeJoin  MessageType = 1
	TypeLeave MessageType = 2
	TypeData  MessageType = 3
	TypeEnd   MessageType = 4
)

var (
	ErrNotControl      = errors.New("frame: not a control message type")
	ErrPayloadTooLarge = errors.New("frame: payload too large")
)

func (t MessageType) String() string {
	switch t {
	case TypeAck:
		return "ack"
	case TypeJoin:
		return "join"
	case TypeLeave:
		return "leave"
	case TypeData:
		return "data"
	case TypeEnd:
		return "end"
	default:
		return fmt.Sprintf("type(0x%02x)", byte(t))
	}
}

// IsControl reports whether t is sent as a bare two-byte control message.
func (t MessageType) IsControl() bool {
	return t == TypeAck || t == TypeJoin || t == TypeLeave
}

// Limits constrains payload memory use on both encode and decode.
type Limits struct {
	// MaxPayloadBytes is the largest unescaped payload accepted. Zero or
	// negative means no limit.
	MaxPayloadBytes int
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024,
	}
}

func (l Limits) allows(n int) bool {
	return l.MaxPayloadBytes <= 0 || n <= l.MaxPayloadBytes
}

func CheckPayload(payload []byte, limits Limits) error {
	if !limits.allows(len(payload)) {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), limits.MaxPayloadBytes)
	}
	return nil
}

// EncodeControl returns the two-byte wire form of Ack, Join or Leave.
func EncodeControl(t MessageType) ([]byte, error) {
	if !t.IsControl() {
		return nil, fmt.Errorf("%w: %s", ErrNotControl, t)
	}
	return []byte{Escape, byte(t)}, nil
}

// EncodeData returns Escape, Data, the escaped payload, then Escape, End.
func EncodeData(payload []byte) []byte {
	out := make([]byte, 0, 4+EscapedLen(payload))
	out = append(out, Escape, byte(TypeData))
	out = AppendEscaped(out, payload)
	out = append(out, Escape, byte(TypeEnd))
	return out
}

// AppendEscaped appends payload to dst with every Escape byte doubled.
func AppendEscaped(dst, payload []byte) []byte {
	for _, b := range payload {
		if b == Escape {
			dst = append(dst, Escape, Escape)
			continue
		}
		dst = append(dst, b)
	}
	return dst
}

// EscapedLen is len(payload) plus one per Escape byte in it.
func EscapedLen(payload []byte) int {
	n := len(payload)
	for _, b := range payload {
		if b == Escape {
			n++
		}
	}
	return n
}
