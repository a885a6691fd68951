package cluster

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageType is the one-byte tag that starts every frame on the wire.
type MessageType byte

// MsgTimestamp tags both the proposal a federate sends and the agreed start
// time the coordinator sends back.
const MsgTimestamp MessageType = 2

// MessageSize is the fixed frame size: one tag byte followed by an 8-byte
// big-endian signed instant.
const MessageSize = 9

var (
	// ErrMalformedMessage is returned when a buffer is not exactly MessageSize bytes.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrPeerDisconnected is returned when the connection ends before a full
	// frame has been read.
	ErrPeerDisconnected = errors.New("peer disconnected before completing handshake")

	// ErrProtocolViolation is returned when a frame carries an unexpected tag.
	ErrProtocolViolation = errors.New("protocol violation")
)

// Message is one decoded frame. Instant is a logical time, typically
// nanoseconds since the Unix epoch.
type Message struct {
	Type    MessageType
	Instant int64
}

func (t MessageType) String() string {
	if t == MsgTimestamp {
		return "TIMESTAMP"
	}
	return fmt.Sprintf("MessageType(%d)", byte(t))
}

// DecodeMessage parses a 9-byte frame. The tag is returned as-is; checking it
// is the caller's business.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) != MessageSize {
		return Message{}, fmt.Errorf("%w: got %d bytes, want %d", ErrMalformedMessage, len(b), MessageSize)
	}
	return Message{
		Type:    MessageType(b[0]),
		Instant: int64(binary.BigEndian.Uint64(b[1:])),
	}, nil
}

// EncodeMessage renders m as a 9-byte frame.
func EncodeMessage(m Message) []byte {
	b := make([]byte, MessageSize)
	b[0] = byte(m.Type)
	binary.BigEndian.PutUint64(b[1:], uint64(m.Instant))
	return b
}

// EncodeResponse renders the coordinator's reply carrying the agreed instant.
func EncodeResponse(instant int64) []byte {
	return EncodeMessage(Message{Type: MsgTimestamp, Instant: instant})
}

// ReadMessage reads exactly one frame from r, accumulating short reads.
// If r ends before a whole frame arrives it returns ErrPeerDisconnected.
func ReadMessage(r io.Reader) (Message, error) {
	buf := make([]byte, MessageSize)
	n, err := io.ReadFull(r, buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, fmt.Errorf("%w (read %d of %d bytes)", ErrPeerDisconnected, n, MessageSize)
		}
		return Message{}, fmt.Errorf("read message: %w", err)
	}
	return DecodeMessage(buf)
}

// WriteMessage writes m to w as a single frame.
func WriteMessage(w io.Writer, m Message) error {
	if _, err := w.Write(EncodeMessage(m)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
