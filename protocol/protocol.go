// Package protocol defines the timewarp wire protocol: the versioned
// handshake token exchanged when a connection opens and the fixed 16-byte
// command frame that follows it.
//
// A frame is two big-endian 64-bit signed integers, the opcode followed by
// the payload. There is no length prefix or delimiter; both peers know the
// frame size.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

const (
	// Token is the handshake string both peers send and expect. The trailing
	// version guards against talking to an incompatible peer.
	Token = "aqt::TimeWarp::Connection v01.00.00"

	// DefaultPort is the well-known server port.
	DefaultPort = 2984

	// DefaultHandshakeTimeout bounds the wait for the peer's token on both
	// the client and the server side.
	DefaultHandshakeTimeout = 500 * time.Millisecond

	// FrameSize is the size of one command frame on the wire.
	FrameSize = 16
)

// Opcode identifies the command carried by a frame.
type Opcode int64

const (
	// OpSetTime sets the receiver's time offset to the frame payload.
	OpSetTime Opcode = 1
)

// String returns the opcode name, or its number for unknown opcodes.
func (o Opcode) String() string {
	switch o {
	case OpSetTime:
		return "SET_TIME"
	default:
		return fmt.Sprintf("OPCODE(%d)", int64(o))
	}
}

// Known reports whether the opcode is one this version understands.
func (o Opcode) Known() bool {
	return o == OpSetTime
}

// ErrShortFrame is returned when decoding fewer than FrameSize bytes.
var ErrShortFrame = errors.New("protocol: short frame")

// Frame is one decoded command.
type Frame struct {
	Opcode  Opcode
	Payload int64
}

// EncodeFrame packs opcode and payload into the 16-byte wire form. The
// result is the same on every host regardless of its native byte order.
//
// Parameters:
//   - opcode: The command opcode
//   - payload: The signed command argument (the time offset for OpSetTime)
//
// Returns:
//   - The encoded frame
func EncodeFrame(opcode Opcode, payload int64) [FrameSize]byte {
	var b [FrameSize]byte
	binary.BigEndian.PutUint64(b[:8], uint64(opcode))
	binary.BigEndian.PutUint64(b[8:], uint64(payload))
	return b
}

// DecodeFrame unpacks the first FrameSize bytes of b.
//
// Parameters:
//   - b: At least FrameSize bytes in wire order
//
// Returns:
//   - The decoded frame
//   - ErrShortFrame if b holds fewer than FrameSize bytes
func DecodeFrame(b []byte) (Frame, error) {
	if len(b) < FrameSize {
		return Frame{}, fmt.Errorf("%w: got %d bytes, want %d", ErrShortFrame, len(b), FrameSize)
	}

	return Frame{
		Opcode:  Opcode(binary.BigEndian.Uint64(b[:8])),
		Payload: int64(binary.BigEndian.Uint64(b[8:FrameSize])),
	}, nil
}

// Bytes returns the wire form of f.
func (f Frame) Bytes() []byte {
	b := EncodeFrame(f.Opcode, f.Payload)
	return b[:]
}

func (f Frame) String() string {
	return fmt.Sprintf("%s %d", f.Opcode, f.Payload)
}
