package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cyberinferno/timewarp/netio"
)

var (
	ErrHandshakeWrite   = errors.New("protocol: could not write handshake token")
	ErrHandshakeTimeout = errors.New("protocol: timed out reading handshake token")
	ErrHandshakeClosed  = errors.New("protocol: connection closed during handshake")
	ErrHandshakeRead    = errors.New("protocol: could not read handshake token")
	ErrTokenMismatch    = errors.New("protocol: handshake token mismatch")
	ErrEmptyToken       = errors.New("protocol: empty handshake token")
)

// HandshakeState is the state of one side of a handshake.
type HandshakeState int

const (
	HandshakeInit        HandshakeState = iota // Nothing exchanged yet
	HandshakeEstablished                       // Tokens matched in both directions
	HandshakeFailed                            // Terminal failure; the connection must be closed
)

// String returns a human-readable name for the handshake state.
func (s HandshakeState) String() string {
	switch s {
	case HandshakeInit:
		return "INIT"
	case HandshakeEstablished:
		return "ESTABLISHED"
	case HandshakeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Handshake sends token on conn and waits up to timeout for the peer to send
// the same token back. Both client and server run the same exchange. On
// failure the caller owns closing the connection.
//
// Parameters:
//   - conn: A freshly established connection
//   - token: The handshake token; must match the peer's byte for byte
//   - timeout: Maximum wait for the peer's token
//
// Returns:
//   - HandshakeEstablished and nil on success
//   - HandshakeFailed and one of the ErrHandshake* / ErrTokenMismatch errors
func Handshake(conn netio.Conn, token string, timeout time.Duration) (HandshakeState, error) {
	if token == "" {
		return HandshakeFailed, ErrEmptyToken
	}

	if err := netio.WriteAllTimeout(conn, []byte(token), timeout); err != nil {
		return HandshakeFailed, fmt.Errorf("%w: %w", ErrHandshakeWrite, err)
	}

	got := make([]byte, len(token))
	n, err := netio.ReadExactTimeout(conn, got, timeout)
	switch {
	case errors.Is(err, io.EOF):
		return HandshakeFailed, fmt.Errorf("%w after %d of %d bytes", ErrHandshakeClosed, n, len(token))
	case err != nil:
		return HandshakeFailed, fmt.Errorf("%w: %w", ErrHandshakeRead, err)
	case n < len(token):
		return HandshakeFailed, fmt.Errorf("%w: got %d of %d bytes within %s", ErrHandshakeTimeout, n, len(token), timeout)
	}

	if !bytes.Equal(got, []byte(token)) {
		return HandshakeFailed, fmt.Errorf("%w: got %q", ErrTokenMismatch, got)
	}

	return HandshakeEstablished, nil
}
