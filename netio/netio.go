// Package netio provides blocking helpers that move an exact number of bytes
// over a stream connection. Reads can be bounded by a wall-clock timeout, and
// transient interruptions of the underlying call are retried instead of being
// reported to the caller.
package netio

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"time"
)

// PollWindow is the read window used when a zero timeout is requested. A
// deadline that has already passed makes the runtime fail the read before it
// looks at the socket, so a poll needs a small positive window to pick up
// data that is already buffered.
const PollWindow = time.Millisecond

// Conn is the subset of net.Conn the helpers need.
type Conn interface {
	io.Reader
	io.Writer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// WriteAll writes every byte of p to conn, resuming after short writes and
// interrupted calls. A zero-length p returns immediately without touching
// the connection.
//
// Parameters:
//   - conn: The connection to write to
//   - p: The bytes to write
//
// Returns:
//   - nil when all bytes were written, or the first hard write error
func WriteAll(conn Conn, p []byte) error {
	written := 0
	for written < len(p) {
		n, err := conn.Write(p[written:])
		written += n
		if err != nil {
			if isInterrupted(err) {
				continue
			}

			return fmt.Errorf("wrote %d of %d bytes: %w", written, len(p), err)
		}

		if n == 0 {
			return fmt.Errorf("wrote %d of %d bytes: %w", written, len(p), io.ErrShortWrite)
		}
	}

	return nil
}

// WriteAllTimeout is WriteAll bounded by a write deadline. A timeout <= 0
// means no deadline. The deadline is cleared before returning.
//
// Parameters:
//   - conn: The connection to write to
//   - p: The bytes to write
//   - timeout: Maximum total time for the write
//
// Returns:
//   - nil when all bytes were written, or the write or deadline error
func WriteAllTimeout(conn Conn, p []byte, timeout time.Duration) error {
	if len(p) == 0 {
		return nil
	}

	if timeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return err
		}

		defer func() {
			_ = conn.SetWriteDeadline(time.Time{})
		}()
	}

	return WriteAll(conn, p)
}

// ReadExact blocks until p is full. Any read deadline left on conn is cleared
// first.
//
// Parameters:
//   - conn: The connection to read from
//   - p: Destination buffer; its length is the number of bytes to read
//
// Returns:
//   - The number of bytes read
//   - io.EOF if the peer closed the connection before p was filled, or the
//     hard read error
func ReadExact(conn Conn, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return 0, err
	}

	return readFull(conn, p, false)
}

// ReadExactTimeout reads up to len(p) bytes, giving up once timeout has
// elapsed since the call started. The timeout bounds the total wait, not each
// individual read. Running out of time is not an error: the partial count is
// returned with a nil error. A timeout <= 0 polls for data that is already
// available.
//
// Parameters:
//   - conn: The connection to read from
//   - p: Destination buffer; its length is the number of bytes wanted
//   - timeout: Maximum total time to wait
//
// Returns:
//   - The number of bytes read, possibly less than len(p)
//   - io.EOF if the peer closed the connection, or the hard read error
func ReadExactTimeout(conn Conn, p []byte, timeout time.Duration) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	if timeout <= 0 {
		timeout = PollWindow
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return 0, err
	}

	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
	}()

	return readFull(conn, p, true)
}

func readFull(conn Conn, p []byte, timed bool) (int, error) {
	read := 0
	for read < len(p) {
		n, err := conn.Read(p[read:])
		read += n
		if err == nil {
			continue
		}

		if read == len(p) {
			return read, nil
		}

		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return read, io.EOF
		case timed && IsTimeout(err):
			return read, nil
		case isInterrupted(err):
			continue
		default:
			return read, err
		}
	}

	return read, nil
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isInterrupted(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
