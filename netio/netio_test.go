package netio

import (
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConn replays a fixed sequence of read and write results.
type scriptedConn struct {
	reads      []scriptedRead
	writeLimit int
	writeErrs  []error
	written    []byte
	readCalls  int
	writeCalls int
}

type scriptedRead struct {
	data []byte
	err  error
}

func (c *scriptedConn) Read(p []byte) (int, error) {
	c.readCalls++
	if len(c.reads) == 0 {
		return 0, io.EOF
	}

	next := c.reads[0]
	c.reads = c.reads[1:]
	n := copy(p, next.data)
	return n, next.err
}

func (c *scriptedConn) Write(p []byte) (int, error) {
	c.writeCalls++
	if len(c.writeErrs) > 0 {
		err := c.writeErrs[0]
		c.writeErrs = c.writeErrs[1:]
		if err != nil {
			return 0, err
		}
	}

	n := len(p)
	if c.writeLimit > 0 && n > c.writeLimit {
		n = c.writeLimit
	}

	c.written = append(c.written, p[:n]...)
	return n, nil
}

func (c *scriptedConn) SetReadDeadline(time.Time) error  { return nil }
func (c *scriptedConn) SetWriteDeadline(time.Time) error { return nil }

func TestWriteAll(t *testing.T) {
	t.Run("zero-length write does not touch the connection", func(t *testing.T) {
		conn := &scriptedConn{}
		require.NoError(t, WriteAll(conn, nil))
		require.NoError(t, WriteAllTimeout(conn, []byte{}, time.Second))
		assert.Equal(t, 0, conn.writeCalls)
	})

	t.Run("short writes are resumed until all bytes are sent", func(t *testing.T) {
		conn := &scriptedConn{writeLimit: 3}
		require.NoError(t, WriteAll(conn, []byte("0123456789")))
		assert.Equal(t, []byte("0123456789"), conn.written)
		assert.Equal(t, 4, conn.writeCalls)
	})

	t.Run("interrupted write is retried", func(t *testing.T) {
		conn := &scriptedConn{writeErrs: []error{syscall.EINTR}}
		require.NoError(t, WriteAll(conn, []byte("abc")))
		assert.Equal(t, []byte("abc"), conn.written)
	})

	t.Run("hard error is returned", func(t *testing.T) {
		boom := errors.New("boom")
		conn := &scriptedConn{writeErrs: []error{boom}}
		err := WriteAll(conn, []byte("abc"))
		assert.ErrorIs(t, err, boom)
	})
}

func TestReadExact(t *testing.T) {
	t.Run("zero-length read does not touch the connection", func(t *testing.T) {
		conn := &scriptedConn{}
		n, err := ReadExact(conn, nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = ReadExactTimeout(conn, []byte{}, 0)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, 0, conn.readCalls)
	})

	t.Run("assembles data from several reads", func(t *testing.T) {
		conn := &scriptedConn{reads: []scriptedRead{
			{data: []byte("ab")},
			{data: []byte("cd")},
			{data: []byte("e")},
		}}
		buf := make([]byte, 5)
		n, err := ReadExact(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []byte("abcde"), buf)
	})

	t.Run("interrupted read is retried", func(t *testing.T) {
		conn := &scriptedConn{reads: []scriptedRead{
			{data: []byte("a")},
			{err: syscall.EINTR},
			{data: []byte("bc")},
		}}
		buf := make([]byte, 3)
		n, err := ReadExact(conn, buf)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []byte("abc"), buf)
	})

	t.Run("peer close is reported as EOF with the partial count", func(t *testing.T) {
		conn := &scriptedConn{reads: []scriptedRead{
			{data: []byte("ab")},
			{err: io.EOF},
		}}
		n, err := ReadExact(conn, make([]byte, 4))
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 2, n)
	})

	t.Run("data arriving with EOF that fills the buffer is success", func(t *testing.T) {
		conn := &scriptedConn{reads: []scriptedRead{{data: []byte("abcd"), err: io.EOF}}}
		n, err := ReadExact(conn, make([]byte, 4))
		require.NoError(t, err)
		assert.Equal(t, 4, n)
	})

	t.Run("hard error is distinct from EOF", func(t *testing.T) {
		boom := errors.New("boom")
		conn := &scriptedConn{reads: []scriptedRead{{err: boom}}}
		n, err := ReadExact(conn, make([]byte, 4))
		assert.ErrorIs(t, err, boom)
		assert.NotErrorIs(t, err, io.EOF)
		assert.Equal(t, 0, n)
	})
}

func TestReadExactTimeout(t *testing.T) {
	t.Run("timeout with partial data is not an error", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		go func() {
			_, _ = client.Write([]byte("abc"))
		}()

		buf := make([]byte, 8)
		start := time.Now()
		n, err := ReadExactTimeout(server, buf, 100*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, []byte("abc"), buf[:n])
		assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	})

	t.Run("zero timeout returns immediately when nothing is pending", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		start := time.Now()
		n, err := ReadExactTimeout(server, make([]byte, 4), 0)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("zero timeout returns data that is already buffered", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer ln.Close()

		client, err := net.Dial("tcp", ln.Addr().String())
		require.NoError(t, err)
		defer client.Close()
		server, err := ln.Accept()
		require.NoError(t, err)
		defer server.Close()

		_, err = client.Write([]byte("ping"))
		require.NoError(t, err)
		time.Sleep(50 * time.Millisecond)

		buf := make([]byte, 4)
		start := time.Now()
		n, err := ReadExactTimeout(server, buf, 0)
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, []byte("ping"), buf)
		assert.Less(t, time.Since(start), 500*time.Millisecond)
	})

	t.Run("timeout bounds the total wait across reads", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		go func() {
			for i := 0; i < 20; i++ {
				if _, err := client.Write([]byte{byte(i)}); err != nil {
					return
				}
				time.Sleep(20 * time.Millisecond)
			}
		}()

		start := time.Now()
		n, err := ReadExactTimeout(server, make([]byte, 64), 100*time.Millisecond)
		elapsed := time.Since(start)
		require.NoError(t, err)
		assert.Greater(t, n, 0)
		assert.Less(t, n, 20)
		assert.Less(t, elapsed, 300*time.Millisecond)
	})

	t.Run("reads the full buffer before the timeout", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		go func() {
			_, _ = client.Write([]byte("0123"))
			_, _ = client.Write([]byte("4567"))
		}()

		buf := make([]byte, 8)
		n, err := ReadExactTimeout(server, buf, time.Second)
		require.NoError(t, err)
		assert.Equal(t, 8, n)
		assert.Equal(t, []byte("01234567"), buf)
	})

	t.Run("peer close is reported as EOF", func(t *testing.T) {
		client, server := net.Pipe()
		defer server.Close()

		go func() {
			_, _ = client.Write([]byte("x"))
			_ = client.Close()
		}()

		n, err := ReadExactTimeout(server, make([]byte, 4), time.Second)
		assert.ErrorIs(t, err, io.EOF)
		assert.Equal(t, 1, n)
	})

	t.Run("deadline is cleared after a timed read", func(t *testing.T) {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		_, err := ReadExactTimeout(server, make([]byte, 1), 10*time.Millisecond)
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)
		go func() {
			_, _ = client.Write([]byte("z"))
		}()

		buf := make([]byte, 1)
		n, err := server.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(errors.New("boom")))
	assert.False(t, IsTimeout(io.EOF))

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	require.NoError(t, server.SetReadDeadline(time.Now().Add(time.Millisecond)))
	_, err := server.Read(make([]byte, 1))
	assert.True(t, IsTimeout(err))
}
