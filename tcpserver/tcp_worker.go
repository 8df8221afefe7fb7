package tcpserver

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/cyberinferno/timewarp/logger"
	"github.com/cyberinferno/timewarp/netio"
	"github.com/cyberinferno/timewarp/protocol"
)

// ErrCallbackPanic wraps a panic raised by the Callback.
var ErrCallbackPanic = errors.New("tcpserver: callback panicked")

// worker is the registry record for one accepted connection. The connection
// belongs to the worker goroutine; done is closed when that goroutine returns
// and completed is set once, just before the connection is let go.
type worker struct {
	id        uint64
	conn      net.Conn
	done      chan struct{}
	completed atomic.Bool
}

// serve runs the worker for registry entry id: handshake, then the frame
// loop until the peer goes away, an error ends the connection, or the server
// shuts down.
func (s *Server) serve(id uint64) {
	w, ok := s.workers.Load(id)
	if !ok {
		s.errors.Addf("%s server: connection %d missing from registry", s.config.Name, id)
		return
	}
	defer close(w.done)

	log := s.logger.With(logger.F("conn", id), logger.F("peer", w.conn.RemoteAddr().String()))
	defer func() {
		_ = w.conn.Close()
		w.completed.Store(true)
		log.Debug("connection closed")
	}()

	if _, err := protocol.Handshake(w.conn, s.config.Token, s.config.HandshakeTimeout); err != nil {
		s.metrics.handshakeFailures.Inc()
		s.errors.Add(fmt.Sprintf("connection %d handshake failed", id), err, logger.F("conn", id))
		return
	}

	log.Debug("handshake established")
	s.readFrames(w, log)
}

// readFrames assembles 16-byte frames from the connection, carrying partial
// reads over from one poll to the next, and dispatches each complete frame.
func (s *Server) readFrames(w *worker, log logger.Logger) {
	var buf [protocol.FrameSize]byte
	have := 0

	for !s.shutdown.Load() {
		n, err := netio.ReadExactTimeout(w.conn, buf[have:], s.config.ReadPollInterval)
		have += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debug("peer closed connection", logger.F("pending_bytes", have))
			} else {
				log.Debug("connection read failed", logger.F("error", err.Error()))
			}

			return
		}

		if have < protocol.FrameSize {
			continue
		}

		have = 0
		frame, err := protocol.DecodeFrame(buf[:])
		if err != nil {
			s.errors.Add(fmt.Sprintf("connection %d sent an undecodable frame", w.id), err)
			return
		}

		if !s.handleFrame(w.id, frame) {
			return
		}
	}
}

// handleFrame acts on one decoded frame and reports whether the connection
// should keep reading.
func (s *Server) handleFrame(id uint64, frame protocol.Frame) bool {
	if frame.Opcode.Known() {
		s.metrics.frames.Inc()
		if err := s.invoke(frame.Payload); err != nil {
			s.metrics.callbackPanics.Inc()
			s.errors.Add(fmt.Sprintf("connection %d callback failed", id), err, logger.F("conn", id))
			return false
		}

		return true
	}

	s.metrics.unknownFrames.Inc()
	switch s.config.UnknownOpcode {
	case UnknownOpcodeIgnore:
		return true
	case UnknownOpcodeDisconnect:
		s.errors.Addf("connection %d sent unknown opcode %d, closing connection", id, int64(frame.Opcode))
		return false
	default:
		s.errors.Addf("connection %d sent unknown opcode %d, frame dropped", id, int64(frame.Opcode))
		return true
	}
}

// invoke runs the callback, turning a panic into an error so it only ends
// the connection that triggered it.
func (s *Server) invoke(offset int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrCallbackPanic, r)
		}
	}()

	s.callback(s.userContext, offset)
	return nil
}
