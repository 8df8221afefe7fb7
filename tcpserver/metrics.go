package tcpserver

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// serverMetrics holds the Prometheus metrics of one Server. Each server has
// its own set so several servers in one process do not collide.
type serverMetrics struct {
	set               *metrics.Set
	accepted          *metrics.Counter
	handshakeFailures *metrics.Counter
	frames            *metrics.Counter
	unknownFrames     *metrics.Counter
	callbackPanics    *metrics.Counter
}

func newServerMetrics(s *Server) *serverMetrics {
	set := metrics.NewSet()
	m := &serverMetrics{
		set:               set,
		accepted:          set.NewCounter("timewarp_connections_accepted_total"),
		handshakeFailures: set.NewCounter("timewarp_handshake_failures_total"),
		frames:            set.NewCounter("timewarp_frames_total"),
		unknownFrames:     set.NewCounter("timewarp_unknown_frames_total"),
		callbackPanics:    set.NewCounter("timewarp_callback_panics_total"),
	}

	set.NewGauge("timewarp_connections_active", func() float64 {
		return float64(s.workers.Len())
	})
	set.NewGauge("timewarp_error_log_entries", func() float64 {
		return float64(s.errors.Len())
	})

	return m
}

// Stats is a point-in-time snapshot of a Server's counters.
type Stats struct {
	Accepted          uint64
	HandshakeFailures uint64
	Frames            uint64
	UnknownFrames     uint64
	CallbackPanics    uint64
	Active            int
}

// Stats returns the current counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:          s.metrics.accepted.Get(),
		HandshakeFailures: s.metrics.handshakeFailures.Get(),
		Frames:            s.metrics.frames.Get(),
		UnknownFrames:     s.metrics.unknownFrames.Get(),
		CallbackPanics:    s.metrics.callbackPanics.Get(),
		Active:            s.workers.Len(),
	}
}

// WritePrometheus writes the server's metrics in Prometheus text format.
func (s *Server) WritePrometheus(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
