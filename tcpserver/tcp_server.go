// Package tcpserver implements the timewarp server: a goroutine-per-connection
// TCP server that performs the versioned handshake on every accepted
// connection, decodes the stream of fixed-size command frames that follows,
// and calls a registered Callback with each time offset. Stop shuts every
// connection down within a bound set by the configured poll intervals.
package tcpserver

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/timewarp/errlog"
	"github.com/cyberinferno/timewarp/idgenerator"
	"github.com/cyberinferno/timewarp/logger"
	"github.com/cyberinferno/timewarp/netio"
	"github.com/cyberinferno/timewarp/protocol"
	"github.com/cyberinferno/timewarp/safemap"
)

var (
	ErrNilCallback  = errors.New("tcpserver: callback is required")
	ErrInvalidPort  = errors.New("tcpserver: port out of range")
	ErrUnknownValue = errors.New("tcpserver: unknown opcode policy")
)

// Callback receives every time offset decoded from any connection. It runs
// on the goroutine of the connection that delivered the frame, so calls for
// one connection arrive in order while calls for different connections may
// run concurrently. It must return promptly: a callback that blocks also
// blocks that connection's shutdown.
type Callback func(userContext any, offset int64)

// UnknownOpcodePolicy decides what a worker does with a frame whose opcode it
// does not understand.
type UnknownOpcodePolicy int

const (
	UnknownOpcodeLog        UnknownOpcodePolicy = iota // Record the frame in the error log and keep reading
	UnknownOpcodeIgnore                                // Drop the frame silently and keep reading
	UnknownOpcodeDisconnect                            // Record the frame and close the connection
)

// String returns the policy name as accepted by ParseUnknownOpcodePolicy.
func (p UnknownOpcodePolicy) String() string {
	switch p {
	case UnknownOpcodeLog:
		return "log"
	case UnknownOpcodeIgnore:
		return "ignore"
	case UnknownOpcodeDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// ParseUnknownOpcodePolicy converts "log", "ignore" or "disconnect" to a policy.
func ParseUnknownOpcodePolicy(s string) (UnknownOpcodePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "log":
		return UnknownOpcodeLog, nil
	case "ignore":
		return UnknownOpcodeIgnore, nil
	case "disconnect":
		return UnknownOpcodeDisconnect, nil
	default:
		return UnknownOpcodeLog, fmt.Errorf("%w: %q", ErrUnknownValue, s)
	}
}

// Config holds configuration for a Server.
type Config struct {
	// Name is used in log messages.
	Name string
	// Interface is the local IP address to bind; empty binds all interfaces.
	Interface string
	// Port to listen on. 0 picks an ephemeral port; see Server.Addr.
	Port int
	// AcceptPollInterval bounds each wait for a new connection, and so how
	// quickly the accept loop notices shutdown.
	AcceptPollInterval time.Duration
	// ReadPollInterval bounds each wait for frame bytes, and so how quickly
	// an idle worker notices shutdown.
	ReadPollInterval time.Duration
	// HandshakeTimeout bounds the wait for the client's token.
	HandshakeTimeout time.Duration
	// Token is the handshake token; empty means protocol.Token.
	Token string
	// UnknownOpcode selects how frames with unknown opcodes are handled.
	UnknownOpcode UnknownOpcodePolicy
}

// DefaultConfig returns a Config listening on protocol.DefaultPort on all
// interfaces with a 10ms accept poll, a 1s read poll and the standard
// handshake token and timeout.
func DefaultConfig() Config {
	return Config{
		Name:               "timewarp",
		Port:               protocol.DefaultPort,
		AcceptPollInterval: 10 * time.Millisecond,
		ReadPollInterval:   time.Second,
		HandshakeTimeout:   protocol.DefaultHandshakeTimeout,
		Token:              protocol.Token,
		UnknownOpcode:      UnknownOpcodeLog,
	}
}

// withDefaults fills zero durations and names from DefaultConfig. Port is
// left alone because 0 is meaningful.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.AcceptPollInterval <= 0 {
		c.AcceptPollInterval = d.AcceptPollInterval
	}
	if c.ReadPollInterval <= 0 {
		c.ReadPollInterval = d.ReadPollInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.Token == "" {
		c.Token = d.Token
	}

	return c
}

// Server accepts timewarp connections and hands each decoded time offset to
// its Callback. Each connection is served by its own worker goroutine; the
// workers are tracked in a registry keyed by a monotonically increasing id.
type Server struct {
	config      Config
	callback    Callback
	userContext any
	logger      logger.Logger
	errors      *errlog.Log
	metrics     *serverMetrics

	listener *net.TCPListener
	workers  *safemap.SafeMap[uint64, *worker]
	ids      *idgenerator.IdGenerator

	shutdown   atomic.Bool
	acceptDone chan struct{}
	stopOnce   sync.Once
}

// Start opens the listening socket and starts the accept loop in a
// goroutine.
//
// Parameters:
//   - callback: Called for every SET_TIME frame; must not be nil
//   - userContext: Passed unchanged to every callback invocation
//   - config: Listening address, poll intervals and protocol settings
//   - log: Logger for server events; nil discards them
//
// Returns:
//   - The running Server
//   - ErrNilCallback, ErrInvalidPort, or the listen error
func Start(callback Callback, userContext any, config Config, log logger.Logger) (*Server, error) {
	if callback == nil {
		return nil, ErrNilCallback
	}

	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPort, config.Port)
	}

	config = config.withDefaults()
	log = logger.OrNop(log).With(logger.F("component", config.Name))

	addr := net.JoinHostPort(config.Interface, strconv.Itoa(config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error(fmt.Sprintf("%s server failed to start", config.Name), logger.F("error", err.Error()))
		return nil, fmt.Errorf("tcpserver: %s server failed to listen on %s: %w", config.Name, addr, err)
	}

	s := &Server{
		config:      config,
		callback:    callback,
		userContext: userContext,
		logger:      log,
		errors:      errlog.New(log),
		listener:    ln.(*net.TCPListener),
		workers:     safemap.NewSafeMap[uint64, *worker](),
		ids:         idgenerator.NewIdGenerator(0),
		acceptDone:  make(chan struct{}),
	}
	s.metrics = newServerMetrics(s)

	log.Info(fmt.Sprintf("%s server started", config.Name), logger.F("addr", s.Addr().String()))
	go s.acceptLoop()

	return s, nil
}

// Stop requests shutdown and blocks until the accept loop and every worker
// have exited and all connections are closed. Shutdown time is bounded by
// the poll intervals, not by the number of connections. Calling Stop again
// is a no-op.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.shutdown.Store(true)
		<-s.acceptDone
		s.logger.Info(fmt.Sprintf("%s server stopped", s.config.Name), logger.F("connections_served", s.ids.Last()))
	})
}

// Errors returns a copy of every error message recorded since Start.
func (s *Server) Errors() []string {
	return s.errors.Entries()
}

// Addr returns the address the server is listening on, including the port
// chosen by the OS when Config.Port was 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// ActiveConnections returns the number of workers still in the registry.
func (s *Server) ActiveConnections() int {
	return s.workers.Len()
}

// acceptLoop polls for connections until shutdown, reaping finished workers
// after every poll. On shutdown it closes the listener and joins every
// remaining worker before returning.
func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	for !s.shutdown.Load() {
		s.acceptOnce()
		s.reap()
	}

	_ = s.listener.Close()
	s.joinAll()
}

// acceptOnce waits up to AcceptPollInterval for one connection.
func (s *Server) acceptOnce() {
	if err := s.listener.SetDeadline(time.Now().Add(s.config.AcceptPollInterval)); err != nil {
		s.errors.Add(fmt.Sprintf("%s server could not set accept deadline", s.config.Name), err)
		time.Sleep(s.config.AcceptPollInterval)
		return
	}

	conn, err := s.listener.Accept()
	if err != nil {
		if netio.IsTimeout(err) || s.shutdown.Load() {
			return
		}

		s.errors.Add(fmt.Sprintf("%s server accept error", s.config.Name), err)
		time.Sleep(s.config.AcceptPollInterval)
		return
	}

	s.spawn(conn)
}

// spawn registers conn under a new id and then starts its worker, so the
// worker can always find its own entry.
func (s *Server) spawn(conn net.Conn) {
	id := s.ids.Id()
	s.workers.Store(id, &worker{id: id, conn: conn, done: make(chan struct{})})
	s.metrics.accepted.Inc()

	s.logger.Debug("connection accepted", logger.F("conn", id), logger.F("peer", conn.RemoteAddr().String()))
	go s.serve(id)
}

// reap removes completed workers from the registry and joins them outside
// the registry lock.
func (s *Server) reap() {
	finished := s.workers.Extract(func(_ uint64, w *worker) bool {
		return w.completed.Load()
	})

	for _, w := range finished {
		<-w.done
	}
}

// joinAll empties the registry and waits for every worker it held. It is
// only called after shutdown, when nothing new is inserted.
func (s *Server) joinAll() {
	for _, w := range s.workers.Drain() {
		<-w.done
	}
}
