// Package tcpclient provides the timewarp client: a session that owns one
// outbound TCP connection, performs the versioned handshake as the
// initiating peer, and sends time offset commands to the server.
package tcpclient

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cyberinferno/timewarp/errlog"
	"github.com/cyberinferno/timewarp/logger"
	"github.com/cyberinferno/timewarp/netio"
	"github.com/cyberinferno/timewarp/protocol"
)

var (
	ErrNotConnected     = errors.New("tcpclient: not connected")
	ErrAlreadyConnected = errors.New("tcpclient: already connected")
	ErrInvalidLocalAddr = errors.New("tcpclient: invalid local address")
)

// DefaultConnectionTimeout bounds the TCP connect when Config leaves it unset.
const DefaultConnectionTimeout = 10 * time.Second

// Config holds configuration for a Client.
type Config struct {
	// Host is the server host name or IP address.
	Host string
	// Port is the server port.
	Port int
	// LocalAddr is the IP address of the local interface to connect from;
	// empty lets the OS choose.
	LocalAddr string
	// ConnectionTimeout is the max duration for establishing the TCP connection.
	ConnectionTimeout time.Duration
	// HandshakeTimeout is the max wait for the server's handshake token.
	HandshakeTimeout time.Duration
	// WriteTimeout is the max duration for sending one command; 0 means no timeout.
	WriteTimeout time.Duration
	// Token is the handshake token; it must match the server's.
	Token string
}

// DefaultConfig returns a Config for host with the standard port, token and
// handshake timeout, a 10s connection timeout and a 10s write timeout.
//
// Parameters:
//   - host: The server to connect to
//
// Returns:
//   - A Config with defaults; override fields as needed before calling New
func DefaultConfig(host string) Config {
	return Config{
		Host:              host,
		Port:              protocol.DefaultPort,
		ConnectionTimeout: DefaultConnectionTimeout,
		HandshakeTimeout:  protocol.DefaultHandshakeTimeout,
		WriteTimeout:      10 * time.Second,
		Token:             protocol.Token,
	}
}

// Address returns the "host:port" dial address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Client is one timewarp session. It is unusable until Open succeeds. Its
// methods are serialized by an internal mutex, so a Client may be shared, but
// commands from different goroutines are sent in whatever order they take
// the lock.
type Client struct {
	config Config
	logger logger.Logger
	errors *errlog.Log

	mu   sync.Mutex
	conn net.Conn
}

// New creates an unconnected Client. Zero-valued Port, Token,
// HandshakeTimeout and ConnectionTimeout fall back to their defaults.
//
// Parameters:
//   - config: Server address and timeouts
//   - log: Logger for client events; nil discards them
//
// Returns:
//   - A new *Client; call Open to connect
func New(config Config, log logger.Logger) *Client {
	if config.Port == 0 {
		config.Port = protocol.DefaultPort
	}
	if config.Token == "" {
		config.Token = protocol.Token
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = protocol.DefaultHandshakeTimeout
	}
	if config.ConnectionTimeout <= 0 {
		config.ConnectionTimeout = DefaultConnectionTimeout
	}

	log = logger.OrNop(log).With(logger.F("component", "timewarp-client"), logger.F("addr", config.Address()))
	return &Client{
		config: config,
		logger: log,
		errors: errlog.New(log),
	}
}

// Dial creates a Client and opens it. The Client is returned even when Open
// fails so its Errors can be inspected.
func Dial(config Config, log logger.Logger) (*Client, error) {
	c := New(config, log)
	return c, c.Open()
}

// Open connects to the server and performs the handshake. On any failure the
// socket is closed, the reason is added to Errors and the Client stays
// unconnected.
//
// Returns:
//   - nil on success; ErrAlreadyConnected, ErrInvalidLocalAddr, or a wrapped
//     dial or protocol handshake error
func (c *Client) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return ErrAlreadyConnected
	}

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	if c.config.LocalAddr != "" {
		ip := net.ParseIP(c.config.LocalAddr)
		if ip == nil {
			err := fmt.Errorf("%w: %q", ErrInvalidLocalAddr, c.config.LocalAddr)
			c.errors.Add("could not select local interface", err)
			return err
		}

		dialer.LocalAddr = &net.TCPAddr{IP: ip}
	}

	addr := c.config.Address()
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		c.errors.Add("could not connect to requested TCP port", err)
		return fmt.Errorf("tcpclient: connect to %s: %w", addr, err)
	}

	if _, err := protocol.Handshake(conn, c.config.Token, c.config.HandshakeTimeout); err != nil {
		_ = conn.Close()
		c.errors.Add("handshake with server failed", err)
		return fmt.Errorf("tcpclient: handshake with %s: %w", addr, err)
	}

	c.conn = conn
	c.logger.Info("connected", logger.F("local", conn.LocalAddr().String()))
	return nil
}

// SendOffset sends a SET_TIME command. Positive offsets are in the future,
// negative in the past. A failed send is recorded in Errors and leaves the
// Client open, so the caller may retry or Close.
//
// Parameters:
//   - offset: The new time offset
//
// Returns:
//   - nil on success; ErrNotConnected or the wrapped write error
func (c *Client) SendOffset(offset int64) error {
	return c.Send(protocol.OpSetTime, offset)
}

// Send encodes and writes one frame.
//
// Parameters:
//   - opcode: The command opcode
//   - payload: The command argument
//
// Returns:
//   - nil on success; ErrNotConnected or the wrapped write error
func (c *Client) Send(opcode protocol.Opcode, payload int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		c.errors.Add("attempted to send on unconnected client", nil)
		return ErrNotConnected
	}

	frame := protocol.Frame{Opcode: opcode, Payload: payload}
	if err := netio.WriteAllTimeout(c.conn, frame.Bytes(), c.config.WriteTimeout); err != nil {
		c.errors.Add("could not send command on socket", err,
			logger.F("opcode", opcode.String()), logger.F("payload", payload))
		return fmt.Errorf("tcpclient: send %s: %w", opcode, err)
	}

	return nil
}

// Close closes the connection. Safe to call on an unconnected or already
// closed Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	c.logger.Debug("connection closed")
	return err
}

// IsOpen reports whether the Client holds an established connection.
func (c *Client) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// LocalAddr returns the local end of the connection, or nil when closed.
func (c *Client) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	return c.conn.LocalAddr()
}

// RemoteAddr returns the server end of the connection, or nil when closed.
func (c *Client) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	return c.conn.RemoteAddr()
}

// Errors returns a copy of every error message recorded by this Client.
func (c *Client) Errors() []string {
	return c.errors.Entries()
}
