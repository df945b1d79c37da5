// Package push maintains the persistent streaming connection that delivers
// single-byte control signals about new messages.
//
// The channel is single-owner: only the sync engine's outer loop connects,
// reads, and closes it. The one concurrency concession is Close(), which may
// be called from a shutdown path while a read is blocked; closing the
// underlying conn unblocks the reader.
package push

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	logx "pullover/pkg/logx"
)

// DefaultStreamAddr is the fixed streaming endpoint.
const DefaultStreamAddr = "client.pushover.net:443"

// DefaultKeepaliveTimeout bounds both the connect handshake and each signal
// wait. The service keeps alives well inside a minute; silence past this is
// a dead peer.
const DefaultKeepaliveTimeout = 60 * time.Second

// ErrSilence is returned by WaitSignal when the peer stayed quiet past the
// keepalive timeout.
var ErrSilence = errors.New("push channel: peer silent past keepalive timeout")

// ErrNotConnected is returned by WaitSignal on a channel that has no live
// connection.
var ErrNotConnected = errors.New("push channel: not connected")

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "invalid"
	}
}

type Config struct {
	// Addr is host:port of the streaming endpoint.
	Addr string

	DeviceID string
	Secret   string

	// TLS wraps the stream in TLS (the production endpoint requires it;
	// tests against a loopback listener disable it).
	TLS bool

	KeepaliveTimeout time.Duration
}

// Channel is the push stream state machine:
// DISCONNECTED -> CONNECTING -> CONNECTED -> (close) -> DISCONNECTED.
type Channel struct {
	cfg Config
	log logx.Logger

	state atomic.Int32

	mu   sync.Mutex
	conn net.Conn
}

func NewChannel(cfg Config, log logx.Logger) *Channel {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultStreamAddr
		cfg.TLS = true
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = DefaultKeepaliveTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, log: log}
}

func (c *Channel) State() State { return State(c.state.Load()) }

// Connect establishes the stream and sends the login frame. The whole
// handshake is bounded by the keepalive timeout; running past it is treated
// as a connection failure.
func (c *Channel) Connect(ctx context.Context) error {
	c.state.Store(int32(StateConnecting))

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.KeepaliveTimeout)
	defer cancel()

	conn, err := c.dial(dialCtx)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("push channel: connect %s: %w", c.cfg.Addr, err)
	}

	login := fmt.Sprintf("login:%s:%s\n", c.cfg.DeviceID, c.cfg.Secret)
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.KeepaliveTimeout))
	if _, err := conn.Write([]byte(login)); err != nil {
		_ = conn.Close()
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("push channel: login: %w", err)
	}
	_ = conn.SetWriteDeadline(time.Time{})

	c.mu.Lock()
	// A stale conn from a previous session must not leak.
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	c.state.Store(int32(StateConnected))
	c.log.Info("push channel connected", logx.String("addr", c.cfg.Addr))
	return nil
}

func (c *Channel) dial(ctx context.Context) (net.Conn, error) {
	if c.cfg.TLS {
		d := &tls.Dialer{NetDialer: &net.Dialer{}}
		return d.DialContext(ctx, "tcp", c.cfg.Addr)
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", c.cfg.Addr)
}

// WaitSignal blocks for the next control frame, bounded by the keepalive
// timeout. A timeout means the peer went silent and the connection is dead.
func (c *Channel) WaitSignal(ctx context.Context) (Signal, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return 0, ErrNotConnected
	}

	deadline := time.Now().Add(c.cfg.KeepaliveTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)

	var buf [1]byte
	for {
		if _, err := conn.Read(buf[:]); err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return 0, ErrSilence
			}
			return 0, fmt.Errorf("push channel: read: %w", err)
		}
		// The login response may carry frame separators; only the four
		// signal values are frames.
		if buf[0] == '\n' || buf[0] == '\r' {
			continue
		}
		sig, err := decodeSignal(buf[0])
		if err != nil {
			return 0, err
		}
		c.log.Debug("push signal received", logx.String("signal", sig.String()))
		return sig, nil
	}
}

// Close tears the connection down. It is idempotent: closing an
// already-closed or never-connected channel is a no-op, never an error.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.state.Store(int32(StateDisconnected))
	if conn == nil {
		return nil
	}
	c.log.Debug("push channel closed")
	return conn.Close()
}
