package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/mtsession/internal/protocol/frame"
)

// TCPConn is a framed byte stream. Sends are serialized; one reader at a time.
type TCPConn struct {
	conn   net.Conn
	reader *bufio.Reader
	limits frame.Limits

	writeMu sync.Mutex
	closed  atomic.Bool
}

func DialTCP(ctx context.Context, cfg Config) (*TCPConn, error) {
	cfg = cfg.WithDefaults()
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	rawConn, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	if !cfg.TLS.Enabled {
		return NewTCPConn(rawConn, cfg.Limits), nil
	}

	tlsCfg, err := cfg.clientTLSConfig()
	if err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	conn := tls.Client(rawConn, tlsCfg)
	handshakeCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()
	if err := conn.HandshakeContext(handshakeCtx); err != nil {
		_ = rawConn.Close()
		return nil, err
	}
	return NewTCPConn(conn, cfg.Limits), nil
}

// NewTCPConn wraps an established stream.
func NewTCPConn(conn net.Conn, limits frame.Limits) *TCPConn {
	if limits.MaxPayloadBytes == 0 {
		limits = frame.DefaultLimits()
	}
	return &TCPConn{conn: conn, reader: bufio.NewReader(conn), limits: limits}
}

func (c *TCPConn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := bindDeadline(ctx, c.conn.SetWriteDeadline)
	defer stop()
	if err := frame.WriteFrame(c.conn, payload, c.limits); err != nil {
		return ctxErr(ctx, err)
	}
	return nil
}

func (c *TCPConn) Recv(ctx context.Context) ([]byte, error) {
	stop := bindDeadline(ctx, c.conn.SetReadDeadline)
	defer stop()
	payload, err := frame.ReadFrame(c.reader, c.limits)
	if err != nil {
		return nil, ctxErr(ctx, err)
	}
	if err := frame.AsTransportError(payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (c *TCPConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	log.Debug().Str("remote", c.conn.RemoteAddr().String()).Msg("tcp connection closed")
	return c.conn.Close()
}

func (c *TCPConn) Closed() bool { return c.closed.Load() }

// bindDeadline applies the context deadline to the conn and interrupts blocked I/O on cancel.
func bindDeadline(ctx context.Context, set func(time.Time) error) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = set(d)
	} else {
		_ = set(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { _ = set(time.Now()) })
	return func() { stop() }
}

func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
