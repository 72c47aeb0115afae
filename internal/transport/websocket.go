package transport

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/danmuck/mtsession/internal/protocol/frame"
)

// Subprotocol is announced on the WebSocket handshake.
const Subprotocol = "binary"

// WSConn carries one packet per binary message.
type WSConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
	closed  atomic.Bool
}

func DialWebSocket(ctx context.Context, cfg Config) (*WSConn, error) {
	cfg = cfg.WithDefaults()
	scheme := "ws"
	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
		NetDialContext:   (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.clientTLSConfig()
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: cfg.Address, Path: cfg.Path}

	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("transport: websocket handshake status=%d: %w", resp.StatusCode, err)
		}
		return nil, err
	}
	ws.SetReadLimit(int64(cfg.Limits.MaxPayloadBytes))
	log.Debug().Str("url", u.String()).Msg("websocket connected")
	return NewWSConn(ws), nil
}

// NewWSConn wraps an established WebSocket.
func NewWSConn(ws *websocket.Conn) *WSConn {
	return &WSConn{ws: ws}
}

func (c *WSConn) Send(ctx context.Context, payload []byte) error {
	if c.closed.Load() {
		return net.ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	stop := bindDeadline(ctx, c.ws.SetWriteDeadline)
	defer stop()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return ctxErr(ctx, err)
	}
	return nil
}

func (c *WSConn) Recv(ctx context.Context) ([]byte, error) {
	stop := bindDeadline(ctx, c.ws.SetReadDeadline)
	defer stop()
	for {
		kind, payload, err := c.ws.ReadMessage()
		if err != nil {
			return nil, ctxErr(ctx, err)
		}
		if kind != websocket.BinaryMessage {
			log.Debug().Int("kind", kind).Msg("ignoring non-binary websocket message")
			continue
		}
		if err := frame.AsTransportError(payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

func (c *WSConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}

func (c *WSConn) Closed() bool { return c.closed.Load() }
