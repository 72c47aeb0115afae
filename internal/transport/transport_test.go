package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/danmuck/mtsession/internal/protocol/frame"
	"github.com/danmuck/mtsession/internal/testutil/testlog"
	"github.com/danmuck/mtsession/internal/testutil/tlstest"
)

// serveFrames echoes every frame and answers "fail" with an auth-key-not-found error frame.
func serveFrames(t *testing.T, ln net.Listener) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			payload, err := frame.ReadFrame(conn, frame.DefaultLimits())
			if err != nil {
				return
			}
			if string(payload) == "fail" {
				payload = frame.EncodeTransportError(404)
			}
			if err := frame.WriteFrame(conn, payload, frame.DefaultLimits()); err != nil {
				return
			}
		}
	}()
}

func TestTCPEchoAndTransportError(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serveFrames(t, ln)

	dial, err := NewDialer(Config{Kind: KindTCP, Address: ln.Addr().String()})
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, []byte("packet")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := conn.Recv(ctx)
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if string(got) != "packet" {
		t.Fatalf("got=%q", got)
	}

	if err := conn.Send(ctx, []byte("fail")); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err = conn.Recv(ctx)
	var te *frame.TransportError
	if !errors.As(err, &te) || te.Code != 404 {
		t.Fatalf("expected transport error 404, got %v", err)
	}
}

func TestTCPRecvHonorsCancel(t *testing.T) {
	testlog.Start(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serveFrames(t, ln)

	conn, err := DialTCP(context.Background(), Config{Address: ln.Addr().String()})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	if _, err := conn.Recv(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestTCPClosedConnRejectsSend(t *testing.T) {
	testlog.Start(t)
	client, server := net.Pipe()
	defer server.Close()
	conn := NewTCPConn(client, frame.Limits{})
	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !conn.Closed() {
		t.Fatalf("expected closed")
	}
	if err := conn.Send(context.Background(), []byte("x")); !errors.Is(err, net.ErrClosed) {
		t.Fatalf("expected net.ErrClosed, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestTCPWithTLS(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	ca := tlstest.NewAuthority(t, dir, "test-ca")

	ln, err := tls.Listen("tcp", "127.0.0.1:0", ca.ServerTLS(t, dir))
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serveFrames(t, ln)

	cfg := Config{
		Address: ln.Addr().String(),
		TLS:     TLSConfig{Enabled: true, CAFile: ca.CAFile()},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := DialTCP(ctx, cfg)
	if err != nil {
		t.Fatalf("dial tls: %v", err)
	}
	defer conn.Close()
	if err := conn.Send(ctx, []byte("sealed")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := conn.Recv(ctx)
	if err != nil || string(got) != "sealed" {
		t.Fatalf("recv got=%q err=%v", got, err)
	}
}

func TestWebSocketEcho(t *testing.T) {
	testlog.Start(t)
	upgrader := websocket.Upgrader{Subprotocols: []string{Subprotocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/apiws" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		_ = ws.WriteMessage(websocket.TextMessage, []byte("noise"))
		for {
			kind, payload, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if string(payload) == "fail" {
				payload = frame.EncodeTransportError(429)
			}
			if err := ws.WriteMessage(kind, payload); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	dial, err := NewDialer(Config{Kind: KindWebSocket, Address: strings.TrimPrefix(srv.URL, "http://")})
	if err != nil {
		t.Fatalf("new dialer: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, []byte("over ws")); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := conn.Recv(ctx)
	if err != nil || string(got) != "over ws" {
		t.Fatalf("recv got=%q err=%v", got, err)
	}

	if err := conn.Send(ctx, []byte("fail")); err != nil {
		t.Fatalf("send: %v", err)
	}
	_, err = conn.Recv(ctx)
	var te *frame.TransportError
	if !errors.As(err, &te) || te.Code != 429 {
		t.Fatalf("expected transport error 429, got %v", err)
	}
}

func TestAddressTable(t *testing.T) {
	testlog.Start(t)
	addr, err := Address(2, false)
	if err != nil || addr != "149.154.167.51:443" {
		t.Fatalf("prod dc2 got=%q err=%v", addr, err)
	}
	addr, err = Address(3, true)
	if err != nil || addr != "149.154.175.117:443" {
		t.Fatalf("test dc3 got=%q err=%v", addr, err)
	}
	if _, err := Address(5, true); !errors.Is(err, ErrUnknownDC) {
		t.Fatalf("expected ErrUnknownDC, got %v", err)
	}
}

func TestValidateSecurityModes(t *testing.T) {
	testlog.Start(t)
	base := Config{Kind: KindTCP, Address: "127.0.0.1:443"}
	cases := []struct {
		name string
		mut  func(*Config)
		want error
	}{
		{"development plain", func(*Config) {}, nil},
		{"unknown kind", func(c *Config) { c.Kind = "udp" }, ErrUnknownKind},
		{"missing address", func(c *Config) { c.Address = " " }, ErrAddressRequired},
		{"bad mode", func(c *Config) { c.SecurityMode = "staging" }, ErrInvalidSecurityMode},
		{"production needs tls", func(c *Config) { c.SecurityMode = SecurityModeProduction }, ErrTLSRequired},
		{"production no skip verify", func(c *Config) {
			c.SecurityMode = SecurityModeProduction
			c.TLS = TLSConfig{Enabled: true, InsecureSkipVerify: true}
		}, ErrTLSInsecureSkipNotAllowed},
		{"production needs ca", func(c *Config) {
			c.SecurityMode = SecurityModeProduction
			c.TLS = TLSConfig{Enabled: true}
		}, ErrTLSCAFileRequired},
		{"mutual without tls", func(c *Config) { c.TLS.Mutual = true }, ErrTLSRequired},
		{"mutual needs cert", func(c *Config) { c.TLS = TLSConfig{Enabled: true, Mutual: true} }, ErrTLSCertFileRequired},
		{"mutual needs key", func(c *Config) {
			c.TLS = TLSConfig{Enabled: true, Mutual: true, CertFile: "c.crt"}
		}, ErrTLSKeyFileRequired},
	}
	for _, tc := range cases {
		cfg := base
		tc.mut(&cfg)
		err := cfg.WithDefaults().Validate()
		if tc.want == nil && err != nil {
			t.Fatalf("%s: unexpected err=%v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}
