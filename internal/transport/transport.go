// Package transport implements session connections over TCP (optionally TLS) and WebSocket.
// Each connection carries whole packets: length-prefixed frames on TCP, binary messages on
// WebSocket. A 4-byte payload holding a negative integer is surfaced as *frame.TransportError.
package transport

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/mtsession/internal/protocol/frame"
	"github.com/danmuck/mtsession/internal/protocol/session"
)

var (
	ErrUnknownDC                 = errors.New("transport: unknown data center")
	ErrUnknownKind               = errors.New("transport: unknown transport kind")
	ErrAddressRequired           = errors.New("transport: address required")
	ErrInvalidSecurityMode       = errors.New("transport: invalid security mode")
	ErrTLSRequired               = errors.New("transport: tls required")
	ErrTLSCertFileRequired       = errors.New("transport: tls cert file required")
	ErrTLSKeyFileRequired        = errors.New("transport: tls key file required")
	ErrTLSCAFileRequired         = errors.New("transport: tls ca file required")
	ErrTLSInsecureSkipNotAllowed = errors.New("transport: insecure skip verify not allowed")
)

type Kind string

const (
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "websocket"
)

type Config struct {
	Kind             Kind
	Address          string
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	// Path is the WebSocket endpoint path.
	Path         string
	SecurityMode SecurityMode
	TLS          TLSConfig
	Limits       frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Kind:             KindTCP,
		ConnectTimeout:   10 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		Path:             "/apiws",
		SecurityMode:     SecurityModeDevelopment,
		Limits:           frame.DefaultLimits(),
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.Kind == "" {
		c.Kind = d.Kind
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.Path == "" {
		c.Path = d.Path
	}
	if c.SecurityMode == "" {
		c.SecurityMode = d.SecurityMode
	}
	if c.Limits.MaxPayloadBytes == 0 {
		c.Limits = d.Limits
	}
	return c
}

// NewDialer validates cfg and returns a dialer opening a fresh connection per call.
func NewDialer(cfg Config) (session.Dialer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return func(ctx context.Context) (session.Connection, error) {
		log.Debug().Str("kind", string(cfg.Kind)).Str("addr", cfg.Address).Msg("transport dialing")
		switch cfg.Kind {
		case KindWebSocket:
			return DialWebSocket(ctx, cfg)
		default:
			return DialTCP(ctx, cfg)
		}
	}, nil
}
