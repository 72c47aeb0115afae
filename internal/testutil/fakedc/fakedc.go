// Package fakedc is an in-memory data center that speaks the session codec.
package fakedc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/mtsession/internal/observability"
	"github.com/danmuck/mtsession/internal/protocol"
	"github.com/danmuck/mtsession/internal/protocol/codec"
	"github.com/danmuck/mtsession/internal/protocol/frame"
	"github.com/danmuck/mtsession/internal/protocol/msgid"
	"github.com/danmuck/mtsession/internal/protocol/tlv"
)

// ConfigConstructor is the constructor id of the config object returned for help.getConfig.
const ConfigConstructor uint32 = 0x330b4067

// Config field ids.
const (
	ConfigFieldDate     uint16 = 1
	ConfigFieldThisDC   uint16 = 2
	ConfigFieldTestMode uint16 = 3
)

var ErrDialRefused = errors.New("fakedc: dial refused")

// Request is one inbound client message as seen by a handler.
type Request struct {
	Conn      *Conn
	Salt      uint64
	SessionID uint64
	Message   protocol.Message
}

// Handler returns the bodies to send back. Nil means no reply.
type Handler func(req Request) []protocol.Object

// Server answers client traffic for every Conn it dials.
type Server struct {
	codec  *codec.Codec
	ids    *msgid.Generator
	pushes *msgid.Generator
	dcID   int
	log    zerolog.Logger

	mu          sync.Mutex
	salt        uint64
	handlers    map[uint32]Handler
	counts      map[string]int
	acked       []uint64
	conns       []*Conn
	dialFails   int
	dials       int
	sessionIDs  map[uint64]struct{}
	silentTypes map[string]bool
}

func New(key codec.AuthKey, dcID int) (*Server, error) {
	c, err := codec.NewServer(key)
	if err != nil {
		return nil, err
	}
	return &Server{
		codec:       c,
		ids:         msgid.New(nil, msgid.KindServerResponse),
		pushes:      msgid.New(nil, msgid.KindServerPush),
		dcID:        dcID,
		log:         observability.ComponentLogger("fakedc"),
		handlers:    make(map[uint32]Handler),
		counts:      make(map[string]int),
		sessionIDs:  make(map[uint64]struct{}),
		silentTypes: make(map[string]bool),
	}, nil
}

// Handle overrides the reply for one constructor.
func (s *Server) Handle(ctor uint32, h Handler) {
	s.mu.Lock()
	s.handlers[ctor] = h
	s.mu.Unlock()
}

// Silence drops every request of the named type without replying.
func (s *Server) Silence(typeName string, silent bool) {
	s.mu.Lock()
	s.silentTypes[typeName] = silent
	s.mu.Unlock()
}

// SetSalt changes the salt the server expects. Mismatches are answered with bad_server_salt.
func (s *Server) SetSalt(salt uint64) {
	s.mu.Lock()
	s.salt = salt
	s.mu.Unlock()
}

// FailDials makes the next n Dial calls fail.
func (s *Server) FailDials(n int) {
	s.mu.Lock()
	s.dialFails = n
	s.mu.Unlock()
}

// Count reports how many requests of the named type arrived.
func (s *Server) Count(typeName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[typeName]
}

// Acked returns every id the client acknowledged.
func (s *Server) Acked() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.acked...)
}

func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Sessions reports how many distinct session ids have talked to the server.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessionIDs)
}

// Dial opens a new client connection.
func (s *Server) Dial(ctx context.Context) (*Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if s.dialFails > 0 {
		s.dialFails--
		return nil, ErrDialRefused
	}
	c := &Conn{
		srv:    s,
		inbox:  make(chan inbound, 1024),
		closed: make(chan struct{}),
	}
	s.conns = append(s.conns, c)
	return c, nil
}

// Current returns the most recently dialed connection.
func (s *Server) Current() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		return nil
	}
	return s.conns[len(s.conns)-1]
}

// Push sends a server-initiated update on the current connection.
func (s *Server) Push(body protocol.Object) error {
	c := s.Current()
	if c == nil {
		return net.ErrClosed
	}
	return c.Deliver(protocol.Message{MsgID: s.pushes.Next(), SeqNo: c.nextSeq(true), Body: body})
}

// NextMsgID returns a fresh server response id.
func (s *Server) NextMsgID() uint64 { return s.ids.Next() }

func (s *Server) handle(c *Conn, payload []byte) {
	p, err := s.codec.UnpackAny(payload)
	if err != nil {
		s.log.Warn().Err(err).Msg("dropping undecodable packet")
		return
	}
	s.mu.Lock()
	s.sessionIDs[p.SessionID] = struct{}{}
	c.sessionID = p.SessionID
	s.mu.Unlock()

	messages := []protocol.Message{p.Message}
	if ctr, ok := p.Message.Body.(*protocol.MsgContainer); ok {
		messages = ctr.Messages
	}
	for _, m := range messages {
		for _, reply := range s.reply(Request{Conn: c, Salt: p.Salt, SessionID: p.SessionID, Message: m}) {
			if err := c.Deliver(protocol.Message{MsgID: s.ids.Next(), SeqNo: c.nextSeq(true), Body: reply}); err != nil {
				return
			}
		}
	}
}

func (s *Server) reply(req Request) []protocol.Object {
	body := req.Message.Body
	s.mu.Lock()
	s.counts[body.TypeName()]++
	if ack, ok := body.(*protocol.MsgsAck); ok {
		s.acked = append(s.acked, ack.MsgIDs...)
		s.mu.Unlock()
		return nil
	}
	silent := s.silentTypes[body.TypeName()]
	salt := s.salt
	h := s.handlers[body.TypeID()]
	s.mu.Unlock()

	if silent {
		return nil
	}
	if req.Salt != salt {
		return []protocol.Object{&protocol.BadServerSalt{
			BadMsgID:      req.Message.MsgID,
			BadMsgSeqNo:   req.Message.SeqNo,
			ErrorCode:     48,
			NewServerSalt: salt,
		}}
	}
	if h != nil {
		return h(req)
	}
	return s.defaultReply(req)
}

func (s *Server) defaultReply(req Request) []protocol.Object {
	id := req.Message.MsgID
	switch b := req.Message.Body.(type) {
	case *protocol.Ping:
		return []protocol.Object{&protocol.Pong{MsgID: id, PingID: b.PingID}}
	case *protocol.PingDelayDisconnect:
		return []protocol.Object{&protocol.Pong{MsgID: id, PingID: b.PingID}}
	case *protocol.InvokeWithLayer, *protocol.HelpGetConfig:
		return []protocol.Object{Result(req, s.ConfigObject())}
	case *protocol.GetFutureSalts:
		return []protocol.Object{&protocol.FutureSalts{ReqMsgID: id, Now: int32(msgid.Time(s.ids.Next()).Unix())}}
	case *protocol.InvokeWithoutUpdates, *protocol.InvokeWithTakeout:
		return []protocol.Object{Result(req, protocol.Unwrap(b))}
	default:
		// Unknown queries are echoed back.
		return []protocol.Object{Result(req, b)}
	}
}

// ConfigObject is the reply to help.getConfig.
func (s *Server) ConfigObject() *protocol.Generic {
	testMode := []byte{0}
	return &protocol.Generic{ID: ConfigConstructor, Name: "Config", Fields: []tlv.Field{
		protocol.NewFieldI32(ConfigFieldDate, int32(msgid.Time(s.ids.Next()).Unix())),
		protocol.NewFieldI32(ConfigFieldThisDC, int32(s.dcID)),
		{ID: ConfigFieldTestMode, Type: tlv.TypeBool, Value: testMode},
	}}
}

// Result wraps value as the rpc_result for req.
func Result(req Request, value protocol.Object) protocol.Object {
	return &protocol.RpcResult{ReqMsgID: req.Message.MsgID, Result: value}
}

// Error wraps an rpc_error for req.
func Error(req Request, code int32, message string) protocol.Object {
	return Result(req, &protocol.RpcError{ErrorCode: code, ErrorMessage: message})
}

type inbound struct {
	payload []byte
	err     error
}

// Conn is the client end of one fake connection.
type Conn struct {
	srv       *Server
	inbox     chan inbound
	closed    chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	seq       int32
	sessionID uint64
}

func (c *Conn) Send(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.Closed() {
		return net.ErrClosed
	}
	c.srv.handle(c, payload)
	return nil
}

func (c *Conn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case <-c.closed:
		return nil, io.EOF
	default:
	}
	select {
	case in := <-c.inbox:
		return in.payload, in.err
	case <-c.closed:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *Conn) Closed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// SessionID reports the session id of the last packet the server decoded.
func (c *Conn) SessionID() uint64 {
	c.srv.mu.Lock()
	defer c.srv.mu.Unlock()
	return c.sessionID
}

// Deliver packs m for the client and queues it.
func (c *Conn) Deliver(m protocol.Message) error {
	c.srv.mu.Lock()
	salt, sid := c.srv.salt, c.sessionID
	c.srv.mu.Unlock()
	b, err := c.srv.codec.Pack(m, salt, sid)
	if err != nil {
		return err
	}
	return c.DeliverRaw(b)
}

// DeliverRaw queues an already packed payload.
func (c *Conn) DeliverRaw(b []byte) error {
	if c.Closed() {
		return net.ErrClosed
	}
	c.inbox <- inbound{payload: b}
	return nil
}

// TransportError makes the next Recv fail with code, as a server-side error frame would.
func (c *Conn) TransportError(code int32) {
	c.inbox <- inbound{err: frame.AsTransportError(frame.EncodeTransportError(code))}
}

func (c *Conn) nextSeq(contentRelated bool) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq := c.seq * 2
	if contentRelated {
		seq++
		c.seq++
	}
	return seq
}
