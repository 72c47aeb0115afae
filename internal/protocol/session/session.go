package session

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/mtsession/internal/observability"
	"github.com/danmuck/mtsession/internal/protocol"
	"github.com/danmuck/mtsession/internal/protocol/codec"
	"github.com/danmuck/mtsession/internal/protocol/envelope"
	"github.com/danmuck/mtsession/internal/protocol/frame"
	"github.com/danmuck/mtsession/internal/protocol/msgid"
	"github.com/danmuck/mtsession/internal/rpcerr"
)

// Connection is one physical byte-stream to a data center. Recv returns one packet per call.
type Connection interface {
	Send(ctx context.Context, payload []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
	Closed() bool
}

// Dialer opens a fresh Connection for every Starting transition.
type Dialer func(ctx context.Context) (Connection, error)

// Storage supplies identity values used during the Starting handshake.
type Storage interface {
	APIID() int32
	IsBot() bool
}

// UpdateHandler receives server pushes that answer no pending request.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update protocol.Object) error
}

// DisconnectHandler is notified once per Stopping transition of a primary session.
type DisconnectHandler func(ctx context.Context) error

// ClientInfo is announced to the server by initConnection.
type ClientInfo struct {
	AppVersion    string
	DeviceModel   string
	SystemVersion string
	LangCode      string
}

type Options struct {
	DCID     int
	TestMode bool
	// IsMedia sessions skip the disconnect notification.
	IsMedia bool
	// IsCDN sessions skip connection initialization.
	IsCDN bool

	AuthKey      codec.AuthKey
	Dial         Dialer
	Storage      Storage
	Updates      UpdateHandler
	OnDisconnect DisconnectHandler
	Client       ClientInfo
	Config       Config

	Clock  clock.Clock
	Logger *zerolog.Logger
}

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Status is a point-in-time view of a session.
type Status struct {
	DCID         int           `json:"dc_id"`
	State        string        `json:"state"`
	SessionID    uint64        `json:"session_id"`
	Salt         uint64        `json:"salt"`
	Pending      int           `json:"pending"`
	PendingAcks  int           `json:"pending_acks"`
	StoredMsgIDs int           `json:"stored_msg_ids"`
	ClockOffset  time.Duration `json:"clock_offset"`
	LastRestart  time.Time     `json:"last_restart"`
}

// Session multiplexes requests over one connection and keeps it alive.
type Session struct {
	opts  Options
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger

	codec   *codec.Codec
	ids     *msgid.Generator
	factory *envelope.Factory
	pending *PendingTable
	acks    *AckTracker
	guard   *ReplayGuard

	salt      atomic.Uint64
	sessionID atomic.Uint64
	state     atomic.Int32

	stateMu     sync.Mutex
	running     chan struct{}
	lastRestart time.Time

	connMu  sync.RWMutex
	conn    Connection
	writeMu sync.Mutex

	// lifeMu serializes Start, Stop and Restart.
	lifeMu     sync.Mutex
	loops      *errgroup.Group
	loopCtx    context.Context
	loopCancel context.CancelFunc
	pingStop   chan struct{}
	pingDone   chan struct{}
	rng        *mrand.Rand

	lifeCtx    context.Context
	lifeCancel context.CancelFunc
	closing    atomic.Bool
	restarts   sync.WaitGroup
}

func New(opts Options) (*Session, error) {
	if opts.Dial == nil {
		return nil, fmt.Errorf("%w: missing dialer", ErrInvalidOptions)
	}
	if opts.Storage == nil && !opts.IsCDN {
		return nil, fmt.Errorf("%w: missing storage", ErrInvalidOptions)
	}
	c, err := codec.NewClient(opts.AuthKey)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	cfg := opts.Config.WithDefaults()
	ids := msgid.New(opts.Clock, msgid.KindClient)

	s := &Session{
		opts:    opts,
		cfg:     cfg,
		clock:   opts.Clock,
		log:     logger.With().Int("dc", opts.DCID).Bool("media", opts.IsMedia).Logger(),
		codec:   c,
		ids:     ids,
		factory: envelope.New(ids),
		acks:    NewAckTracker(),
		guard:   NewReplayGuard(cfg.StoredMsgIDsMax, cfg.FutureSkew, cfg.PastSkew, ids.Now),
		running: make(chan struct{}),
		rng:     mrand.New(mrand.NewSource(opts.Clock.Now().UnixNano())),
	}
	s.pending = NewPendingTable(opts.Clock, s.log)
	s.lifeCtx, s.lifeCancel = context.WithCancel(context.Background())
	return s, nil
}

func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	observability.SetSessionState(s.opts.DCID, int(st))

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	select {
	case <-s.running:
		if st != StateRunning {
			s.running = make(chan struct{})
		}
	default:
		if st == StateRunning {
			close(s.running)
		}
	}
}

// WaitRunning blocks until the session is Running or timeout elapses.
func (s *Session) WaitRunning(ctx context.Context, timeout time.Duration) error {
	s.stateMu.Lock()
	ch := s.running
	s.stateMu.Unlock()

	timer := s.clock.Timer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Salt() uint64 { return s.salt.Load() }

func (s *Session) SetSalt(salt uint64) { s.salt.Store(salt) }

func (s *Session) SessionID() uint64 { return s.sessionID.Load() }

func (s *Session) Status() Status {
	s.stateMu.Lock()
	last := s.lastRestart
	s.stateMu.Unlock()
	return Status{
		DCID:         s.opts.DCID,
		State:        s.State().String(),
		SessionID:    s.sessionID.Load(),
		Salt:         s.salt.Load(),
		Pending:      s.pending.Len(),
		PendingAcks:  s.acks.Len(),
		StoredMsgIDs: s.guard.Len(),
		ClockOffset:  s.ids.Offset(),
		LastRestart:  last,
	}
}

func (s *Session) connection() Connection {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

func (s *Session) setConnection(c Connection) {
	s.connMu.Lock()
	s.conn = c
	s.connMu.Unlock()
}

// Connected reports whether a usable connection is attached.
func (s *Session) Connected() bool {
	c := s.connection()
	return c != nil && !c.Closed()
}

// Start brings the session to Running, retrying transient failures with backoff.
func (s *Session) Start(ctx context.Context) error {
	if s.closing.Load() {
		return ErrSessionStopped
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.State() == StateRunning {
		return nil
	}
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := s.startOnce(ctx)
		if err == nil {
			break
		}
		if stopErr := s.stopLocked(ctx); stopErr != nil {
			s.log.Debug().Err(stopErr).Msg("teardown after failed start")
		}
		if !retryableStart(ctx, err) {
			s.log.Error().Err(err).Msg("session start failed")
			return err
		}
		if s.cfg.StartAttempts > 0 && attempt >= s.cfg.StartAttempts {
			return fmt.Errorf("session: start failed after %d attempts: %w", attempt, err)
		}
		delay := NextBackoffDelay(s.cfg.Backoff, attempt, s.rng)
		s.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("session start failed, retrying")
		if err := sleep(ctx, s.clock, delay); err != nil {
			return err
		}
	}
	s.setState(StateRunning)
	s.log.Info().Uint64("session_id", s.sessionID.Load()).Msg("session started")
	return nil
}

func retryableStart(ctx context.Context, err error) bool {
	if ctx.Err() != nil || rpcerr.IsAuthKeyDuplicated(err) {
		return false
	}
	var rpcErr *rpcerr.Error
	return IsTransportError(err) || errors.Is(err, ErrDialFailed) || errors.As(err, &rpcErr)
}

func (s *Session) startOnce(ctx context.Context) error {
	s.setState(StateStarting)
	s.sessionID.Store(randomUint64())
	s.factory.Reset()

	conn, err := s.opts.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	s.setConnection(conn)

	s.loopCtx, s.loopCancel = context.WithCancel(s.lifeCtx)
	s.loops = &errgroup.Group{}
	loopCtx := s.loopCtx
	s.loops.Go(func() error { return s.recvLoop(loopCtx, conn) })

	if _, err := s.send(ctx, &protocol.Ping{PingID: 0}, true, s.cfg.StartTimeout, 0); err != nil {
		return err
	}
	if !s.opts.IsCDN {
		initConn := &protocol.InvokeWithLayer{
			Layer: protocol.Layer,
			Query: &protocol.InitConnection{
				APIID:          s.opts.Storage.APIID(),
				DeviceModel:    s.opts.Client.DeviceModel,
				SystemVersion:  s.opts.Client.SystemVersion,
				AppVersion:     s.opts.Client.AppVersion,
				SystemLangCode: s.opts.Client.LangCode,
				LangCode:       s.opts.Client.LangCode,
				Query:          &protocol.HelpGetConfig{},
			},
		}
		if _, err := s.send(ctx, initConn, true, s.cfg.StartTimeout, 0); err != nil {
			return err
		}
		s.log.Info().
			Int32("layer", protocol.Layer).
			Bool("bot", s.opts.Storage.IsBot()).
			Str("device", s.opts.Client.DeviceModel).
			Str("app_version", s.opts.Client.AppVersion).
			Str("system", s.opts.Client.SystemVersion).
			Str("lang", s.opts.Client.LangCode).
			Msg("session initialized")
	}

	s.pingStop = make(chan struct{})
	s.pingDone = make(chan struct{})
	stop, done := s.pingStop, s.pingDone
	s.loops.Go(func() error { return s.pingLoop(loopCtx, stop, done) })
	return nil
}

// Stop tears the session down. Pending requests fail with ErrSessionStopped.
func (s *Session) Stop(ctx context.Context) error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.stopLocked(ctx)
}

func (s *Session) stopLocked(ctx context.Context) error {
	s.setState(StateStopping)
	s.guard.Reset()

	if s.pingStop != nil {
		close(s.pingStop)
		<-s.pingDone
		s.pingStop, s.pingDone = nil, nil
	}

	var errs error
	if conn := s.connection(); conn != nil {
		if err := conn.Close(); err != nil && !errors.Is(err, ErrNotConnected) {
			errs = multierr.Append(errs, fmt.Errorf("session: close connection: %w", err))
		}
	}
	if s.loopCancel != nil {
		s.loopCancel()
		s.loopCancel = nil
	}
	if s.loops != nil {
		errs = multierr.Append(errs, s.loops.Wait())
		s.loops = nil
	}
	if n := s.pending.FailAll(ErrSessionStopped); n > 0 {
		s.log.Debug().Int("pending", n).Msg("failed pending requests on stop")
	}
	observability.SetPending(s.opts.DCID, 0)

	if !s.opts.IsMedia && s.opts.OnDisconnect != nil {
		if err := s.opts.OnDisconnect(ctx); err != nil {
			s.log.Error().Err(err).Msg("disconnect handler failed")
		}
	}
	s.setState(StateStopped)
	s.log.Info().Msg("session stopped")
	return errs
}

// Restart stops and starts the session, sleeping first when restarts come too often.
func (s *Session) Restart(ctx context.Context) error {
	return s.restart(ctx, nil)
}

// restart skips the cycle when stale is set and a newer connection is already running.
func (s *Session) restart(ctx context.Context, stale Connection) error {
	if s.closing.Load() {
		return ErrSessionStopped
	}
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.closing.Load() {
		return ErrSessionStopped
	}
	if stale != nil && s.State() == StateRunning && s.connection() != stale {
		return nil
	}

	now := s.clock.Now()
	s.stateMu.Lock()
	last := s.lastRestart
	s.lastRestart = now
	s.stateMu.Unlock()
	if !last.IsZero() && now.Sub(last) < s.cfg.ReconnectThreshold {
		s.log.Info().Dur("sleep", s.cfg.ReconnectSleep).Msg("reconnecting too frequently, sleeping")
		if err := sleep(ctx, s.clock, s.cfg.ReconnectSleep); err != nil {
			return err
		}
	}
	observability.RecordRestart(s.opts.DCID)

	if err := s.stopLocked(ctx); err != nil {
		s.log.Debug().Err(err).Msg("teardown during restart")
	}
	return s.startLocked(ctx)
}

// scheduleRestart runs a detached restart tracked so Close can await it.
func (s *Session) scheduleRestart(stale Connection) {
	if s.closing.Load() {
		return
	}
	s.restarts.Add(1)
	go func() {
		defer s.restarts.Done()
		if err := s.restart(s.lifeCtx, stale); err != nil && !errors.Is(err, ErrSessionStopped) {
			s.log.Warn().Err(err).Msg("background restart failed")
		}
	}()
}

// Close stops the session for good and waits for detached restarts.
func (s *Session) Close(ctx context.Context) error {
	s.closing.Store(true)
	s.lifeCancel()
	err := s.Stop(ctx)
	s.restarts.Wait()
	return err
}

// Send transmits body. When wait is set it blocks for the correlated response.
func (s *Session) Send(ctx context.Context, body protocol.Object, wait bool, timeout time.Duration) (protocol.Object, error) {
	if timeout <= 0 {
		timeout = s.cfg.WaitTimeout
	}
	return s.send(ctx, body, wait, timeout, 0)
}

func (s *Session) send(ctx context.Context, body protocol.Object, wait bool, timeout time.Duration, resends int) (protocol.Object, error) {
	msg := s.factory.Wrap(body)

	var h *PendingHandle
	if wait {
		var err error
		if h, err = s.pending.Register(msg.MsgID); err != nil {
			return nil, err
		}
		observability.SetPending(s.opts.DCID, s.pending.Len())
	}
	if err := s.transmit(ctx, msg); err != nil {
		if h != nil {
			s.pending.Remove(msg.MsgID)
		}
		return nil, err
	}
	if !wait {
		return nil, nil
	}

	result, err := s.pending.Await(ctx, h, timeout)
	observability.SetPending(s.opts.DCID, s.pending.Len())
	if err != nil {
		return nil, err
	}

	switch r := result.(type) {
	case *protocol.RpcError:
		return nil, rpcerr.New(r.ErrorCode, r.ErrorMessage, protocol.Unwrap(body).TypeName())
	case *protocol.BadServerSalt:
		s.salt.Store(r.NewServerSalt)
		observability.RecordSaltRotation(s.opts.DCID)
		s.log.Debug().Uint64("salt", r.NewServerSalt).Msg("server salt rotated")
		if resends >= s.cfg.MaxResends {
			return nil, fmt.Errorf("%w: bad server salt", ErrResendBudget)
		}
		return s.send(ctx, body, wait, timeout, resends+1)
	case *protocol.BadMsgNotification:
		bad := &rpcerr.BadMsgError{Code: r.ErrorCode, BadMsgID: r.BadMsgID}
		s.log.Warn().Int32("code", r.ErrorCode).Str("query", body.TypeName()).Msg(bad.Error())
		if bad.ClockSkew() && resends < s.cfg.MaxResends {
			return s.send(ctx, body, wait, timeout, resends+1)
		}
		return nil, bad
	}
	return result, nil
}

// transmit packs msg and writes it as one frame.
func (s *Session) transmit(ctx context.Context, msg protocol.Message) error {
	conn := s.connection()
	if conn == nil || conn.Closed() {
		return ErrNotConnected
	}
	payload, err := s.codec.Pack(msg, s.salt.Load(), s.sessionID.Load())
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	err = conn.Send(ctx, payload)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("session: send: %w", err)
	}
	s.log.Debug().Uint64("msg_id", msg.MsgID).Int32("seq_no", msg.SeqNo).Str("body", msg.Body.TypeName()).Msg("sent")
	return nil
}

func (s *Session) recvLoop(ctx context.Context, conn Connection) error {
	s.log.Info().Msg("recv loop started")
	defer s.log.Info().Msg("recv loop stopped")
	for {
		payload, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var te *frame.TransportError
			if errors.As(err, &te) {
				desc := te.Description()
				if desc == "" {
					desc = "unknown error"
				}
				s.log.Warn().Int32("code", te.Code).Str("reason", desc).Msg("server sent transport error")
			} else {
				s.log.Debug().Err(err).Msg("connection read ended")
			}
			if s.State() == StateRunning {
				s.scheduleRestart(conn)
			}
			return nil
		}
		s.handlePacket(ctx, conn, payload)
	}
}

func (s *Session) handlePacket(ctx context.Context, conn Connection, payload []byte) {
	packet, err := s.codec.Unpack(payload, s.sessionID.Load())
	if err != nil {
		s.discard(conn, err)
		return
	}

	messages := []protocol.Message{packet.Message}
	if c, ok := packet.Message.Body.(*protocol.MsgContainer); ok {
		messages = c.Messages
	}
	s.log.Debug().Uint64("msg_id", packet.Message.MsgID).Str("body", packet.Message.Body.TypeName()).Msg("received")

	for _, msg := range messages {
		if msg.ContentRelated() && !s.acks.Add(msg.MsgID) {
			continue
		}
		if err := s.guard.Check(msg.MsgID); err != nil {
			s.discard(conn, err)
			return
		}

		var correlated uint64
		switch body := msg.Body.(type) {
		case *protocol.MsgDetailedInfo:
			s.acks.Add(body.AnswerMsgID)
			continue
		case *protocol.MsgNewDetailedInfo:
			s.acks.Add(body.AnswerMsgID)
			continue
		case *protocol.NewSessionCreated:
			s.log.Debug().Uint64("first_msg_id", body.FirstMsgID).Msg("new session created")
			continue
		case *protocol.BadMsgNotification:
			if (&rpcerr.BadMsgError{Code: body.ErrorCode}).ClockSkew() {
				offset := s.ids.SyncServerTime(msg.MsgID)
				s.log.Warn().Dur("offset", offset).Msg("local clock out of sync, adopted server time")
			}
			correlated = body.BadMsgID
		case *protocol.BadServerSalt:
			correlated = body.BadMsgID
		case *protocol.FutureSalts:
			correlated = body.ReqMsgID
		case *protocol.RpcResult:
			s.pending.Fulfill(body.ReqMsgID, body.Result)
			continue
		case *protocol.Pong:
			correlated = body.MsgID
		default:
			s.dispatchUpdate(ctx, body)
			continue
		}
		s.pending.Fulfill(correlated, msg.Body)
	}

	if batch := s.acks.DrainIfThreshold(s.cfg.AcksThreshold); batch != nil {
		s.flushAcks(ctx, batch)
	}
}

func (s *Session) discard(conn Connection, err error) {
	s.log.Info().Err(err).Msg("discarding packet")
	observability.RecordSecurityRejection(s.opts.DCID)
	if cerr := conn.Close(); cerr != nil {
		s.log.Debug().Err(cerr).Msg("close after rejected packet")
	}
}

func (s *Session) flushAcks(ctx context.Context, batch []uint64) {
	s.log.Debug().Int("count", len(batch)).Msg("sending acks")
	if _, err := s.send(ctx, &protocol.MsgsAck{MsgIDs: batch}, false, 0, 0); err != nil {
		s.log.Debug().Err(err).Msg("ack flush failed")
		s.acks.Requeue(batch)
		return
	}
	observability.RecordAcks(s.opts.DCID, len(batch))
}

func (s *Session) dispatchUpdate(ctx context.Context, update protocol.Object) {
	if s.opts.Updates == nil {
		return
	}
	if err := s.opts.Updates.HandleUpdate(ctx, update); err != nil {
		s.log.Warn().Err(err).Str("update", update.TypeName()).Msg("update dispatch failed")
	}
}

// pingLoop sends a keep-alive every PingInterval, carrying any outstanding acks.
func (s *Session) pingLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) error {
	defer close(done)
	s.log.Info().Msg("ping loop started")
	defer s.log.Info().Msg("ping loop stopped")
	for {
		timer := s.clock.Timer(s.cfg.PingInterval)
		select {
		case <-stop:
			timer.Stop()
			return nil
		case <-timer.C:
		}
		s.keepAlive(ctx)
	}
}

func (s *Session) keepAlive(ctx context.Context) {
	ping := &protocol.PingDelayDisconnect{PingID: 0, DisconnectDelay: s.cfg.disconnectDelay()}
	acks := s.acks.Drain()
	if len(acks) == 0 {
		if _, err := s.send(ctx, ping, false, 0, 0); err != nil {
			s.log.Debug().Err(err).Msg("keep-alive failed")
		}
		return
	}
	container, _ := s.factory.Container(&protocol.MsgsAck{MsgIDs: acks}, ping)
	if err := s.transmit(ctx, container); err != nil {
		s.log.Debug().Err(err).Msg("keep-alive failed")
		s.acks.Requeue(acks)
		return
	}
	observability.RecordAcks(s.opts.DCID, len(acks))
}

func sleep(ctx context.Context, c clock.Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := c.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomUint64() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("session: read random session id: %v", err))
	}
	return binary.LittleEndian.Uint64(b[:])
}
