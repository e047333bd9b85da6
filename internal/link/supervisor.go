// Package link keeps the front-end connected to its authority.
//
// A Supervisor owns the connection, the link state machine, the pending-auth
// registry, the remote zone directory and the cooperative timers. Everything
// it owns is mutated on one event-loop goroutine; socket readers and writers
// and the local-side API only post closures into that loop.
package link

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/charlink/internal/auth"
	"github.com/danmuck/charlink/internal/census"
	"github.com/danmuck/charlink/internal/observability"
	"github.com/danmuck/charlink/internal/protocol"
	"github.com/danmuck/charlink/internal/protocol/dispatch"
	"github.com/danmuck/charlink/internal/protocol/frame"
	"github.com/danmuck/charlink/internal/sessions"
	"github.com/danmuck/charlink/internal/snapshot"
	"github.com/danmuck/charlink/internal/timer"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrHandshakeRejected    = errors.New("link: authority rejected handshake")
	ErrRegistrationRejected = errors.New("link: authority rejected zone registration")
	ErrHandshakeTimeout     = errors.New("link: handshake did not complete in time")
	ErrUnexpectedMessage    = errors.New("link: message not valid in current state")
	ErrNotReady             = errors.New("link: not ready")
	ErrStopped              = errors.New("link: supervisor stopped")
	ErrAlreadyRunning       = errors.New("link: supervisor already running")
	ErrNilSessions          = errors.New("link: nil session table")
	ErrOpcodeReserved       = errors.New("link: opcode handled by the link itself")
	ErrBufferOverflow       = errors.New("link: unframed input exceeds buffer limit")
)

// DialFunc opens the transport to the authority.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type Option func(*Supervisor)

// WithClock replaces the time source used by timers and the registry.
func WithClock(clock func() time.Time) Option {
	return func(s *Supervisor) { s.clock = clock }
}

func WithDialer(dial DialFunc) Option {
	return func(s *Supervisor) { s.dial = dial }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Supervisor) { s.logger = logger }
}

// Status is a point-in-time view of the link, safe to read from any goroutine.
type Status struct {
	Node          string    `json:"node"`
	State         string    `json:"state"`
	ConnectionID  string    `json:"connection_id,omitempty"`
	ConnectedAt   time.Time `json:"connected_at,omitempty"`
	Attempt       int       `json:"attempt"`
	ServerName    string    `json:"server_name,omitempty"`
	UserCount     uint32    `json:"user_count"`
	RemoteZones   int       `json:"remote_zones"`
	PendingAuth   int       `json:"pending_auth"`
	OutboundDepth int       `json:"outbound_depth"`
	EverReady     bool      `json:"ever_ready"`
}

type event func(s *Supervisor)

// linkConn is one established connection. Fields are loop-owned.
type linkConn struct {
	id          string
	conn        net.Conn
	out         *outbound
	buf         []byte
	connectedAt time.Time
	closed      bool
	infoSent    bool
}

type Supervisor struct {
	cfg      Config
	logger   zerolog.Logger
	clock    func() time.Time
	dial     DialFunc
	rng      *rand.Rand
	sessions *sessions.Table
	registry *auth.Registry
	census   *census.Reporter
	zones    *ZoneDirectory
	router   *dispatch.Dispatcher
	reserved map[uint16]bool
	wheel    *timer.Wheel

	events   chan event
	done     chan struct{}
	stopOnce sync.Once
	running  atomic.Bool
	runCtx   context.Context
	status   atomic.Pointer[Status]

	// loop-owned
	state          State
	conn           *linkConn
	attempt        int
	everReady      bool
	stopping       bool
	fatal          error
	serverName     string
	userCount      uint32
	retryTimer     timer.Handle
	handshakeTimer timer.Handle
	onFirstReady   []func()
	onReady        []func()
}

// New builds a supervisor for cfg serving the sessions in table.
func New(cfg Config, table *sessions.Table, opts ...Option) (*Supervisor, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, ErrNilSessions
	}
	dialer := &net.Dialer{}
	s := &Supervisor{
		cfg:      cfg,
		logger:   log.Logger,
		clock:    time.Now,
		dial:     dialer.DialContext,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		sessions: table,
		census:   census.NewReporter(table, census.Policy{HideGMSessions: cfg.HideGMSessions}),
		zones:    NewZoneDirectory(cfg.Zones),
		events:   make(chan event, 256),
		done:     make(chan struct{}),
		runCtx:   context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	logger := s.logger
	s.logger = s.logger.With().Str("component", "link.Supervisor").Str("node", cfg.Node).Logger()
	s.wheel = timer.New(s.clock)

	reg, err := auth.NewRegistry(auth.Config{
		TTL:    cfg.AuthTTL,
		Node:   cfg.Node,
		Clock:  s.clock,
		Logger: &logger,
	}, table, authorityNotices{s: s})
	if err != nil {
		return nil, err
	}
	s.registry = reg

	router, err := dispatch.New(protocol.InboundTable())
	if err != nil {
		return nil, err
	}
	s.router = router
	if err := s.registerHandlers(); err != nil {
		return nil, err
	}
	s.publish()
	return s, nil
}

// Handle registers an extension handler for op. Handlers run on the loop, only
// while the link is Ready, and must be registered before Run. Opcodes the link
// handles itself are refused.
func (s *Supervisor) Handle(op uint16, h dispatch.Handler) error {
	if s.running.Load() {
		return ErrAlreadyRunning
	}
	if s.reserved[op] {
		return fmt.Errorf("%w: %s", ErrOpcodeReserved, protocol.OpcodeName(op))
	}
	return s.router.Handle(op, s.observe(op, s.ready(h)))
}

// SetSecondary installs the collaborator for opcodes outside the link table.
func (s *Supervisor) SetSecondary(sec dispatch.Secondary) {
	s.router.SetSecondary(sec)
}

// OnFirstReady registers fn to run the first time the link reaches Ready.
func (s *Supervisor) OnFirstReady(fn func()) {
	s.onFirstReady = append(s.onFirstReady, fn)
}

// OnReady registers fn to run every time the link reaches Ready.
func (s *Supervisor) OnReady(fn func()) {
	s.onReady = append(s.onReady, fn)
}

func (s *Supervisor) Status() Status {
	if st := s.status.Load(); st != nil {
		return *st
	}
	return Status{Node: s.cfg.Node, State: Disconnected.String()}
}

func (s *Supervisor) Sessions() *sessions.Table {
	return s.sessions
}

func (s *Supervisor) Config() Config {
	return s.cfg
}

// Run drives the link until ctx ends or the authority rejects this front-end.
// A rejection is returned as ErrHandshakeRejected or ErrRegistrationRejected.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	s.runCtx = ctx
	defer s.shutdown()

	s.start()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			ev(s)
		case <-ticker.C:
			s.wheel.Advance(s.clock())
		}
		s.publish()
		if s.fatal != nil {
			return s.fatal
		}
	}
}

func (s *Supervisor) start() {
	s.logger.Info().
		Str("addr", s.cfg.Address).
		Strs("zones", s.cfg.Zones).
		Dur("start_delay", s.cfg.StartDelay).
		Msg("link.Supervisor.start")
	s.retryTimer = s.wheel.After(s.cfg.StartDelay, func(time.Time) { s.connect() })
	s.wheel.Every(s.cfg.CensusInterval, func(time.Time) { s.sendCensus() })
	s.wheel.Every(s.cfg.SweepInterval, func(time.Time) { s.registry.Sweep(s.clock()) })
}

func (s *Supervisor) shutdown() {
	s.stopping = true
	if s.conn != nil {
		s.teardown(s.conn, "shutdown", ErrStopped)
	}
	s.wheel.Clear()
	n := s.registry.Close()
	s.stopOnce.Do(func() { close(s.done) })
	s.publish()
	s.logger.Info().Int("pending_dropped", n).Msg("link.Supervisor.shutdown")
}

// post hands ev to the loop. It reports false once the loop has stopped.
func (s *Supervisor) post(ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// do runs fn on the loop and waits for it to finish.
func (s *Supervisor) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	ev := func(*Supervisor) {
		fn()
		close(finished)
	}
	select {
	case s.events <- ev:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

func (s *Supervisor) setState(next State) {
	if s.state == next {
		return
	}
	s.logger.Debug().Str("from", s.state.String()).Str("to", next.String()).Msg("link.Supervisor.state")
	s.state = next
	observability.RecordLinkState(s.cfg.Node, next.String(), stateNames)
}

func (s *Supervisor) live(lc *linkConn) bool {
	return lc != nil && s.conn == lc && !lc.closed
}

// connect starts one connection attempt from Disconnected.
func (s *Supervisor) connect() {
	if s.state != Disconnected || s.stopping {
		return
	}
	s.attempt++
	s.setState(Connecting)
	attempt := s.attempt
	ctx := s.runCtx
	go func() {
		dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
		conn, err := s.dial(dctx, "tcp", s.cfg.Address)
		if !s.post(func(s *Supervisor) { s.onDial(attempt, conn, err) }) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (s *Supervisor) onDial(attempt int, conn net.Conn, err error) {
	if s.state != Connecting || s.stopping {
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	observability.RecordConnectAttempt(s.cfg.Node, err == nil)
	if err != nil {
		s.logger.Warn().Err(err).Int("attempt", attempt).Str("addr", s.cfg.Address).Msg("link.Supervisor.connect failed")
		s.setState(Disconnected)
		s.scheduleRetry()
		return
	}

	lc := &linkConn{
		id:          uuid.NewString(),
		conn:        conn,
		out:         newOutbound(conn, s.cfg.OutboundQueue, s.cfg.WriteTimeout),
		connectedAt: s.clock(),
	}
	s.conn = lc
	s.logger.Info().Str("conn_id", lc.id).Int("attempt", attempt).Str("addr", s.cfg.Address).Msg("link.Supervisor.connect established")
	go lc.out.run(func(err error) {
		s.post(func(s *Supervisor) { s.teardown(lc, "write", err) })
	})
	go s.readLoop(lc)

	hs, err := protocol.Handshake{UserID: s.cfg.UserID, Password: s.cfg.Password, Addr: s.cfg.PublicAddr}.Encode()
	if err != nil {
		s.teardown(lc, "encode", err)
		return
	}
	if err := s.send(hs); err != nil {
		return
	}
	s.setState(HandshakeSent)
	s.handshakeTimer = s.wheel.After(s.cfg.HandshakeTimeout, func(time.Time) {
		if s.live(lc) && s.state != Ready {
			s.teardown(lc, "handshake_timeout", ErrHandshakeTimeout)
		}
	})
}

func (s *Supervisor) scheduleRetry() {
	if s.stopping || s.fatal != nil {
		return
	}
	delay := NextBackoffDelay(s.cfg.Backoff, s.attempt, s.rng)
	s.logger.Info().Dur("delay", delay).Int("attempt", s.attempt).Msg("link.Supervisor.retry scheduled")
	s.wheel.Cancel(s.retryTimer)
	s.retryTimer = s.wheel.After(delay, func(time.Time) { s.connect() })
}

func (s *Supervisor) readLoop(lc *linkConn) {
	for {
		buf := make([]byte, s.cfg.ReadBufferSize)
		n, err := lc.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if !s.post(func(s *Supervisor) { s.onChunk(lc, chunk) }) {
				return
			}
		}
		if err != nil {
			s.post(func(s *Supervisor) { s.teardown(lc, "read", err) })
			return
		}
	}
}

// onChunk appends chunk to the stream buffer and dispatches every complete
// message. Bytes are skipped only while lc is still the live connection.
func (s *Supervisor) onChunk(lc *linkConn, chunk []byte) {
	if !s.live(lc) {
		return
	}
	lc.buf = append(lc.buf, chunk...)
	n, err := s.router.Pump(lc.buf, func() bool { return s.live(lc) })
	if s.live(lc) {
		if n == len(lc.buf) {
			lc.buf = lc.buf[:0]
		} else if n > 0 {
			lc.buf = append(lc.buf[:0], lc.buf[n:]...)
		}
		if err == nil && len(lc.buf) > frame.MaxFrameLen+s.cfg.ReadBufferSize {
			err = fmt.Errorf("%w: %d bytes buffered", ErrBufferOverflow, len(lc.buf))
		}
	}
	if err == nil {
		return
	}
	if errors.Is(err, ErrHandshakeRejected) || errors.Is(err, ErrRegistrationRejected) {
		s.logger.Error().Err(err).Msg("link.Supervisor fatal rejection")
		s.fatal = err
		s.teardown(lc, "rejected", err)
		return
	}
	s.teardown(lc, "violation", err)
}

// teardown closes lc, clears remote zones, applies the disconnect policy and
// schedules a retry. It is a no-op for a connection already torn down.
func (s *Supervisor) teardown(lc *linkConn, cause string, err error) {
	if !s.live(lc) {
		return
	}
	lc.closed = true
	s.conn = nil
	lc.out.close()
	_ = lc.conn.Close()
	s.wheel.Cancel(s.handshakeTimer)

	zones := s.zones.Clear()
	kicked := 0
	if s.cfg.DisconnectPolicy == PolicyKick {
		kicked = s.sessions.DisconnectAll(sessions.RefuseServerClosed)
	}
	s.serverName = ""
	observability.RecordDisconnect(s.cfg.Node, cause)
	s.logger.Warn().
		Err(err).
		Str("conn_id", lc.id).
		Str("cause", cause).
		Str("state", s.state.String()).
		Int("zones_cleared", zones).
		Int("sessions_kicked", kicked).
		Msg("link.Supervisor.teardown")
	s.setState(Disconnected)
	s.scheduleRetry()
}

// send queues buf on the live connection. Overflow tears the link down.
func (s *Supervisor) send(buf []byte) error {
	lc := s.conn
	if !s.live(lc) {
		return ErrNotReady
	}
	op, _ := frame.PeekOpcode(buf)
	if !lc.out.enqueue(buf) {
		observability.RecordOutboundOverflow(s.cfg.Node)
		s.teardown(lc, "overflow", ErrOutboundOverflow)
		return ErrOutboundOverflow
	}
	observability.RecordFrame(s.cfg.Node, "out", protocol.OpcodeName(op))
	return nil
}

// sendReady is send restricted to the Ready state.
func (s *Supervisor) sendReady(buf []byte) error {
	if s.state != Ready {
		return ErrNotReady
	}
	return s.send(buf)
}

func (s *Supervisor) enterReady(lc *linkConn) {
	s.wheel.Cancel(s.handshakeTimer)
	s.attempt = 0
	s.setState(Ready)
	s.logger.Info().Str("conn_id", lc.id).Str("server", s.serverName).Msg("link.Supervisor ready")

	if !lc.infoSent {
		buf, err := s.cfg.ServerInfo.Encode()
		if err == nil {
			err = s.send(buf)
		}
		if err != nil {
			return
		}
		lc.infoSent = true
	}
	if !s.everReady {
		s.everReady = true
		for _, fn := range s.onFirstReady {
			fn()
		}
	}
	for _, fn := range s.onReady {
		fn()
	}
}

func (s *Supervisor) sendCensus() {
	if s.state != Ready {
		return
	}
	buf, n, err := s.census.Frame()
	if err != nil {
		s.logger.Warn().Err(err).Int("entries", n).Msg("link.Supervisor.census skipped")
		return
	}
	if err := s.send(buf); err != nil {
		return
	}
	observability.RecordCensus(s.cfg.Node, n)
}

func (s *Supervisor) publish() {
	st := Status{
		Node:        s.cfg.Node,
		State:       s.state.String(),
		Attempt:     s.attempt,
		ServerName:  s.serverName,
		UserCount:   s.userCount,
		RemoteZones: s.zones.Len(),
		PendingAuth: s.registry.Size(),
		EverReady:   s.everReady,
	}
	if s.conn != nil {
		st.ConnectionID = s.conn.id
		st.ConnectedAt = s.conn.connectedAt
		st.OutboundDepth = s.conn.out.depth()
	}
	s.status.Store(&st)
}

// Zones returns the remote zone directory contents.
func (s *Supervisor) Zones(ctx context.Context) ([]ZoneEntry, error) {
	var out []ZoneEntry
	err := s.do(ctx, func() { out = s.zones.Entries() })
	return out, err
}

// EnterWorld attaches a client session that presented token1 for accountID
// and charID, and runs the local half of the auth rendezvous.
func (s *Supervisor) EnterWorld(ctx context.Context, accountID, charID, token1 uint32, tr sessions.Transport) (sessions.Handle, auth.Outcome, error) {
	var (
		h      sessions.Handle
		out    auth.Outcome
		attErr error
	)
	err := s.do(ctx, func() {
		h, attErr = s.sessions.Attach(accountID, charID, tr)
		if attErr != nil {
			return
		}
		out = s.registry.LocalArrival(accountID, token1, h)
		if out == auth.Rejected {
			s.sessions.Refuse(h, sessions.RefuseAlreadyOnline)
		}
	})
	if err != nil {
		return sessions.Handle{}, 0, err
	}
	if attErr != nil {
		return sessions.Handle{}, 0, attErr
	}
	return h, out, nil
}

// CharOnline tells the authority the character is now in the world.
func (s *Supervisor) CharOnline(ctx context.Context, accountID, charID uint32) error {
	return s.presence(ctx, protocol.OpCharOnline, accountID, charID)
}

// CharOffline tells the authority the character has left the world.
func (s *Supervisor) CharOffline(ctx context.Context, accountID, charID uint32) error {
	return s.presence(ctx, protocol.OpCharOffline, accountID, charID)
}

func (s *Supervisor) presence(ctx context.Context, op uint16, accountID, charID uint32) error {
	buf, err := protocol.CharPresence{CharID: charID, AccountID: accountID}.Encode(op)
	if err != nil {
		return err
	}
	return s.Submit(ctx, buf)
}

// SaveCharacter sends the character's current state to the authority.
func (s *Supervisor) SaveCharacter(ctx context.Context, ch snapshot.Character) error {
	blob, err := snapshot.Encode(ch)
	if err != nil {
		return err
	}
	buf, err := protocol.SaveCharacter{AccountID: ch.AccountID, CharID: ch.CharID, Snapshot: blob}.Encode()
	if err != nil {
		return err
	}
	return s.Submit(ctx, buf)
}

// Submit queues a pre-encoded frame. It fails with ErrNotReady unless the
// link is Ready.
func (s *Supervisor) Submit(ctx context.Context, buf []byte) error {
	if len(buf) < 2 {
		return fmt.Errorf("link: submit: short frame (%d bytes)", len(buf))
	}
	var sendErr error
	if err := s.do(ctx, func() { sendErr = s.sendReady(buf) }); err != nil {
		return err
	}
	return sendErr
}

// authorityNotices routes registry notices onto the link.
type authorityNotices struct {
	s *Supervisor
}

func (a authorityNotices) NotifyOffline(accountID, charID uint32) {
	buf, err := protocol.CharPresence{CharID: charID, AccountID: accountID}.Encode(protocol.OpCharOffline)
	if err != nil {
		return
	}
	if err := a.s.sendReady(buf); err != nil {
		a.s.logger.Debug().Err(err).Uint32("account_id", accountID).Msg("link.authorityNotices offline notice dropped")
	}
}

func (a authorityNotices) RequestStatusData(accountID, charID uint32) {
	buf := protocol.StatusDataRequest{AccountID: accountID, CharID: charID}.Encode()
	if err := a.s.sendReady(buf); err != nil {
		a.s.logger.Debug().Err(err).Uint32("account_id", accountID).Msg("link.authorityNotices status request dropped")
	}
}
