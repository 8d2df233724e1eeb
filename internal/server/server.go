// Package server is the authoritative game core: one goroutine owns the
// session registry, the match phase machine, the tick scheduler and the state
// fan-out, consuming transport events from a single channel. Nothing in here
// needs locking; cross-goroutine visibility is limited to atomic status flags
// on the transport and the concurrent-by-contract record store.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"hillpursuit/server/internal/clock"
	"hillpursuit/server/internal/config"
	"hillpursuit/server/internal/journal"
	"hillpursuit/server/internal/logging"
	"hillpursuit/server/internal/rules"
	"hillpursuit/server/internal/session"
	"hillpursuit/server/internal/sim"
	"hillpursuit/server/internal/store"
	"hillpursuit/server/internal/transport"
	"hillpursuit/server/internal/wire"
)

// ProtocolVersion is the server's own protocol generation. Clients at or
// below it are accepted; newer clients are told to wait for a server upgrade.
const ProtocolVersion = 3

// minSlaveProtocol gates simulated play; older clients stay in ghost mode.
const minSlaveProtocol = 2

var (
	// ErrTooManySessions rejects an accept at the session capacity limit.
	ErrTooManySessions = errors.New("too many sessions")
	// ErrBanned rejects a connection or name matching an active ban.
	ErrBanned = errors.New("banned")
	// ErrBadCredentials rejects a console login.
	ErrBadCredentials = errors.New("bad credentials")
)

// Phase is the server-wide match lifecycle state.
type Phase int

const (
	// PhaseIdle serves socket I/O but watches for nothing.
	PhaseIdle Phase = iota
	// PhaseWaitingForClients watches for the first simulated-mode session.
	PhaseWaitingForClients
	// PhasePlaying runs one or more simulated scenes.
	PhasePlaying
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaitingForClients:
		return "waiting"
	case PhasePlaying:
		return "playing"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Server owns all core state. Only the Run goroutine touches it.
type Server struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *session.Registry
	store    store.Store
	rules    *rules.Hook
	levels   sim.Provider
	engine   sim.Engine
	sched    *clock.Scheduler
	monitor  *clock.Monitor
	stats    *transport.Stats
	mux      *transport.Mux
	udp      session.PacketSender

	ctx context.Context

	phase  Phase
	scenes []*sim.Scene

	// Countdown state, valid while PhasePlaying and not yet racing.
	racing         bool
	countdownUntil time.Time
	countdownLast  int
	lastHeartbeat  time.Time

	journal *journal.Writer

	// pendingRemovals queues session ids banned mid-command; they are removed
	// on the next housekeeping pass, never while command handling iterates.
	pendingRemovals []int

	startedAt time.Time
}

// Option configures optional Server collaborators at construction.
type Option func(*Server)

// WithScheduler substitutes the tick scheduler, for deterministic tests.
func WithScheduler(s *clock.Scheduler) Option {
	return func(srv *Server) { srv.sched = s }
}

// WithEngine substitutes the physics engine.
func WithEngine(e sim.Engine) Option {
	return func(srv *Server) { srv.engine = e }
}

// WithLevels substitutes the level provider.
func WithLevels(p sim.Provider) Option {
	return func(srv *Server) { srv.levels = p }
}

// WithMux attaches the socket multiplexer. Tests drive events directly and
// leave it unset.
func WithMux(m *transport.Mux) Option {
	return func(srv *Server) { srv.mux = m }
}

// WithStats substitutes the traffic counters.
func WithStats(st *transport.Stats) Option {
	return func(srv *Server) { srv.stats = st }
}

// WithPacketSender substitutes the datagram write side, for tests without a
// real socket.
func WithPacketSender(ps session.PacketSender) Option {
	return func(srv *Server) { srv.udp = ps }
}

// New builds the server core around its collaborators and loads the rules
// hook.
func New(cfg *config.Config, logger *logging.Logger, recordStore store.Store, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   recordStore,
		levels:  sim.DefaultCatalog(),
		engine:  sim.NewEngine(),
		monitor: clock.NewMonitor(),
		stats:   transport.NewStats(),
		ctx:     context.Background(),
		phase:   PhaseIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sched == nil {
		s.sched = clock.NewScheduler(cfg.PhysicsQuantum, cfg.CatchUpCap)
	}
	s.registry = session.NewRegistry(logger, cfg.PeerFrameRate)
	s.registry.SetTrafficObserver(s.stats)
	s.startedAt = s.sched.Now()

	hook, err := rules.New(rulesHost{s}, logger, cfg.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load rules hook: %w", err)
	}
	s.rules = hook
	return s, nil
}

// Phase returns the current match phase.
func (s *Server) Phase() Phase { return s.phase }

// Run drives the server loop until ctx is cancelled. It requires an attached
// multiplexer.
func (s *Server) Run(ctx context.Context) error {
	if s.mux == nil {
		return errors.New("server has no transport attached")
	}
	s.ctx = ctx
	s.enterWaiting()
	s.logger.Info("server loop started",
		logging.String("addr", s.mux.Addr().String()), logging.Int("protocol", ProtocolVersion))
	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			return ctx.Err()
		default:
		}
		for _, event := range s.mux.Poll(s.pollTimeout()) {
			s.handleEvent(event)
		}
		begin := time.Now()
		s.advance()
		s.monitor.Observe(time.Since(begin))
	}
}

// pollTimeout is short while a round runs so the scheduler stays on pace, and
// coarse otherwise.
func (s *Server) pollTimeout() time.Duration {
	if s.phase == PhasePlaying {
		return s.cfg.PhysicsQuantum / 2
	}
	return 50 * time.Millisecond
}

// shutdown withdraws every session, then releases the sockets.
func (s *Server) shutdown() {
	for _, sess := range s.registry.All() {
		s.removeSession(sess.ID)
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Warn("journal close failed", logging.Error(err))
		}
		s.journal = nil
	}
	s.rules.Close()
	if s.mux != nil {
		if err := s.mux.Close(); err != nil {
			s.logger.Warn("transport close failed", logging.Error(err))
		}
	}
	s.logger.Info("server loop stopped")
}

// handleEvent routes one transport event.
func (s *Server) handleEvent(event transport.Event) {
	switch e := event.(type) {
	case transport.Accepted:
		s.handleAccept(e.Conn, e.RemoteIP)
	case transport.StreamData:
		s.handleStreamData(e.SessionID, e.Data)
	case transport.StreamClosed:
		if e.Err != nil {
			s.logger.Debug("stream ended with error",
				logging.Int("client", e.SessionID), logging.Error(e.Err))
		}
		s.removeSession(e.SessionID)
	case transport.Datagram:
		s.handleDatagram(e.Addr, e.Data)
	}
}

// handleAccept admits one inbound connection: ban check by source IP first,
// then the capacity check, both rejected with a readable reason frame before
// the session object would exist.
func (s *Server) handleAccept(conn net.Conn, remoteIP string) {
	if banned, remaining, err := s.store.IsBanned(s.ctx, "", remoteIP); err != nil {
		s.logger.Warn("ban lookup failed on accept", logging.String("ip", remoteIP), logging.Error(err))
	} else if banned {
		s.refuse(conn, fmt.Sprintf("Connection refused: you are banned from this server for %s.",
			remaining.Round(time.Minute)))
		return
	}
	if s.registry.Len() >= s.cfg.MaxSessions {
		s.refuse(conn, "Connection refused: too many players connected on this server.")
		return
	}
	sess := s.registry.Add(conn, s.packetSender(), remoteIP, s.sched.Now())
	if s.mux != nil {
		s.mux.WatchStream(sess.ID, conn)
	}
	s.logger.Info("client connected", logging.Int("client", sess.ID), logging.String("ip", remoteIP))
}

// refuse sends one terminal reason frame best-effort and closes the socket.
func (s *Server) refuse(conn net.Conn, reason string) {
	packet, err := wire.Encode(wire.Envelope{
		Source: wire.SourceServer, SubSource: 0, Action: wire.ServerError{Message: reason},
	})
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.Write(packet)
	}
	conn.Close()
	s.logger.Info("connection refused", logging.String("reason", reason))
}

// handleStreamData feeds bytes into the session's frame reader; a framing
// violation drops only that session.
func (s *Server) handleStreamData(sessionID int, data []byte) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return
	}
	envelopes, err := sess.Reader().Feed(data)
	for _, env := range envelopes {
		s.handleAction(sess, env, false)
	}
	if err != nil {
		s.logger.Warn("protocol violation on stream",
			logging.Int("client", sessionID), logging.Error(err))
		s.dropSession(sessionID, "Protocol error, disconnecting.")
	}
}

// handleDatagram dispatches one packet: a bound source address routes to its
// session, an anonymous packet may only be a bind request, anything else is
// discarded.
func (s *Server) handleDatagram(addr net.Addr, data []byte) {
	env, err := wire.DecodePacket(data)
	if err != nil {
		s.logger.Debug("discarding malformed datagram",
			logging.String("from", addr.String()), logging.Error(err))
		return
	}
	if sess := s.registry.FindByUDPAddr(addr); sess != nil {
		s.handleAction(sess, env, true)
		return
	}
	bind, ok := env.Action.(wire.UDPBind)
	if !ok {
		s.logger.Debug("discarding anonymous datagram",
			logging.String("from", addr.String()), logging.String("action", env.Action.Key()))
		return
	}
	sess := s.registry.FindByBindKey(bind.BindKey)
	if sess == nil {
		s.logger.Debug("bind key matched no session", logging.String("from", addr.String()))
		return
	}
	s.bindDatagramPath(sess, addr)
}

// bindDatagramPath records the datagram address and, for recent protocols,
// runs the two-way validation handshake. Older protocols trusted the path on
// sight, so they keep doing that.
func (s *Server) bindDatagramPath(sess *session.Session, addr net.Addr) {
	sess.BindUDP(addr)
	if sess.Protocol() < ProtocolVersion {
		sess.ValidateUDP()
		return
	}
	//1.- Ack over the stream, then echo the bind over the unreliable path
	// three times; no single datagram send is trusted to arrive.
	if err := sess.Send(serverEnvelope(wire.UDPBindValidation{})); err != nil {
		s.logger.Debug("bind validation ack failed", logging.Int("client", sess.ID), logging.Error(err))
	}
	for i := 0; i < 3; i++ {
		if err := sess.SendDatagram(serverEnvelope(wire.UDPBind{BindKey: sess.BindKey()})); err != nil {
			s.logger.Debug("bind echo failed", logging.Int("client", sess.ID), logging.Error(err))
			break
		}
	}
}

// dropSession sends a terminal reason best-effort, then removes the session.
func (s *Server) dropSession(sessionID int, reason string) {
	if sess, err := s.registry.Get(sessionID); err == nil {
		if err := sess.Send(serverEnvelope(wire.ServerError{Message: reason})); err != nil {
			s.logger.Debug("reason frame failed", logging.Int("client", sessionID), logging.Error(err))
		}
	}
	s.removeSession(sessionID)
}

// removeSession withdraws a session: seat first, then transport, then the
// peer notification. Safe to call for ids already gone.
func (s *Server) removeSession(sessionID int) {
	sess, err := s.registry.Remove(sessionID)
	if err != nil {
		return
	}
	if sess.Marked() {
		s.withdrawSeat(sess)
	}
	if err := sess.Close(); err != nil {
		s.logger.Debug("session close failed", logging.Int("client", sessionID), logging.Error(err))
	}
	s.registry.Broadcast(serverEnvelope(wire.ChangeClients{Removed: []int{sessionID}}), -1)
	s.logger.Info("client removed", logging.Int("client", sessionID), logging.String("name", sess.Name()))
}

// withdrawSeat kills the in-scene biker and tells the rules hook. Killing an
// already-dead seat is a no-op by the seat's own contract.
func (s *Server) withdrawSeat(sess *session.Session) {
	sceneIdx, seatIdx := sess.Assignment()
	if scene := s.scene(sceneIdx); scene != nil {
		if seat, err := scene.Seat(seatIdx); err == nil {
			seat.Kill()
		}
	}
	sess.Unmark()
	s.rules.OnPlayerRemoved(sess.ID)
}

func (s *Server) scene(index int) *sim.Scene {
	if index < 0 || index >= len(s.scenes) {
		return nil
	}
	return s.scenes[index]
}

// sessionAtSeat resolves the reverse (scene, seat) -> session map used by
// event routing.
func (s *Server) sessionAtSeat(sceneIdx, seatIdx int) *session.Session {
	for _, sess := range s.registry.Marked() {
		sc, st := sess.Assignment()
		if sc == sceneIdx && st == seatIdx {
			return sess
		}
	}
	return nil
}

func (s *Server) packetSender() session.PacketSender {
	if s.udp != nil {
		return s.udp
	}
	if s.mux != nil {
		return s.mux
	}
	return nil
}

func serverEnvelope(action wire.Action) wire.Envelope {
	return wire.Envelope{Source: wire.SourceServer, SubSource: 0, Action: action}
}
