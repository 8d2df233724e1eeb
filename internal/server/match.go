package server

import (
	"time"

	"hillpursuit/server/internal/journal"
	"hillpursuit/server/internal/logging"
	"hillpursuit/server/internal/session"
	"hillpursuit/server/internal/sim"
	"hillpursuit/server/internal/wire"
)

// advance runs one pass of the non-socket work: housekeeping, the phase
// machine, physics and fan-out.
func (s *Server) advance() {
	s.housekeeping()
	switch s.phase {
	case PhaseIdle:
		s.enterWaiting()
	case PhaseWaitingForClients:
		if s.anySlave() {
			s.startRound()
		}
	case PhasePlaying:
		if !s.racing {
			s.runCountdown()
			return
		}
		s.runTick()
	}
}

// housekeeping removes the sessions queued by mid-command bans. Removal never
// happens inside command handling itself.
func (s *Server) housekeeping() {
	if len(s.pendingRemovals) == 0 {
		return
	}
	queued := s.pendingRemovals
	s.pendingRemovals = nil
	for _, id := range queued {
		s.removeSession(id)
	}
}

func (s *Server) enterWaiting() {
	s.phase = PhaseWaitingForClients
}

func (s *Server) anySlave() bool {
	for _, sess := range s.registry.All() {
		if sess.Mode() == wire.ModeSlave {
			return true
		}
	}
	return false
}

// startRound transitions WaitingForClients -> Playing: pick a level, build
// the scenes, seat every simulated-mode session and start the countdown. Any
// setup failure logs and leaves the phase untouched.
func (s *Server) startRound() {
	level, err := s.levels.Next()
	if err != nil {
		s.logger.Warn("round setup failed, staying in waiting phase", logging.Error(err))
		return
	}

	var slaves []*session.Session
	for _, sess := range s.registry.All() {
		if sess.Mode() == wire.ModeSlave {
			slaves = append(slaves, sess)
		}
	}
	if len(slaves) == 0 {
		return
	}

	//1.- One scene per group of up to MaxSubSource seats.
	var scenes []*sim.Scene
	for off := 0; off < len(slaves); off += wire.MaxSubSource {
		count := len(slaves) - off
		if count > wire.MaxSubSource {
			count = wire.MaxSubSource
		}
		scene, err := sim.NewScene(len(scenes), level, count)
		if err != nil {
			s.logger.Warn("round setup failed, staying in waiting phase",
				logging.String("level", level.ID), logging.Error(err))
			return
		}
		scenes = append(scenes, scene)
	}
	s.scenes = scenes

	now := s.sched.Now()
	players := make([]int, 0, len(slaves))
	for i, sess := range slaves {
		sess.MarkToPlay(i/wire.MaxSubSource, i%wire.MaxSubSource)
		sess.Touch(now)
		players = append(players, sess.ID)
	}
	//2.- Rules callbacks after all seats exist; each call is isolated by the
	// hook itself.
	for _, sess := range slaves {
		s.rules.OnPlayerAdded(sess.ID)
	}

	s.openJournal(level.ID, players, now)
	s.registry.BroadcastToMarked(serverEnvelope(wire.PrepareToPlay{LevelID: level.ID, Players: players}), -1)

	s.phase = PhasePlaying
	s.racing = false
	s.countdownUntil = now.Add(s.cfg.Countdown)
	s.countdownLast = -1
	s.lastHeartbeat = time.Time{}
	s.sched.Reset()
	s.monitor.Reset()
	s.logger.Info("round starting",
		logging.String("level", level.ID), logging.Int("players", len(players)),
		logging.Int("scenes", len(scenes)))
}

func (s *Server) openJournal(levelID string, players []int, now time.Time) {
	if s.cfg.JournalDir == "" {
		return
	}
	writer, err := journal.Open(s.cfg.JournalDir, levelID, players, now)
	if err != nil {
		s.logger.Warn("round journal unavailable", logging.Error(err))
		return
	}
	s.journal = writer
	s.logger.Info("round journal opened",
		logging.String("round", writer.RoundID()), logging.String("path", writer.Path()))
}

// runCountdown announces remaining whole seconds once each and paces the
// pre-round heartbeat. The target is computed from the clock, not a one-shot
// timer, so a stalled pass never skips the go moment.
func (s *Server) runCountdown() {
	now := s.sched.Now()
	remaining := s.countdownUntil.Sub(now)
	if remaining <= 0 {
		s.registry.BroadcastToMarked(serverEnvelope(wire.PrepareToGo{Seconds: 0}), -1)
		s.racing = true
		s.sched.Reset()
		s.rules.OnRoundBegins()
		s.journalAppend(journal.Record{Kind: journal.KindRoundStart})
		return
	}
	seconds := int((remaining + time.Second - 1) / time.Second)
	if seconds != s.countdownLast {
		s.countdownLast = seconds
		s.registry.BroadcastToMarked(serverEnvelope(wire.PrepareToGo{Seconds: seconds}), -1)
	}
	if s.lastHeartbeat.IsZero() || now.Sub(s.lastHeartbeat) >= s.cfg.HeartbeatInterval {
		s.lastHeartbeat = now
		s.heartbeat()
	}
}

// runTick advances physics by the owed quanta, routes the generated events,
// enforces inactivity, fans out state and checks for round end.
func (s *Server) runTick() {
	var events []sim.Event
	steps := s.sched.Advance(func() {
		for _, scene := range s.scenes {
			events = append(events, s.engine.Step(scene, s.sched.Quantum())...)
		}
	})
	if steps == 0 {
		return
	}
	s.routeEvents(events)
	events = append(events, s.enforceInactivity()...)
	if len(events) > 0 {
		s.broadcastEvents(events)
	}
	s.fanOut()
	if !s.anyRacingScene() {
		s.endRound()
	}
}

// routeEvents feeds physics events to the rules hook and the journal.
func (s *Server) routeEvents(events []sim.Event) {
	for _, event := range events {
		sess := s.sessionAtSeat(event.Scene, event.Seat)
		clientID := -1
		if sess != nil {
			clientID = sess.ID
		}
		switch event.Kind {
		case sim.EventDeath:
			if sess != nil {
				s.rules.OnPlayerDies(sess.ID)
			}
			s.journalAppend(journal.Record{Kind: journal.KindDeath, At: event.Time, ClientID: clientID, Seat: event.Seat})
		case sim.EventWin:
			if sess != nil {
				s.rules.OnPlayerWins(sess.ID)
			}
			s.journalAppend(journal.Record{Kind: journal.KindWin, At: event.Time, ClientID: clientID, Seat: event.Seat})
		case sim.EventEntityTaken:
			if sess != nil {
				s.rules.OnPlayerTakesEntity(sess.ID, event.Entity)
			} else {
				s.rules.OnEntityTakenExternal(event.Entity)
			}
			s.journalAppend(journal.Record{Kind: journal.KindEntity, At: event.Time, ClientID: clientID, Seat: event.Seat, Entity: event.Entity})
		case sim.EventSomersault:
			s.journalAppend(journal.Record{Kind: journal.KindSomersault, At: event.Time, ClientID: clientID, Seat: event.Seat})
		}
	}
}

// broadcastEvents batches the pass's events into as few frames as fit, one
// send per recipient per batch, never one send per event.
func (s *Server) broadcastEvents(events []sim.Event) {
	for _, chunk := range sim.SplitEvents(events) {
		buf, err := sim.MarshalEvents(chunk)
		if err != nil {
			s.logger.Warn("event batch dropped", logging.Error(err))
			continue
		}
		s.registry.BroadcastToMarked(serverEnvelope(wire.GameEvents{Buffer: buf}), -1)
	}
}

// enforceInactivity refreshes activity for driving seats, warns seats nearing
// the ceiling once per remaining-second value, and force-kills past it. The
// returned death events have already been routed to rules and journal.
func (s *Server) enforceInactivity() []sim.Event {
	now := s.sched.Now()
	var events []sim.Event
	for _, sess := range s.registry.Marked() {
		sceneIdx, seatIdx := sess.Assignment()
		scene := s.scene(sceneIdx)
		if scene == nil {
			continue
		}
		seat, err := scene.Seat(seatIdx)
		if err != nil || !seat.Alive() {
			continue
		}
		if seat.Driving() {
			sess.Touch(now)
			continue
		}
		idle := now.Sub(sess.LastActivity())
		if idle > s.cfg.InactivityCeiling {
			if seat.Kill() {
				s.rules.OnPlayerDies(sess.ID)
				s.journalAppend(journal.Record{Kind: journal.KindKick, At: scene.Elapsed(), ClientID: sess.ID, Seat: seatIdx})
				events = append(events, sim.Event{Kind: sim.EventDeath, Scene: sceneIdx, Seat: seatIdx, Time: scene.Elapsed()})
				s.logger.Info("seat killed for inactivity",
					logging.Int("client", sess.ID), logging.String("name", sess.Name()))
			}
			continue
		}
		remaining := s.cfg.InactivityCeiling - idle
		if remaining > s.cfg.InactivityWarning {
			continue
		}
		seconds := int((remaining + time.Second - 1) / time.Second)
		if sess.ShouldWarn(seconds) {
			if err := sess.Send(serverEnvelope(wire.KillAlert{Seconds: seconds})); err != nil {
				s.logger.Debug("kill alert failed", logging.Int("client", sess.ID), logging.Error(err))
			}
		}
	}
	return events
}

// fanOut delivers each alive seat's snapshot: the owner at the high sub-rate,
// every other marked session at the low one, each gated by its own tick
// modulo. Delivery prefers the validated datagram path.
func (s *Server) fanOut() {
	tick := s.sched.Ticks()
	ownerEvery, peerEvery := s.frameCadence()
	toOwner := tick%ownerEvery == 0
	toPeers := tick%peerEvery == 0
	if !toOwner && !toPeers {
		return
	}
	gameTime := s.sched.GameTime()
	marked := s.registry.Marked()
	for _, owner := range marked {
		sceneIdx, seatIdx := owner.Assignment()
		scene := s.scene(sceneIdx)
		if scene == nil {
			continue
		}
		seat, err := scene.Seat(seatIdx)
		if err != nil || !seat.Alive() {
			continue
		}
		env := wire.Envelope{Source: owner.ID, SubSource: seatIdx, Action: wire.BikeFrame{State: seat.Snapshot(gameTime)}}
		if toOwner {
			s.deliverFrame(owner, env)
		}
		if !toPeers {
			continue
		}
		for _, peer := range marked {
			if peer.ID == owner.ID {
				continue
			}
			s.deliverFrame(peer, env)
		}
	}
}

// heartbeat sends every seat's not-yet-moving state to all marked sessions so
// joining clients have something to render before the go.
func (s *Server) heartbeat() {
	marked := s.registry.Marked()
	for _, owner := range marked {
		sceneIdx, seatIdx := owner.Assignment()
		scene := s.scene(sceneIdx)
		if scene == nil {
			continue
		}
		seat, err := scene.Seat(seatIdx)
		if err != nil {
			continue
		}
		env := wire.Envelope{Source: owner.ID, SubSource: seatIdx, Action: wire.BikeFrame{State: seat.Snapshot(0)}}
		for _, recipient := range marked {
			s.deliverFrame(recipient, env)
		}
	}
}

func (s *Server) deliverFrame(recipient *session.Session, env wire.Envelope) {
	if err := recipient.SendPreferDatagram(env); err != nil {
		s.logger.Debug("frame delivery failed",
			logging.Int("client", recipient.ID), logging.Error(err))
	}
}

// frameCadence converts the configured per-second sub-rates into tick moduli.
func (s *Server) frameCadence() (ownerEvery, peerEvery uint64) {
	ticksPerSecond := uint64(time.Second / s.sched.Quantum())
	if ticksPerSecond == 0 {
		ticksPerSecond = 1
	}
	ownerEvery = ticksPerSecond / uint64(s.cfg.OwnerFrameRate)
	peerEvery = ticksPerSecond / uint64(s.cfg.PeerFrameRate)
	if ownerEvery == 0 {
		ownerEvery = 1
	}
	if peerEvery == 0 {
		peerEvery = 1
	}
	return ownerEvery, peerEvery
}

func (s *Server) anyRacingScene() bool {
	for _, scene := range s.scenes {
		if scene.AnyRacing() {
			return true
		}
	}
	return false
}

// endRound tears the round down: rules callback, final score propagation,
// journal close, seats withdrawn, back to waiting.
func (s *Server) endRound() {
	s.rules.OnRoundEnds()
	s.sendPoints()
	s.journalAppend(journal.Record{Kind: journal.KindRoundEnd, At: s.sched.GameTime()})
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Warn("journal close failed", logging.Error(err))
		}
		s.journal = nil
	}
	for _, sess := range s.registry.Marked() {
		sess.Unmark()
	}
	s.scenes = nil
	s.phase = PhaseWaitingForClients
	s.logger.Info("round ended", logging.Int64("ticks", int64(s.sched.Ticks())))
}

// sendPoints broadcasts the score table to every simulated-mode session.
func (s *Server) sendPoints() {
	var entries []wire.PointsEntry
	for _, sess := range s.registry.All() {
		if sess.Mode() == wire.ModeSlave {
			entries = append(entries, wire.PointsEntry{ID: sess.ID, Points: sess.Points()})
		}
	}
	if len(entries) == 0 {
		return
	}
	s.registry.BroadcastToMode(wire.ModeSlave, serverEnvelope(wire.ClientsPoints{Entries: entries}), -1)
}

func (s *Server) journalAppend(record journal.Record) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(record); err != nil {
		s.logger.Warn("journal append failed", logging.Error(err))
	}
}
