package server

import (
	"fmt"

	"hillpursuit/server/internal/logging"
	"hillpursuit/server/internal/session"
	"hillpursuit/server/internal/wire"
)

// handleAction consumes one decoded frame from a session. fromDatagram
// relaxes the error policy: a bad datagram is discarded, a bad stream frame
// drops the session.
func (s *Server) handleAction(sess *session.Session, env wire.Envelope, fromDatagram bool) {
	switch a := env.Action.(type) {
	case wire.ClientInfos:
		s.handleClientInfos(sess, a)
	case wire.UDPBindValidation:
		sess.ValidateUDP()
	case wire.UDPBind:
		// A bind on the stream path carries no usable source address.
		s.logger.Debug("ignoring stream-path bind", logging.Int("client", sess.ID))
	case wire.ChangeName:
		s.handleChangeName(sess, a)
	case wire.ChatMessage:
		env.Source = sess.ID
		s.registry.Broadcast(env, sess.ID)
	case wire.ChatMessagePP:
		s.handlePrivateChat(sess, a)
	case wire.SetClientMode:
		s.handleClientMode(sess, a)
	case wire.PlayingLevel:
		sess.SetPlayingLevel(a.LevelID)
		env.Source = sess.ID
		s.registry.BroadcastToMode(wire.ModeGhost, env, sess.ID)
	case wire.BikeFrame:
		s.handleGhostFrame(sess, env)
	case wire.PlayerControl:
		s.handlePlayerControl(sess, a)
	case wire.ClientsNumberQuery:
		if err := sess.Send(serverEnvelope(wire.ClientsNumber{Number: s.registry.NamedCount()})); err != nil {
			s.logger.Debug("clients number reply failed", logging.Int("client", sess.ID), logging.Error(err))
		}
	case wire.SrvCmd:
		answer := s.console(sess, a.Command)
		if err := sess.Send(serverEnvelope(wire.SrvCmdAsw{Answer: answer})); err != nil {
			s.logger.Debug("console answer failed", logging.Int("client", sess.ID), logging.Error(err))
		}
	default:
		//1.- Server-originated kinds arriving inbound are protocol abuse.
		if fromDatagram {
			s.logger.Debug("discarding unexpected datagram action",
				logging.Int("client", sess.ID), logging.String("action", env.Action.Key()))
			return
		}
		s.logger.Warn("unexpected action on stream",
			logging.Int("client", sess.ID), logging.String("action", env.Action.Key()))
		s.dropSession(sess.ID, "Protocol error, disconnecting.")
	}
}

// handleClientInfos records the handshake and asks for the UDP bind. A client
// newer than the server is told so explicitly.
func (s *Server) handleClientInfos(sess *session.Session, a wire.ClientInfos) {
	if a.ProtocolVersion > ProtocolVersion {
		s.dropSession(sess.ID, fmt.Sprintf(
			"Server protocol version is %d, yours is %d.\nThe server must be upgraded before you can connect.",
			ProtocolVersion, a.ProtocolVersion))
		return
	}
	sess.Identify(a.ProtocolVersion, a.UDPBindKey, a.ClientVersion)
	if err := sess.Send(serverEnvelope(wire.UDPBindQuery{})); err != nil {
		s.logger.Debug("bind query failed", logging.Int("client", sess.ID), logging.Error(err))
	}
}

// handleChangeName validates the name, applies the ban list to the (name, ip)
// pair and announces the client to its peers.
func (s *Server) handleChangeName(sess *session.Session, a wire.ChangeName) {
	first := sess.Name() == ""
	if err := sess.SetName(a.Name, s.cfg.MaxNameLength); err != nil {
		s.dropSession(sess.ID, fmt.Sprintf("Invalid name: %v.", err))
		return
	}
	banned, remaining, err := s.store.IsBanned(s.ctx, a.Name, sess.RemoteIP())
	if err != nil {
		s.logger.Warn("ban lookup failed on name change",
			logging.Int("client", sess.ID), logging.Error(err))
	} else if banned {
		s.dropSession(sess.ID, fmt.Sprintf("You are banned from this server for %s.", remaining))
		return
	}
	s.registry.Broadcast(serverEnvelope(wire.ChangeClients{
		Added: []wire.ClientEntry{{ID: sess.ID, Name: a.Name}},
	}), sess.ID)
	if !first {
		return
	}
	//1.- A first announcement also gets the existing roster back.
	var roster []wire.ClientEntry
	for _, other := range s.registry.All() {
		if other.ID != sess.ID && other.Name() != "" {
			roster = append(roster, wire.ClientEntry{ID: other.ID, Name: other.Name()})
		}
	}
	if len(roster) == 0 {
		return
	}
	if err := sess.Send(serverEnvelope(wire.ChangeClients{Added: roster})); err != nil {
		s.logger.Debug("roster send failed", logging.Int("client", sess.ID), logging.Error(err))
	}
}

// handlePrivateChat routes a message to the listed recipients only.
func (s *Server) handlePrivateChat(sess *session.Session, a wire.ChatMessagePP) {
	env := wire.Envelope{Source: sess.ID, SubSource: 0, Action: a}
	for _, id := range a.Recipients {
		if id == sess.ID {
			continue
		}
		if err := s.registry.SendTo(id, env); err != nil {
			s.logger.Debug("private chat delivery failed",
				logging.Int("from", sess.ID), logging.Int("to", id), logging.Error(err))
		}
	}
}

// handleClientMode applies the protocol gate on simulated play.
func (s *Server) handleClientMode(sess *session.Session, a wire.SetClientMode) {
	if a.Mode == wire.ModeSlave && sess.Protocol() < minSlaveProtocol {
		message := fmt.Sprintf(
			"Protocol version %d is required on this mode.\n Your version is %d.\n Update your game or play simple ghost mode.",
			minSlaveProtocol, sess.Protocol())
		if err := sess.Send(serverEnvelope(wire.ServerError{Message: message})); err != nil {
			s.logger.Debug("mode rejection failed", logging.Int("client", sess.ID), logging.Error(err))
		}
		return
	}
	sess.SetMode(a.Mode)
}

// handleGhostFrame relays a ghost's own bike frame, rate-limited per sender,
// to the other ghosts playing the same level.
func (s *Server) handleGhostFrame(sess *session.Session, env wire.Envelope) {
	if sess.Mode() != wire.ModeGhost || sess.PlayingLevel() == "" {
		return
	}
	if !sess.AllowGhostFrame() {
		return
	}
	env.Source = sess.ID
	for _, other := range s.registry.All() {
		if other.ID == sess.ID || other.Mode() != wire.ModeGhost {
			continue
		}
		if other.PlayingLevel() != sess.PlayingLevel() {
			continue
		}
		if err := other.SendPreferDatagram(env); err != nil {
			s.logger.Debug("ghost frame relay failed",
				logging.Int("from", sess.ID), logging.Int("to", other.ID), logging.Error(err))
		}
	}
}

// handlePlayerControl applies one driving input to the sender's seat and
// refreshes its activity clock.
func (s *Server) handlePlayerControl(sess *session.Session, a wire.PlayerControl) {
	if !sess.Marked() {
		return
	}
	sceneIdx, seatIdx := sess.Assignment()
	scene := s.scene(sceneIdx)
	if scene == nil {
		return
	}
	seat, err := scene.Seat(seatIdx)
	if err != nil {
		return
	}
	seat.ApplyControl(a.Control, a.Value)
	sess.Touch(s.sched.Now())
}
