// Package session tracks connected clients: their transport handles, UDP
// bind handshake state, negotiated protocol, play state and scores. The
// registry hands out stable integer ids; every send is best-effort.
package session

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"hillpursuit/server/internal/wire"
)

var (
	// ErrClientNotFound is returned when an id resolves to no session.
	ErrClientNotFound = errors.New("client not found")
	// ErrEmptyName rejects blank display names.
	ErrEmptyName = errors.New("display name must not be empty")
	// ErrNameTooLong rejects names over the display cap.
	ErrNameTooLong = errors.New("display name too long")
	// ErrNoDatagramPath is returned when a UDP send has no bound address.
	ErrNoDatagramPath = errors.New("datagram path not established")
)

// PacketSender is the shared UDP socket's write side.
type PacketSender interface {
	WriteTo(p []byte, addr net.Addr) (int, error)
}

// TrafficObserver counts outbound stream frames; datagram sends are counted
// by the socket owner.
type TrafficObserver interface {
	RecordTCPSent(bytes int)
}

// writeTimeout bounds one TCP send so a stalled client cannot block the
// server loop.
const writeTimeout = 2 * time.Second

// Session is one connected client.
type Session struct {
	ID int

	tcp      net.Conn
	udp      PacketSender
	remoteIP string
	reader   *wire.FrameReader

	// Identity, set by the handshake and name change actions.
	identified    bool
	name          string
	proto         int
	clientVersion string

	// UDP bind handshake state.
	bindKey      string
	udpAddr      net.Addr
	udpBound     bool
	udpValidated bool

	// Play state.
	mode         wire.Mode
	marked       bool
	scene        int
	seat         int
	playingLevel string
	points       int

	lastActivity time.Time
	// warnedBucket is the remaining-seconds value already warned about, or
	// -1 when no warning is pending.
	warnedBucket int

	// Admin console state.
	adminConnected bool
	adminName      string

	// ghostFrames throttles relayed ghost-mode bike frames per sender.
	ghostFrames *rate.Limiter

	observer TrafficObserver
}

// RemoteIP returns the client's source address without the port.
func (s *Session) RemoteIP() string { return s.remoteIP }

// Reader returns the session's incremental stream frame reader.
func (s *Session) Reader() *wire.FrameReader { return s.reader }

// Identified reports whether the handshake frame arrived.
func (s *Session) Identified() bool { return s != nil && s.identified }

// Identify records the handshake: protocol version, bind key and client
// version. The protocol version is immutable afterwards.
func (s *Session) Identify(proto int, bindKey, clientVersion string) {
	if s == nil || s.identified {
		return
	}
	s.identified = true
	s.proto = proto
	s.bindKey = bindKey
	s.clientVersion = clientVersion
}

// Protocol returns the negotiated protocol version, zero before Identify.
func (s *Session) Protocol() int { return s.proto }

// ClientVersion returns the software version string from the handshake.
func (s *Session) ClientVersion() string { return s.clientVersion }

// BindKey returns the key expected in this session's UDP bind datagram.
func (s *Session) BindKey() string { return s.bindKey }

// Name returns the display name, empty until the client announces one.
func (s *Session) Name() string { return s.name }

// SetName validates and stores a display name. The cap counts runes, not
// bytes.
func (s *Session) SetName(name string, maxRunes int) error {
	if name == "" {
		return ErrEmptyName
	}
	if len([]rune(name)) > maxRunes {
		return fmt.Errorf("%w: %d runes", ErrNameTooLong, len([]rune(name)))
	}
	s.name = name
	return nil
}

// Mode returns the session's declared play mode.
func (s *Session) Mode() wire.Mode { return s.mode }

// SetMode records the declared play mode.
func (s *Session) SetMode(mode wire.Mode) { s.mode = mode }

// PlayingLevel returns the ghost-declared level id, if any.
func (s *Session) PlayingLevel() string { return s.playingLevel }

// SetPlayingLevel records which level a ghost session is playing.
func (s *Session) SetPlayingLevel(levelID string) { s.playingLevel = levelID }

// Marked reports whether the session holds a seat in the active round.
func (s *Session) Marked() bool { return s != nil && s.marked }

// MarkToPlay assigns the (scene, seat) pair for the starting round.
func (s *Session) MarkToPlay(scene, seat int) {
	s.marked = true
	s.scene = scene
	s.seat = seat
	s.warnedBucket = -1
}

// Unmark withdraws the session from the round; the (scene, seat) pair is
// undefined afterwards.
func (s *Session) Unmark() {
	s.marked = false
	s.scene = 0
	s.seat = 0
}

// Assignment returns the (scene, seat) pair; valid only while Marked.
func (s *Session) Assignment() (scene, seat int) { return s.scene, s.seat }

// Points returns the accumulated score.
func (s *Session) Points() int { return s.points }

// AddPoints adjusts the score by delta.
func (s *Session) AddPoints(delta int) { s.points += delta }

// Touch refreshes the activity timestamp and clears any pending warning.
func (s *Session) Touch(now time.Time) {
	s.lastActivity = now
	s.warnedBucket = -1
}

// LastActivity returns the most recent driving-input timestamp.
func (s *Session) LastActivity() time.Time { return s.lastActivity }

// ShouldWarn reports whether a kill-imminent alert for the given
// remaining-seconds bucket is still owed, and records it as sent.
func (s *Session) ShouldWarn(remainingSeconds int) bool {
	if s.warnedBucket == remainingSeconds {
		return false
	}
	s.warnedBucket = remainingSeconds
	return true
}

// AdminConnected reports whether the console login succeeded.
func (s *Session) AdminConnected() bool { return s != nil && s.adminConnected }

// AdminName returns the profile captured at console login time.
func (s *Session) AdminName() string { return s.adminName }

// ConnectAdmin records a successful console login under the given profile.
func (s *Session) ConnectAdmin(profile string) {
	s.adminConnected = true
	s.adminName = profile
}

// DisconnectAdmin clears the console login.
func (s *Session) DisconnectAdmin() {
	s.adminConnected = false
	s.adminName = ""
}

// BindUDP records the datagram address matched by the bind key.
func (s *Session) BindUDP(addr net.Addr) {
	s.udpAddr = addr
	s.udpBound = true
}

// UDPBound reports whether a datagram address is on record.
func (s *Session) UDPBound() bool { return s != nil && s.udpBound }

// ValidateUDP records the client's bind-validation acknowledgement.
func (s *Session) ValidateUDP() { s.udpValidated = true }

// UDPTrusted reports whether both directions of the datagram path have been
// confirmed; only then may fan-out prefer UDP.
func (s *Session) UDPTrusted() bool { return s != nil && s.udpBound && s.udpValidated }

// UDPAddr returns the bound datagram address, nil before BindUDP.
func (s *Session) UDPAddr() net.Addr { return s.udpAddr }

// MatchesUDPAddr reports whether a datagram source is this session's bound
// address.
func (s *Session) MatchesUDPAddr(addr net.Addr) bool {
	return s != nil && s.udpBound && addr != nil && s.udpAddr.String() == addr.String()
}

// AllowGhostFrame reports whether a relayed ghost frame from this sender is
// within its rate budget.
func (s *Session) AllowGhostFrame() bool {
	if s == nil || s.ghostFrames == nil {
		return true
	}
	return s.ghostFrames.Allow()
}

// Send encodes and writes one frame over the stream path.
func (s *Session) Send(env wire.Envelope) error {
	if s == nil || s.tcp == nil {
		return fmt.Errorf("%w: no stream", ErrClientNotFound)
	}
	packet, err := wire.Encode(env)
	if err != nil {
		return err
	}
	if err := s.tcp.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	n, err := s.tcp.Write(packet)
	if err == nil && s.observer != nil {
		s.observer.RecordTCPSent(n)
	}
	return err
}

// SendDatagram encodes and writes one frame over the bound datagram path.
func (s *Session) SendDatagram(env wire.Envelope) error {
	if s == nil || s.udp == nil || !s.udpBound {
		return ErrNoDatagramPath
	}
	packet, err := wire.Encode(env)
	if err != nil {
		return err
	}
	_, err = s.udp.WriteTo(packet, s.udpAddr)
	return err
}

// SendPreferDatagram uses UDP once the handshake confirmed both directions,
// falling back to the stream path otherwise.
func (s *Session) SendPreferDatagram(env wire.Envelope) error {
	if s.UDPTrusted() {
		return s.SendDatagram(env)
	}
	return s.Send(env)
}

// Close releases the stream handle.
func (s *Session) Close() error {
	if s == nil || s.tcp == nil {
		return nil
	}
	return s.tcp.Close()
}
