package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Action keys as they appear on the wire. The high-frequency kinds use
// single-letter keys to keep per-tick frames small.
const (
	keyChatMessage       = "message"
	keyChatMessagePP     = "messagePP"
	keyBikeFrame         = "f"
	keyClientInfos       = "clientInfos"
	keyUDPBind           = "udpbind"
	keyUDPBindQuery      = "udpbindingQuery"
	keyUDPBindValidation = "udpbindingValidation"
	keyChangeName        = "changeName"
	keyPlayingLevel      = "playingLevel"
	keyServerError       = "serverError"
	keyChangeClients     = "changeClients"
	keyClientsPoints     = "scpoints"
	keyClientsNumber     = "clientsNumber"
	keyClientsNumberQ    = "clientsNumberQ"
	keyPlayerControl     = "c"
	keyClientMode        = "clientMode"
	keyPrepareToPlay     = "prepareToPlay"
	keyKillAlert         = "killAlert"
	keyPrepareToGo       = "prepareToGo"
	keyGameEvents        = "e"
	keySrvCmd            = "srvCmd"
	keySrvCmdAsw         = "srvCmdAsw"
)

// Mode distinguishes spectating ghosts from simulated players.
type Mode int

const (
	// ModeGhost clients replay their own runs and watch others.
	ModeGhost Mode = 0
	// ModeSlave clients are simulated server-side in the active round.
	ModeSlave Mode = 1
)

// ControlKind identifies one driving input channel.
type ControlKind int

const (
	ControlBrake     ControlKind = 0
	ControlThrottle  ControlKind = 1
	ControlPull      ControlKind = 2
	ControlChangeDir ControlKind = 3
)

func controlValid(c ControlKind) bool {
	return c >= ControlBrake && c <= ControlChangeDir
}

// ChatMessage is a public chat line shown to every other client.
type ChatMessage struct {
	Message string
}

func (a ChatMessage) Key() string { return keyChatMessage }

func (a ChatMessage) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, a.Message...), nil
}

// ChatMessagePP is a private chat line delivered only to the listed
// recipient client ids.
type ChatMessagePP struct {
	Recipients []int
	Message    string
}

func (a ChatMessagePP) Key() string { return keyChatMessagePP }

func (a ChatMessagePP) appendPayload(dst []byte) ([]byte, error) {
	//1.- Recipient count, then one id per line, then the free-form text.
	dst = strconv.AppendInt(dst, int64(len(a.Recipients)), 10)
	dst = append(dst, '\n')
	for _, id := range a.Recipients {
		dst = strconv.AppendInt(dst, int64(id), 10)
		dst = append(dst, '\n')
	}
	return append(dst, a.Message...), nil
}

// BikeFrame carries one compact per-tick bike state snapshot.
type BikeFrame struct {
	State BikeState
}

func (a BikeFrame) Key() string { return keyBikeFrame }

func (a BikeFrame) appendPayload(dst []byte) ([]byte, error) {
	return a.State.append(dst), nil
}

// ClientInfos is the first frame of a session: negotiated protocol version,
// the key the client will echo over UDP to bind its datagram address, and
// (protocol >= 2) the client's software version string.
type ClientInfos struct {
	ProtocolVersion int
	UDPBindKey      string
	ClientVersion   string
}

func (a ClientInfos) Key() string { return keyClientInfos }

func (a ClientInfos) appendPayload(dst []byte) ([]byte, error) {
	dst = strconv.AppendInt(dst, int64(a.ProtocolVersion), 10)
	dst = append(dst, '\n')
	dst = append(dst, a.UDPBindKey...)
	dst = append(dst, '\n')
	return append(dst, a.ClientVersion...), nil
}

// UDPBind is sent over UDP so the server can associate the datagram source
// address with the session that announced this key.
type UDPBind struct {
	BindKey string
}

func (a UDPBind) Key() string { return keyUDPBind }

func (a UDPBind) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, a.BindKey...), nil
}

// UDPBindQuery asks the client, over TCP, to send its UDPBind datagram.
type UDPBindQuery struct{}

func (a UDPBindQuery) Key() string { return keyUDPBindQuery }

func (a UDPBindQuery) appendPayload(dst []byte) ([]byte, error) { return dst, nil }

// UDPBindValidation confirms one direction of the datagram path.
type UDPBindValidation struct{}

func (a UDPBindValidation) Key() string { return keyUDPBindValidation }

func (a UDPBindValidation) appendPayload(dst []byte) ([]byte, error) { return dst, nil }

// ChangeName announces the sender's display name.
type ChangeName struct {
	Name string
}

func (a ChangeName) Key() string { return keyChangeName }

func (a ChangeName) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, a.Name...), nil
}

// PlayingLevel announces which level the sender is currently playing.
type PlayingLevel struct {
	LevelID string
}

func (a PlayingLevel) Key() string { return keyPlayingLevel }

func (a PlayingLevel) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, a.LevelID...), nil
}

// ServerError carries a human-readable rejection or failure reason that thin
// clients display verbatim.
type ServerError struct {
	Message string
}

func (a ServerError) Key() string { return keyServerError }

func (a ServerError) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, a.Message...), nil
}

// ClientEntry names one client in a ChangeClients delta.
type ClientEntry struct {
	ID   int
	Name string
}

// ChangeClients is a delta of the connected client list: additions carry the
// id and name, removals carry the id only.
type ChangeClients struct {
	Added   []ClientEntry
	Removed []int
}

func (a ChangeClients) Key() string { return keyChangeClients }

func (a ChangeClients) appendPayload(dst []byte) ([]byte, error) {
	//1.- Each addition is a "+" line, the id and the name.
	for _, entry := range a.Added {
		dst = append(dst, '+', '\n')
		dst = strconv.AppendInt(dst, int64(entry.ID), 10)
		dst = append(dst, '\n')
		dst = append(dst, entry.Name...)
		dst = append(dst, '\n')
	}
	//2.- Each removal is a "-" line and the id.
	for _, id := range a.Removed {
		dst = append(dst, '-', '\n')
		dst = strconv.AppendInt(dst, int64(id), 10)
		dst = append(dst, '\n')
	}
	//3.- The frame terminator doubles as the last entry's newline.
	if len(a.Added) > 0 || len(a.Removed) > 0 {
		dst = dst[:len(dst)-1]
	}
	return dst, nil
}

// PointsEntry is one client's score in a points table.
type PointsEntry struct {
	ID     int
	Points int
}

// ClientsPoints broadcasts the per-client score table to slave sessions.
type ClientsPoints struct {
	Entries []PointsEntry
}

func (a ClientsPoints) Key() string { return keyClientsPoints }

func (a ClientsPoints) appendPayload(dst []byte) ([]byte, error) {
	for _, entry := range a.Entries {
		dst = strconv.AppendInt(dst, int64(entry.ID), 10)
		dst = append(dst, '\n')
		dst = strconv.AppendInt(dst, int64(entry.Points), 10)
		dst = append(dst, '\n')
	}
	if len(a.Entries) > 0 {
		dst = dst[:len(dst)-1]
	}
	return dst, nil
}

// ClientsNumber answers a ClientsNumberQuery with the named-session count.
type ClientsNumber struct {
	Number int
}

func (a ClientsNumber) Key() string { return keyClientsNumber }

func (a ClientsNumber) appendPayload(dst []byte) ([]byte, error) {
	dst = strconv.AppendInt(dst, int64(a.Number), 10)
	return append(dst, '\n'), nil
}

// ClientsNumberQuery asks how many named clients are connected.
type ClientsNumberQuery struct{}

func (a ClientsNumberQuery) Key() string { return keyClientsNumberQ }

func (a ClientsNumberQuery) appendPayload(dst []byte) ([]byte, error) { return dst, nil }

// PlayerControl applies one driving input to the sender's seat. The value is
// a little-endian float32 in [-1, 1]; boolean controls encode as +-0.5.
type PlayerControl struct {
	Control ControlKind
	Value   float32
}

func (a PlayerControl) Key() string { return keyPlayerControl }

func (a PlayerControl) appendPayload(dst []byte) ([]byte, error) {
	if !controlValid(a.Control) {
		return nil, fmt.Errorf("%w: control %d", ErrMalformedFrame, a.Control)
	}
	dst = strconv.AppendInt(dst, int64(a.Control), 10)
	dst = append(dst, '\n')
	var raw [4]byte
	binary.LittleEndian.PutUint32(raw[:], math.Float32bits(a.Value))
	return append(dst, raw[:]...), nil
}

// SetClientMode declares the sender's play mode for upcoming rounds.
type SetClientMode struct {
	Mode Mode
}

func (a SetClientMode) Key() string { return keyClientMode }

func (a SetClientMode) appendPayload(dst []byte) ([]byte, error) {
	return strconv.AppendInt(dst, int64(a.Mode), 10), nil
}

// PrepareToPlay tells marked-to-play clients which level the round uses and
// which client ids participate.
type PrepareToPlay struct {
	LevelID string
	Players []int
}

func (a PrepareToPlay) Key() string { return keyPrepareToPlay }

func (a PrepareToPlay) appendPayload(dst []byte) ([]byte, error) {
	dst = append(dst, a.LevelID...)
	dst = append(dst, '\n')
	dst = strconv.AppendInt(dst, int64(len(a.Players)), 10)
	dst = append(dst, '\n')
	for _, id := range a.Players {
		dst = strconv.AppendInt(dst, int64(id), 10)
		dst = append(dst, '\n')
	}
	return dst, nil
}

// KillAlert warns a seat it will be killed for inactivity in Seconds.
type KillAlert struct {
	Seconds int
}

func (a KillAlert) Key() string { return keyKillAlert }

func (a KillAlert) appendPayload(dst []byte) ([]byte, error) {
	return strconv.AppendInt(dst, int64(a.Seconds), 10), nil
}

// PrepareToGo counts down to the start of physics ticking; zero means go.
type PrepareToGo struct {
	Seconds int
}

func (a PrepareToGo) Key() string { return keyPrepareToGo }

func (a PrepareToGo) appendPayload(dst []byte) ([]byte, error) {
	return strconv.AppendInt(dst, int64(a.Seconds), 10), nil
}

// GameEvents carries one batched, opaque buffer of simulation events.
type GameEvents struct {
	Buffer []byte
}

func (a GameEvents) Key() string { return keyGameEvents }

func (a GameEvents) appendPayload(dst []byte) ([]byte, error) {
	if len(a.Buffer) > MaxEventsPayload {
		return nil, fmt.Errorf("%w: events buffer %d bytes", ErrOversizedFrame, len(a.Buffer))
	}
	return append(dst, a.Buffer...), nil
}

// SrvCmd is one admin console command line.
type SrvCmd struct {
	Command string
}

func (a SrvCmd) Key() string { return keySrvCmd }

func (a SrvCmd) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, a.Command...), nil
}

// SrvCmdAsw is the single text answer to one admin console command.
type SrvCmdAsw struct {
	Answer string
}

func (a SrvCmdAsw) Key() string { return keySrvCmdAsw }

func (a SrvCmdAsw) appendPayload(dst []byte) ([]byte, error) {
	return append(dst, a.Answer...), nil
}

func validUTF8(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: invalid utf-8 text", ErrMalformedFrame)
	}
	return string(raw), nil
}
