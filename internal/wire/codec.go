package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Encode serializes one envelope into a complete frame, length prefix
// included. The frame layout is:
//
//	<total>\n<source>\n<subsource>\n<key>\n<payload>\n
//
// where <total> counts every byte after its own terminating newline.
func Encode(env Envelope) ([]byte, error) {
	//1.- Routing header values outside the protocol range never leave the process.
	if env.Source < SourceServer {
		return nil, fmt.Errorf("%w: source %d", ErrMalformedFrame, env.Source)
	}
	if env.SubSource < 0 || env.SubSource >= MaxSubSource {
		return nil, fmt.Errorf("%w: subsource %d", ErrMalformedFrame, env.SubSource)
	}
	if env.Action == nil {
		return nil, fmt.Errorf("%w: nil action", ErrMalformedFrame)
	}

	//2.- Build the sub-header and payload first so the prefix can count them.
	body := strconv.AppendInt(nil, int64(env.Source), 10)
	body = append(body, '\n')
	body = strconv.AppendInt(body, int64(env.SubSource), 10)
	body = append(body, '\n')
	body = append(body, env.Action.Key()...)
	body = append(body, '\n')
	body, err := env.Action.appendPayload(body)
	if err != nil {
		return nil, err
	}
	body = append(body, '\n')

	//3.- Prefix with the decimal byte count and refuse frames over the cap.
	prefix := strconv.AppendInt(nil, int64(len(body)), 10)
	if len(prefix) > MaxSizeDigits || len(prefix)+1+len(body) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrOversizedFrame, len(prefix)+1+len(body))
	}
	packet := make([]byte, 0, len(prefix)+1+len(body))
	packet = append(packet, prefix...)
	packet = append(packet, '\n')
	return append(packet, body...), nil
}

// Decode parses one frame body (everything after the length prefix) into an
// envelope. The body must end with the frame-terminating newline.
func Decode(body []byte) (Envelope, error) {
	if len(body) == 0 || body[len(body)-1] != '\n' {
		return Envelope{}, fmt.Errorf("%w: missing frame terminator", ErrMalformedFrame)
	}

	s := &lineScanner{data: body}
	source, err := parseIntLine(s)
	if err != nil {
		return Envelope{}, err
	}
	subSource, err := parseIntLine(s)
	if err != nil {
		return Envelope{}, err
	}
	//1.- Seats are 0..3; only the server sentinel may go below zero.
	if source < SourceServer || subSource < 0 || subSource >= MaxSubSource {
		return Envelope{}, fmt.Errorf("%w: routing %d/%d", ErrMalformedFrame, source, subSource)
	}

	key, err := s.next()
	if err != nil {
		return Envelope{}, err
	}
	action, err := decodePayload(string(key), s.rest())
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Source: source, SubSource: subSource, Action: action}, nil
}

// DecodePacket parses a standalone datagram: length prefix plus frame body.
// Trailing bytes beyond the declared length are ignored.
func DecodePacket(packet []byte) (Envelope, error) {
	total, consumed, err := parsePrefix(packet)
	if err != nil {
		return Envelope{}, err
	}
	if total > len(packet)-consumed {
		return Envelope{}, fmt.Errorf("%w: declared %d bytes, got %d", ErrMalformedFrame, total, len(packet)-consumed)
	}
	return Decode(packet[consumed : consumed+total])
}

// parsePrefix reads the decimal length prefix and its newline, returning the
// declared body length and the bytes consumed.
func parsePrefix(data []byte) (int, int, error) {
	total := 0
	for i := 0; i < len(data); i++ {
		c := data[i]
		if c == '\n' {
			if i == 0 || total == 0 {
				return 0, 0, fmt.Errorf("%w: empty length prefix", ErrMalformedFrame)
			}
			return total, i + 1, nil
		}
		if c < '0' || c > '9' || i >= MaxSizeDigits {
			return 0, 0, fmt.Errorf("%w: bad length prefix", ErrMalformedFrame)
		}
		total = total*10 + int(c-'0')
	}
	return 0, 0, fmt.Errorf("%w: unterminated length prefix", ErrMalformedFrame)
}

// decodePayload dispatches on the action key. The payload slice includes the
// frame-terminating newline, so every kind can treat it as its last token's
// terminator.
func decodePayload(key string, payload []byte) (Action, error) {
	if len(payload) == 0 || payload[len(payload)-1] != '\n' {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	switch key {
	case keyChatMessage:
		text, err := validUTF8(payload[:len(payload)-1])
		if err != nil {
			return nil, err
		}
		return ChatMessage{Message: text}, nil
	case keyChatMessagePP:
		return decodeChatMessagePP(payload)
	case keyBikeFrame:
		return decodeBikeFrame(payload)
	case keyClientInfos:
		return decodeClientInfos(payload)
	case keyUDPBind:
		s := &lineScanner{data: payload}
		bindKey, err := s.next()
		if err != nil {
			return nil, err
		}
		return UDPBind{BindKey: string(bindKey)}, nil
	case keyUDPBindQuery:
		return UDPBindQuery{}, nil
	case keyUDPBindValidation:
		return UDPBindValidation{}, nil
	case keyChangeName:
		name, err := firstLineUTF8(payload)
		if err != nil {
			return nil, err
		}
		return ChangeName{Name: name}, nil
	case keyPlayingLevel:
		levelID, err := firstLineUTF8(payload)
		if err != nil {
			return nil, err
		}
		return PlayingLevel{LevelID: levelID}, nil
	case keyServerError:
		text, err := validUTF8(payload[:len(payload)-1])
		if err != nil {
			return nil, err
		}
		return ServerError{Message: text}, nil
	case keyChangeClients:
		return decodeChangeClients(payload)
	case keyClientsPoints:
		return decodeClientsPoints(payload)
	case keyClientsNumber:
		s := &lineScanner{data: payload}
		number, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		return ClientsNumber{Number: number}, nil
	case keyClientsNumberQ:
		return ClientsNumberQuery{}, nil
	case keyPlayerControl:
		return decodePlayerControl(payload)
	case keyClientMode:
		s := &lineScanner{data: payload}
		mode, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		return SetClientMode{Mode: Mode(mode)}, nil
	case keyPrepareToPlay:
		return decodePrepareToPlay(payload)
	case keyKillAlert:
		s := &lineScanner{data: payload}
		seconds, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		return KillAlert{Seconds: seconds}, nil
	case keyPrepareToGo:
		s := &lineScanner{data: payload}
		seconds, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		return PrepareToGo{Seconds: seconds}, nil
	case keyGameEvents:
		if len(payload)-1 > MaxEventsPayload {
			return nil, fmt.Errorf("%w: events buffer %d bytes", ErrOversizedFrame, len(payload)-1)
		}
		buffer := make([]byte, len(payload)-1)
		copy(buffer, payload[:len(payload)-1])
		return GameEvents{Buffer: buffer}, nil
	case keySrvCmd:
		text, err := validUTF8(payload[:len(payload)-1])
		if err != nil {
			return nil, err
		}
		return SrvCmd{Command: text}, nil
	case keySrvCmdAsw:
		text, err := validUTF8(payload[:len(payload)-1])
		if err != nil {
			return nil, err
		}
		return SrvCmdAsw{Answer: text}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, key)
	}
}

func decodeChatMessagePP(payload []byte) (Action, error) {
	s := &lineScanner{data: payload}
	count, err := parseIntLine(s)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: bad recipient count", ErrMalformedFrame)
	}
	var recipients []int
	for i := 0; i < count; i++ {
		id, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, id)
	}
	var message string
	//1.- The remainder, minus the frame terminator, is the free-form text.
	if s.off < len(payload)-1 {
		message, err = validUTF8(payload[s.off : len(payload)-1])
		if err != nil {
			return nil, err
		}
	}
	return ChatMessagePP{Recipients: recipients, Message: message}, nil
}

func decodeBikeFrame(payload []byte) (Action, error) {
	if len(payload)-1 != BikeStateSize {
		return nil, fmt.Errorf("%w: bike state %d bytes", ErrMalformedFrame, len(payload)-1)
	}
	var state BikeState
	state.read(payload[:BikeStateSize])
	return BikeFrame{State: state}, nil
}

func decodeClientInfos(payload []byte) (Action, error) {
	s := &lineScanner{data: payload}
	version, err := parseIntLine(s)
	if err != nil {
		return nil, err
	}
	bindKey, err := s.next()
	if err != nil {
		return nil, err
	}
	infos := ClientInfos{ProtocolVersion: version, UDPBindKey: string(bindKey)}
	//1.- The client version string only exists since protocol 2.
	if version >= 2 {
		raw, err := s.next()
		if err != nil {
			return nil, err
		}
		infos.ClientVersion, err = validUTF8(raw)
		if err != nil {
			return nil, err
		}
	}
	return infos, nil
}

func decodeChangeClients(payload []byte) (Action, error) {
	action := ChangeClients{}
	//1.- A bare terminator means an empty delta.
	if len(payload) == 1 {
		return action, nil
	}
	s := &lineScanner{data: payload}
	for !s.done() {
		symbol, err := s.next()
		if err != nil {
			return nil, err
		}
		id, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		switch string(symbol) {
		case "+":
			raw, err := s.next()
			if err != nil {
				return nil, err
			}
			name, err := validUTF8(raw)
			if err != nil {
				return nil, err
			}
			action.Added = append(action.Added, ClientEntry{ID: id, Name: name})
		case "-":
			action.Removed = append(action.Removed, id)
		default:
			return nil, fmt.Errorf("%w: delta symbol %q", ErrMalformedFrame, symbol)
		}
	}
	return action, nil
}

func decodeClientsPoints(payload []byte) (Action, error) {
	action := ClientsPoints{}
	if len(payload) == 1 {
		return action, nil
	}
	s := &lineScanner{data: payload}
	for !s.done() {
		id, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		points, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		action.Entries = append(action.Entries, PointsEntry{ID: id, Points: points})
	}
	return action, nil
}

func decodePlayerControl(payload []byte) (Action, error) {
	s := &lineScanner{data: payload}
	kind, err := parseIntLine(s)
	if err != nil {
		return nil, err
	}
	control := ControlKind(kind)
	if !controlValid(control) {
		return nil, fmt.Errorf("%w: control %d", ErrMalformedFrame, kind)
	}
	raw := s.rest()
	if len(raw) != 5 {
		return nil, fmt.Errorf("%w: control value %d bytes", ErrMalformedFrame, len(raw)-1)
	}
	value := math.Float32frombits(binary.LittleEndian.Uint32(raw[:4]))
	//1.- Clamp rather than reject; float noise must not drop the client.
	if value < -1 {
		value = -1
	}
	if value > 1 {
		value = 1
	}
	return PlayerControl{Control: control, Value: value}, nil
}

func decodePrepareToPlay(payload []byte) (Action, error) {
	s := &lineScanner{data: payload}
	levelID, err := firstLineUTF8(payload)
	if err != nil {
		return nil, err
	}
	if _, err := s.next(); err != nil {
		return nil, err
	}
	count, err := parseIntLine(s)
	if err != nil || count < 0 {
		return nil, fmt.Errorf("%w: bad player count", ErrMalformedFrame)
	}
	var players []int
	for i := 0; i < count; i++ {
		id, err := parseIntLine(s)
		if err != nil {
			return nil, err
		}
		players = append(players, id)
	}
	return PrepareToPlay{LevelID: levelID, Players: players}, nil
}

func parseIntLine(s *lineScanner) (int, error) {
	line, err := s.next()
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(string(line))
	if err != nil {
		return 0, fmt.Errorf("%w: expected integer, got %q", ErrMalformedFrame, line)
	}
	return value, nil
}

func firstLineUTF8(payload []byte) (string, error) {
	s := &lineScanner{data: payload}
	raw, err := s.next()
	if err != nil {
		return "", err
	}
	return validUTF8(raw)
}
