package wire

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func roundTripActions() []Action {
	return []Action{
		ChatMessage{Message: "hello riders"},
		ChatMessage{Message: ""},
		ChatMessagePP{Recipients: []int{4, 9}, Message: "psst"},
		ChatMessagePP{Message: ""},
		BikeFrame{State: BikeState{
			Flags: BikeFlagFacingLeft,
			Time:  123456,
			PosX:  12.5, PosY: -3.25,
			VelX: 0.125, VelY: -42,
			Angle: -314,
			Spin:  -7,
		}},
		ClientInfos{ProtocolVersion: 3, UDPBindKey: "k-9f2c", ClientVersion: "0.5.12"},
		ClientInfos{ProtocolVersion: 1, UDPBindKey: "old"},
		UDPBind{BindKey: "k-9f2c"},
		UDPBindQuery{},
		UDPBindValidation{},
		ChangeName{Name: strings.Repeat("n", 32)},
		PlayingLevel{LevelID: "lvl_hills_03"},
		ServerError{Message: "too many clients"},
		ChangeClients{
			Added:   []ClientEntry{{ID: 2, Name: "ana"}, {ID: 7, Name: "béa"}},
			Removed: []int{5},
		},
		ChangeClients{},
		ClientsPoints{Entries: []PointsEntry{{ID: 2, Points: 10}, {ID: 7, Points: -1}}},
		ClientsPoints{},
		ClientsNumber{Number: 17},
		ClientsNumberQuery{},
		PlayerControl{Control: ControlThrottle, Value: 0.75},
		PlayerControl{Control: ControlChangeDir, Value: -0.5},
		SetClientMode{Mode: ModeSlave},
		PrepareToPlay{LevelID: "lvl_hills_03", Players: []int{1, 2, 3}},
		PrepareToPlay{LevelID: "solo"},
		KillAlert{Seconds: 3},
		PrepareToGo{Seconds: 0},
		GameEvents{Buffer: []byte{0x01, 0x00, 0xff, 0x0a, 0x42}},
		SrvCmd{Command: "ban 7 ip 1"},
		SrvCmdAsw{Answer: "done"},
	}
}

func TestRoundTripAllKinds(t *testing.T) {
	for _, action := range roundTripActions() {
		env := Envelope{Source: 12, SubSource: 1, Action: action}
		packet, err := Encode(env)
		if err != nil {
			t.Fatalf("%s: encode: %v", action.Key(), err)
		}
		decoded, err := DecodePacket(packet)
		if err != nil {
			t.Fatalf("%s: decode: %v", action.Key(), err)
		}
		if decoded.Source != 12 || decoded.SubSource != 1 {
			t.Fatalf("%s: routing not preserved: %+v", action.Key(), decoded)
		}
		if !reflect.DeepEqual(decoded.Action, action) {
			t.Fatalf("%s: round trip mismatch:\n got %#v\nwant %#v", action.Key(), decoded.Action, action)
		}
	}
}

func TestEncodeServerSentinelSource(t *testing.T) {
	packet, err := Encode(Envelope{Source: SourceServer, SubSource: 0, Action: UDPBindQuery{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := DecodePacket(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Source != SourceServer {
		t.Fatalf("sentinel source not preserved, got %d", env.Source)
	}
}

func TestEncodeRejectsBadRouting(t *testing.T) {
	cases := []Envelope{
		{Source: -2, SubSource: 0, Action: ChatMessage{}},
		{Source: 0, SubSource: -1, Action: ChatMessage{}},
		{Source: 0, SubSource: MaxSubSource, Action: ChatMessage{}},
		{Source: 0, SubSource: 0},
	}
	for _, env := range cases {
		if _, err := Encode(env); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("expected ErrMalformedFrame for %+v, got %v", env, err)
		}
	}
}

func TestEncodeRejectsOversizedFrame(t *testing.T) {
	env := Envelope{Source: 0, SubSource: 0, Action: ChatMessage{Message: strings.Repeat("x", MaxPacketSize)}}
	if _, err := Encode(env); !errors.Is(err, ErrOversizedFrame) {
		t.Fatalf("expected ErrOversizedFrame, got %v", err)
	}
}

func TestDecodeRejectsUnknownKey(t *testing.T) {
	body := []byte("0\n0\nteleport\nnow\n")
	if _, err := Decode(body); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
}

func TestDecodeRejectsBadSubSource(t *testing.T) {
	for _, sub := range []string{"-1", "4", "99"} {
		body := []byte("0\n" + sub + "\nudpbindingQuery\n\n")
		if _, err := Decode(body); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("subsource %s: expected ErrMalformedFrame, got %v", sub, err)
		}
	}
}

func TestDecodeRejectsInvalidUTF8(t *testing.T) {
	body := []byte("4\n0\nmessage\n\xff\xfe\n")
	if _, err := Decode(body); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeRejectsTruncatedBikeFrame(t *testing.T) {
	payload := append(bytes.Repeat([]byte{0}, BikeStateSize-3), '\n')
	body := append([]byte("5\n0\nf\n"), payload...)
	if _, err := Decode(body); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodePlayerControlClampsValue(t *testing.T) {
	packet, err := Encode(Envelope{Source: 3, SubSource: 0, Action: PlayerControl{Control: ControlBrake, Value: 1}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Overwrite the float bytes with an out-of-range value.
	idx := bytes.Index(packet, []byte("c\n")) + 2
	copy(packet[idx+2:idx+6], []byte{0x00, 0x00, 0x40, 0x40}) // 3.0
	env, err := DecodePacket(packet)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	control := env.Action.(PlayerControl)
	if control.Value != 1 {
		t.Fatalf("expected clamp to 1, got %v", control.Value)
	}
}

func TestDecodePacketRejectsShortDatagram(t *testing.T) {
	packet, err := Encode(Envelope{Source: 1, SubSource: 0, Action: UDPBind{BindKey: "k"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodePacket(packet[:len(packet)-2]); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}
