package wire

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func TestFrameReaderSplitAtEveryOffset(t *testing.T) {
	env := Envelope{Source: 8, SubSource: 2, Action: ChatMessage{Message: "split me carefully"}}
	packet, err := Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for cut := 1; cut < len(packet); cut++ {
		reader := NewFrameReader()
		first, err := reader.Feed(packet[:cut])
		if err != nil {
			t.Fatalf("cut %d: first feed: %v", cut, err)
		}
		second, err := reader.Feed(packet[cut:])
		if err != nil {
			t.Fatalf("cut %d: second feed: %v", cut, err)
		}
		got := append(first, second...)
		if len(got) != 1 {
			t.Fatalf("cut %d: expected one envelope, got %d", cut, len(got))
		}
		if !reflect.DeepEqual(got[0], env) {
			t.Fatalf("cut %d: mismatch: %#v", cut, got[0])
		}
	}
}

func TestFrameReaderMultipleFramesInOneRead(t *testing.T) {
	var stream []byte
	var want []Envelope
	for i := 0; i < 5; i++ {
		env := Envelope{Source: i, SubSource: 0, Action: ChatMessage{Message: fmt.Sprintf("msg %d", i)}}
		packet, err := Encode(env)
		if err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
		stream = append(stream, packet...)
		want = append(want, env)
	}
	got, err := NewFrameReader().Feed(stream)
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("mismatch:\n got %#v\nwant %#v", got, want)
	}
}

func TestFrameReaderRejectsNonNumericPrefix(t *testing.T) {
	if _, err := NewFrameReader().Feed([]byte("abc\n")); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFrameReaderRejectsZeroLengthFrame(t *testing.T) {
	if _, err := NewFrameReader().Feed([]byte("0\n")); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFrameReaderRejectsOversizedDeclaration(t *testing.T) {
	if _, err := NewFrameReader().Feed([]byte("999999\n")); !errors.Is(err, ErrOversizedFrame) {
		t.Fatalf("expected ErrOversizedFrame, got %v", err)
	}
}

func TestFrameReaderRejectsOverlongPrefix(t *testing.T) {
	if _, err := NewFrameReader().Feed([]byte(strings.Repeat("1", MaxSizeDigits+1))); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestFrameReaderSurvivesErrorMidStream(t *testing.T) {
	good, err := Encode(Envelope{Source: 1, SubSource: 0, Action: ChatMessage{Message: "ok"}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	bad := []byte("19\n1\n0\nteleport\nnow!!\n")
	reader := NewFrameReader()
	got, err := reader.Feed(append(append([]byte{}, good...), bad...))
	if !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("expected ErrUnknownAction, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the good frame before the violation, got %d", len(got))
	}
}
