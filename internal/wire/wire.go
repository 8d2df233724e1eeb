// Package wire implements the newline-delimited, length-prefixed frame
// protocol spoken by game clients over both TCP and UDP. Every frame carries
// a routing header (source client id, sub-source seat) followed by an action
// key and a per-kind payload; the codec converts between those bytes and the
// typed Action catalog.
package wire

import (
	"errors"
)

const (
	// MaxPacketSize bounds one encoded frame, header included.
	MaxPacketSize = 2048
	// MaxSizeDigits limits the decimal length prefix of a frame.
	MaxSizeDigits = 6
	// MaxSubSource is the exclusive upper bound on seat indices; seats are
	// 0..3, at most four players per client.
	MaxSubSource = 4
	// SourceServer is the source id used for frames originating from the
	// server itself or from a not-yet-identified client.
	SourceServer = -1
	// MaxEventsPayload bounds the batched game-events binary buffer.
	MaxEventsPayload = 1024
)

var (
	// ErrMalformedFrame reports bytes that do not parse as a frame.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrOversizedFrame reports a frame that would exceed MaxPacketSize.
	ErrOversizedFrame = errors.New("oversized frame")
	// ErrUnknownAction reports an action key absent from the catalog.
	ErrUnknownAction = errors.New("unknown action key")
)

// Envelope pairs a decoded action with its routing header.
type Envelope struct {
	// Source is the sender's client id, or SourceServer for frames sent by
	// the server or by a client before identification.
	Source int
	// SubSource is the seat index within the sender's client, 0..3.
	SubSource int
	Action    Action
}

// Action is one typed protocol message. Concrete kinds live in actions.go;
// the set is closed, decode rejects keys outside it.
type Action interface {
	// Key returns the ASCII token identifying the kind on the wire.
	Key() string
	// appendPayload appends the kind-specific payload bytes, excluding the
	// frame-terminating newline added by Encode.
	appendPayload(dst []byte) ([]byte, error)
}

// lineScanner walks newline-terminated ASCII tokens inside a payload.
type lineScanner struct {
	data []byte
	off  int
}

// next consumes one token up to and including its '\n'.
func (s *lineScanner) next() ([]byte, error) {
	//1.- Refuse to read past the end of the payload.
	if s.off >= len(s.data) {
		return nil, ErrMalformedFrame
	}
	//2.- Scan for the line terminator; a token without one is a truncated frame.
	for i := s.off; i < len(s.data); i++ {
		if s.data[i] == '\n' {
			line := s.data[s.off:i]
			s.off = i + 1
			return line, nil
		}
	}
	return nil, ErrMalformedFrame
}

// rest returns the unconsumed remainder of the payload.
func (s *lineScanner) rest() []byte {
	return s.data[s.off:]
}

// done reports whether every payload byte has been consumed.
func (s *lineScanner) done() bool {
	return s.off >= len(s.data)
}
