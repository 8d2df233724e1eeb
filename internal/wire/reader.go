package wire

import (
	"fmt"
)

// FrameReader reassembles frames from a TCP byte stream. A frame may arrive
// split across any number of reads, and one read may carry several frames;
// the reader buffers partial input until a complete frame is available.
type FrameReader struct {
	buf []byte
}

// NewFrameReader returns an empty stream reassembler.
func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed appends newly received bytes and returns every complete envelope now
// available. A non-nil error is a protocol violation; the stream cannot be
// resynchronized and the caller must drop the connection. Envelopes decoded
// before the violation are still returned.
func (r *FrameReader) Feed(data []byte) ([]Envelope, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", ErrMalformedFrame)
	}
	r.buf = append(r.buf, data...)

	var out []Envelope
	for {
		//1.- Parse the decimal length prefix, waiting for more bytes if it is
		// still incomplete.
		total, consumed, complete, err := r.scanPrefix()
		if err != nil {
			return out, err
		}
		if !complete {
			return out, nil
		}
		//2.- Reject frames that can never fit before buffering their body.
		if consumed+total > MaxPacketSize {
			return out, fmt.Errorf("%w: %d bytes", ErrOversizedFrame, consumed+total)
		}
		if len(r.buf)-consumed < total {
			return out, nil
		}
		//3.- Decode the complete body and drop it from the buffer.
		env, err := Decode(r.buf[consumed : consumed+total])
		r.buf = append(r.buf[:0], r.buf[consumed+total:]...)
		if err != nil {
			return out, err
		}
		out = append(out, env)
	}
}

// Buffered returns the number of bytes held for a not-yet-complete frame.
func (r *FrameReader) Buffered() int {
	if r == nil {
		return 0
	}
	return len(r.buf)
}

// scanPrefix inspects the buffered length prefix without consuming it.
func (r *FrameReader) scanPrefix() (total, consumed int, complete bool, err error) {
	for i := 0; i < len(r.buf); i++ {
		c := r.buf[i]
		if c == '\n' {
			if i == 0 || total == 0 {
				return 0, 0, false, fmt.Errorf("%w: empty length prefix", ErrMalformedFrame)
			}
			return total, i + 1, true, nil
		}
		if c < '0' || c > '9' || i >= MaxSizeDigits {
			return 0, 0, false, fmt.Errorf("%w: bad length prefix", ErrMalformedFrame)
		}
		total = total*10 + int(c-'0')
	}
	return 0, 0, false, nil
}
