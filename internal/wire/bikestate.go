package wire

import (
	"encoding/binary"
	"math"
)

// BikeStateSize is the fixed length of one serialized bike snapshot.
const BikeStateSize = 24

// Bike state flag bits.
const (
	// BikeFlagDead marks a crashed seat.
	BikeFlagDead = 1 << 0
	// BikeFlagFinished marks a seat that crossed the finish line.
	BikeFlagFinished = 1 << 1
	// BikeFlagFacingLeft marks the bike's driving direction.
	BikeFlagFacingLeft = 1 << 2
)

// BikeState is the compact per-tick snapshot of one seat, serialized as a
// fixed little-endian blob: flags byte, game time in hundredths of a second,
// position, velocity, frame angle in centiradians and rear wheel spin.
type BikeState struct {
	Flags uint8
	Time  uint32
	PosX  float32
	PosY  float32
	VelX  float32
	VelY  float32
	Angle int16
	Spin  int8
}

// Dead reports whether the snapshot marks a crashed seat.
func (s BikeState) Dead() bool { return s.Flags&BikeFlagDead != 0 }

// Finished reports whether the snapshot marks a finished seat.
func (s BikeState) Finished() bool { return s.Flags&BikeFlagFinished != 0 }

func (s BikeState) append(dst []byte) []byte {
	var raw [BikeStateSize]byte
	raw[0] = s.Flags
	binary.LittleEndian.PutUint32(raw[1:5], s.Time)
	binary.LittleEndian.PutUint32(raw[5:9], math.Float32bits(s.PosX))
	binary.LittleEndian.PutUint32(raw[9:13], math.Float32bits(s.PosY))
	binary.LittleEndian.PutUint32(raw[13:17], math.Float32bits(s.VelX))
	binary.LittleEndian.PutUint32(raw[17:21], math.Float32bits(s.VelY))
	binary.LittleEndian.PutUint16(raw[21:23], uint16(s.Angle))
	raw[23] = byte(s.Spin)
	return append(dst, raw[:]...)
}

func (s *BikeState) read(raw []byte) {
	s.Flags = raw[0]
	s.Time = binary.LittleEndian.Uint32(raw[1:5])
	s.PosX = math.Float32frombits(binary.LittleEndian.Uint32(raw[5:9]))
	s.PosY = math.Float32frombits(binary.LittleEndian.Uint32(raw[9:13]))
	s.VelX = math.Float32frombits(binary.LittleEndian.Uint32(raw[13:17]))
	s.VelY = math.Float32frombits(binary.LittleEndian.Uint32(raw[17:21]))
	s.Angle = int16(binary.LittleEndian.Uint16(raw[21:23]))
	s.Spin = int8(raw[23])
}
