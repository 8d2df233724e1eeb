package sim

import (
	"errors"
	"fmt"
	"math"
	"time"

	"hillpursuit/server/internal/wire"
)

// ErrNoSuchSeat is returned for seat indices outside the scene.
var ErrNoSuchSeat = errors.New("no such seat")

// Seat is one simulated biker slot within a scene.
type Seat struct {
	Index int

	dead     bool
	finished bool

	posX, posY float64
	velX, velY float64
	angle      float64
	facingLeft bool

	throttle float64
	brake    float64
	pull     float64

	// turns counts full frame rotations since the last somersault event.
	turns float64
}

// ApplyControl stores one driving input channel on the seat's controller.
func (s *Seat) ApplyControl(kind wire.ControlKind, value float32) {
	if s == nil {
		return
	}
	switch kind {
	case wire.ControlThrottle:
		s.throttle = float64(value)
	case wire.ControlBrake:
		s.brake = float64(value)
	case wire.ControlPull:
		s.pull = float64(value)
	case wire.ControlChangeDir:
		s.facingLeft = value > 0
	}
}

// Driving reports whether the controller currently holds any active input.
func (s *Seat) Driving() bool {
	if s == nil {
		return false
	}
	return s.throttle != 0 || s.brake != 0 || s.pull != 0
}

// Alive reports whether the seat is neither dead nor finished.
func (s *Seat) Alive() bool {
	return s != nil && !s.dead && !s.finished
}

// Dead reports whether the seat crashed.
func (s *Seat) Dead() bool { return s != nil && s.dead }

// Finished reports whether the seat crossed the finish line.
func (s *Seat) Finished() bool { return s != nil && s.finished }

// Kill crashes the seat. Killing an already-dead or finished seat is a no-op.
func (s *Seat) Kill() bool {
	if s == nil || s.dead || s.finished {
		return false
	}
	s.dead = true
	s.throttle, s.brake, s.pull = 0, 0, 0
	return true
}

// Finish marks the seat as having completed the course.
func (s *Seat) Finish() bool {
	if s == nil || s.dead || s.finished {
		return false
	}
	s.finished = true
	return true
}

// Snapshot serializes the seat into the compact wire form at game time t.
func (s *Seat) Snapshot(t time.Duration) wire.BikeState {
	if s == nil {
		return wire.BikeState{}
	}
	var flags uint8
	if s.dead {
		flags |= wire.BikeFlagDead
	}
	if s.finished {
		flags |= wire.BikeFlagFinished
	}
	if s.facingLeft {
		flags |= wire.BikeFlagFacingLeft
	}
	return wire.BikeState{
		Flags: flags,
		Time:  uint32(t / (10 * time.Millisecond)),
		PosX:  float32(s.posX),
		PosY:  float32(s.posY),
		VelX:  float32(s.velX),
		VelY:  float32(s.velY),
		Angle: int16(math.Round(s.angle * 100)),
		Spin:  spinByte(s.velX),
	}
}

func spinByte(velX float64) int8 {
	spin := velX * 4
	if spin > 127 {
		spin = 127
	}
	if spin < -127 {
		spin = -127
	}
	return int8(spin)
}

// Scene is one independent physics world with its ordered seats. It is the
// unit the scheduler advances and the unit fan-out reads from.
type Scene struct {
	Index int

	level   Level
	seats   []*Seat
	elapsed time.Duration

	// entityTaken flags which to-take items have been claimed.
	entityTaken []bool
}

// NewScene builds a scene for level with seatCount bikers on the start line.
func NewScene(index int, level Level, seatCount int) (*Scene, error) {
	if level.TooOld {
		return nil, fmt.Errorf("%w: %s", ErrLevelTooOld, level.ID)
	}
	if seatCount <= 0 || seatCount > wire.MaxSubSource {
		return nil, fmt.Errorf("scene seat count %d out of range", seatCount)
	}
	scene := &Scene{
		Index:       index,
		level:       level,
		seats:       make([]*Seat, seatCount),
		entityTaken: make([]bool, level.Entities),
	}
	for i := range scene.seats {
		//1.- Stagger start positions so bikers never spawn overlapped.
		scene.seats[i] = &Seat{Index: i, posX: float64(i) * 1.5, posY: 0}
	}
	return scene, nil
}

// Level returns the course this scene simulates.
func (sc *Scene) Level() Level {
	if sc == nil {
		return Level{}
	}
	return sc.level
}

// Elapsed returns the virtual time simulated so far.
func (sc *Scene) Elapsed() time.Duration {
	if sc == nil {
		return 0
	}
	return sc.elapsed
}

// Seats returns the ordered seat list.
func (sc *Scene) Seats() []*Seat {
	if sc == nil {
		return nil
	}
	return sc.seats
}

// Seat resolves one seat by index.
func (sc *Scene) Seat(index int) (*Seat, error) {
	if sc == nil || index < 0 || index >= len(sc.seats) {
		return nil, fmt.Errorf("%w: %d", ErrNoSuchSeat, index)
	}
	return sc.seats[index], nil
}

// RemainingEntities counts the to-take items not yet claimed.
func (sc *Scene) RemainingEntities() int {
	if sc == nil {
		return 0
	}
	remaining := 0
	for _, taken := range sc.entityTaken {
		if !taken {
			remaining++
		}
	}
	return remaining
}

// AnyRacing reports whether at least one seat is still alive and unfinished.
func (sc *Scene) AnyRacing() bool {
	if sc == nil {
		return false
	}
	for _, seat := range sc.seats {
		if seat.Alive() {
			return true
		}
	}
	return false
}
