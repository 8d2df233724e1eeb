package sim

import (
	"math"
	"time"
)

// Engine advances one scene by a fixed physics quantum and reports the
// events that quantum generated. The server treats the implementation as
// opaque; tests substitute deterministic engines.
type Engine interface {
	Step(scene *Scene, quantum time.Duration) []Event
}

// Tuning constants for the built-in engine.
const (
	gravity      = 9.81
	maxAccel     = 8.0
	dragFactor   = 0.4
	rotationRate = 3.5
	hopVelocity  = 2.6
	crashSpeed   = 7.5
	pickupRadius = 1.2
)

// rigidEngine is the built-in trials-bike integrator: throttle and brake
// accelerate along the course, pull rotates the frame and hops off the
// ground, hard landings crash the bike.
type rigidEngine struct{}

// NewEngine returns the built-in physics engine.
func NewEngine() Engine {
	return rigidEngine{}
}

func (rigidEngine) Step(scene *Scene, quantum time.Duration) []Event {
	if scene == nil || quantum <= 0 {
		return nil
	}
	dt := quantum.Seconds()
	scene.elapsed += quantum

	var events []Event
	for _, seat := range scene.seats {
		if !seat.Alive() {
			continue
		}

		//1.- Longitudinal dynamics: throttle against brake and drag.
		direction := 1.0
		if seat.facingLeft {
			direction = -1.0
		}
		seat.velX += direction * (seat.throttle - seat.brake) * maxAccel * dt
		seat.velX -= seat.velX * dragFactor * dt

		//2.- Pull rotates the frame; a full turn is a somersault.
		if seat.pull != 0 {
			seat.angle += seat.pull * rotationRate * dt
			seat.turns += math.Abs(seat.pull) * rotationRate * dt
			if seat.turns >= 2*math.Pi {
				seat.turns -= 2 * math.Pi
				events = append(events, Event{
					Kind: EventSomersault, Scene: scene.Index, Seat: seat.Index, Time: scene.elapsed,
				})
			}
			//3.- A strong pull while grounded hops the bike off the ground.
			if seat.posY == 0 && seat.pull > 0.5 {
				seat.velY = hopVelocity
			}
		}

		//4.- Vertical dynamics and the landing check.
		if seat.posY > 0 || seat.velY > 0 {
			seat.velY -= gravity * dt
			seat.posY += seat.velY * dt
			if seat.posY <= 0 {
				if seat.velY < -crashSpeed {
					seat.Kill()
					events = append(events, Event{
						Kind: EventDeath, Scene: scene.Index, Seat: seat.Index, Time: scene.elapsed,
					})
					continue
				}
				seat.posY = 0
				seat.velY = 0
				seat.angle *= 0.5
			}
		}

		seat.posX += seat.velX * dt

		//5.- Claim any to-take entity within pickup range.
		for i := range scene.entityTaken {
			if scene.entityTaken[i] {
				continue
			}
			if math.Abs(seat.posX-scene.entityPosition(i)) <= pickupRadius {
				scene.entityTaken[i] = true
				events = append(events, Event{
					Kind: EventEntityTaken, Scene: scene.Index, Seat: seat.Index,
					Time: scene.elapsed, Entity: i,
				})
			}
		}

		//6.- Crossing the finish line wins the round for this seat.
		if seat.posX >= scene.level.Length {
			seat.Finish()
			events = append(events, Event{
				Kind: EventWin, Scene: scene.Index, Seat: seat.Index, Time: scene.elapsed,
			})
		}
	}
	return events
}

// entityPosition spreads the to-take items evenly along the course.
func (sc *Scene) entityPosition(i int) float64 {
	if sc == nil || sc.level.Entities == 0 {
		return 0
	}
	return sc.level.Length * float64(i+1) / float64(sc.level.Entities+1)
}
