// Package clock drives the simulation's virtual time: a fixed-quantum
// catch-up scheduler decoupled from wall-clock jitter, plus tick timing
// metrics for the admin console.
package clock

import (
	"time"
)

// StepFunc advances every active scene by exactly one physics quantum.
type StepFunc func()

// SchedulerOption configures optional Scheduler behaviour at construction.
type SchedulerOption func(*Scheduler)

// WithNow overrides the wall-clock source for deterministic tests.
func WithNow(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// Scheduler converts elapsed wall-clock time into a bounded number of
// fixed-size physics steps per pass. Steps the cap forbids are not recovered
// later at a faster rate; the deficit simply carries to the next pass, so a
// stalled process degrades to a slower game instead of a burst.
type Scheduler struct {
	quantum time.Duration
	cap     int

	now     func() time.Time
	last    time.Time
	started bool
	deficit time.Duration
	ticks   uint64
}

// NewScheduler builds a scheduler stepping by quantum, at most catchUpCap
// steps per Advance call.
func NewScheduler(quantum time.Duration, catchUpCap int, opts ...SchedulerOption) *Scheduler {
	if quantum <= 0 {
		quantum = 10 * time.Millisecond
	}
	if catchUpCap <= 0 {
		catchUpCap = 1
	}
	s := &Scheduler{
		quantum: quantum,
		cap:     catchUpCap,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Advance accrues wall-clock time since the previous call and runs step once
// per owed quantum, bounded by the catch-up cap. It returns the number of
// steps taken in this pass.
func (s *Scheduler) Advance(step StepFunc) int {
	if s == nil || step == nil {
		return 0
	}
	//1.- Accrue the elapsed wall time into the quantum deficit.
	now := s.now()
	if !s.started {
		s.last = now
		s.started = true
	}
	s.deficit += now.Sub(s.last)
	s.last = now

	//2.- Step while a full quantum is owed, never past the cap.
	steps := 0
	for s.deficit >= s.quantum && steps < s.cap {
		step()
		s.deficit -= s.quantum
		s.ticks++
		steps++
	}
	return steps
}

// Reset clears the deficit and tick counter for a fresh round.
func (s *Scheduler) Reset() {
	if s == nil {
		return
	}
	s.started = false
	s.deficit = 0
	s.ticks = 0
}

// Ticks returns the number of physics steps taken since the last Reset.
func (s *Scheduler) Ticks() uint64 {
	if s == nil {
		return 0
	}
	return s.ticks
}

// Deficit returns the virtual time still owed to the simulation.
func (s *Scheduler) Deficit() time.Duration {
	if s == nil {
		return 0
	}
	return s.deficit
}

// Quantum returns the fixed step size.
func (s *Scheduler) Quantum() time.Duration {
	if s == nil {
		return 0
	}
	return s.quantum
}

// GameTime returns the virtual elapsed time of the current round.
func (s *Scheduler) GameTime() time.Duration {
	if s == nil {
		return 0
	}
	return time.Duration(s.ticks) * s.quantum
}

// Now exposes the scheduler's time source so countdown targets and activity
// timestamps share one clock.
func (s *Scheduler) Now() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.now()
}
