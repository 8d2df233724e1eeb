package clock

import (
	"testing"
	"time"
)

// fakeClock returns a now func that advances only when told to.
type fakeClock struct {
	at time.Time
}

func (c *fakeClock) now() time.Time { return c.at }

func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func TestSchedulerStepsOncePerQuantum(t *testing.T) {
	fc := &fakeClock{at: time.Unix(100, 0)}
	s := NewScheduler(10*time.Millisecond, 10, WithNow(fc.now))

	if steps := s.Advance(func() {}); steps != 0 {
		t.Fatalf("first pass should only anchor the clock, got %d steps", steps)
	}
	fc.advance(35 * time.Millisecond)
	steps := 0
	got := s.Advance(func() { steps++ })
	if got != 3 || steps != 3 {
		t.Fatalf("expected 3 steps for 35ms, got %d/%d", got, steps)
	}
	if s.Deficit() != 5*time.Millisecond {
		t.Fatalf("expected 5ms residual deficit, got %v", s.Deficit())
	}
}

func TestSchedulerCapBoundsOnePass(t *testing.T) {
	fc := &fakeClock{at: time.Unix(100, 0)}
	s := NewScheduler(10*time.Millisecond, 10, WithNow(fc.now))
	s.Advance(func() {})

	//1.- Owe 25 quanta with a cap of 10: exactly 10 steps, 15 quanta remain.
	fc.advance(250 * time.Millisecond)
	if got := s.Advance(func() {}); got != 10 {
		t.Fatalf("expected the cap of 10 steps, got %d", got)
	}
	if s.Deficit() != 150*time.Millisecond {
		t.Fatalf("expected 150ms carried deficit, got %v", s.Deficit())
	}
	//2.- The carried deficit is honoured by the next pass, still capped.
	if got := s.Advance(func() {}); got != 10 {
		t.Fatalf("expected 10 more steps from the carry, got %d", got)
	}
	if got := s.Advance(func() {}); got != 5 {
		t.Fatalf("expected the final 5 steps, got %d", got)
	}
	if s.Ticks() != 25 {
		t.Fatalf("expected 25 total ticks, got %d", s.Ticks())
	}
}

func TestSchedulerGameTime(t *testing.T) {
	fc := &fakeClock{at: time.Unix(100, 0)}
	s := NewScheduler(10*time.Millisecond, 100, WithNow(fc.now))
	s.Advance(func() {})
	fc.advance(120 * time.Millisecond)
	s.Advance(func() {})
	if s.GameTime() != 120*time.Millisecond {
		t.Fatalf("expected 120ms of game time, got %v", s.GameTime())
	}
	s.Reset()
	if s.GameTime() != 0 || s.Deficit() != 0 {
		t.Fatalf("reset did not clear state: %v/%v", s.GameTime(), s.Deficit())
	}
}

func TestMonitorAggregates(t *testing.T) {
	m := NewMonitor()
	m.Observe(10 * time.Millisecond)
	m.Observe(30 * time.Millisecond)
	snap := m.Snapshot()
	if snap.Samples != 2 || snap.Average != 20*time.Millisecond || snap.Max != 30*time.Millisecond {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.Last != 30*time.Millisecond {
		t.Fatalf("unexpected last %v", snap.Last)
	}
	m.Reset()
	if m.Snapshot().Samples != 0 {
		t.Fatalf("reset did not clear samples")
	}
}
