package sim

import (
	"errors"
	"testing"
	"time"

	"hillpursuit/server/internal/wire"
)

func TestNewSceneRejectsTooOldLevel(t *testing.T) {
	_, err := NewScene(0, Level{ID: "legacy", TooOld: true}, 1)
	if !errors.Is(err, ErrLevelTooOld) {
		t.Fatalf("expected ErrLevelTooOld, got %v", err)
	}
}

func TestCatalogRotates(t *testing.T) {
	catalog := NewCatalog([]Level{{ID: "a", Length: 10}, {ID: "b", Length: 10}})
	first, err := catalog.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	second, err := catalog.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	third, err := catalog.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if first.ID != "a" || second.ID != "b" || third.ID != "a" {
		t.Fatalf("unexpected rotation %s/%s/%s", first.ID, second.ID, third.ID)
	}
	if _, err := NewCatalog(nil).Next(); !errors.Is(err, ErrNoLevel) {
		t.Fatalf("expected ErrNoLevel for an empty catalog, got %v", err)
	}
}

func TestSeatKillIsIdempotent(t *testing.T) {
	scene, err := NewScene(0, Level{ID: "l", Length: 100}, 2)
	if err != nil {
		t.Fatalf("new scene: %v", err)
	}
	seat, err := scene.Seat(1)
	if err != nil {
		t.Fatalf("seat: %v", err)
	}
	if !seat.Kill() {
		t.Fatalf("first kill should apply")
	}
	if seat.Kill() {
		t.Fatalf("second kill must be a no-op")
	}
	if seat.Alive() {
		t.Fatalf("killed seat still alive")
	}
}

func TestSceneAnyRacing(t *testing.T) {
	scene, err := NewScene(0, Level{ID: "l", Length: 100}, 2)
	if err != nil {
		t.Fatalf("new scene: %v", err)
	}
	if !scene.AnyRacing() {
		t.Fatalf("fresh scene should have racers")
	}
	scene.Seats()[0].Kill()
	scene.Seats()[1].Finish()
	if scene.AnyRacing() {
		t.Fatalf("no seat is alive and unfinished")
	}
}

func TestEngineThrottleMovesBikeForward(t *testing.T) {
	scene, err := NewScene(0, Level{ID: "l", Length: 1000, Entities: 0}, 1)
	if err != nil {
		t.Fatalf("new scene: %v", err)
	}
	seat := scene.Seats()[0]
	seat.ApplyControl(wire.ControlThrottle, 1)

	engine := NewEngine()
	for i := 0; i < 100; i++ {
		engine.Step(scene, 10*time.Millisecond)
	}
	if seat.Snapshot(scene.Elapsed()).PosX <= 0 {
		t.Fatalf("throttle did not move the bike: %+v", seat.Snapshot(scene.Elapsed()))
	}
	if scene.Elapsed() != time.Second {
		t.Fatalf("expected 1s of virtual time, got %v", scene.Elapsed())
	}
}

func TestEngineFinishLineWins(t *testing.T) {
	scene, err := NewScene(0, Level{ID: "l", Length: 2, Entities: 1}, 1)
	if err != nil {
		t.Fatalf("new scene: %v", err)
	}
	seat := scene.Seats()[0]
	seat.ApplyControl(wire.ControlThrottle, 1)

	engine := NewEngine()
	var got []Event
	for i := 0; i < 2000 && seat.Alive(); i++ {
		got = append(got, engine.Step(scene, 10*time.Millisecond)...)
	}
	if !seat.Finished() {
		t.Fatalf("seat never finished a 2m course")
	}
	var sawTake, sawWin bool
	for _, event := range got {
		switch event.Kind {
		case EventEntityTaken:
			sawTake = true
		case EventWin:
			sawWin = true
		}
	}
	if !sawTake || !sawWin {
		t.Fatalf("expected entity-taken and win events, got %+v", got)
	}
	if scene.RemainingEntities() != 0 {
		t.Fatalf("entity not claimed")
	}
}

func TestEventsRoundTripAndSplit(t *testing.T) {
	events := []Event{
		{Kind: EventDeath, Scene: 0, Seat: 1, Time: 1500 * time.Millisecond},
		{Kind: EventEntityTaken, Scene: 0, Seat: 0, Time: 2 * time.Second, Entity: 3},
	}
	buf, err := MarshalEvents(events)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	back, err := UnmarshalEvents(buf)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 2 || back[0] != events[0] || back[1] != events[1] {
		t.Fatalf("round trip mismatch: %+v", back)
	}

	big := make([]Event, MaxEventsPerBatch+5)
	for i := range big {
		big[i] = Event{Kind: EventSomersault}
	}
	chunks := SplitEvents(big)
	if len(chunks) != 2 || len(chunks[0]) != MaxEventsPerBatch || len(chunks[1]) != 5 {
		t.Fatalf("unexpected split %d/%v", len(chunks), len(chunks[len(chunks)-1]))
	}
	if _, err := UnmarshalEvents([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for a partial buffer")
	}
}
