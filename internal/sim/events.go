package sim

import (
	"encoding/binary"
	"fmt"
	"time"

	"hillpursuit/server/internal/wire"
)

// EventKind identifies one simulation-generated event.
type EventKind uint8

const (
	// EventDeath fires when a seat crashes.
	EventDeath EventKind = 1
	// EventWin fires when a seat crosses the finish line.
	EventWin EventKind = 2
	// EventEntityTaken fires when a seat claims a to-take item.
	EventEntityTaken EventKind = 3
	// EventSomersault fires on a full frame rotation.
	EventSomersault EventKind = 4
)

// Event is one simulation occurrence routed to the rules hook and, batched,
// to every playing client.
type Event struct {
	Kind  EventKind
	Scene int
	Seat  int
	// Time is the scene's virtual time when the event fired.
	Time time.Duration
	// Entity is the claimed item index, EventEntityTaken only.
	Entity int
}

// eventSize is the fixed serialized length of one event.
const eventSize = 9

// MaxEventsPerBatch bounds one batched game-events buffer.
const MaxEventsPerBatch = wire.MaxEventsPayload / eventSize

// MarshalEvents serializes a batch into the opaque buffer carried by the
// game-events action. Callers split larger batches across buffers.
func MarshalEvents(events []Event) ([]byte, error) {
	if len(events) > MaxEventsPerBatch {
		return nil, fmt.Errorf("event batch of %d exceeds %d", len(events), MaxEventsPerBatch)
	}
	buf := make([]byte, 0, len(events)*eventSize)
	for _, event := range events {
		var raw [eventSize]byte
		raw[0] = byte(event.Kind)
		raw[1] = byte(event.Scene)
		raw[2] = byte(event.Seat)
		binary.LittleEndian.PutUint32(raw[3:7], uint32(event.Time/(10*time.Millisecond)))
		binary.LittleEndian.PutUint16(raw[7:9], uint16(event.Entity))
		buf = append(buf, raw[:]...)
	}
	return buf, nil
}

// UnmarshalEvents parses a batched game-events buffer.
func UnmarshalEvents(buf []byte) ([]Event, error) {
	if len(buf)%eventSize != 0 {
		return nil, fmt.Errorf("event buffer of %d bytes is not a whole batch", len(buf))
	}
	var events []Event
	for off := 0; off < len(buf); off += eventSize {
		raw := buf[off : off+eventSize]
		kind := EventKind(raw[0])
		if kind < EventDeath || kind > EventSomersault {
			return nil, fmt.Errorf("unknown event kind %d", raw[0])
		}
		events = append(events, Event{
			Kind:   kind,
			Scene:  int(raw[1]),
			Seat:   int(raw[2]),
			Time:   time.Duration(binary.LittleEndian.Uint32(raw[3:7])) * 10 * time.Millisecond,
			Entity: int(binary.LittleEndian.Uint16(raw[7:9])),
		})
	}
	return events, nil
}

// SplitEvents chunks a batch so every chunk fits one game-events buffer.
func SplitEvents(events []Event) [][]Event {
	if len(events) == 0 {
		return nil
	}
	var chunks [][]Event
	for len(events) > MaxEventsPerBatch {
		chunks = append(chunks, events[:MaxEventsPerBatch])
		events = events[MaxEventsPerBatch:]
	}
	return append(chunks, events)
}
