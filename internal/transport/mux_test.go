package transport

import (
	"net"
	"testing"
	"time"

	"hillpursuit/server/internal/logging"
)

func newTestMux(t *testing.T, maxFollowing int) *Mux {
	t.Helper()
	m, err := Listen(0, 2048, maxFollowing, NewStats(), logging.NewTestLogger())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return m
}

// pollFor drains Poll until the predicate picks an event or the deadline
// passes.
func pollFor(t *testing.T, m *Mux, pick func(Event) bool) Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, event := range m.Poll(50 * time.Millisecond) {
			if pick(event) {
				return event
			}
		}
	}
	t.Fatalf("expected event never arrived")
	return nil
}

func TestMuxAcceptAndStreamLifecycle(t *testing.T) {
	m := newTestMux(t, 100)

	conn, err := net.Dial("tcp", m.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	accepted := pollFor(t, m, func(e Event) bool { _, ok := e.(Accepted); return ok }).(Accepted)
	if accepted.RemoteIP == "" {
		t.Fatalf("missing remote ip")
	}
	m.WatchStream(7, accepted.Conn)

	if _, err := conn.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	data := pollFor(t, m, func(e Event) bool { _, ok := e.(StreamData); return ok }).(StreamData)
	if data.SessionID != 7 || string(data.Data) != "hello" {
		t.Fatalf("unexpected stream data %+v", data)
	}

	conn.Close()
	closed := pollFor(t, m, func(e Event) bool { _, ok := e.(StreamClosed); return ok }).(StreamClosed)
	if closed.SessionID != 7 {
		t.Fatalf("unexpected close event %+v", closed)
	}
}

func TestMuxDeliversDatagrams(t *testing.T) {
	m := newTestMux(t, 100)

	client, err := net.Dial("udp", m.UDPAddr().String())
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer client.Close()
	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("write udp: %v", err)
	}

	datagram := pollFor(t, m, func(e Event) bool { _, ok := e.(Datagram); return ok }).(Datagram)
	if string(datagram.Data) != "ping" || datagram.Addr == nil {
		t.Fatalf("unexpected datagram %+v", datagram)
	}
}

func TestMuxDatagramFairnessCap(t *testing.T) {
	m := newTestMux(t, 3)

	client, err := net.Dial("udp", m.UDPAddr().String())
	if err != nil {
		t.Fatalf("dial udp: %v", err)
	}
	defer client.Close()
	for i := 0; i < 10; i++ {
		if _, err := client.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("write udp: %v", err)
		}
	}

	//1.- Collect everything, asserting no single pass exceeds the cap.
	received := 0
	deadline := time.Now().Add(2 * time.Second)
	for received < 10 && time.Now().Before(deadline) {
		batch := m.Poll(50 * time.Millisecond)
		if len(batch) > 4 {
			t.Fatalf("pass served %d events, cap is 3 consecutive datagrams", len(batch))
		}
		received += len(batch)
	}
	if received != 10 {
		t.Fatalf("expected all 10 datagrams, got %d", received)
	}
}

func TestMuxStatusFlags(t *testing.T) {
	m := newTestMux(t, 100)
	if !m.Running() || !m.Accepting() {
		t.Fatalf("fresh mux should be running and accepting")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if m.Running() || m.Accepting() {
		t.Fatalf("closed mux should report stopped")
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close must be a no-op: %v", err)
	}
}
