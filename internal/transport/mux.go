// Package transport owns the listening TCP socket and the shared UDP
// socket. Reader goroutines turn socket activity into events on one bounded
// channel; the server loop is the only consumer, so all protocol state stays
// single-owner. Poll batches events per pass with a fairness cap so a flood
// of datagrams cannot starve stream traffic.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"hillpursuit/server/internal/logging"
	"hillpursuit/server/internal/wire"
)

// Event is one unit of socket activity handed to the server loop.
type Event interface{ isEvent() }

// Accepted reports a new inbound stream connection, before any ban or
// capacity check.
type Accepted struct {
	Conn     net.Conn
	RemoteIP string
}

// StreamData carries bytes read from a watched session stream.
type StreamData struct {
	SessionID int
	Data      []byte
}

// StreamClosed reports that a watched stream ended; Err is nil on a clean
// peer close.
type StreamClosed struct {
	SessionID int
	Err       error
}

// Datagram carries one packet from the shared UDP socket.
type Datagram struct {
	Addr net.Addr
	Data []byte
}

func (Accepted) isEvent()     {}
func (StreamData) isEvent()   {}
func (StreamClosed) isEvent() {}
func (Datagram) isEvent()     {}

const eventBacklog = 1024

// Mux multiplexes the TCP listener, the shared UDP socket and every watched
// session stream onto one event channel.
type Mux struct {
	logger *logging.Logger
	stats  *Stats

	listener net.Listener
	udp      net.PacketConn

	events chan Event
	closed chan struct{}
	wg     sync.WaitGroup

	maxPacket    int
	maxDatagrams int

	accepting atomic.Bool
	running   atomic.Bool
}

// Listen opens the TCP listener and the UDP socket on the same port and
// starts their reader goroutines. Failure here is fatal to startup.
func Listen(port, maxPacket, maxFollowingDatagrams int, stats *Stats, logger *logging.Logger) (*Mux, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("open stream listener: %w", err)
	}
	udp, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("open datagram socket: %w", err)
	}
	if maxPacket <= 0 {
		maxPacket = wire.MaxPacketSize
	}
	if maxFollowingDatagrams <= 0 {
		maxFollowingDatagrams = 1
	}
	m := &Mux{
		logger:       logger,
		stats:        stats,
		listener:     listener,
		udp:          udp,
		events:       make(chan Event, eventBacklog),
		closed:       make(chan struct{}),
		maxPacket:    maxPacket,
		maxDatagrams: maxFollowingDatagrams,
	}
	m.accepting.Store(true)
	m.running.Store(true)

	m.wg.Add(2)
	go m.acceptLoop()
	go m.datagramLoop()
	return m, nil
}

// Accepting reports whether new connections are being admitted. Safe to read
// from any goroutine.
func (m *Mux) Accepting() bool { return m != nil && m.accepting.Load() }

// Running reports whether the sockets are still open.
func (m *Mux) Running() bool { return m != nil && m.running.Load() }

// Addr returns the bound stream address.
func (m *Mux) Addr() net.Addr { return m.listener.Addr() }

// UDPAddr returns the bound datagram address.
func (m *Mux) UDPAddr() net.Addr { return m.udp.LocalAddr() }

// WriteTo sends one datagram via the shared socket, recording stats.
func (m *Mux) WriteTo(p []byte, addr net.Addr) (int, error) {
	n, err := m.udp.WriteTo(p, addr)
	if err == nil {
		m.stats.RecordUDPSent(n)
	}
	return n, err
}

// WatchStream starts the reader goroutine for an admitted session's stream.
func (m *Mux) WatchStream(sessionID int, conn net.Conn) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		buf := make([]byte, m.maxPacket)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				m.stats.RecordTCPReceived(n)
				data := make([]byte, n)
				copy(data, buf[:n])
				if !m.emit(StreamData{SessionID: sessionID, Data: data}) {
					return
				}
			}
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					err = nil
				}
				m.emit(StreamClosed{SessionID: sessionID, Err: err})
				return
			}
		}
	}()
}

// Poll blocks up to timeout for socket activity, then drains a bounded
// batch. Within one batch, at most maxFollowingDatagrams consecutive
// datagrams are serviced with no stream event in between; the pass ends
// early instead, so stream traffic gets its turn on the next pass.
func (m *Mux) Poll(timeout time.Duration) []Event {
	if m == nil {
		return nil
	}
	var batch []Event

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-m.closed:
		return nil
	case <-timer.C:
		return nil
	case event := <-m.events:
		batch = append(batch, event)
	}

	//1.- Drain whatever else is already pending, without blocking again.
	following := 0
	if _, ok := batch[0].(Datagram); ok {
		following = 1
	}
	for len(batch) < eventBacklog {
		select {
		case event := <-m.events:
			if _, ok := event.(Datagram); ok {
				following++
				if following > m.maxDatagrams {
					//2.- Too many datagrams back to back: stop the pass early.
					return append(batch, event)
				}
			} else {
				following = 0
			}
			batch = append(batch, event)
		default:
			return batch
		}
	}
	return batch
}

// Close stops accepting, closes both sockets and waits for every reader
// goroutine to exit. Events still buffered are discarded.
func (m *Mux) Close() error {
	if m == nil || !m.running.CompareAndSwap(true, false) {
		return nil
	}
	m.accepting.Store(false)
	close(m.closed)
	listenerErr := m.listener.Close()
	udpErr := m.udp.Close()
	m.wg.Wait()
	if listenerErr != nil {
		return listenerErr
	}
	return udpErr
}

func (m *Mux) acceptLoop() {
	defer m.wg.Done()
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			select {
			case <-m.closed:
				return
			default:
			}
			m.logger.Warn("accept failed", logging.Error(err))
			continue
		}
		remoteIP := hostOnly(conn.RemoteAddr())
		if !m.emit(Accepted{Conn: conn, RemoteIP: remoteIP}) {
			conn.Close()
			return
		}
	}
}

func (m *Mux) datagramLoop() {
	defer m.wg.Done()
	buf := make([]byte, m.maxPacket)
	for {
		n, addr, err := m.udp.ReadFrom(buf)
		if n > 0 {
			m.stats.RecordUDPReceived(n)
			data := make([]byte, n)
			copy(data, buf[:n])
			if !m.emit(Datagram{Addr: addr, Data: data}) {
				return
			}
		}
		if err != nil {
			select {
			case <-m.closed:
				return
			default:
			}
			m.logger.Warn("datagram read failed", logging.Error(err))
		}
	}
}

// emit queues one event, reporting false when the mux is shutting down.
func (m *Mux) emit(event Event) bool {
	select {
	case m.events <- event:
		return true
	case <-m.closed:
		return false
	}
}

func hostOnly(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
