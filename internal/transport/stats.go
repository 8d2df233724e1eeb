package transport

import (
	"sync/atomic"
)

// Stats aggregates wire traffic counters. All methods are safe for
// concurrent use; reader goroutines and the server loop both record here.
type Stats struct {
	tcpSent     atomic.Uint64
	tcpSentSize atomic.Uint64
	udpSent     atomic.Uint64
	udpSentSize atomic.Uint64
	tcpRecv     atomic.Uint64
	tcpRecvSize atomic.Uint64
	udpRecv     atomic.Uint64
	udpRecvSize atomic.Uint64

	biggestTCPSent atomic.Uint64
	biggestUDPSent atomic.Uint64
	biggestTCPRecv atomic.Uint64
	biggestUDPRecv atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of the counters.
type StatsSnapshot struct {
	TCPPacketsSent     uint64
	TCPBytesSent       uint64
	BiggestTCPSent     uint64
	UDPPacketsSent     uint64
	UDPBytesSent       uint64
	BiggestUDPSent     uint64
	TCPPacketsReceived uint64
	TCPBytesReceived   uint64
	BiggestTCPReceived uint64
	UDPPacketsReceived uint64
	UDPBytesReceived   uint64
	BiggestUDPReceived uint64
}

// NewStats returns zeroed counters.
func NewStats() *Stats { return &Stats{} }

func recordMax(m *atomic.Uint64, v uint64) {
	for {
		cur := m.Load()
		if v <= cur || m.CompareAndSwap(cur, v) {
			return
		}
	}
}

// RecordTCPSent counts one outbound stream frame.
func (s *Stats) RecordTCPSent(bytes int) {
	if s == nil {
		return
	}
	s.tcpSent.Add(1)
	s.tcpSentSize.Add(uint64(bytes))
	recordMax(&s.biggestTCPSent, uint64(bytes))
}

// RecordUDPSent counts one outbound datagram.
func (s *Stats) RecordUDPSent(bytes int) {
	if s == nil {
		return
	}
	s.udpSent.Add(1)
	s.udpSentSize.Add(uint64(bytes))
	recordMax(&s.biggestUDPSent, uint64(bytes))
}

// RecordTCPReceived counts one inbound stream read.
func (s *Stats) RecordTCPReceived(bytes int) {
	if s == nil {
		return
	}
	s.tcpRecv.Add(1)
	s.tcpRecvSize.Add(uint64(bytes))
	recordMax(&s.biggestTCPRecv, uint64(bytes))
}

// RecordUDPReceived counts one inbound datagram.
func (s *Stats) RecordUDPReceived(bytes int) {
	if s == nil {
		return
	}
	s.udpRecv.Add(1)
	s.udpRecvSize.Add(uint64(bytes))
	recordMax(&s.biggestUDPRecv, uint64(bytes))
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	if s == nil {
		return StatsSnapshot{}
	}
	return StatsSnapshot{
		TCPPacketsSent:     s.tcpSent.Load(),
		TCPBytesSent:       s.tcpSentSize.Load(),
		BiggestTCPSent:     s.biggestTCPSent.Load(),
		UDPPacketsSent:     s.udpSent.Load(),
		UDPBytesSent:       s.udpSentSize.Load(),
		BiggestUDPSent:     s.biggestUDPSent.Load(),
		TCPPacketsReceived: s.tcpRecv.Load(),
		TCPBytesReceived:   s.tcpRecvSize.Load(),
		BiggestTCPReceived: s.biggestTCPRecv.Load(),
		UDPPacketsReceived: s.udpRecv.Load(),
		UDPBytesReceived:   s.udpRecvSize.Load(),
		BiggestUDPReceived: s.biggestUDPRecv.Load(),
	}
}
