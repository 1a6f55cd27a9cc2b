// Copyright 2014 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

package p2p

import "github.com/rcrowley/go-metrics"

// NetworkStats is the shared, per-host set of session counters referenced
// by host.rs's `stats::NetworkStats` (spec.md section 3, Session
// constructor argument "shared stats"). Every Session constructed by a
// Host points at the same NetworkStats so aggregate throughput can be
// read without walking the slab.
type NetworkStats struct {
	sessionsOpened  metrics.Counter
	sessionsClosed  metrics.Counter
	packetsSent     metrics.Counter
	packetsReceived metrics.Counter
	bytesSent       metrics.Counter
	bytesReceived   metrics.Counter
}

// NewNetworkStats returns a fresh, zeroed counter set.
func NewNetworkStats() *NetworkStats {
	return &NetworkStats{
		sessionsOpened:  metrics.NewCounter(),
		sessionsClosed:  metrics.NewCounter(),
		packetsSent:     metrics.NewCounter(),
		packetsReceived: metrics.NewCounter(),
		bytesSent:       metrics.NewCounter(),
		bytesReceived:   metrics.NewCounter(),
	}
}

func (s *NetworkStats) SessionOpened() { s.sessionsOpened.Inc(1) }
func (s *NetworkStats) SessionClosed() { s.sessionsClosed.Inc(1) }

func (s *NetworkStats) AddPacketSent(bytes uint64) {
	s.packetsSent.Inc(1)
	s.bytesSent.Inc(int64(bytes))
}

func (s *NetworkStats) AddPacketReceived(bytes uint64) {
	s.packetsReceived.Inc(1)
	s.bytesReceived.Inc(int64(bytes))
}

// StatsSnapshot is a point-in-time copy of the counters, safe to log or expose.
type StatsSnapshot struct {
	SessionsOpened  int64
	SessionsClosed  int64
	PacketsSent     int64
	PacketsReceived int64
	BytesSent       int64
	BytesReceived   int64
}

func (s *NetworkStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		SessionsOpened:  s.sessionsOpened.Count(),
		SessionsClosed:  s.sessionsClosed.Count(),
		PacketsSent:     s.packetsSent.Count(),
		PacketsReceived: s.packetsReceived.Count(),
		BytesSent:       s.bytesSent.Count(),
		BytesReceived:   s.bytesReceived.Count(),
	}
}
