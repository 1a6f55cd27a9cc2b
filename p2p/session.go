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

import (
	"net"
	"sync"
	"time"

	"github.com/corvidchain/corvid/log"
)

// SlabToken indexes a Session inside a SessionSlab.
type SlabToken int

// SessionState is the observable lifecycle state of a Session, per
// spec.md section 4.C.
type SessionState int

const (
	StateHandshaking SessionState = iota
	StateReady
	StateExpired
	StateDone
)

func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateExpired:
		return "expired"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// SessionDataKind tags the variant of a SessionData delivery.
type SessionDataKind int

const (
	SessionDataNone SessionDataKind = iota
	SessionDataContinue
	SessionDataReady
	SessionDataPacket
)

// SessionData is the result of driving a Session's read side one step,
// mirroring the Rust SessionData enum of spec.md section 3.
type SessionData struct {
	Kind     SessionDataKind
	Protocol string
	PacketID byte
	Data     []byte
}

// Session is the contract Host depends on; spec.md section 4.C fixes its
// exact shape. The production implementation underneath negotiates an
// RLPx-style encrypted channel — those bytes are out of scope here, so
// Session is treated as a constructor boundary (see NewSession).
type Session interface {
	Token() SlabToken
	ID() (NodeID, bool)
	RemoteAddr() net.Addr
	RemoteEndpoint() NodeEndpoint
	IsReady() bool
	Expired() bool
	SetExpired()
	Done() bool
	Admitted() bool
	SetAdmitted()
	MarkTornDown() bool
	HaveCapability(protocol string) bool
	Capabilities() []CapabilityInfo
	KeepAlive() bool
	Disconnect(reason DisconnectReason)
	SendPacket(protocol string, packetID byte, data []byte) error
	Readable(host *Host) (SessionData, error)
	Writable() error
	Close() error
}

// pingInterval is how often a Ready session emits a liveness ping; the
// session is killed if no pong arrives within pingTimeout.
const (
	pingInterval = 15 * time.Second
	pingTimeout  = 30 * time.Second
)

// session is the concrete, in-process Session implementation used by the
// production Host. Its own mutex guards mutable fields; the slab holds one
// owning handle and dispatch code reads through the Session interface.
type session struct {
	mu sync.Mutex

	token      SlabToken
	conn       net.Conn
	outbound   bool
	targetID   NodeID
	hasTarget  bool

	state          SessionState
	id             NodeID
	haveID         bool
	admitted       bool
	tornDown       bool
	remoteEndpoint NodeEndpoint

	nonce [32]byte
	info  *HostInfo
	stats *NetworkStats

	caps []CapabilityInfo

	lastPing time.Time
	lastPong time.Time

	writeQueue [][]byte

	log log.Logger
}

// NewSession constructs a Session over an already-accepted or dialed TCP
// socket. target is the expected remote NodeID for outbound connections
// (None/zero-value for inbound). The encrypted-handshake mechanics
// themselves are assumed to live beneath this constructor; this
// implementation models only the lifecycle state machine Host depends on.
func NewSession(conn net.Conn, token SlabToken, target *NodeID, nonce [32]byte, stats *NetworkStats, info *HostInfo) Session {
	s := &session{
		token:    token,
		conn:     conn,
		outbound: target != nil,
		nonce:    nonce,
		info:     info,
		stats:    stats,
		state:    StateHandshaking,
		log:      log.New("token", int(token), "addr", conn.RemoteAddr()),
	}
	if target != nil {
		s.targetID = *target
		s.hasTarget = true
	}
	return s
}

func (s *session) Token() SlabToken { return s.token }

func (s *session) ID() (NodeID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id, s.haveID
}

func (s *session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// RemoteEndpoint returns the peer's advertised listen endpoint, learned
// during the handshake. Only meaningful once the session has reached
// Ready.
func (s *session) RemoteEndpoint() NodeEndpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteEndpoint
}

func (s *session) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateReady
}

func (s *session) Expired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateExpired || s.state == StateDone
}

func (s *session) SetExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDone {
		return
	}
	s.state = StateExpired
}

// Done reports whether outbound buffers have drained after Expired, i.e.
// the session is ready for deregistration from the slab.
func (s *session) Done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDone {
		return true
	}
	if s.state == StateExpired && len(s.writeQueue) == 0 {
		s.state = StateDone
		return true
	}
	return false
}

// Admitted reports whether Host has counted this session toward
// numSessions. It is set once, by onSessionReady, and never cleared, so
// killConnection can still tell the session was counted even after
// Readable or Disconnect has already moved it to Expired by the time
// killConnection runs.
func (s *session) Admitted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitted
}

func (s *session) SetAdmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted = true
}

// MarkTornDown reports whether this call is the first to observe the
// session's teardown, so killConnection performs its one-shot accounting
// (the numSessions decrement and the Disconnected fan-out) exactly once
// no matter how many times it is invoked for the same token.
func (s *session) MarkTornDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown {
		return false
	}
	s.tornDown = true
	return true
}

func (s *session) Capabilities() []CapabilityInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CapabilityInfo, len(s.caps))
	copy(out, s.caps)
	return out
}

func (s *session) HaveCapability(protocol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.caps {
		if c.Protocol == protocol {
			return true
		}
	}
	return false
}

// KeepAlive is consulted by Host on every IDLE tick. It returns false once
// a ping has gone unanswered past pingTimeout, instructing Host to kill
// the connection; otherwise it sends a fresh ping when due.
func (s *session) KeepAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return true
	}
	now := time.Now()
	if !s.lastPing.IsZero() && now.Sub(s.lastPing) > pingTimeout && s.lastPong.Before(s.lastPing) {
		return false
	}
	// A new ping goes out only once the previous one has been answered, so
	// an unanswered ping keeps aging toward pingTimeout.
	if s.lastPing.IsZero() || (!s.lastPong.Before(s.lastPing) && now.Sub(s.lastPing) >= pingInterval) {
		s.lastPing = now
		s.enqueueLocked(framePing())
	}
	return true
}

func (s *session) Disconnect(reason DisconnectReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.Debug("disconnecting session", "reason", reason.String())
	s.enqueueLocked(frameDisconnect(reason))
	if s.state != StateDone {
		s.state = StateExpired
	}
}

// SendPacket frames one application packet: a single leading byte
// identifying the negotiated protocol, consumed by Host on the receive
// side (spec.md section 4.C / 6).
func (s *session) SendPacket(protocol string, packetID byte, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return &Error{Kind: ErrIO, Err: errSessionNotReady}
	}
	frame := make([]byte, 0, 2+len(data))
	frame = append(frame, protocolFrameByte(protocol), packetID)
	frame = append(frame, data...)
	s.enqueueLocked(frame)
	if s.stats != nil {
		s.stats.AddPacketSent(uint64(len(frame)))
	}
	return nil
}

// Close shuts down the underlying socket, unblocking whatever goroutine
// is parked in Readable. Safe to call more than once.
func (s *session) Close() error {
	return s.conn.Close()
}

func (s *session) enqueueLocked(frame []byte) {
	s.writeQueue = append(s.writeQueue, frame)
}

// Writable writes every queued frame to the socket, blocking until each
// write completes. Host calls it through flushSession, mostly from its
// run goroutine.
func (s *session) Writable() error {
	s.mu.Lock()
	q := s.writeQueue
	s.writeQueue = nil
	s.mu.Unlock()
	for _, frame := range q {
		if err := writeFrame(s.conn, frame); err != nil {
			return &Error{Kind: ErrIO, Err: err}
		}
	}
	return nil
}

// Readable drives the read side one step: for a still-handshaking session
// it attempts to complete the handshake and transitions to Ready; for a
// Ready session it parses exactly one framed packet. Capabilities are
// negotiated against the HostInfo capability list; host is not used by
// this implementation and is kept to match host.rs's
// Session::readable(io, host) signature. The session mutex is not held
// while blocked on the socket, so other callers are never stalled by a
// pending read.
func (s *session) Readable(host *Host) (SessionData, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateExpired, StateDone:
		return SessionData{Kind: SessionDataNone}, nil
	case StateHandshaking:
		id, endpoint, caps, err := completeHandshake(s.conn, s.hasTarget, s.targetID, s.info)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.state = StateExpired
			return SessionData{}, &Error{Kind: ErrProtocol, Err: err}
		}
		s.id = id
		s.haveID = true
		s.remoteEndpoint = endpoint
		s.caps = caps
		s.state = StateReady
		s.lastPing = time.Time{}
		s.lastPong = time.Now()
		return SessionData{Kind: SessionDataReady}, nil
	default: // StateReady
		frame, err := readFrame(s.conn)
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.state = StateExpired
			return SessionData{}, &Error{Kind: ErrIO, Err: err}
		}
		if len(frame) == 0 {
			return SessionData{Kind: SessionDataNone}, nil
		}
		if isPongFrame(frame) {
			s.lastPong = time.Now()
			return SessionData{Kind: SessionDataContinue}, nil
		}
		if frame[0] == frameControlPing {
			s.enqueueLocked(framePong())
			return SessionData{Kind: SessionDataContinue}, nil
		}
		if isDisconnectFrame(frame) {
			s.state = StateExpired
			return SessionData{Kind: SessionDataNone}, nil
		}
		protocol, ok := protocolForFrameByte(frame[0], s.caps)
		if !ok {
			return SessionData{}, &Error{Kind: ErrProtocol, Err: errUnknownProtocolByte}
		}
		if s.stats != nil {
			s.stats.AddPacketReceived(uint64(len(frame)))
		}
		return SessionData{Kind: SessionDataPacket, Protocol: protocol, PacketID: frame[1], Data: frame[2:]}, nil
	}
}
