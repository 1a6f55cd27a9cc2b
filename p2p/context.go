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

import "time"

// ProtocolTimer indexes a handler-level timer by the host-allocated
// dispatch token, per spec.md section 3.
type ProtocolTimer struct {
	Protocol string
	Token    int
}

// ioMessage is the closed set of control messages Host dispatches on its
// run goroutine, the Go analogue of spec.md section 4.F's IoMessage enum
// (spec.md section 9's "handlers enqueue, Host dequeues on the reactor
// thread").
type ioMessage interface{ isIoMessage() }

type msgAddHandler struct {
	handler  NetworkProtocolHandler
	protocol string
	versions []uint8
}

type msgAddTimer struct {
	protocol string
	token    int
	delay    time.Duration
}

type msgInitPublicInterface struct{}

type msgDisconnect struct{ peer NodeID }

type msgDisablePeer struct{ peer NodeID }

type msgNetworkStarted struct{ enodeURL string }

func (msgAddHandler) isIoMessage()          {}
func (msgAddTimer) isIoMessage()            {}
func (msgInitPublicInterface) isIoMessage() {}
func (msgDisconnect) isIoMessage()          {}
func (msgDisablePeer) isIoMessage()         {}
func (msgNetworkStarted) isIoMessage()      {}

// NetworkContext is passed to NetworkProtocolHandler callbacks, giving
// handlers a narrow, synchronous API back into the Host (spec.md section
// 4.F). A NetworkContext is only valid for the duration of the callback
// it was created for.
type NetworkContext struct {
	host         *Host
	protocol     string
	currentToken SlabToken
	hasCurrent   bool
}

// Send looks up the live session whose handshake identity is peer and
// forwards packetID/data to it via Session.SendPacket. Returns an error if
// the peer is not connected.
func (c *NetworkContext) Send(peer NodeID, packetID byte, data []byte) error {
	token, ok := c.host.sessionTokenForPeer(peer)
	if !ok {
		return &Error{Kind: ErrIO, Err: errPeerNotConnected}
	}
	sess, ok := c.host.slab.Get(token)
	if !ok {
		return &Error{Kind: ErrIO, Err: errPeerNotConnected}
	}
	return sess.SendPacket(c.protocol, packetID, data)
}

// Respond sends to the session whose callback is currently executing.
// Valid only inside a Packet/Ready callback; panics otherwise, matching
// the observed contract in spec.md section 9 (Open Questions).
func (c *NetworkContext) Respond(packetID byte, data []byte) error {
	if !c.hasCurrent {
		panic("p2p: Respond called outside a session callback")
	}
	sess, ok := c.host.slab.Get(c.currentToken)
	if !ok {
		panic("p2p: Respond called with no session for the current token")
	}
	return sess.SendPacket(c.protocol, packetID, data)
}

// DisablePeer disconnects peer and marks it useless so it is not redialed.
func (c *NetworkContext) DisablePeer(peer NodeID) {
	c.host.enqueue(msgDisablePeer{peer: peer})
}

// DisconnectPeer disconnects peer without marking it useless.
func (c *NetworkContext) DisconnectPeer(peer NodeID) {
	c.host.enqueue(msgDisconnect{peer: peer})
}

// RegisterTimer schedules a recurring timer for this handler, delivered
// as Timeout(ctx, token) on the dispatch token allocated for it.
func (c *NetworkContext) RegisterTimer(token int, delay time.Duration) {
	c.host.enqueue(msgAddTimer{protocol: c.protocol, token: token, delay: delay})
}

// IsExpired reports whether the host is shutting down.
func (c *NetworkContext) IsExpired() bool { return c.host.isStopping() }

// PeerInfo returns a snapshot of what is known about peer, if connected.
func (c *NetworkContext) PeerInfo(peer NodeID) (PeerInfo, bool) {
	token, ok := c.host.sessionTokenForPeer(peer)
	if !ok {
		return PeerInfo{}, false
	}
	sess, ok := c.host.slab.Get(token)
	if !ok {
		return PeerInfo{}, false
	}
	id, _ := sess.ID()
	return PeerInfo{
		ID:           id,
		RemoteAddr:   sess.RemoteAddr().String(),
		Capabilities: sess.Capabilities(),
	}, true
}

// PeerInfo is the read-only view of a connected session exposed to
// handlers.
type PeerInfo struct {
	ID           NodeID
	RemoteAddr   string
	Capabilities []CapabilityInfo
}

var errPeerNotConnected = simpleError("peer is not connected")

type simpleError string

func (e simpleError) Error() string { return string(e) }
