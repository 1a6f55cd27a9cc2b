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

// NetworkProtocolHandler is implemented by an application-level protocol
// (the blockchain sync protocol is the only one spec.md names, and only
// as a registrant of this interface — its contents are out of scope).
// Callbacks execute on the Host's run goroutine and must not block.
type NetworkProtocolHandler interface {
	// Initialize is called once, at AddHandler time, before any session
	// has connected.
	Initialize(ctx *NetworkContext)

	// Connected is called exactly once per session, strictly before the
	// first Read for that session, after the session reaches Ready and
	// negotiates this handler's protocol.
	Connected(ctx *NetworkContext, token SlabToken)

	// Disconnected is called at most once per (session, protocol), after
	// Connected and before the token is deregistered.
	Disconnected(ctx *NetworkContext, token SlabToken)

	// Read delivers one packet, framing byte already stripped.
	Read(ctx *NetworkContext, token SlabToken, packetID byte, data []byte)

	// Timeout delivers a timer registered by this handler via
	// NetworkContext.RegisterTimer.
	Timeout(ctx *NetworkContext, timerToken int)
}

// protocolHandlerEntry is what Host keeps per registered protocol.
type protocolHandlerEntry struct {
	handler  NetworkProtocolHandler
	protocol string
	versions []uint8
}
