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

import "fmt"

// Kind classifies an Error without tying callers to a specific message,
// mirroring the taxonomy in spec.md section 7.
type Kind int

const (
	ErrConfiguration Kind = iota
	ErrIO
	ErrCapacity
	ErrProtocol
	ErrPeerMisbehavior
	ErrDiscovery
)

func (k Kind) String() string {
	switch k {
	case ErrConfiguration:
		return "configuration"
	case ErrIO:
		return "io"
	case ErrCapacity:
		return "capacity"
	case ErrProtocol:
		return "protocol"
	case ErrPeerMisbehavior:
		return "peer-misbehavior"
	case ErrDiscovery:
		return "discovery"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so callers can branch on the
// taxonomy without string matching.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// DisconnectReason enumerates why a session was torn down, matching
// host.rs's DisconnectReason set referenced in spec.md section 4.C.
type DisconnectReason int

const (
	DisconnectClientQuit DisconnectReason = iota
	DisconnectRequested
	DisconnectTooManyPeers
	DisconnectPingTimeout
	DisconnectIncompatibleProtocol
	DisconnectUselessPeer
	DisconnectProtocolError
	DisconnectUnexpectedIdentity
)

func (r DisconnectReason) String() string {
	switch r {
	case DisconnectClientQuit:
		return "client quit"
	case DisconnectRequested:
		return "disconnect requested"
	case DisconnectTooManyPeers:
		return "too many peers"
	case DisconnectPingTimeout:
		return "ping timeout"
	case DisconnectIncompatibleProtocol:
		return "incompatible protocol"
	case DisconnectUselessPeer:
		return "useless peer"
	case DisconnectProtocolError:
		return "protocol error"
	case DisconnectUnexpectedIdentity:
		return "unexpected identity"
	default:
		return "unknown reason"
	}
}
