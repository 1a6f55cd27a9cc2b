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

// Package enode holds the node-identity value types shared by p2p, its
// discover driver, and its nodetable store, kept dependency-free of all
// three so none of them need to import one another.
package enode

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// ID is the 512-bit public key identifying a peer across connections: the
// uncompressed secp256k1 public key with the leading 0x04 byte dropped.
type ID [64]byte

func (id ID) String() string { return hex.EncodeToString(id[:]) }

func (id ID) Bytes() []byte { return id[:] }

func (id ID) IsZero() bool { return id == ID{} }

// FromPubkey converts a public key into the wire ID form.
func FromPubkey(pub *ecdsa.PublicKey) ID {
	var id ID
	xb := pub.X.Bytes()
	yb := pub.Y.Bytes()
	copy(id[32-len(xb):32], xb)
	copy(id[64-len(yb):64], yb)
	return id
}

// Pubkey recovers an uncompressed public key structure from a wire ID,
// used to verify the signature on every discovery packet.
func (id ID) Pubkey() *ecdsa.PublicKey {
	x := new(big.Int).SetBytes(id[:32])
	y := new(big.Int).SetBytes(id[32:])
	return &ecdsa.PublicKey{Curve: btcec.S256(), X: x, Y: y}
}

// Endpoint is the pair of sockets (TCP for sessions, UDP for discovery)
// advertised for a node.
type Endpoint struct {
	Addr    net.IP
	TCPPort uint16
	UDPPort uint16
}

func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.Addr, Port: int(e.UDPPort)}
}

func (e Endpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: e.Addr, Port: int(e.TCPPort)}
}

// Entry is the canonical, gossipable record of a node: identity plus the
// endpoint it can be reached at. It carries no local-only state.
type Entry struct {
	ID       ID
	Endpoint Endpoint
}

// CapabilityInfo is a (protocol, version) pair offered or negotiated
// during the handshake, plus the number of packet IDs the protocol
// reserves.
type CapabilityInfo struct {
	Protocol    string
	Version     uint8
	PacketCount uint8
}

func (c CapabilityInfo) String() string {
	return fmt.Sprintf("%s/%d", c.Protocol, c.Version)
}

// Format renders the canonical enode URL for id@endpoint.
func Format(id ID, ep Endpoint) string {
	addr := ep.Addr
	if addr == nil {
		addr = net.IPv4zero
	}
	if ep.UDPPort != 0 && ep.UDPPort != ep.TCPPort {
		return fmt.Sprintf("enode://%s@%s:%d?discport=%d", id.String(), addr.String(), ep.TCPPort, ep.UDPPort)
	}
	return fmt.Sprintf("enode://%s@%s:%d", id.String(), addr.String(), ep.TCPPort)
}

// Parse parses the canonical `enode://<pubkey>@<ip>:<port>[?discport=N]`
// form used for boot and reserved nodes. The UDP port defaults to the TCP
// port when not given separately.
func Parse(rawurl string) (Entry, error) {
	const prefix = "enode://"
	if !strings.HasPrefix(rawurl, prefix) {
		return Entry{}, fmt.Errorf("invalid enode scheme: %q", rawurl)
	}
	rest := rawurl[len(prefix):]
	at := strings.IndexByte(rest, '@')
	if at < 0 {
		return Entry{}, fmt.Errorf("missing '@' in enode url: %q", rawurl)
	}
	hexID, hostport := rest[:at], rest[at+1:]
	if len(hexID) != 128 {
		return Entry{}, fmt.Errorf("node id must be 128 hex chars, got %d", len(hexID))
	}
	raw, err := hex.DecodeString(strings.ToLower(hexID))
	if err != nil {
		return Entry{}, fmt.Errorf("invalid node id hex: %w", err)
	}
	var id ID
	copy(id[:], raw)

	discport := ""
	if q := strings.IndexByte(hostport, '?'); q >= 0 {
		query := hostport[q+1:]
		hostport = hostport[:q]
		for _, kv := range strings.Split(query, "&") {
			if strings.HasPrefix(kv, "discport=") {
				discport = kv[len("discport="):]
			}
		}
	}
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid host:port in enode url: %w", err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return Entry{}, fmt.Errorf("cannot resolve %q: %w", host, err)
		}
		ip = resolved.IP
	}
	tcpPort, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid tcp port: %w", err)
	}
	udpPort := tcpPort
	if discport != "" {
		udpPort, err = strconv.ParseUint(discport, 10, 16)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid discport: %w", err)
		}
	}
	return Entry{
		ID: id,
		Endpoint: Endpoint{
			Addr:    ip,
			TCPPort: uint16(tcpPort),
			UDPPort: uint16(udpPort),
		},
	}, nil
}
