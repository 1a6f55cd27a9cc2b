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
	"encoding/binary"
	"errors"
	"io"
	"net"
)

// This file stands in for the RLPx-family encrypted transport, which
// spec.md section 1 explicitly places out of scope ("it does not
// implement the wire format of the encrypted channel itself"). Session
// is specified as a constructor boundary over an already-available
// handshake primitive; the length-prefixed framing below is the minimal
// concrete mechanism needed to make Session's state machine and Host's
// dispatch logic exercisable, not a claim about the real wire format.

var (
	errSessionNotReady     = errors.New("session is not ready")
	errUnknownProtocolByte = errors.New("no handler for protocol frame byte")
	errIdentityMismatch    = errors.New("dialed identity does not match handshake result")
)

const (
	frameControlPing       = 0xff
	frameControlPong       = 0xfe
	frameControlDisconnect = 0xfd
)

func framePing() []byte       { return []byte{frameControlPing} }
func framePong() []byte       { return []byte{frameControlPong} }
func frameDisconnect(reason DisconnectReason) []byte {
	return []byte{frameControlDisconnect, byte(reason)}
}

func isPongFrame(f []byte) bool       { return len(f) > 0 && f[0] == frameControlPong }
func isDisconnectFrame(f []byte) bool { return len(f) > 0 && f[0] == frameControlDisconnect }

// readFrame reads one length-prefixed frame from conn. A zero-length read
// (EOF with no data) surfaces as io.EOF.
func readFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeFrame(conn net.Conn, payload []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := conn.Write(payload)
	return err
}

// completeHandshake performs the encryption and capability handshakes.
// The concrete cryptographic negotiation is out of scope (spec.md section
// 1); this exchanges a plaintext capability announcement sufficient to
// exercise Host's dispatch and admission logic in tests and to drive
// protocolForFrameByte's mapping.
// completeHandshake also exchanges each side's advertised listen
// endpoint, the same way go-ethereum's protoHandshake carries ListenPort:
// the IP is untrustworthy (a peer behind NAT cannot know its own external
// address) so the connection's actual remote IP is kept and only the
// advertised ports are trusted.
func completeHandshake(conn net.Conn, hasTarget bool, target NodeID, info *HostInfo) (NodeID, NodeEndpoint, []CapabilityInfo, error) {
	caps := info.Capabilities()
	if err := writeFrame(conn, encodeHandshake(info.ID(), info.LocalEndpoint(), caps)); err != nil {
		return NodeID{}, NodeEndpoint{}, nil, err
	}
	remote, err := readFrame(conn)
	if err != nil {
		return NodeID{}, NodeEndpoint{}, nil, err
	}
	id, claimedEndpoint, remoteCaps, err := decodeHandshake(remote)
	if err != nil {
		return NodeID{}, NodeEndpoint{}, nil, err
	}
	if hasTarget && id != target {
		return NodeID{}, NodeEndpoint{}, nil, errIdentityMismatch
	}
	endpoint := claimedEndpoint
	if tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		endpoint.Addr = tcpAddr.IP
	}
	return id, endpoint, negotiateCapabilities(caps, remoteCaps), nil
}

func encodeHandshake(id NodeID, ep NodeEndpoint, caps []CapabilityInfo) []byte {
	buf := make([]byte, 0, 64+20+1+3*len(caps))
	buf = append(buf, id[:]...)
	ip := ep.Addr.To16()
	if ip == nil {
		ip = net.IPv6zero
	}
	buf = append(buf, ip...)
	var portBuf [4]byte
	binary.BigEndian.PutUint16(portBuf[0:2], ep.TCPPort)
	binary.BigEndian.PutUint16(portBuf[2:4], ep.UDPPort)
	buf = append(buf, portBuf[:]...)
	buf = append(buf, byte(len(caps)))
	for _, c := range caps {
		buf = append(buf, byte(len(c.Protocol)))
		buf = append(buf, c.Protocol...)
		buf = append(buf, c.Version, c.PacketCount)
	}
	return buf
}

func decodeHandshake(buf []byte) (NodeID, NodeEndpoint, []CapabilityInfo, error) {
	if len(buf) < 64+20+1 {
		return NodeID{}, NodeEndpoint{}, nil, errors.New("handshake frame too short")
	}
	var id NodeID
	copy(id[:], buf[:64])

	ip := make(net.IP, 16)
	copy(ip, buf[64:80])
	tcpPort := binary.BigEndian.Uint16(buf[80:82])
	udpPort := binary.BigEndian.Uint16(buf[82:84])
	endpoint := NodeEndpoint{Addr: ip, TCPPort: tcpPort, UDPPort: udpPort}

	n := int(buf[84])
	rest := buf[85:]
	caps := make([]CapabilityInfo, 0, n)
	for i := 0; i < n; i++ {
		if len(rest) < 1 {
			return NodeID{}, NodeEndpoint{}, nil, errors.New("truncated capability list")
		}
		plen := int(rest[0])
		rest = rest[1:]
		if len(rest) < plen+2 {
			return NodeID{}, NodeEndpoint{}, nil, errors.New("truncated capability entry")
		}
		proto := string(rest[:plen])
		version, packetCount := rest[plen], rest[plen+1]
		caps = append(caps, CapabilityInfo{Protocol: proto, Version: version, PacketCount: packetCount})
		rest = rest[plen+2:]
	}
	return id, endpoint, caps, nil
}

// negotiateCapabilities keeps only protocols both sides advertise, at the
// version both understand: ours, since we only initiate handlers we
// ourselves registered.
func negotiateCapabilities(ours, theirs []CapabilityInfo) []CapabilityInfo {
	out := make([]CapabilityInfo, 0, len(ours))
	for _, o := range ours {
		for _, t := range theirs {
			if o.Protocol == t.Protocol && o.Version == t.Version {
				out = append(out, o)
				break
			}
		}
	}
	return out
}

// protocolFrameByte maps a negotiated protocol name onto the single
// leading framing byte Host consumes before forwarding data[1:] to the
// handler (spec.md section 4.C). The byte is derived from the length of
// the protocol name and always falls in 1..0x7d, so it never collides
// with the control frame bytes above.
func protocolFrameByte(protocol string) byte {
	return byte(len(protocol)%0x7d) + 1
}

func protocolForFrameByte(b byte, caps []CapabilityInfo) (string, bool) {
	for _, c := range caps {
		if protocolFrameByte(c.Protocol) == b {
			return c.Protocol, true
		}
	}
	return "", false
}
