// Copyright 2015 The go-ethereum Authors
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

package discover

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"math/big"
	"net"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/corvidchain/corvid/p2p/enode"
)

// Packet kinds for the UDP node-discovery protocol. The concrete byte
// layout is a private implementation detail — spec.md section 6 only
// guarantees the host feeds Discovery's readable/writable hooks on
// socket events, not a specific wire format.
const (
	packetPing byte = iota + 1
	packetPong
	packetFindNode
	packetNeighbors
)

const expirationWindow = 20 * time.Second

var (
	errPacketTooShort  = errors.New("discover: packet too short")
	errBadSignature    = errors.New("discover: bad packet signature")
	errExpiredPacket   = errors.New("discover: packet expired")
	errUnknownPacket   = errors.New("discover: unknown packet kind")
)

// Every packet starts with a common header written by buildPacket: kind,
// signature, and the sender's claimed identity, carried in the clear and
// checked against the signature so the receiver never has to recover a
// key from a raw signature. The structs below are the bodies that follow
// that header.
type pingPacket struct {
	From       enode.Endpoint
	To         enode.Endpoint
	Expiration int64
}

type pongPacket struct {
	To         enode.Endpoint
	PingHash   [32]byte
	Expiration int64
}

type findNodePacket struct {
	Target     enode.ID
	Expiration int64
}

type neighborsPacket struct {
	Nodes      []enode.Entry
	Expiration int64
}

func encodeEndpoint(buf []byte, ep enode.Endpoint) []byte {
	ip := ep.Addr.To16()
	if ip == nil {
		ip = net.IPv6zero
	}
	buf = append(buf, ip...)
	var portBuf [4]byte
	binary.BigEndian.PutUint16(portBuf[0:2], ep.TCPPort)
	binary.BigEndian.PutUint16(portBuf[2:4], ep.UDPPort)
	return append(buf, portBuf[:]...)
}

func decodeEndpoint(buf []byte) (enode.Endpoint, []byte, error) {
	if len(buf) < 20 {
		return enode.Endpoint{}, nil, errPacketTooShort
	}
	ip := make(net.IP, 16)
	copy(ip, buf[:16])
	tcp := binary.BigEndian.Uint16(buf[16:18])
	udp := binary.BigEndian.Uint16(buf[18:20])
	return enode.Endpoint{Addr: ip, TCPPort: tcp, UDPPort: udp}, buf[20:], nil
}

func encodePing(p pingPacket) []byte {
	buf := make([]byte, 0, 48)
	buf = encodeEndpoint(buf, p.From)
	buf = encodeEndpoint(buf, p.To)
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(p.Expiration))
	return append(buf, exp[:]...)
}

func decodePing(buf []byte) (pingPacket, error) {
	from, rest, err := decodeEndpoint(buf)
	if err != nil {
		return pingPacket{}, err
	}
	to, rest, err := decodeEndpoint(rest)
	if err != nil {
		return pingPacket{}, err
	}
	if len(rest) < 8 {
		return pingPacket{}, errPacketTooShort
	}
	exp := int64(binary.BigEndian.Uint64(rest[:8]))
	return pingPacket{From: from, To: to, Expiration: exp}, nil
}

func encodePong(p pongPacket) []byte {
	buf := make([]byte, 0, 60)
	buf = encodeEndpoint(buf, p.To)
	buf = append(buf, p.PingHash[:]...)
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(p.Expiration))
	return append(buf, exp[:]...)
}

func decodePong(buf []byte) (pongPacket, error) {
	to, rest, err := decodeEndpoint(buf)
	if err != nil {
		return pongPacket{}, err
	}
	if len(rest) < 32+8 {
		return pongPacket{}, errPacketTooShort
	}
	var hash [32]byte
	copy(hash[:], rest[:32])
	exp := int64(binary.BigEndian.Uint64(rest[32:40]))
	return pongPacket{To: to, PingHash: hash, Expiration: exp}, nil
}

func encodeFindNode(p findNodePacket) []byte {
	buf := make([]byte, 0, 72)
	buf = append(buf, p.Target[:]...)
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(p.Expiration))
	return append(buf, exp[:]...)
}

func decodeFindNode(buf []byte) (findNodePacket, error) {
	if len(buf) < 64+8 {
		return findNodePacket{}, errPacketTooShort
	}
	var target enode.ID
	copy(target[:], buf[:64])
	exp := int64(binary.BigEndian.Uint64(buf[64:72]))
	return findNodePacket{Target: target, Expiration: exp}, nil
}

func encodeNeighbors(p neighborsPacket) []byte {
	buf := make([]byte, 0, 4+len(p.Nodes)*(64+20))
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(p.Nodes)))
	buf = append(buf, countBuf[:]...)
	for _, n := range p.Nodes {
		buf = encodeEndpoint(buf, n.Endpoint)
		buf = append(buf, n.ID[:]...)
	}
	var exp [8]byte
	binary.BigEndian.PutUint64(exp[:], uint64(p.Expiration))
	return append(buf, exp[:]...)
}

func decodeNeighbors(buf []byte) (neighborsPacket, error) {
	if len(buf) < 4 {
		return neighborsPacket{}, errPacketTooShort
	}
	count := binary.BigEndian.Uint32(buf[:4])
	rest := buf[4:]
	nodes := make([]enode.Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		ep, r, err := decodeEndpoint(rest)
		if err != nil {
			return neighborsPacket{}, err
		}
		if len(r) < 64 {
			return neighborsPacket{}, errPacketTooShort
		}
		var id enode.ID
		copy(id[:], r[:64])
		nodes = append(nodes, enode.Entry{ID: id, Endpoint: ep})
		rest = r[64:]
	}
	if len(rest) < 8 {
		return neighborsPacket{}, errPacketTooShort
	}
	exp := int64(binary.BigEndian.Uint64(rest[:8]))
	return neighborsPacket{Nodes: nodes, Expiration: exp}, nil
}

// buildPacket signs body with priv and prefixes it with the packet kind,
// a fixed-size signature, and the signer's claimed ID, so the receiver
// can verify authenticity without a signature-recovery step.
func buildPacket(kind byte, body []byte, priv *ecdsa.PrivateKey, selfID enode.ID) ([]byte, [32]byte, error) {
	digest := packetDigest(kind, selfID, body)
	r, s, err := signDigest(priv, digest)
	if err != nil {
		return nil, [32]byte{}, err
	}
	out := make([]byte, 0, 1+64+64+len(body))
	out = append(out, kind)
	out = append(out, padToN(r.Bytes(), 32)...)
	out = append(out, padToN(s.Bytes(), 32)...)
	out = append(out, selfID[:]...)
	out = append(out, body...)
	return out, digest, nil
}

// parsePacket verifies the signature and returns the kind, sender ID,
// body, and the digest that was signed (used to correlate a pong with
// the ping that provoked it).
func parsePacket(raw []byte) (kind byte, sender enode.ID, body []byte, digest [32]byte, err error) {
	if len(raw) < 1+32+32+64 {
		return 0, enode.ID{}, nil, [32]byte{}, errPacketTooShort
	}
	kind = raw[0]
	r := new(big.Int).SetBytes(raw[1:33])
	s := new(big.Int).SetBytes(raw[33:65])
	copy(sender[:], raw[65:129])
	body = raw[129:]

	digest = packetDigest(kind, sender, body)
	if !verifyDigest(sender.Pubkey(), digest, r, s) {
		return 0, enode.ID{}, nil, [32]byte{}, errBadSignature
	}
	return kind, sender, body, digest, nil
}

func packetDigest(kind byte, sender enode.ID, body []byte) [32]byte {
	d := sha3.New256()
	d.Write([]byte{kind})
	d.Write(sender[:])
	d.Write(body)
	var out [32]byte
	copy(out[:], d.Sum(nil))
	return out
}

func padToN(b []byte, n int) []byte {
	if len(b) >= n {
		return b[len(b)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(b):], b)
	return out
}

func expired(t int64) bool {
	return time.Unix(t, 0).Before(time.Now().Add(-expirationWindow))
}

func signDigest(priv *ecdsa.PrivateKey, digest [32]byte) (r, s *big.Int, err error) {
	return ecdsa.Sign(rand.Reader, priv, digest[:])
}

func verifyDigest(pub *ecdsa.PublicKey, digest [32]byte, r, s *big.Int) bool {
	return ecdsa.Verify(pub, digest[:], r, s)
}
