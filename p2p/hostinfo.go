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
	"crypto/ecdsa"
	"crypto/rand"
	"sync"

	"golang.org/x/crypto/sha3"

	"github.com/corvidchain/corvid/p2p/enode"
)

// NodeID, NodeEndpoint, NodeEntry and CapabilityInfo are the identity
// value types shared with the discover and nodetable packages; they live
// in p2p/enode so none of the three need to import one another, and are
// aliased here so the rest of package p2p can refer to them unqualified,
// matching spec.md section 3's naming.
type (
	NodeID         = enode.ID
	NodeEndpoint   = enode.Endpoint
	NodeEntry      = enode.Entry
	CapabilityInfo = enode.CapabilityInfo
)

// PubkeyToNodeID converts a public key into the wire NodeID form.
func PubkeyToNodeID(pub *ecdsa.PublicKey) NodeID { return enode.FromPubkey(pub) }

// ProtocolVersion is the base wire protocol version negotiated by every
// session regardless of the application sub-protocols it carries.
const ProtocolVersion = 5

// ClientVersion identifies this implementation in the protocol handshake.
var ClientVersion = "corvid/v1.0/go"

// HostInfo is the host's identity record: its key pair, capabilities,
// endpoints, and the nonce chain used to seed each new session's
// handshake. Read-mostly; writers take the exclusive side of mu.
type HostInfo struct {
	mu sync.RWMutex

	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
	id         NodeID

	nonce [32]byte

	protocolVersion int
	clientVersion   string
	capabilities    []CapabilityInfo

	localEndpoint  NodeEndpoint
	publicEndpoint *NodeEndpoint
}

// NewHostInfo derives identity from a secp256k1 private key and seeds the
// nonce chain from fresh entropy, matching host.rs's HostInfo::next_nonce
// requirement that the nonce sequence never repeat within a process
// lifetime (seeding from crypto/rand, then advancing only by hashing).
func NewHostInfo(key *ecdsa.PrivateKey, local NodeEndpoint) *HostInfo {
	hi := &HostInfo{
		privateKey:      key,
		publicKey:       &key.PublicKey,
		id:              PubkeyToNodeID(&key.PublicKey),
		protocolVersion: ProtocolVersion,
		clientVersion:   ClientVersion,
		localEndpoint:   local,
	}
	rand.Read(hi.nonce[:])
	return hi
}

func (h *HostInfo) ID() NodeID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.id
}

func (h *HostInfo) PrivateKey() *ecdsa.PrivateKey {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.privateKey
}

func (h *HostInfo) LocalEndpoint() NodeEndpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.localEndpoint
}

func (h *HostInfo) PublicEndpoint() (NodeEndpoint, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.publicEndpoint == nil {
		return NodeEndpoint{}, false
	}
	return *h.publicEndpoint, true
}

// SetPublicEndpoint records the externally reachable endpoint once NAT
// traversal or interface selection has determined it. Idempotent.
func (h *HostInfo) SetPublicEndpoint(ep NodeEndpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publicEndpoint = &ep
}

// Capabilities returns a snapshot of the currently registered capability
// list. Safe to call while handlers are being registered concurrently.
func (h *HostInfo) Capabilities() []CapabilityInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]CapabilityInfo, len(h.capabilities))
	copy(out, h.capabilities)
	return out
}

// AddCapability appends a (protocol, version) pair to the advertised
// capability list, called once per protocol version on AddHandler.
func (h *HostInfo) AddCapability(c CapabilityInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.capabilities = append(h.capabilities, c)
}

// HaveCapability reports whether the local host advertises protocol p.
func (h *HostInfo) HaveCapability(protocol string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.capabilities {
		if c.Protocol == protocol {
			return true
		}
	}
	return false
}

// NextNonce rehashes the current nonce with Keccak-256 and returns the new
// value, guaranteeing the sequence never repeats within the process
// lifetime (the hash is one-way and the state strictly advances).
func (h *HostInfo) NextNonce() [32]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := sha3.NewLegacyKeccak256()
	d.Write(h.nonce[:])
	sum := d.Sum(nil)
	copy(h.nonce[:], sum)
	return h.nonce
}

// ClientVersionString returns the advertised client identifier.
func (h *HostInfo) ClientVersionString() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clientVersion
}

// ExternalURL renders the canonical enode URL for this host using its
// public endpoint if known, else its local listening endpoint.
func (h *HostInfo) ExternalURL() string {
	ep, ok := h.PublicEndpoint()
	if !ok {
		ep = h.LocalEndpoint()
	}
	return enode.Format(h.ID(), ep)
}

// LocalURL renders the enode URL for the local listening endpoint,
// regardless of whether a public endpoint has since been discovered.
func (h *HostInfo) LocalURL() string {
	return enode.Format(h.ID(), h.LocalEndpoint())
}

// ParseEnode parses the canonical enode URL form, wrapping enode.Parse's
// error into the taxonomy from spec.md section 7.
func ParseEnode(rawurl string) (NodeEntry, error) {
	e, err := enode.Parse(rawurl)
	if err != nil {
		return NodeEntry{}, &Error{Kind: ErrConfiguration, Err: err}
	}
	return e, nil
}
