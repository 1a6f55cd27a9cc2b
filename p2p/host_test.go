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
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingHandler captures every callback it receives so tests can assert
// on the sequence without racing on shared state.
type recordingHandler struct {
	protocol string
	versions []uint8

	connected    chan SlabToken
	disconnected chan SlabToken
	packets      chan recordedPacket
}

type recordedPacket struct {
	token    SlabToken
	packetID byte
	data     []byte
}

func newRecordingHandler(protocol string, versions ...uint8) *recordingHandler {
	return &recordingHandler{
		protocol:     protocol,
		versions:     versions,
		connected:    make(chan SlabToken, 4),
		disconnected: make(chan SlabToken, 4),
		packets:      make(chan recordedPacket, 16),
	}
}

func (h *recordingHandler) Initialize(ctx *NetworkContext)                {}
func (h *recordingHandler) Connected(ctx *NetworkContext, t SlabToken)    { h.connected <- t }
func (h *recordingHandler) Disconnected(ctx *NetworkContext, t SlabToken) { h.disconnected <- t }
func (h *recordingHandler) Timeout(ctx *NetworkContext, timerToken int)   {}
func (h *recordingHandler) Read(ctx *NetworkContext, t SlabToken, packetID byte, data []byte) {
	cp := make([]byte, len(data))
	copy(cp, data)
	h.packets <- recordedPacket{token: t, packetID: packetID, data: cp}
}

func newTestNetworkConfig() NetworkConfiguration {
	return NetworkConfiguration{
		ListenAddress:    "127.0.0.1:0",
		DiscoveryEnabled: false,
		MinPeers:         1,
		MaxPeers:         8,
	}
}

func TestNewHostBindsListenerAndGeneratesIdentity(t *testing.T) {
	h, err := NewHost(newTestNetworkConfig())
	require.NoError(t, err)
	defer h.listener.Close()
	defer h.nodeTable.Close()

	assert.NotEqual(t, NodeID{}, h.info.ID())
	assert.NotZero(t, h.info.LocalEndpoint().TCPPort)
}

func TestHostConnectAndExchangePacket(t *testing.T) {
	cfgA := newTestNetworkConfig()
	a, err := NewHost(cfgA)
	require.NoError(t, err)
	defer a.Stop()

	cfgB := newTestNetworkConfig()
	b, err := NewHost(cfgB)
	require.NoError(t, err)
	defer b.Stop()

	handlerA := newRecordingHandler("corvid/sync", 1)
	handlerB := newRecordingHandler("corvid/sync", 1)
	a.AddHandler(handlerA, "corvid/sync", []uint8{1})
	b.AddHandler(handlerB, "corvid/sync", []uint8{1})

	bEndpoint := b.info.LocalEndpoint()
	bEntry := NodeEntry{ID: b.info.ID(), Endpoint: bEndpoint}
	a.nodeTable.AddNode(bEntry)
	a.reservedMu.Lock()
	a.reserved[bEntry.ID] = struct{}{}
	a.reservedMu.Unlock()

	a.Start()
	b.Start()

	var tokA, tokB SlabToken
	select {
	case tokA = <-handlerA.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("host A never reported a connected session")
	}
	select {
	case tokB = <-handlerB.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("host B never reported a connected session")
	}

	sess, ok := a.slab.Get(tokA)
	require.True(t, ok)
	peerID, ok := sess.ID()
	require.True(t, ok)
	ctx := &NetworkContext{host: a, protocol: "corvid/sync"}
	require.NoError(t, ctx.Send(peerID, 7, []byte("hello")))
	a.flushSession(tokA)

	select {
	case pkt := <-handlerB.packets:
		assert.Equal(t, byte(7), pkt.packetID)
		assert.Equal(t, []byte("hello"), pkt.data)
		assert.Equal(t, tokB, pkt.token)
	case <-time.After(2 * time.Second):
		t.Fatal("handler B never received the packet sent by A")
	}
}

func TestConnectPeersWithoutCandidatesDialsNothing(t *testing.T) {
	cfg := newTestNetworkConfig()
	cfg.MaxPeers = 0
	h, err := NewHost(cfg)
	require.NoError(t, err)
	defer h.listener.Close()
	defer h.nodeTable.Close()

	h.handlers["corvid/sync"] = &protocolHandlerEntry{handler: newRecordingHandler("corvid/sync", 1), protocol: "corvid/sync"}
	h.connectPeers()
	assert.Equal(t, 0, h.slab.Size(), "connectPeers must not dial when no candidate nodes are known")
}

func TestOnSessionReadyDeniesNonReservedInDenyMode(t *testing.T) {
	cfg := newTestNetworkConfig()
	cfg.NonReservedMode = NonReservedDeny
	h, err := NewHost(cfg)
	require.NoError(t, err)
	defer h.listener.Close()
	defer h.nodeTable.Close()

	h.handlers["corvid/sync"] = &protocolHandlerEntry{handler: newRecordingHandler("corvid/sync", 1), protocol: "corvid/sync"}

	server, client := net.Pipe()
	defer client.Close()
	go io.Copy(io.Discard, client) // Disconnect's frame must have a reader or Writable blocks

	nonce := h.info.NextNonce()
	token, err := h.slab.InsertWithOpt(func(token SlabToken) (Session, error) {
		return NewSession(server, token, nil, nonce, h.stats, h.info), nil
	})
	require.NoError(t, err)

	sess := testSession(t, h, token)
	sess.mu.Lock()
	sess.id = enodeIDFor(9)
	sess.haveID = true
	sess.state = StateReady
	sess.mu.Unlock()

	h.onSessionReady(token)

	_, stillPresent := h.slab.Get(token)
	assert.False(t, stillPresent, "non-reserved inbound session must be rejected when NonReservedMode is Deny")
}

// testSession returns the concrete *session behind a slab token so tests
// can manipulate handshake state directly without a live handshake.
func testSession(t *testing.T, h *Host, token SlabToken) *session {
	t.Helper()
	sess, ok := h.slab.Get(token)
	require.True(t, ok)
	s, ok := sess.(*session)
	require.True(t, ok)
	return s
}

func enodeIDFor(b byte) NodeID {
	var id NodeID
	id[0] = b
	return id
}
