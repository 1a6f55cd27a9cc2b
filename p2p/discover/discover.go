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

// Package discover implements the UDP-based Kademlia-style node discovery
// driver: it maintains a bucketed view of the network reachable within a
// bounded number of hops and emits TableUpdates as it learns about peers.
// Peers it drops from its buckets are not reported as removals.
package discover

import (
	"container/list"
	"crypto/ecdsa"
	"net"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/sha3"

	"github.com/corvidchain/corvid/log"
	"github.com/corvidchain/corvid/p2p/enode"
	"github.com/corvidchain/corvid/p2p/nodetable"
)

const (
	alpha             = 3   // Kademlia concurrency factor
	bucketSize        = 16  // max live entries per bucket
	hashBits          = 256 // distance is measured over keccak256(id)
	nBuckets          = hashBits + 1

	bondingTimeout  = 500 * time.Millisecond
	findNodeTimeout = 500 * time.Millisecond
	maxFindFailures = 5
	bondCacheSize   = 1024
)

// outPacket is a queued outbound UDP write, drained by Writable the way
// session.Writable drains its own write queue.
type outPacket struct {
	addr    *net.UDPAddr
	payload []byte
}

type bucketEntry struct {
	enode.Entry
	addedAt   time.Time
	lastPong  time.Time
	fails     int
}

type bucket struct {
	entries []*bucketEntry
}

// pendingPing tracks a ping awaiting its pong, so the driver can complete
// bonding and, for a freshly-contacted node, admit it into a bucket.
type pendingPing struct {
	digest  [32]byte
	entry   enode.Entry
	done    chan bool
}

// pendingFind tracks a findnode awaiting its neighbors reply.
type pendingFind struct {
	target enode.ID
	result chan []enode.Entry
}

// Driver is the production Discovery implementation described by
// spec.md section 4.D. It owns one UDP socket and a Kademlia bucket
// table keyed by distance from the local node's keccak256(ID).
type Driver struct {
	mu      sync.Mutex
	buckets [nBuckets]*bucket

	priv   *ecdsa.PrivateKey
	selfID enode.ID
	selfH  [32]byte // keccak256(selfID), the distance metric's origin
	local  enode.Endpoint

	conn *net.UDPConn

	outMu sync.Mutex
	out   *list.List // queue of *outPacket

	pendingMu sync.Mutex
	pings     map[[32]byte]*pendingPing // keyed by ping digest
	finds     map[enode.ID]*pendingFind

	bonding *lru.Cache // keys recently bonded or bonding, avoids duplicate concurrent bonds

	seenDB *leveldb.DB // optional persisted history of contacted nodes

	lookupQueue []enode.ID // pending lookup targets for Round to progress

	log log.Logger
}

// New binds a UDP socket at localAddr and returns a Driver seeded with no
// nodes; callers seed it via InitNodeList / AddNode before calling Refresh.
// seenNodesPath == "" disables the optional persisted contact history.
func New(priv *ecdsa.PrivateKey, localAddr *net.UDPAddr, public enode.Endpoint, seenNodesPath string) (*Driver, error) {
	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, err
	}
	bonding, err := lru.New(bondCacheSize)
	if err != nil {
		conn.Close()
		return nil, err
	}
	d := &Driver{
		priv:    priv,
		selfID:  pubkeyToID(&priv.PublicKey),
		local:   public,
		conn:    conn,
		out:     list.New(),
		pings:   make(map[[32]byte]*pendingPing),
		finds:   make(map[enode.ID]*pendingFind),
		bonding: bonding,
		log:     log.New("component", "discover"),
	}
	d.selfH = keccak(d.selfID[:])
	for i := range d.buckets {
		d.buckets[i] = &bucket{}
	}
	if seenNodesPath != "" {
		db, err := leveldb.OpenFile(seenNodesPath, nil)
		if err != nil {
			d.log.Warn("failed to open discovery seen-node database, continuing without it", "err", err)
		} else {
			d.seenDB = db
		}
	}
	return d, nil
}

func pubkeyToID(pub *ecdsa.PublicKey) enode.ID { return enode.FromPubkey(pub) }

func keccak(b []byte) [32]byte {
	d := sha3.NewLegacyKeccak256()
	d.Write(b)
	var out [32]byte
	copy(out[:], d.Sum(nil))
	return out
}

// logdist returns hashBits minus the length of the common prefix between
// a and b (0 when a == b), i.e. the Kademlia bucket index a node at that
// XOR distance belongs in.
func logdist(a, b [32]byte) int {
	lz := 0
	for i := range a {
		x := a[i] ^ b[i]
		if x == 0 {
			lz += 8
			continue
		}
		for x&0x80 == 0 {
			lz++
			x <<= 1
		}
		break
	}
	return hashBits - lz
}

func (d *Driver) distanceOf(id enode.ID) int {
	return logdist(d.selfH, keccak(id[:]))
}

// Close releases the UDP socket and seen-node database, if any.
func (d *Driver) Close() error {
	err := d.conn.Close()
	if d.seenDB != nil {
		d.seenDB.Close()
	}
	return err
}

// AddNode offers entry to the bucket table, bonding with it first if it
// isn't already a live entry, matching spec.md section 4.D.
func (d *Driver) AddNode(entry enode.Entry) {
	if entry.ID == d.selfID {
		return
	}
	go d.bond(entry)
}

// InitNodeList seeds the table with boot nodes at startup.
func (d *Driver) InitNodeList(entries []enode.Entry) {
	for _, e := range entries {
		d.AddNode(e)
	}
}

// AddNodeList merges a batch of entries learned from elsewhere (e.g. a
// neighbors reply) into the table.
func (d *Driver) AddNodeList(entries []enode.Entry) {
	for _, e := range entries {
		d.AddNode(e)
	}
}

func (d *Driver) bucketFor(id enode.ID) *bucket {
	return d.buckets[d.distanceOf(id)]
}

// addLiveLocked inserts or refreshes n in its bucket, evicting the least
// recently contacted entry if the bucket is full and the incoming node
// just proved liveness with a pong.
func (d *Driver) addLiveLocked(e enode.Entry) {
	b := d.bucketFor(e.ID)
	for _, existing := range b.entries {
		if existing.ID == e.ID {
			existing.Endpoint = e.Endpoint
			existing.lastPong = time.Now()
			existing.fails = 0
			return
		}
	}
	entry := &bucketEntry{Entry: e, addedAt: time.Now(), lastPong: time.Now()}
	if len(b.entries) < bucketSize {
		b.entries = append(b.entries, entry)
		return
	}
	// Evict the stalest entry rather than refuse the new one outright;
	// a node that has never answered a liveness check is worth less
	// than one we just bonded with.
	oldestIdx, oldest := 0, b.entries[0]
	for i, ex := range b.entries {
		if ex.lastPong.Before(oldest.lastPong) {
			oldestIdx, oldest = i, ex
		}
	}
	b.entries[oldestIdx] = entry
}

func (d *Driver) removeLocked(id enode.ID) {
	b := d.bucketFor(id)
	for i, e := range b.entries {
		if e.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return
		}
	}
}

// bond performs the ping/pong liveness exchange required before a node is
// trusted enough to enter a bucket or to be sent a findnode, mirroring
// the table.go bonding process this package is grounded on.
func (d *Driver) bond(e enode.Entry) bool {
	key := e.ID.String()
	if _, already := d.bonding.Get(key); already {
		return false
	}
	d.bonding.Add(key, struct{}{})
	defer d.bonding.Remove(key)

	done := make(chan bool, 1)
	digest, err := d.sendPing(e, done)
	if err != nil {
		return false
	}
	_ = digest

	select {
	case ok := <-done:
		if ok {
			d.mu.Lock()
			d.addLiveLocked(e)
			d.mu.Unlock()
			if d.seenDB != nil {
				d.seenDB.Put(e.ID[:], []byte{1}, nil)
			}
		}
		return ok
	case <-time.After(bondingTimeout):
		d.pendingMu.Lock()
		delete(d.pings, digest)
		d.pendingMu.Unlock()
		d.noteFailure(e.ID)
		return false
	}
}

func (d *Driver) noteFailure(id enode.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.bucketFor(id)
	for _, e := range b.entries {
		if e.ID == id {
			e.fails++
			if e.fails > maxFindFailures {
				d.removeLocked(id)
			}
			return
		}
	}
}

func (d *Driver) sendPing(e enode.Entry, done chan bool) ([32]byte, error) {
	body := encodePing(pingPacket{
		From:       d.local,
		To:         e.Endpoint,
		Expiration: time.Now().Add(expirationWindow).Unix(),
	})
	raw, digest, err := buildPacket(packetPing, body, d.priv, d.selfID)
	if err != nil {
		return [32]byte{}, err
	}
	d.pendingMu.Lock()
	d.pings[digest] = &pendingPing{digest: digest, entry: e, done: done}
	d.pendingMu.Unlock()
	d.enqueue(e.Endpoint.UDPAddr(), raw)
	return digest, nil
}

func (d *Driver) enqueue(addr *net.UDPAddr, payload []byte) {
	d.outMu.Lock()
	d.out.PushBack(&outPacket{addr: addr, payload: payload})
	d.outMu.Unlock()
}

// Writable drains the outbound packet queue, matching the same
// queue-then-flush idiom used by Session.Writable.
func (d *Driver) Writable() error {
	for {
		d.outMu.Lock()
		front := d.out.Front()
		if front == nil {
			d.outMu.Unlock()
			return nil
		}
		d.out.Remove(front)
		d.outMu.Unlock()

		pkt := front.Value.(*outPacket)
		if _, err := d.conn.WriteToUDP(pkt.payload, pkt.addr); err != nil {
			return err
		}
	}
}

// Readable blocks for the next inbound UDP datagram, processes it, and
// returns any TableUpdates the processing produced: a node that answered
// a ping, or the nodes listed in a neighbors reply. Only Added is filled;
// entries dropped from a bucket are not reported in Removed.
func (d *Driver) Readable() (*nodetable.TableUpdates, error) {
	buf := make([]byte, 1280)
	n, addr, err := d.conn.ReadFromUDP(buf)
	if err != nil {
		return nil, err
	}
	return d.handlePacket(buf[:n], addr)
}

func (d *Driver) handlePacket(raw []byte, addr *net.UDPAddr) (*nodetable.TableUpdates, error) {
	kind, sender, body, digest, err := parsePacket(raw)
	if err != nil {
		return nil, nil // malformed/unauthenticated packets are dropped silently
	}
	switch kind {
	case packetPing:
		ping, err := decodePing(body)
		if err != nil || expired(ping.Expiration) {
			return nil, nil
		}
		pong := encodePong(pongPacket{
			To:         enode.Endpoint{Addr: addr.IP, TCPPort: uint16(addr.Port), UDPPort: uint16(addr.Port)},
			PingHash:   digest,
			Expiration: time.Now().Add(expirationWindow).Unix(),
		})
		raw, _, err := buildPacket(packetPong, pong, d.priv, d.selfID)
		if err == nil {
			d.enqueue(addr, raw)
		}
		entry := enode.Entry{ID: sender, Endpoint: enode.Endpoint{Addr: addr.IP, TCPPort: ping.From.TCPPort, UDPPort: uint16(addr.Port)}}
		go d.bond(entry)
		return nil, nil

	case packetPong:
		pong, err := decodePong(body)
		if err != nil || expired(pong.Expiration) {
			return nil, nil
		}
		d.pendingMu.Lock()
		p, ok := d.pings[pong.PingHash]
		if ok {
			delete(d.pings, pong.PingHash)
		}
		d.pendingMu.Unlock()
		if ok {
			p.done <- true
			return &nodetable.TableUpdates{Added: []enode.Entry{p.entry}}, nil
		}
		return nil, nil

	case packetFindNode:
		fn, err := decodeFindNode(body)
		if err != nil || expired(fn.Expiration) {
			return nil, nil
		}
		closest := d.closest(fn.Target, bucketSize)
		raw, _, err := buildPacket(packetNeighbors, encodeNeighbors(neighborsPacket{
			Nodes:      closest,
			Expiration: time.Now().Add(expirationWindow).Unix(),
		}), d.priv, d.selfID)
		if err == nil {
			d.enqueue(addr, raw)
		}
		return nil, nil

	case packetNeighbors:
		nb, err := decodeNeighbors(body)
		if err != nil || expired(nb.Expiration) {
			return nil, nil
		}
		d.pendingMu.Lock()
		p, ok := d.finds[sender]
		if ok {
			delete(d.finds, sender)
		}
		d.pendingMu.Unlock()
		if ok {
			p.result <- nb.Nodes
		}
		for _, e := range nb.Nodes {
			d.AddNode(e)
		}
		return &nodetable.TableUpdates{Added: nb.Nodes}, nil

	default:
		return nil, errUnknownPacket
	}
}

// closest returns up to n entries from the table ordered by distance to
// target, the local node's answer to a findnode request.
func (d *Driver) closest(target enode.ID, n int) []enode.Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	targetH := keccak(target[:])
	type scored struct {
		entry enode.Entry
		dist  int
	}
	var all []scored
	for _, b := range d.buckets {
		for _, e := range b.entries {
			all = append(all, scored{entry: e.Entry, dist: logdist(targetH, keccak(e.ID[:]))})
		}
	}
	// simple selection sort over a typically small candidate set (at most
	// nBuckets*bucketSize, bounded well below the cost of a full sort
	// mattering)
	for i := 0; i < len(all) && i < n; i++ {
		min := i
		for j := i + 1; j < len(all); j++ {
			if all[j].dist < all[min].dist {
				min = j
			}
		}
		all[i], all[min] = all[min], all[i]
	}
	if len(all) > n {
		all = all[:n]
	}
	out := make([]enode.Entry, len(all))
	for i, s := range all {
		out[i] = s.entry
	}
	return out
}

// findNode sends a findnode query to e for target and waits for the
// neighbors reply, used by Round to progress an in-flight lookup.
func (d *Driver) findNode(e enode.Entry, target enode.ID) []enode.Entry {
	body := encodeFindNode(findNodePacket{Target: target, Expiration: time.Now().Add(expirationWindow).Unix()})
	raw, _, err := buildPacket(packetFindNode, body, d.priv, d.selfID)
	if err != nil {
		return nil
	}
	result := make(chan []enode.Entry, 1)
	d.pendingMu.Lock()
	d.finds[e.ID] = &pendingFind{target: target, result: result}
	d.pendingMu.Unlock()
	d.enqueue(e.Endpoint.UDPAddr(), raw)

	select {
	case nodes := <-result:
		return nodes
	case <-time.After(findNodeTimeout):
		d.pendingMu.Lock()
		delete(d.finds, e.ID)
		d.pendingMu.Unlock()
		return nil
	}
}

// Refresh starts a full table refresh: it queues a lookup of the local
// node's own ID (the classic Kademlia self-lookup, which populates the
// buckets closest to home) for Round to progress, and re-pings aging
// entries. Driven by the DISCOVERY_REFRESH timer (7200 ms, spec.md
// section 6).
func (d *Driver) Refresh() {
	d.mu.Lock()
	d.lookupQueue = append(d.lookupQueue, d.selfID)
	stale := make([]enode.Entry, 0)
	cutoff := time.Now().Add(-autoRefreshStaleAge)
	for _, b := range d.buckets {
		for _, e := range b.entries {
			if e.lastPong.Before(cutoff) {
				stale = append(stale, e.Entry)
			}
		}
	}
	d.mu.Unlock()
	for _, e := range stale {
		go d.bond(e)
	}
}

const autoRefreshStaleAge = 1 * time.Hour

// Round progresses one step of the current lookup: it pops the next
// queued target, queries the alpha closest known nodes, and folds in
// whatever they return. Driven by the DISCOVERY_ROUND timer (300 ms,
// spec.md section 6).
func (d *Driver) Round() (*nodetable.TableUpdates, error) {
	d.mu.Lock()
	if len(d.lookupQueue) == 0 {
		d.mu.Unlock()
		return nil, nil
	}
	target := d.lookupQueue[0]
	d.lookupQueue = d.lookupQueue[1:]
	d.mu.Unlock()

	closest := d.closest(target, alpha)
	if len(closest) == 0 {
		return nil, nil
	}
	var added []enode.Entry
	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, e := range closest {
		wg.Add(1)
		go func(e enode.Entry) {
			defer wg.Done()
			nodes := d.findNode(e, target)
			mu.Lock()
			added = append(added, nodes...)
			mu.Unlock()
		}(e)
	}
	wg.Wait()
	if len(added) == 0 {
		return nil, nil
	}
	return &nodetable.TableUpdates{Added: added}, nil
}
