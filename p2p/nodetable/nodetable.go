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

// Package nodetable holds the persisted registry of known peer endpoints:
// the dialing candidate pool Host draws from between discovery rounds.
package nodetable

import (
	"encoding/json"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/corvidchain/corvid/log"
	"github.com/corvidchain/corvid/p2p/enode"
)

// failureThreshold is the note_failure count past which a node is demoted
// to useless and dropped from dialing candidates.
const failureThreshold = 5

// Node is an enode.Entry plus the local-only bookkeeping used to decide
// dialing order and to age out unreachable peers.
type Node struct {
	Entry enode.Entry

	LastAttempted time.Time
	LastContactOK bool
	Failures      int
	Useless       bool
}

// record is the on-disk encoding of a Node, kept independent of the
// in-memory struct so field additions don't require a migration.
type record struct {
	Addr          string    `json:"addr"`
	TCPPort       uint16    `json:"tcp_port"`
	UDPPort       uint16    `json:"udp_port"`
	LastAttempted time.Time `json:"last_attempted"`
	LastContactOK bool      `json:"last_contact_ok"`
	Failures      int       `json:"failures"`
	Useless       bool      `json:"useless"`
}

const dbKeyPrefix = "corvid/nodetable/"

// NodeTable is the persisted NodeId -> Node registry described in
// spec.md section 4.B. Nil db means in-memory only (no net_config_path
// configured).
type NodeTable struct {
	mu    sync.RWMutex
	nodes map[enode.ID]*Node

	db  *leveldb.DB
	log log.Logger
}

// Open loads (or creates) the table backed by a LevelDB instance rooted at
// path. path == "" yields an in-memory-only table, matching spec.md's
// "net_config_path (optional)".
func Open(path string) (*NodeTable, error) {
	nt := &NodeTable{
		nodes: make(map[enode.ID]*Node),
		log:   log.New("component", "nodetable"),
	}
	if path == "" {
		return nt, nil
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	nt.db = db
	if err := nt.load(); err != nil {
		nt.log.Warn("failed to load persisted node table, starting empty", "err", err)
	}
	return nt, nil
}

func (nt *NodeTable) load() error {
	iter := nt.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) != len(dbKeyPrefix)+64 {
			continue
		}
		var id enode.ID
		copy(id[:], key[len(dbKeyPrefix):])

		var rec record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			continue
		}
		nt.nodes[id] = &Node{
			Entry: enode.Entry{
				ID: id,
				Endpoint: enode.Endpoint{
					Addr:    net.ParseIP(rec.Addr),
					TCPPort: rec.TCPPort,
					UDPPort: rec.UDPPort,
				},
			},
			LastAttempted: rec.LastAttempted,
			LastContactOK: rec.LastContactOK,
			Failures:      rec.Failures,
			Useless:       rec.Useless,
		}
	}
	return iter.Error()
}

func dbKey(id enode.ID) []byte {
	b := make([]byte, 0, len(dbKeyPrefix)+64)
	b = append(b, dbKeyPrefix...)
	b = append(b, id[:]...)
	return b
}

// persistLocked writes n to the backing store, if any. Called with mu held.
func (nt *NodeTable) persistLocked(n *Node) {
	if nt.db == nil {
		return
	}
	addr := ""
	if n.Entry.Endpoint.Addr != nil {
		addr = n.Entry.Endpoint.Addr.String()
	}
	rec := record{
		Addr:          addr,
		TCPPort:       n.Entry.Endpoint.TCPPort,
		UDPPort:       n.Entry.Endpoint.UDPPort,
		LastAttempted: n.LastAttempted,
		LastContactOK: n.LastContactOK,
		Failures:      n.Failures,
		Useless:       n.Useless,
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := nt.db.Put(dbKey(n.Entry.ID), buf, nil); err != nil {
		nt.log.Debug("failed to persist node", "id", n.Entry.ID, "err", err)
	}
}

// Save flushes every in-memory node to the backing store; Host calls this
// on the NODE_TABLE timer (300000 ms per spec.md section 6).
func (nt *NodeTable) Save() {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	for _, n := range nt.nodes {
		nt.persistLocked(n)
	}
}

// Close releases the backing store, if any.
func (nt *NodeTable) Close() error {
	if nt.db == nil {
		return nil
	}
	return nt.db.Close()
}

// AddNode inserts entry if unseen, or updates its endpoint if it differs
// from what's on record; idempotent on NodeId per spec.md section 4.B.
func (nt *NodeTable) AddNode(entry enode.Entry) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if n, ok := nt.nodes[entry.ID]; ok {
		n.Entry.Endpoint = entry.Endpoint
		nt.persistLocked(n)
		return
	}
	n := &Node{Entry: entry}
	nt.nodes[entry.ID] = n
	nt.persistLocked(n)
}

// TableUpdates is the {added, removed} delta a Discovery round produces.
type TableUpdates struct {
	Added   []enode.Entry
	Removed []enode.ID
}

// Update applies a discovery round's outcome: added entries are merged in;
// removed ids are dropped unless present in reserved, matching spec.md
// section 4.B.
func (nt *NodeTable) Update(updates TableUpdates, reserved map[enode.ID]struct{}) {
	for _, e := range updates.Added {
		nt.AddNode(e)
	}
	nt.mu.Lock()
	defer nt.mu.Unlock()
	for _, id := range updates.Removed {
		if _, isReserved := reserved[id]; isReserved {
			continue
		}
		if _, ok := nt.nodes[id]; ok && nt.db != nil {
			nt.db.Delete(dbKey(id), nil)
		}
		delete(nt.nodes, id)
	}
}

// MarkAsUseless demotes id so Nodes stops offering it as a dial candidate.
func (nt *NodeTable) MarkAsUseless(id enode.ID) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if n, ok := nt.nodes[id]; ok {
		n.Useless = true
		nt.persistLocked(n)
	}
}

// NoteFailure increments id's failure counter, marking it useless once
// failureThreshold is exceeded.
func (nt *NodeTable) NoteFailure(id enode.ID) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n, ok := nt.nodes[id]
	if !ok {
		return
	}
	n.Failures++
	n.LastAttempted = time.Now()
	n.LastContactOK = false
	if n.Failures > failureThreshold {
		n.Useless = true
	}
	nt.persistLocked(n)
}

// NoteSuccess resets id's failure counter after a successful contact.
func (nt *NodeTable) NoteSuccess(id enode.ID) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	n, ok := nt.nodes[id]
	if !ok {
		return
	}
	n.Failures = 0
	n.LastAttempted = time.Now()
	n.LastContactOK = true
	nt.persistLocked(n)
}

// ClearUseless purges every node flagged useless, called periodically so
// the table doesn't grow unbounded with dead peers.
func (nt *NodeTable) ClearUseless() {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	for id, n := range nt.nodes {
		if n.Useless {
			if nt.db != nil {
				nt.db.Delete(dbKey(id), nil)
			}
			delete(nt.nodes, id)
		}
	}
}

// Get returns the node on record for id, if any.
func (nt *NodeTable) Get(id enode.ID) (Node, bool) {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	n, ok := nt.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Nodes returns dialing candidates in the order spec.md section 3
// mandates: reserved first, then by fewest recent failures, then by
// recency — excluding useless nodes. The snapshot is stable for the
// caller's single pass even under concurrent modification.
func (nt *NodeTable) Nodes(reserved map[enode.ID]struct{}) []enode.Entry {
	nt.mu.RLock()
	type scored struct {
		entry    enode.Entry
		reserved bool
		failures int
		seen     time.Time
	}
	candidates := make([]scored, 0, len(nt.nodes))
	for id, n := range nt.nodes {
		if n.Useless {
			continue
		}
		_, isReserved := reserved[id]
		candidates = append(candidates, scored{
			entry:    n.Entry,
			reserved: isReserved,
			failures: n.Failures,
			seen:     n.LastAttempted,
		})
	}
	nt.mu.RUnlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.reserved != b.reserved {
			return a.reserved
		}
		if a.failures != b.failures {
			return a.failures < b.failures
		}
		return a.seen.After(b.seen)
	})
	out := make([]enode.Entry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out
}

// Len reports how many nodes (useless included) are on record.
func (nt *NodeTable) Len() int {
	nt.mu.RLock()
	defer nt.mu.RUnlock()
	return len(nt.nodes)
}
