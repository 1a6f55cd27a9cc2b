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

import "sync"

// MaxHandshakes bounds concurrently handshaking sessions; MaxSessions is
// the total slab capacity. Both values, and the well-known token
// boundaries below, must match for wire compatibility per spec.md
// section 6.
const (
	MaxHandshakes = 80
	MaxSessions   = 1024 + MaxHandshakes // 1104

	MaxHandshakesPerRound = 32

	// FirstSessionToken and LastSessionToken bound the contiguous token
	// range SessionSlab allocates from, distinguishing session tokens
	// from the well-known tokens below and from user-registered timer
	// tokens starting at UserTimerToken.
	FirstSessionToken SlabToken = 0
	LastSessionToken  SlabToken = FirstSessionToken + MaxSessions - 1

	TCPAcceptToken      SlabToken = LastSessionToken + 1
	IdleToken           SlabToken = LastSessionToken + 2
	DiscoveryToken      SlabToken = LastSessionToken + 3
	DiscoveryRefreshToken SlabToken = LastSessionToken + 4
	DiscoveryRoundToken SlabToken = LastSessionToken + 5
	NodeTableToken      SlabToken = LastSessionToken + 6

	UserTimerToken SlabToken = LastSessionToken + 100
)

// IsSessionToken reports whether t falls in the contiguous session token
// range, as opposed to a well-known or user timer token.
func IsSessionToken(t SlabToken) bool {
	return t >= FirstSessionToken && t <= LastSessionToken
}

// SessionSlab is a fixed-capacity, token-indexed container of shared
// Session handles. Token reuse is allowed after deregistration; the
// number of tokens allocated never exceeds MaxSessions (spec.md section
// 3 invariant).
type SessionSlab struct {
	mu       sync.RWMutex
	sessions map[SlabToken]Session
	free     []SlabToken
	nextNew  SlabToken
}

// NewSessionSlab returns an empty slab with the wire-mandated capacity.
func NewSessionSlab() *SessionSlab {
	return &SessionSlab{
		sessions: make(map[SlabToken]Session, MaxSessions),
		nextNew:  FirstSessionToken,
	}
}

// Size returns the number of occupied slots.
func (s *SessionSlab) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Full reports whether the slab is at capacity.
func (s *SessionSlab) Full() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions) >= MaxSessions
}

// InsertWithOpt allocates a token, invokes ctor with it, and stores the
// resulting Session. If ctor returns an error the allocation is rolled
// back and no token is consumed. Returns ErrCapacity if the slab is full.
func (s *SessionSlab) InsertWithOpt(ctor func(token SlabToken) (Session, error)) (SlabToken, error) {
	s.mu.Lock()
	if len(s.sessions) >= MaxSessions {
		s.mu.Unlock()
		return 0, &Error{Kind: ErrCapacity, Err: errSlabFull}
	}
	token := s.allocateLocked()
	s.mu.Unlock()

	sess, err := ctor(token)
	if err != nil {
		s.mu.Lock()
		s.releaseLocked(token)
		s.mu.Unlock()
		return 0, err
	}

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()
	return token, nil
}

func (s *SessionSlab) allocateLocked() SlabToken {
	if n := len(s.free); n > 0 {
		t := s.free[n-1]
		s.free = s.free[:n-1]
		return t
	}
	t := s.nextNew
	s.nextNew++
	return t
}

func (s *SessionSlab) releaseLocked(token SlabToken) {
	s.free = append(s.free, token)
}

// Get returns the Session at token, if present.
func (s *SessionSlab) Get(token SlabToken) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[token]
	return sess, ok
}

// Remove drops the slab's ownership of token's Session and returns the
// token to the free list. The Session value itself remains valid for any
// other holder until they release it.
func (s *SessionSlab) Remove(token SlabToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[token]; !ok {
		return
	}
	delete(s.sessions, token)
	s.releaseLocked(token)
}

// Tokens returns a consistent snapshot of all currently occupied tokens,
// tolerating concurrent modification by resolving sessions after the
// token list is collected (spec.md section 4.E).
func (s *SessionSlab) Tokens() []SlabToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SlabToken, 0, len(s.sessions))
	for t := range s.sessions {
		out = append(out, t)
	}
	return out
}

// Each resolves the snapshot from Tokens and invokes fn for every Session
// still present at call time.
func (s *SessionSlab) Each(fn func(token SlabToken, sess Session)) {
	for _, t := range s.Tokens() {
		if sess, ok := s.Get(t); ok {
			fn(t, sess)
		}
	}
}

var errSlabFull = &capacityError{}

type capacityError struct{}

func (*capacityError) Error() string { return "session slab is at capacity" }
