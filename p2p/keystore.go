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
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// keyFileName is the fixed file name persisted keys are written under,
// per spec.md section 6.
const keyFileName = "key"

// LoadOrGenerateKey implements the key-selection order from spec.md
// section 4.F construction step 1: an explicit secret wins, then a
// persisted key under configPath, then a freshly generated key that is
// itself persisted for next time. configPath == "" disables persistence
// entirely (keys live only for the process lifetime).
func LoadOrGenerateKey(configPath string, useSecret *ecdsa.PrivateKey) (*ecdsa.PrivateKey, error) {
	if useSecret != nil {
		return useSecret, nil
	}
	if configPath != "" {
		if key, err := LoadKey(configPath); err == nil {
			return key, nil
		}
	}
	key, err := generateKey()
	if err != nil {
		return nil, &Error{Kind: ErrIO, Err: err}
	}
	if configPath != "" {
		if err := SaveKey(configPath, key); err != nil {
			// A freshly generated key that fails to persist is not a
			// fatal error: the node still has a usable identity for
			// this run, it just won't survive a restart.
			return key, nil
		}
	}
	return key, nil
}

func generateKey() (*ecdsa.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return priv.ToECDSA(), nil
}

// SaveKey writes key as lowercase hex to "<configPath>/key", owner-only
// permissions, no trailing newline (spec.md section 6).
func SaveKey(configPath string, key *ecdsa.PrivateKey) error {
	if err := os.MkdirAll(configPath, 0700); err != nil {
		return &Error{Kind: ErrIO, Err: err}
	}
	path := filepath.Join(configPath, keyFileName)
	raw := padTo32(key.D.Bytes())
	content := hex.EncodeToString(raw)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return &Error{Kind: ErrIO, Err: err}
	}
	// WriteFile applies the mode through umask; enforce it explicitly so
	// the on-disk permissions are owner-only regardless of umask.
	if err := os.Chmod(path, 0600); err != nil {
		return &Error{Kind: ErrIO, Err: err}
	}
	return nil
}

// LoadKey reads and parses "<configPath>/key".
func LoadKey(configPath string) (*ecdsa.PrivateKey, error) {
	path := filepath.Join(configPath, keyFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: ErrIO, Err: err}
	}
	return ParseKeyHex(strings.TrimSpace(string(raw)))
}

// ParseKeyHex parses a 64-character lowercase-hex secp256k1 secret.
func ParseKeyHex(s string) (*ecdsa.PrivateKey, error) {
	if len(s) != 64 {
		return nil, &Error{Kind: ErrConfiguration, Err: fmt.Errorf("key must be 64 hex chars, got %d", len(s))}
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, &Error{Kind: ErrConfiguration, Err: err}
	}
	priv, pub := btcec.PrivKeyFromBytes(raw)
	_ = pub
	return priv.ToECDSA(), nil
}

func padTo32(b []byte) []byte {
	if len(b) >= 32 {
		return b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}
