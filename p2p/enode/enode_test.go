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

package enode

import (
	"net"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPubkeyRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	pub := priv.ToECDSA().PublicKey

	id := FromPubkey(&pub)
	recovered := id.Pubkey()

	assert.Equal(t, pub.X, recovered.X)
	assert.Equal(t, pub.Y, recovered.Y)
}

func TestFormatAndParseRoundTrip(t *testing.T) {
	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	id := FromPubkey(&priv.ToECDSA().PublicKey)

	ep := Endpoint{Addr: net.IPv4(10, 0, 0, 7), TCPPort: 30304, UDPPort: 30305}
	url := Format(id, ep)

	parsed, err := Parse(url)
	require.NoError(t, err)
	assert.Equal(t, id, parsed.ID)
	assert.True(t, ep.Addr.Equal(parsed.Endpoint.Addr))
	assert.Equal(t, ep.TCPPort, parsed.Endpoint.TCPPort)
	assert.Equal(t, ep.UDPPort, parsed.Endpoint.UDPPort)
}

func TestFormatOmitsDiscportWhenEqual(t *testing.T) {
	var id ID
	id[0] = 1
	ep := Endpoint{Addr: net.IPv4(1, 2, 3, 4), TCPPort: 30304, UDPPort: 30304}
	url := Format(id, ep)
	assert.NotContains(t, url, "discport")

	parsed, err := Parse(url)
	require.NoError(t, err)
	assert.Equal(t, uint16(30304), parsed.Endpoint.UDPPort)
}

func TestParseRejectsMalformedURLs(t *testing.T) {
	cases := []string{
		"",
		"http://notanenode",
		"enode://short@127.0.0.1:30304",
		"enode://" + stringOfHexZeros(128), // missing '@'
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.Error(t, err, "expected parse error for %q", c)
	}
}

func stringOfHexZeros(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}

func TestIsZero(t *testing.T) {
	var id ID
	assert.True(t, id.IsZero())
	id[63] = 1
	assert.False(t, id.IsZero())
}
