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

package main

import (
	cli "gopkg.in/urfave/cli.v1"

	"github.com/corvidchain/corvid/p2p"
)

var (
	listenAddrFlag = cli.StringFlag{
		Name:  "addr",
		Usage: "TCP listening address for peer sessions",
		Value: p2p.DefaultListenAddress,
	}
	publicAddrFlag = cli.StringFlag{
		Name:  "nat.public",
		Usage: "override the advertised public address instead of discovering it",
	}
	udpPortFlag = cli.UintFlag{
		Name:  "discovery.port",
		Usage: "UDP port for peer discovery, 0 reuses the TCP port",
	}
	natEnabledFlag = cli.BoolFlag{
		Name:  "nat",
		Usage: "attempt UPnP/NAT-PMP port mapping",
	}
	discoveryEnabledFlag = cli.BoolFlag{
		Name:  "discovery",
		Usage: "enable UDP peer discovery",
	}
	bootNodesFlag = cli.StringSliceFlag{
		Name:  "bootnodes",
		Usage: "enode URL of a bootstrap node, may be repeated",
	}
	reservedNodesFlag = cli.StringSliceFlag{
		Name:  "reserved",
		Usage: "enode URL of a reserved peer that bypasses the peer cap, may be repeated",
	}
	nonReservedDenyFlag = cli.BoolFlag{
		Name:  "reserved-only",
		Usage: "reject inbound and outbound sessions with peers outside the reserved list",
	}
	minPeersFlag = cli.IntFlag{
		Name:  "peers.min",
		Usage: "minimum peer count the connection loop dials up to",
		Value: p2p.DefaultMinPeers,
	}
	maxPeersFlag = cli.IntFlag{
		Name:  "peers.max",
		Usage: "maximum simultaneously ready sessions",
		Value: p2p.DefaultMaxPeers,
	}
	keyDirFlag = cli.StringFlag{
		Name:  "keystore",
		Usage: "directory holding the node's persisted identity key",
	}
	netConfigDirFlag = cli.StringFlag{
		Name:  "nodedb",
		Usage: "directory holding the persisted node table",
	}
)

func configFromFlags(ctx *cli.Context) (p2p.NetworkConfiguration, error) {
	mode := p2p.NonReservedAccept
	if ctx.Bool(nonReservedDenyFlag.Name) {
		mode = p2p.NonReservedDeny
	}
	return p2p.NetworkConfiguration{
		ConfigPath:       ctx.String(keyDirFlag.Name),
		NetConfigPath:    ctx.String(netConfigDirFlag.Name),
		ListenAddress:    ctx.String(listenAddrFlag.Name),
		PublicAddress:    ctx.String(publicAddrFlag.Name),
		UDPPort:          uint16(ctx.Uint(udpPortFlag.Name)),
		NATEnabled:       ctx.Bool(natEnabledFlag.Name),
		DiscoveryEnabled: ctx.Bool(discoveryEnabledFlag.Name),
		BootNodes:        ctx.StringSlice(bootNodesFlag.Name),
		ReservedNodes:    ctx.StringSlice(reservedNodesFlag.Name),
		MinPeers:         ctx.Int(minPeersFlag.Name),
		MaxPeers:         ctx.Int(maxPeersFlag.Name),
		NonReservedMode:  mode,
	}, nil
}
