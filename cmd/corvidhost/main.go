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

// Command corvidhost runs a standalone peer-to-peer session host: it binds
// a listener, optionally runs UDP discovery, and maintains outbound
// sessions up to its configured peer bounds. It carries no protocol
// handlers of its own; embedding applications register those through
// package p2p.
package main

import (
	"fmt"
	"os"

	cli "gopkg.in/urfave/cli.v1"
)

func main() {
	app := cli.NewApp()
	app.Name = "corvidhost"
	app.Usage = "standalone peer-to-peer session host"
	app.Flags = []cli.Flag{
		listenAddrFlag,
		publicAddrFlag,
		udpPortFlag,
		natEnabledFlag,
		discoveryEnabledFlag,
		bootNodesFlag,
		reservedNodesFlag,
		nonReservedDenyFlag,
		minPeersFlag,
		maxPeersFlag,
		keyDirFlag,
		netConfigDirFlag,
	}
	app.Action = func(ctx *cli.Context) error {
		manager, err := NewHostManager(ctx)
		if err != nil {
			return err
		}
		return manager.Start()
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
