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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cli "gopkg.in/urfave/cli.v1"

	"github.com/corvidchain/corvid/log"
	"github.com/corvidchain/corvid/p2p"
)

// Manager owns the lifecycle of a single Host process: construction from
// CLI flags, startup, and signal-driven shutdown.
type Manager struct {
	ctx  *cli.Context
	host *p2p.Host
	log  log.Logger
}

func NewHostManager(ctx *cli.Context) (*Manager, error) {
	config, err := configFromFlags(ctx)
	if err != nil {
		return nil, err
	}

	host, err := p2p.NewHost(config)
	if err != nil {
		log.Error("failed to create the host", "reason", err)
		return nil, err
	}

	return &Manager{
		ctx:  ctx,
		host: host,
		log:  log.New("component", "corvidhost"),
	}, nil
}

func (m *Manager) Start() error {
	m.log.Info("starting corvidhost")
	m.host.Start()
	m.host.InitPublicInterface()
	fmt.Println("corvidhost successfully started")
	fmt.Printf("enode: %s\n", m.host.ExternalURL())

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(c)
	<-c
	fmt.Println("shutting down corvidhost")
	return m.Stop()
}

func (m *Manager) Stop() error {
	m.log.Warn("stopping corvidhost")
	m.host.Stop()
	return nil
}
