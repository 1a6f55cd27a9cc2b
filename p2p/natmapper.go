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
	"fmt"
	"net"
	"time"

	natpmp "github.com/jackpal/go-nat-pmp"
	"github.com/huin/goupnp/dcps/internetgateway2"

	"github.com/corvidchain/corvid/log"
)

// mappingLifetime is how long an external port mapping is requested for.
// Map requests the mapping once and nothing renews it, so it lapses after
// this long.
const mappingLifetime = 20 * time.Minute

// NATMapper implements spec.md section 4.H: if nat is enabled, attempt an
// external mapping via UPnP or NAT-PMP and use the returned endpoint;
// otherwise fall back to local interface scanning.
type NATMapper struct {
	enabled bool
	log     log.Logger
}

func NewNATMapper(enabled bool) *NATMapper {
	return &NATMapper{enabled: enabled, log: log.New("component", "nat")}
}

// Map attempts to map port externally and returns the externally-reachable
// address. On any mapping failure it logs and falls back to
// SelectPublicAddress.
func (n *NATMapper) Map(port uint16) net.IP {
	if !n.enabled {
		return n.SelectPublicAddress(port)
	}
	if ip, err := n.mapUPnP(port); err == nil {
		return ip
	} else {
		n.log.Debug("UPnP mapping failed, trying NAT-PMP", "err", err)
	}
	if ip, err := n.mapNATPMP(port); err == nil {
		return ip
	} else {
		n.log.Debug("NAT-PMP mapping failed, falling back to local address", "err", err)
	}
	return n.SelectPublicAddress(port)
}

func (n *NATMapper) mapUPnP(port uint16) (net.IP, error) {
	clients, errs, err := internetgateway2.NewWANIPConnection1Clients()
	if err != nil {
		return nil, err
	}
	if len(clients) == 0 {
		if len(errs) > 0 {
			return nil, errs[0]
		}
		return nil, fmt.Errorf("no UPnP internet gateway device found")
	}
	client := clients[0]
	externalIP, err := client.GetExternalIPAddress()
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(externalIP)
	if ip == nil {
		return nil, fmt.Errorf("gateway returned invalid external ip %q", externalIP)
	}
	localIP, err := localAddressFor(ip)
	if err != nil {
		return nil, err
	}
	if err := client.AddPortMapping("", port, "TCP", port, localIP.String(), true, "corvid p2p", uint32(mappingLifetime.Seconds())); err != nil {
		return nil, err
	}
	return ip, nil
}

func (n *NATMapper) mapNATPMP(port uint16) (net.IP, error) {
	gw, err := defaultGateway()
	if err != nil {
		return nil, err
	}
	client := natpmp.NewClient(gw)
	extAddr, err := client.GetExternalAddress()
	if err != nil {
		return nil, err
	}
	if _, err := client.AddPortMapping("tcp", int(port), int(port), int(mappingLifetime.Seconds())); err != nil {
		return nil, err
	}
	ip := net.IPv4(extAddr.ExternalIPAddress[0], extAddr.ExternalIPAddress[1], extAddr.ExternalIPAddress[2], extAddr.ExternalIPAddress[3])
	return ip, nil
}

// SelectPublicAddress implements host.rs's select_public_address: a
// best-guess public address from local interface scanning, preferring the
// first non-loopback IPv4 address found.
func (n *NATMapper) SelectPublicAddress(port uint16) net.IP {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return net.IPv4zero
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			return v4
		}
	}
	return net.IPv4zero
}

func localAddressFor(external net.IP) (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP, nil
}

func defaultGateway() (net.IP, error) {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	local := conn.LocalAddr().(*net.UDPAddr).IP.To4()
	if local == nil {
		return nil, fmt.Errorf("no IPv4 local address")
	}
	gw := make(net.IP, 4)
	copy(gw, local)
	gw[3] = 1
	return gw, nil
}
