// Package netaddr finds the address a LAN peer can use to reach this host.
package netaddr

import (
	"fmt"
	"net"

	"github.com/jackpal/gateway"
	"github.com/sirupsen/logrus"
)

// Fallback is returned when no usable IPv4 address exists.
const Fallback = "localhost"

// Resolver picks the host's LAN IPv4 address. The zero value is not
// usable; call NewResolver.
type Resolver struct {
	discoverGateway func() (net.IP, error)
	interfaceAddrs  func() ([]net.Addr, error)
	log             logrus.FieldLogger
}

func NewResolver(log logrus.FieldLogger) *Resolver {
	return &Resolver{
		discoverGateway: gateway.DiscoverGateway,
		interfaceAddrs:  upInterfaceAddrs,
		log:             log,
	}
}

// Resolve prefers the address on the subnet of the default gateway, then
// any non-loopback IPv4 address, then Fallback.
func (r *Resolver) Resolve() string {
	addrs, err := r.interfaceAddrs()
	if err != nil {
		r.log.Warnf("Failed to list interface addresses: %v", err)
		return Fallback
	}

	if gw, err := r.discoverGateway(); err == nil {
		if ip := addrOnSubnet(addrs, gw); ip != nil {
			return ip.String()
		}
	} else {
		r.log.Debugf("Gateway discovery failed: %v", err)
	}

	for _, addr := range addrs {
		if ip := usableIPv4(addr); ip != nil {
			return ip.String()
		}
	}
	return Fallback
}

func addrOnSubnet(addrs []net.Addr, gw net.IP) net.IP {
	for _, addr := range addrs {
		ip := usableIPv4(addr)
		if ip == nil {
			continue
		}
		if addr.(*net.IPNet).Contains(gw) {
			return ip
		}
	}
	return nil
}

func usableIPv4(addr net.Addr) net.IP {
	ipnet, ok := addr.(*net.IPNet)
	if !ok {
		return nil
	}
	ip := ipnet.IP.To4()
	if ip == nil || ip.IsLoopback() || !ip.IsGlobalUnicast() {
		return nil
	}
	return ip
}

// upInterfaceAddrs lists addresses of interfaces that are up.
func upInterfaceAddrs() ([]net.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve network interfaces: %w", err)
	}
	var out []net.Addr
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, addrs...)
	}
	return out, nil
}
