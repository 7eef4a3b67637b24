package cfddns

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sort"
)

// InterfaceResolver constructs a resolver that returns an address assigned to the named interface.
//
// Only global unicast addresses are considered, so loopback and link-local addresses are skipped.
// When the interface has several, IPv4 addresses are preferred over IPv6 and otherwise the interface's order is kept.
func InterfaceResolver(iface string) Resolver {
	return interfaceResolver{iface: iface, addrs: interfaceAddrs}
}

type interfaceResolver struct {
	iface string
	addrs func(name string) ([]net.Addr, error)
}

func interfaceAddrs(name string) ([]net.Addr, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("error getting interface %s by name: %w", name, err)
	}
	a, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("error looking up addresses for interface %s: %w", name, err)
	}
	return a, nil
}

func (r interfaceResolver) Resolve(ctx context.Context) (netip.Addr, error) {
	a, err := r.addrs(r.iface)
	if err != nil {
		return netip.Addr{}, err
	}
	// addr: ip+net:192.168.86.253/24
	// addr: ip+net:fd64:9f44:fc30:0:b951:8b16:2812:a227/64
	// addr: ip+net:fe80::2cc9:801b:3551:9a43/64
	var addrs []netip.Addr
	for _, addr := range a {
		ip, err := netip.ParsePrefix(addr.String())
		if err != nil {
			return netip.Addr{}, fmt.Errorf("error parsing local ip %s for interface %s: %w", addr.String(), r.iface, err)
		}
		if !ip.Addr().IsGlobalUnicast() {
			continue
		}
		addrs = append(addrs, ip.Addr().Unmap())
	}
	if len(addrs) == 0 {
		return netip.Addr{}, fmt.Errorf("interface %s has no global unicast address", r.iface)
	}
	sort.SliceStable(addrs, func(i, j int) bool { return addrs[i].Is4() && !addrs[j].Is4() })
	return addrs[0], nil
}
