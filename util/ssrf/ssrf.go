// Package ssrf provides a dialer which refuses to connect to private, loopback or otherwise reserved addresses.
//
// Outbound fetches of DID documents and OAuth metadata go to hosts chosen by whoever controls the identity being resolved, so production clients should dial through [PublicOnlyDialer].
package ssrf

import (
	"fmt"
	"net"
	"net/netip"
	"syscall"
	"time"
)

var reservedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),       // current network
	netip.MustParsePrefix("10.0.0.0/8"),      // private
	netip.MustParsePrefix("100.64.0.0/10"),   // carrier-grade NAT
	netip.MustParsePrefix("127.0.0.0/8"),     // loopback
	netip.MustParsePrefix("169.254.0.0/16"),  // link-local
	netip.MustParsePrefix("172.16.0.0/12"),   // private
	netip.MustParsePrefix("192.0.0.0/24"),    // IETF protocol assignments
	netip.MustParsePrefix("192.0.2.0/24"),    // documentation
	netip.MustParsePrefix("192.88.99.0/24"),  // 6to4 relay
	netip.MustParsePrefix("192.168.0.0/16"),  // private
	netip.MustParsePrefix("198.18.0.0/15"),   // benchmarking
	netip.MustParsePrefix("198.51.100.0/24"), // documentation
	netip.MustParsePrefix("203.0.113.0/24"),  // documentation
	netip.MustParsePrefix("224.0.0.0/4"),     // multicast
	netip.MustParsePrefix("240.0.0.0/4"),     // reserved, broadcast
}

// IPv6 global unicast range; everything outside it is treated as non-public.
var globalUnicastV6 = netip.MustParsePrefix("2000::/3")

// Allowed destination ports for public-only dialing.
var AllowedPorts = map[string]bool{"80": true, "443": true}

func IsPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.Is4() {
		for _, p := range reservedPrefixes {
			if p.Contains(addr) {
				return false
			}
		}
		return true
	}
	return globalUnicastV6.Contains(addr)
}

// Implements the [net.Dialer] Control hook. Called after DNS resolution, so it sees the literal IP being dialed.
func PublicOnlyControl(network, address string, _ syscall.RawConn) error {
	if network != "tcp4" && network != "tcp6" {
		return fmt.Errorf("ssrf: network %q not allowed", network)
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("ssrf: bad address %q: %w", address, err)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("ssrf: bad IP %q: %w", host, err)
	}
	if !IsPublicAddr(addr) {
		return fmt.Errorf("ssrf: %s is not a public address", addr)
	}
	if !AllowedPorts[port] {
		return fmt.Errorf("ssrf: port %s not allowed", port)
	}
	return nil
}

func PublicOnlyDialer() *net.Dialer {
	return &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
		Control:   PublicOnlyControl,
	}
}
