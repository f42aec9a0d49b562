// Package netutil provides small address-parsing helpers shared by the
// transport and security packages.
package netutil

import (
	"net"
	"net/netip"
	"strings"
)

// IsLoopback reports whether addr (host, "host:port", or "[host]:port")
// resolves to the loopback interface.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = strings.Trim(addr, "[]")
	}
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	return ip.IsLoopback()
}

// RemoteAddr extracts the host portion of an HTTP RemoteAddr for use as a
// rate-limiter key. Falls back to the raw string when it carries no port.
func RemoteAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
