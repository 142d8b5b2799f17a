// Package util holds small helpers shared across the driver's internal
// packages.
package util

import (
	"net"
	"net/netip"
	"strings"
)

// IsLoopback reports whether addr (a host, or host:port) resolves to the
// loopback interface. The Cluster config loader uses this to decide whether
// an empty ssl_certfile/ssl_keyfile pair against a local dev Gremlin Server
// is tolerable, or whether it should be treated as a configuration error.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		// If SplitHostPort fails, it might be just a host without a port.
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
