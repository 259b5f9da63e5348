package network

import (
	"net"
	"strings"
)

var localhostIP = net.IPv4(127, 0, 0, 1)

// routeAddr is only used to pick a route; UDP dial sends nothing.
const routeAddr = "192.0.2.1:9"

// HostIP returns the IPv4 address this host uses for outbound traffic,
// else the first non-loopback interface address, else 127.0.0.1.
func HostIP() net.IP {
	if ip := outboundIP(); ip != nil {
		return ip
	}
	if ip := interfaceIP(net.InterfaceAddrs); ip != nil {
		return ip
	}
	return localhostIP
}

func outboundIP() net.IP {
	conn, err := net.Dial("udp4", routeAddr)
	if err != nil {
		return nil
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok || addr.IP.IsLoopback() || addr.IP.IsUnspecified() {
		return nil
	}
	return addr.IP.To4()
}

func interfaceIP(addrs func() ([]net.Addr, error)) net.IP {
	list, err := addrs()
	if err != nil {
		return nil
	}
	for _, a := range list {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsLinkLocalUnicast() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4
		}
	}
	return nil
}

// ParseHint extracts an IP from a remote address or X-Forwarded-For value.
// Only the first forwarded entry is used; ports and brackets are dropped.
func ParseHint(hint string) net.IP {
	hint, _, _ = strings.Cut(hint, ",")
	hint = strings.TrimSpace(hint)
	if host, _, err := net.SplitHostPort(hint); err == nil {
		hint = host
	}
	return net.ParseIP(strings.Trim(hint, "[]"))
}

// IsPublic reports whether ip is routable on the internet.
func IsPublic(ip net.IP) bool {
	return ip != nil &&
		ip.IsGlobalUnicast() &&
		!ip.IsPrivate()
}
