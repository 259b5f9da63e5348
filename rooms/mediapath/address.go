package mediapath

import (
	"net"

	"github.com/imtaco/audio-rooms/internal/network"
)

// AddressResolver picks the address a relay transport announces to a peer.
type AddressResolver struct {
	static string
	hostIP func() net.IP
}

func NewAddressResolver(static string) *AddressResolver {
	return &AddressResolver{
		static: static,
		hostIP: network.HostIP,
	}
}

// Resolve returns the configured address, else the hint when it is a public
// IP, else the host IP. hint may carry a port or be a forwarded-for list.
func (a *AddressResolver) Resolve(hint string) string {
	if a.static != "" {
		return a.static
	}
	if ip := network.ParseHint(hint); network.IsPublic(ip) {
		return ip.String()
	}
	return a.hostIP().String()
}
