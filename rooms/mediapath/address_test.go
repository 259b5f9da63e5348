package mediapath

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolve(t *testing.T) {
	r := &AddressResolver{hostIP: func() net.IP { return net.IPv4(10, 0, 0, 5) }}

	tests := []struct {
		hint string
		want string
	}{
		{"198.51.100.7", "198.51.100.7"},
		{"198.51.100.7:6000", "198.51.100.7"},
		{"198.51.100.7, 10.0.0.1", "198.51.100.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.168.1.20:6000", "10.0.0.5"},
		{"127.0.0.1", "10.0.0.5"},
		{"not-an-ip", "10.0.0.5"},
		{"", "10.0.0.5"},
	}
	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.hint))
		})
	}

	static := NewAddressResolver("203.0.113.1")
	assert.Equal(t, "203.0.113.1", static.Resolve("198.51.100.7"))
}
