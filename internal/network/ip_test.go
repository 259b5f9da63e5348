package network

import (
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHint(t *testing.T) {
	tests := []struct {
		hint string
		want string
	}{
		{"198.51.100.7", "198.51.100.7"},
		{"198.51.100.7:6000", "198.51.100.7"},
		{" 198.51.100.7 , 10.0.0.1", "198.51.100.7"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"[::1]", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.hint, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseHint(tt.hint).String())
		})
	}

	assert.Nil(t, ParseHint("not-an-ip"))
	assert.Nil(t, ParseHint(""))
}

func TestIsPublic(t *testing.T) {
	assert.True(t, IsPublic(net.ParseIP("198.51.100.7")))
	assert.True(t, IsPublic(net.ParseIP("2001:db8::1")))

	for _, s := range []string{"10.1.2.3", "192.168.0.1", "127.0.0.1", "0.0.0.0", "169.254.1.1", "224.0.0.1", "fd00::1"} {
		assert.False(t, IsPublic(net.ParseIP(s)), s)
	}
	assert.False(t, IsPublic(nil))
}

func TestInterfaceIP(t *testing.T) {
	addrs := func() ([]net.Addr, error) {
		return []net.Addr{
			&net.IPNet{IP: net.IPv4(127, 0, 0, 1), Mask: net.CIDRMask(8, 32)},
			&net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)},
			&net.IPNet{IP: net.ParseIP("2001:db8::5"), Mask: net.CIDRMask(64, 128)},
			&net.IPNet{IP: net.IPv4(10, 0, 0, 5), Mask: net.CIDRMask(24, 32)},
		}, nil
	}
	assert.Equal(t, "10.0.0.5", interfaceIP(addrs).String())

	failing := func() ([]net.Addr, error) { return nil, errors.New("no interfaces") }
	assert.Nil(t, interfaceIP(failing))
}

func TestHostIPIsIPv4(t *testing.T) {
	assert.NotNil(t, HostIP().To4())
}
