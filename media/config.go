package media

import (
	"github.com/spf13/viper"
)

// Config of the relay media engine.
type Config struct {
	Workers          int    `mapstructure:"workers"`
	AnnouncedAddress string `mapstructure:"announced_address"`
	ListenIP         string `mapstructure:"listen_ip"`
	UDPPortMin       uint16 `mapstructure:"udp_port_min"`
	UDPPortMax       uint16 `mapstructure:"udp_port_max"`
	APICacheSize     int    `mapstructure:"api_cache_size"`
	// IncludeLoopback gathers 127.0.0.1 candidates, for single host setups.
	IncludeLoopback bool `mapstructure:"include_loopback"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("workers"), 4)
	v.SetDefault(p("announced_address"), "")
	v.SetDefault(p("listen_ip"), "")
	v.SetDefault(p("udp_port_min"), 40000)
	v.SetDefault(p("udp_port_max"), 49999)
	v.SetDefault(p("api_cache_size"), 64)
	v.SetDefault(p("include_loopback"), false)
}
