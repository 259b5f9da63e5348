package redis

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

const defaultPingTimeout = 3 * time.Second

// Config of the shared redis. Enabled=false keeps everything in process.
type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TLS      bool   `mapstructure:"tls"`
}

func NewClient(cfg *Config) *redis.Client {
	opt := &redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.TLS {
		opt.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}
	return redis.NewClient(opt)
}

func Ping(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultPingTimeout)
	defer cancel()
	return client.Ping(ctx).Err()
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("enabled"), false)
	v.SetDefault(p("addr"), "redis:6379")
	v.SetDefault(p("username"), "")
	v.SetDefault(p("password"), "")
	v.SetDefault(p("db"), 0)
	v.SetDefault(p("tls"), false)
}
