package client

import (
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/viper"

	"github.com/imtaco/audio-rooms/client/speaking"
	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/protocol"
)

type CapabilitiesConfig struct {
	Attempts int           `mapstructure:"attempts"`
	Backoff  time.Duration `mapstructure:"backoff"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type Config struct {
	ServerURL    string             `mapstructure:"server_url"`
	RoomID       string             `mapstructure:"room_id"`
	PeerID       string             `mapstructure:"peer_id"`
	Username     string             `mapstructure:"username"`
	Token        string             `mapstructure:"token"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities"`
	Speaking     speaking.Config    `mapstructure:"speaking"`

	// RequestTimeout bounds every call to the relay.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Setup registers the session defaults. An empty prefix puts the keys at
// the root.
func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string {
		if prefix == "" {
			return key
		}
		return prefix + "." + key
	}

	v.SetDefault(p("server_url"), "ws://127.0.0.1:8081/ws")
	v.SetDefault(p("room_id"), "")
	v.SetDefault(p("peer_id"), "")
	v.SetDefault(p("username"), "")
	v.SetDefault(p("token"), "")
	v.SetDefault(p("capabilities.attempts"), 3)
	v.SetDefault(p("capabilities.backoff"), "1s")
	v.SetDefault(p("capabilities.timeout"), "20s")
	v.SetDefault(p("request_timeout"), "10s")
	speaking.Setup(v, p("speaking"))
}

func (c *Config) withDefaults() {
	if c.Capabilities.Attempts <= 0 {
		c.Capabilities.Attempts = 3
	}
	if c.Capabilities.Backoff <= 0 {
		c.Capabilities.Backoff = time.Second
	}
	if c.Capabilities.Timeout <= 0 {
		c.Capabilities.Timeout = 20 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.Username == "" {
		c.Username = c.PeerID
	}
}

// endpoint builds the handshake url. With a token the ids travel inside
// it, otherwise as query parameters. PeerID is required either way since
// the session filters its own producers by it.
func (c *Config) endpoint() (string, http.Header, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", nil, errors.Wrapf(errors.ErrInvalidState, err, "parse server url %q", c.ServerURL)
	}
	if c.PeerID == "" {
		return "", nil, errors.New(errors.ErrInvalidState, "peer id is required")
	}
	if c.Token != "" {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.Token)
		return u.String(), header, nil
	}
	if c.RoomID == "" {
		return "", nil, errors.New(errors.ErrInvalidState, "room id is required")
	}
	q := u.Query()
	q.Set(protocol.QueryRoomID, c.RoomID)
	q.Set(protocol.QueryPeerID, c.PeerID)
	q.Set(protocol.QueryUsername, c.Username)
	u.RawQuery = q.Encode()
	return u.String(), nil, nil
}
