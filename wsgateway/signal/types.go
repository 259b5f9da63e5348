package signal

import (
	"context"

	"github.com/spf13/viper"

	"github.com/imtaco/audio-rooms/rooms"
)

// peerState is the per-connection state shared by every handler of one peer.
type peerState struct {
	peerID     string
	roomID     string
	username   string
	remoteAddr string
	connID     string
	reqCtx     context.Context

	room      *rooms.Room
	speaking  *speakingFanout
	announced bool
}

// PeerGuard keeps a peer id connected at most once, across relay processes
// when backed by redis.
type PeerGuard interface {
	Start(ctx context.Context) error
	Stop()
	// Acquire reports false when peerID is held by another connection.
	Acquire(ctx context.Context, peerID, connID string) (bool, error)
	Release(ctx context.Context, peerID, connID string) error
}

type Config struct {
	OutboxSize    int     `mapstructure:"outbox_size"`
	SpeakingRate  float64 `mapstructure:"speaking_rate"`
	SpeakingBurst int     `mapstructure:"speaking_burst"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("outbox_size"), 64)
	v.SetDefault(p("speaking_rate"), 20)
	v.SetDefault(p("speaking_burst"), 10)
}
