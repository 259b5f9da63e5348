// Package rooms keeps the rooms of one relay process: who is in them and
// the media paths between the members and the room router.
package rooms

import (
	"time"

	"github.com/spf13/viper"

	"github.com/imtaco/audio-rooms/rooms/mediapath"
)

type Member struct {
	PeerID   string `json:"peerId"`
	Username string `json:"username"`
	Speaking bool   `json:"speaking"`
}

// Departure is the outcome of LeaveRoom.
type Departure struct {
	// Remaining members, snapshotted with the removal.
	Remaining []Member
	Removal   mediapath.Removal
	// RoomClosed is set when the leaver was the last member.
	RoomClosed bool
}

type Stats struct {
	Rooms int `json:"rooms"`
	Peers int `json:"peers"`
}

type Config struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

func Setup(v *viper.Viper, prefix string) {
	v.SetDefault(prefix+".connect_timeout", 30*time.Second)
}
