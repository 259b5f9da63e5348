// Package mediapath tracks the transports, producers and consumers that
// connect the peers of one room to its router.
package mediapath

import (
	"time"

	"github.com/imtaco/audio-rooms/media"
)

type TransportState string

const (
	TransportCreated   TransportState = "created"
	TransportConnected TransportState = "connected"
	TransportClosed    TransportState = "closed"
)

type ConsumerState string

const (
	ConsumerPaused ConsumerState = "paused"
	ConsumerActive ConsumerState = "active"
	ConsumerClosed ConsumerState = "closed"
)

type Transport struct {
	ID          string
	PeerID      string
	Direction   media.Direction
	State       TransportState
	AnnouncedIP string
	Params      media.TransportParameters
	CreatedAt   time.Time
}

type Producer struct {
	ID          string
	PeerID      string
	TransportID string
	Kind        media.Kind
	Parameters  media.Parameters
}

type Consumer struct {
	ID             string
	PeerID         string
	TransportID    string
	ProducerID     string
	ProducerPeerID string
	Kind           media.Kind
	Parameters     media.Parameters
	State          ConsumerState
}

// Removal lists what a cascading close released. Consumers are reported so
// their owners can be told.
type Removal struct {
	Transports []Transport
	Producers  []Producer
	Consumers  []Consumer
}

func (r Removal) Empty() bool {
	return len(r.Transports) == 0 && len(r.Producers) == 0 && len(r.Consumers) == 0
}

type Stats struct {
	Transports int `json:"transports"`
	Producers  int `json:"producers"`
	Consumers  int `json:"consumers"`
}
