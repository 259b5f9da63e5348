package client

import (
	"github.com/imtaco/audio-rooms/protocol"
)

type EventType string

const (
	EventUsers            EventType = "users"
	EventUserJoined       EventType = "userJoined"
	EventUserLeft         EventType = "userLeft"
	EventUserSpeaking     EventType = "userSpeaking"
	EventPeerDisconnected EventType = "peerDisconnected"
	EventConsumerReady    EventType = "consumerReady"
	EventConsumerClosed   EventType = "consumerClosed"
)

// Event is a room change seen by the session. Only the fields relevant to
// Type are set.
type Event struct {
	Type       EventType
	Users      []protocol.User
	PeerID     string
	Speaking   bool
	ConsumerID string
	ProducerID string
}
