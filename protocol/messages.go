package protocol

import (
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	"github.com/imtaco/audio-rooms/internal/validation"
	"github.com/imtaco/audio-rooms/media"
)

func init() {
	if err := validation.RegisterTags(jsonrpc.Validator()); err != nil {
		panic(err)
	}
}

type User struct {
	PeerID   string `json:"peerId"`
	Username string `json:"username"`
	Speaking bool   `json:"speaking"`
}

type CreateTransportParams struct {
	Sender bool `json:"sender"`
}

type CreateTransportResult struct {
	TransportID string                    `json:"transportId"`
	Params      media.TransportParameters `json:"params"`
}

type ConnectTransportParams struct {
	TransportID  string                    `json:"transportId" validate:"required"`
	RemoteParams media.TransportParameters `json:"remoteParams"`
}

type SuccessResult struct {
	Success bool `json:"success"`
}

var Success = SuccessResult{Success: true}

type ProduceParams struct {
	TransportID     string           `json:"transportId" validate:"required"`
	Kind            media.Kind       `json:"kind" validate:"kind"`
	MediaParameters media.Parameters `json:"mediaParameters"`
}

type ProduceResult struct {
	ID string `json:"id"`
}

type ConsumeParams struct {
	ProducerID           string             `json:"producerId" validate:"required"`
	ReceiverCapabilities media.Capabilities `json:"receiverCapabilities"`
	TransportID          string             `json:"transportId,omitempty"`
}

type ConsumeResult struct {
	ID              string           `json:"id"`
	ProducerID      string           `json:"producerId"`
	Kind            media.Kind       `json:"kind"`
	MediaParameters media.Parameters `json:"mediaParameters"`
}

type ConsumerParams struct {
	ConsumerID string `json:"consumerId" validate:"required"`
}

type ProducerParams struct {
	ProducerID string `json:"producerId" validate:"required"`
}

type JoinRoomParams struct {
	UserID   string `json:"userId" validate:"omitempty,peerid"`
	Username string `json:"username" validate:"max=64"`
	RoomID   string `json:"roomId" validate:"omitempty,roomid"`
}

type SpeakingParams struct {
	RoomID   string `json:"roomId,omitempty"`
	PeerID   string `json:"peerId,omitempty"`
	Speaking bool   `json:"speaking"`
}

type UserSpeaking struct {
	PeerID   string `json:"peerId"`
	Speaking bool   `json:"speaking"`
}

type NewProducer struct {
	PeerID     string     `json:"peerId"`
	ProducerID string     `json:"producerId"`
	Kind       media.Kind `json:"kind"`
}

type PeerLeft struct {
	PeerID string `json:"peerId"`
}

type ConsumerClosed struct {
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
}
