// Package media describes what the relay and its peers negotiate: codec
// capabilities, RTP parameters and transport parameters. The media engine
// itself sits behind the Engine and Device interfaces.
package media

import (
	"strings"
)

type Kind string

const KindAudio Kind = "audio"

type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

// Codec is one codec a side can send or receive.
type Codec struct {
	MimeType    string `json:"mimeType" validate:"required"`
	ClockRate   uint32 `json:"clockRate" validate:"required"`
	Channels    uint16 `json:"channels,omitempty"`
	PayloadType uint8  `json:"payloadType"`
	SDPFmtpLine string `json:"sdpFmtpLine,omitempty"`
}

// Matches compares the codec identity, ignoring the payload type.
func (c Codec) Matches(o Codec) bool {
	return strings.EqualFold(c.MimeType, o.MimeType) &&
		c.ClockRate == o.ClockRate &&
		channels(c.Channels) == channels(o.Channels)
}

func channels(n uint16) uint16 {
	if n == 0 {
		return 1
	}
	return n
}

// Capabilities is the capability descriptor of a router or a device.
type Capabilities struct {
	Codecs []Codec `json:"codecs" validate:"dive"`
}

// Parameters are the RTP parameters of a producer or a consumer.
type Parameters struct {
	Codecs []Codec `json:"codecs" validate:"required,min=1,dive"`
	SSRC   uint32  `json:"ssrc"`
	CNAME  string  `json:"cname,omitempty"`
}

type ICEParameters struct {
	UsernameFragment string `json:"usernameFragment" validate:"required"`
	Password         string `json:"password" validate:"required"`
	ICELite          bool   `json:"iceLite,omitempty"`
}

type ICECandidate struct {
	Foundation string `json:"foundation"`
	Priority   uint32 `json:"priority"`
	Address    string `json:"address" validate:"required"`
	Protocol   string `json:"protocol" validate:"oneof=udp tcp"`
	Port       uint16 `json:"port" validate:"required"`
	Type       string `json:"type"`
}

type DTLSFingerprint struct {
	Algorithm string `json:"algorithm" validate:"required"`
	Value     string `json:"value" validate:"required"`
}

type DTLSParameters struct {
	Role         string            `json:"role,omitempty"`
	Fingerprints []DTLSFingerprint `json:"fingerprints" validate:"required,min=1,dive"`
}

// TransportParameters is everything one side needs to reach the other.
type TransportParameters struct {
	ICEParameters  ICEParameters  `json:"iceParameters"`
	ICECandidates  []ICECandidate `json:"iceCandidates" validate:"dive"`
	DTLSParameters DTLSParameters `json:"dtlsParameters"`
}
