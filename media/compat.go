package media

import (
	"github.com/imtaco/audio-rooms/internal/errors"
)

var (
	CodecOpus = Codec{
		MimeType:    "audio/opus",
		ClockRate:   48000,
		Channels:    2,
		PayloadType: 111,
		SDPFmtpLine: "minptime=10;useinbandfec=1",
	}
	CodecPCMU = Codec{
		MimeType:    "audio/PCMU",
		ClockRate:   8000,
		Channels:    1,
		PayloadType: 0,
	}
)

// DefaultCapabilities is what every room router offers.
func DefaultCapabilities() Capabilities {
	return Capabilities{Codecs: []Codec{CodecOpus, CodecPCMU}}
}

// Supports reports whether caps contain a codec matching c.
func (caps Capabilities) Supports(c Codec) bool {
	for _, have := range caps.Codecs {
		if have.Matches(c) {
			return true
		}
	}
	return false
}

// Intersect keeps the codecs of caps that other also supports, in caps order.
func (caps Capabilities) Intersect(other Capabilities) Capabilities {
	out := Capabilities{}
	for _, c := range caps.Codecs {
		if other.Supports(c) {
			out.Codecs = append(out.Codecs, c)
		}
	}
	return out
}

// Negotiate picks the first codec of params a receiver with caps can decode.
// It fails with ErrIncompatible when there is none.
func Negotiate(params Parameters, caps Capabilities) (Codec, error) {
	for _, c := range params.Codecs {
		if caps.Supports(c) {
			return c, nil
		}
	}
	return Codec{}, errors.New(errors.ErrIncompatible, "receiver supports none of the producer codecs")
}

// ValidateProduce checks that producer parameters only use router codecs.
func ValidateProduce(kind Kind, params Parameters, routerCaps Capabilities) error {
	if kind != KindAudio {
		return errors.Newf(errors.ErrInvalidState, "unsupported kind %q", kind)
	}
	if len(params.Codecs) == 0 {
		return errors.New(errors.ErrIncompatible, "no codecs in media parameters")
	}
	for _, c := range params.Codecs {
		if !routerCaps.Supports(c) {
			return errors.Newf(errors.ErrIncompatible, "codec %s/%d not supported by room", c.MimeType, c.ClockRate)
		}
	}
	return nil
}
