package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imtaco/audio-rooms/internal/errors"
)

func TestCodecMatches(t *testing.T) {
	assert.True(t, CodecOpus.Matches(Codec{MimeType: "AUDIO/OPUS", ClockRate: 48000, Channels: 2, PayloadType: 100}))
	assert.False(t, CodecOpus.Matches(Codec{MimeType: "audio/opus", ClockRate: 16000, Channels: 2}))
	assert.True(t, CodecPCMU.Matches(Codec{MimeType: "audio/PCMU", ClockRate: 8000}))
}

func TestNegotiate(t *testing.T) {
	params := Parameters{Codecs: []Codec{CodecOpus, CodecPCMU}, SSRC: 1234}

	codec, err := Negotiate(params, Capabilities{Codecs: []Codec{CodecPCMU}})
	require.NoError(t, err)
	assert.Equal(t, CodecPCMU, codec)

	_, err = Negotiate(params, Capabilities{Codecs: []Codec{{MimeType: "audio/G722", ClockRate: 8000}}})
	assert.True(t, errors.Is(err, errors.ErrIncompatible))

	_, err = Negotiate(params, Capabilities{})
	assert.True(t, errors.Is(err, errors.ErrIncompatible))
}

func TestIntersect(t *testing.T) {
	caps := DefaultCapabilities().Intersect(Capabilities{Codecs: []Codec{CodecPCMU}})
	assert.Equal(t, []Codec{CodecPCMU}, caps.Codecs)
}

func TestValidateProduce(t *testing.T) {
	router := DefaultCapabilities()

	require.NoError(t, ValidateProduce(KindAudio, Parameters{Codecs: []Codec{CodecOpus}}, router))

	err := ValidateProduce("video", Parameters{Codecs: []Codec{CodecOpus}}, router)
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	err = ValidateProduce(KindAudio, Parameters{}, router)
	assert.True(t, errors.Is(err, errors.ErrIncompatible))

	err = ValidateProduce(KindAudio, Parameters{Codecs: []Codec{{MimeType: "audio/G722", ClockRate: 8000}}}, router)
	assert.True(t, errors.Is(err, errors.ErrIncompatible))
}
