package recording

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
)

func TestOggSinkWritesFile(t *testing.T) {
	dir := t.TempDir()
	factory, err := NewSinkFactory(dir)
	require.NoError(t, err)

	sink, err := factory.NewSink("p1", media.Parameters{Codecs: []media.Codec{media.CodecOpus}})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, sink.WriteRTP(&rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    111,
				SequenceNumber: uint16(i),
				Timestamp:      uint32(i * 960),
			},
			Payload: []byte{0xf8, 0xff, 0xfe},
		}))
	}
	require.NoError(t, sink.Close())
	require.NoError(t, sink.Close())
	assert.NoError(t, sink.WriteRTP(&rtp.Packet{}), "writes after close are dropped")

	info, err := os.Stat(filepath.Join(dir, "p1.ogg"))
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestOggSinkRejectsNonOpus(t *testing.T) {
	factory, err := NewSinkFactory(t.TempDir())
	require.NoError(t, err)

	_, err = factory.NewSink("p1", media.Parameters{Codecs: []media.Codec{media.CodecPCMU}})
	assert.True(t, errors.Is(err, errors.ErrIncompatible))
}

func TestNoopSink(t *testing.T) {
	factory, err := NewSinkFactory("")
	require.NoError(t, err)

	sink, err := factory.NewSink("p1", media.Parameters{Codecs: []media.Codec{media.CodecPCMU}})
	require.NoError(t, err)
	assert.NoError(t, sink.WriteRTP(&rtp.Packet{}))
	assert.NoError(t, sink.Close())
}
