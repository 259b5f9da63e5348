package capture

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaf/g711"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
)

func writeWAV(t *testing.T, rate, channels int, samples []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "in.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

// silence then a half scale square wave, one frame each
func twoFrames() []int {
	samples := make([]int, 2*frameSamples)
	for i := frameSamples; i < len(samples); i++ {
		if i%2 == 0 {
			samples[i] = 16384
		} else {
			samples[i] = -16384
		}
	}
	return samples
}

func read(t *testing.T, clock *clockwork.FakeClock, src media.Source) ([]byte, error) {
	t.Helper()
	clock.Advance(frameDuration)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	frame, d, err := src.ReadSample(ctx)
	if err == nil {
		assert.Equal(t, frameDuration, d)
	}
	return frame, err
}

func TestWAVSourceFrames(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src, err := NewWAVCapturer(writeWAV(t, 8000, 1, twoFrames()), false, clock).Open(context.Background())
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, media.CodecPCMU, src.Codec())

	frame, err := read(t, clock, src)
	require.NoError(t, err)
	require.Len(t, frame, frameSamples)
	assert.Equal(t, g711.EncodeUlawFrame(0), frame[0])
	assert.Zero(t, src.Amplitude())

	frame, err = read(t, clock, src)
	require.NoError(t, err)
	assert.Equal(t, g711.EncodeUlawFrame(16384), frame[0])
	assert.InDelta(t, 0.5, src.Amplitude(), 1e-9)

	_, err = read(t, clock, src)
	assert.ErrorIs(t, err, io.EOF)
}

func TestWAVSourceLoops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src, err := NewWAVCapturer(writeWAV(t, 8000, 1, twoFrames()), true, clock).Open(context.Background())
	require.NoError(t, err)
	defer src.Close()

	for i := 0; i < 3; i++ {
		_, err := read(t, clock, src)
		require.NoError(t, err)
	}
	// third frame wrapped to the silent start
	assert.Zero(t, src.Amplitude())
}

func TestWAVSourceClose(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src, err := NewWAVCapturer(writeWAV(t, 8000, 1, twoFrames()), true, clock).Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, _, err = src.ReadSample(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestWAVCapturerRejects(t *testing.T) {
	clock := clockwork.NewFakeClock()
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(t.TempDir(), "none.wav")},
		{"wrong rate", writeWAV(t, 16000, 1, twoFrames())},
		{"stereo", writeWAV(t, 8000, 2, twoFrames())},
		{"too short", writeWAV(t, 8000, 1, make([]int, 10))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWAVCapturer(tt.path, false, clock).Open(context.Background())
			assert.True(t, errors.Is(err, errors.ErrDevice), err)
		})
	}
}
