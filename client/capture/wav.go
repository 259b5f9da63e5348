// Package capture provides capture sources for the CLI client. WAVCapturer
// stands in for a microphone by replaying a file in real time.
package capture

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/jonboulle/clockwork"
	"github.com/zaf/g711"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
)

const (
	sampleRate    = 8000
	frameDuration = 20 * time.Millisecond
	frameSamples  = sampleRate / 50
)

// WAVCapturer reads 8kHz mono 16-bit PCM and emits PCMU frames every 20ms.
type WAVCapturer struct {
	path  string
	loop  bool
	clock clockwork.Clock
}

func NewWAVCapturer(path string, loop bool, clock clockwork.Clock) *WAVCapturer {
	return &WAVCapturer{path: path, loop: loop, clock: clock}
}

func (c *WAVCapturer) Open(_ context.Context) (media.Source, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDevice, err, "open %s", c.path)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, errors.Newf(errors.ErrDevice, "%s is not a wav file", c.path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrapf(errors.ErrDevice, err, "decode %s", c.path)
	}
	if dec.SampleRate != sampleRate || dec.NumChans != 1 || dec.BitDepth != 16 {
		return nil, errors.Newf(errors.ErrDevice, "want 8kHz mono 16-bit pcm, got %dHz %d channels %d-bit",
			dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if len(buf.Data) < frameSamples {
		return nil, errors.Newf(errors.ErrDevice, "%s is shorter than one frame", c.path)
	}

	pcm := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		pcm[i] = int16(v)
	}
	return &wavSource{
		pcm:    pcm,
		loop:   c.loop,
		ticker: c.clock.NewTicker(frameDuration),
		done:   make(chan struct{}),
	}, nil
}

type wavSource struct {
	pcm    []int16
	loop   bool
	ticker clockwork.Ticker

	mu   sync.Mutex
	pos  int
	peak float64

	done chan struct{}
	once sync.Once
}

func (s *wavSource) Codec() media.Codec { return media.CodecPCMU }

// ReadSample paces frames on the ticker. It returns io.EOF at the end of
// a non looping file and after Close.
func (s *wavSource) ReadSample(ctx context.Context) ([]byte, time.Duration, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-s.done:
		return nil, 0, io.EOF
	case <-s.ticker.Chan():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos+frameSamples > len(s.pcm) {
		if !s.loop {
			return nil, 0, io.EOF
		}
		s.pos = 0
	}
	frame := s.pcm[s.pos : s.pos+frameSamples]
	s.pos += frameSamples

	out := make([]byte, len(frame))
	peak := 0
	for i, v := range frame {
		out[i] = g711.EncodeUlawFrame(v)
		a := int(v)
		if a < 0 {
			a = -a
		}
		peak = max(peak, a)
	}
	s.peak = float64(peak) / 32768
	return out, frameDuration, nil
}

func (s *wavSource) Amplitude() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}

func (s *wavSource) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
