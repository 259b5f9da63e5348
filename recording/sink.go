package recording

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
)

// Sink stores the packets of one producer.
type Sink interface {
	media.RTPWriter
	Close() error
}

type SinkFactory interface {
	NewSink(producerID string, params media.Parameters) (Sink, error)
}

// NewSinkFactory writes Ogg/Opus files under dir, or discards everything
// when dir is empty.
func NewSinkFactory(dir string) (SinkFactory, error) {
	if dir == "" {
		return noopFactory{}, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(errors.ErrInternal, err, "create recording dir %s", dir)
	}
	return &oggFactory{dir: dir}, nil
}

type noopFactory struct{}

func (noopFactory) NewSink(string, media.Parameters) (Sink, error) {
	return noopSink{}, nil
}

type noopSink struct{}

func (noopSink) WriteRTP(*rtp.Packet) error { return nil }
func (noopSink) Close() error               { return nil }

type oggFactory struct {
	dir string
}

func (f *oggFactory) NewSink(producerID string, params media.Parameters) (Sink, error) {
	var opus *media.Codec
	for i, c := range params.Codecs {
		if strings.EqualFold(c.MimeType, media.CodecOpus.MimeType) {
			opus = &params.Codecs[i]
			break
		}
	}
	if opus == nil {
		return nil, errors.New(errors.ErrIncompatible, "only opus producers can be recorded")
	}

	path := filepath.Join(f.dir, producerID+".ogg")
	w, err := oggwriter.New(path, opus.ClockRate, opus.Channels)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInternal, err, "open %s", path)
	}
	return &oggSink{w: w}, nil
}

// oggSink serializes the forwarder goroutine against Close.
type oggSink struct {
	mu     sync.Mutex
	w      *oggwriter.OggWriter
	closed bool
}

func (s *oggSink) WriteRTP(p *rtp.Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.w.WriteRTP(p)
}

func (s *oggSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.w.Close()
}
