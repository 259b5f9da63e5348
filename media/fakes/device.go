package fakes

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
)

type Device struct {
	mu         sync.Mutex
	supported  media.Capabilities
	caps       media.Capabilities
	loaded     bool
	transports []*LocalTransport
	closed     bool
}

// NewDevice supports the default codec set unless caps are given.
func NewDevice(caps ...media.Codec) *Device {
	supported := media.DefaultCapabilities()
	if len(caps) > 0 {
		supported = media.Capabilities{Codecs: caps}
	}
	return &Device{supported: supported}
}

func (d *Device) Load(routerCaps media.Capabilities) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	caps := d.supported.Intersect(routerCaps)
	if len(caps.Codecs) == 0 {
		return errors.New(errors.ErrIncompatible, "no codec in common with router")
	}
	d.caps = caps
	d.loaded = true
	return nil
}

func (d *Device) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

func (d *Device) RecvCapabilities() media.Capabilities {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return d.supported
	}
	return d.caps
}

func (d *Device) CreateSendTransport(ctx context.Context, id string, remote media.TransportParameters) (media.LocalTransport, error) {
	return d.create(id, media.DirectionSend, remote)
}

func (d *Device) CreateRecvTransport(ctx context.Context, id string, remote media.TransportParameters) (media.LocalTransport, error) {
	return d.create(id, media.DirectionRecv, remote)
}

func (d *Device) create(id string, dir media.Direction, remote media.TransportParameters) (*LocalTransport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		return nil, errors.New(errors.ErrInvalidState, "device not loaded")
	}
	if d.closed {
		return nil, errors.New(errors.ErrInvalidState, "device closed")
	}
	t := &LocalTransport{id: id, dir: dir, Remote: remote}
	d.transports = append(d.transports, t)
	return t, nil
}

// Transports returns every transport created by the device.
func (d *Device) Transports() []*LocalTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*LocalTransport(nil), d.transports...)
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for _, t := range d.transports {
		_ = t.Close()
	}
	return nil
}

type LocalTransport struct {
	mu        sync.Mutex
	id        string
	dir       media.Direction
	Remote    media.TransportParameters
	connected bool
	closed    bool
	producers []*LocalProducer
	consumers []*LocalConsumer
}

func (t *LocalTransport) ID() string                 { return t.id }
func (t *LocalTransport) Direction() media.Direction { return t.dir }

func (t *LocalTransport) Connect(ctx context.Context, signal media.ConnectFunc) error {
	t.mu.Lock()
	if t.connected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	if err := signal(ctx, FakeParameters("peer-"+t.id, "")); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	return nil
}

func (t *LocalTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *LocalTransport) Produce(_ context.Context, src media.Source) (media.LocalProducer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dir != media.DirectionSend {
		return nil, errors.New(errors.ErrInvalidState, "not a send transport")
	}
	if !t.connected || t.closed {
		return nil, errors.New(errors.ErrInvalidState, "transport not connected")
	}
	p := &LocalProducer{
		params: media.Parameters{
			Codecs: []media.Codec{src.Codec()},
			SSRC:   rand.Uint32(),
			CNAME:  uuid.NewString(),
		},
		src: src,
	}
	t.producers = append(t.producers, p)
	return p, nil
}

func (t *LocalTransport) Consume(_ context.Context, id, producerID string, _ media.Parameters) (media.LocalConsumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dir != media.DirectionRecv {
		return nil, errors.New(errors.ErrInvalidState, "not a recv transport")
	}
	if !t.connected || t.closed {
		return nil, errors.New(errors.ErrInvalidState, "transport not connected")
	}
	c := &LocalConsumer{id: id, producerID: producerID}
	t.consumers = append(t.consumers, c)
	return c, nil
}

func (t *LocalTransport) Producers() []*LocalProducer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*LocalProducer(nil), t.producers...)
}

func (t *LocalTransport) Consumers() []*LocalConsumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*LocalConsumer(nil), t.consumers...)
}

func (t *LocalTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *LocalTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type LocalProducer struct {
	params media.Parameters
	src    media.Source
	closed atomic.Bool
}

func (p *LocalProducer) Kind() media.Kind             { return media.KindAudio }
func (p *LocalProducer) Parameters() media.Parameters { return p.params }
func (p *LocalProducer) Closed() bool                 { return p.closed.Load() }

func (p *LocalProducer) Close() error {
	p.closed.Store(true)
	return nil
}

type LocalConsumer struct {
	id         string
	producerID string
	packets    atomic.Uint64
	closed     atomic.Bool
}

func (c *LocalConsumer) ID() string         { return c.id }
func (c *LocalConsumer) ProducerID() string { return c.producerID }
func (c *LocalConsumer) Packets() uint64    { return c.packets.Load() }
func (c *LocalConsumer) Closed() bool       { return c.closed.Load() }

// Deliver simulates n received packets.
func (c *LocalConsumer) Deliver(n uint64) { c.packets.Add(n) }

func (c *LocalConsumer) Close() error {
	c.closed.Store(true)
	return nil
}

// Source is a capture source with a settable amplitude.
type Source struct {
	codec  media.Codec
	amp    atomic.Uint64
	closed atomic.Bool
	done   chan struct{}
	once   sync.Once
}

func NewSource(codec media.Codec) *Source {
	return &Source{codec: codec, done: make(chan struct{})}
}

func (s *Source) Codec() media.Codec { return s.codec }

// ReadSample blocks until ctx is done or the source is closed.
func (s *Source) ReadSample(ctx context.Context) ([]byte, time.Duration, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-s.done:
		return nil, 0, errors.New(errors.ErrDevice, "source closed")
	}
}

func (s *Source) SetAmplitude(v float64) {
	s.amp.Store(math.Float64bits(v))
}

func (s *Source) Amplitude() float64 {
	return math.Float64frombits(s.amp.Load())
}

func (s *Source) Closed() bool { return s.closed.Load() }

func (s *Source) Close() error {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}
