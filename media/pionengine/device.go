package pionengine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

type DeviceConfig struct {
	IncludeLoopback bool `mapstructure:"include_loopback"`
}

// Device is the peer side engine. It is the ICE controlling side of every
// transport it creates.
type Device struct {
	api    *webrtc.API
	logger *log.Logger

	mu         sync.Mutex
	caps       media.Capabilities
	loaded     bool
	transports []*localTransport
	closed     bool
}

func NewDevice(cfg DeviceConfig, logger *log.Logger) (*Device, error) {
	me, err := newMediaEngine(media.DefaultCapabilities())
	if err != nil {
		return nil, err
	}
	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(logger.Module("Pion"))}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	return &Device{
		api:    webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me)),
		logger: logger,
	}, nil
}

func (d *Device) Load(routerCaps media.Capabilities) error {
	caps := media.DefaultCapabilities().Intersect(routerCaps)
	if len(caps.Codecs) == 0 {
		return errors.New(errors.ErrIncompatible, "router offers no codec this device can use")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
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
	return d.caps
}

func (d *Device) CreateSendTransport(ctx context.Context, id string, remote media.TransportParameters) (media.LocalTransport, error) {
	return d.create(ctx, id, media.DirectionSend, remote)
}

func (d *Device) CreateRecvTransport(ctx context.Context, id string, remote media.TransportParameters) (media.LocalTransport, error) {
	return d.create(ctx, id, media.DirectionRecv, remote)
}

func (d *Device) create(ctx context.Context, id string, dir media.Direction, remote media.TransportParameters) (*localTransport, error) {
	d.mu.Lock()
	loaded, closed, caps := d.loaded, d.closed, d.caps
	d.mu.Unlock()
	if closed {
		return nil, errors.New(errors.ErrInvalidState, "device closed")
	}
	if !loaded {
		return nil, errors.New(errors.ErrInvalidState, "device not loaded")
	}

	l, err := newLink(ctx, d.api)
	if err != nil {
		return nil, err
	}
	t := &localTransport{
		id:     id,
		dir:    dir,
		remote: remote,
		caps:   caps,
		api:    d.api,
		link:   l,
		logger: d.logger.With(log.String("transportId", id)),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		l.close()
		return nil, errors.New(errors.ErrInvalidState, "device closed")
	}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	transports := d.transports
	d.transports = nil
	d.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	return nil
}

type localTransport struct {
	id     string
	dir    media.Direction
	remote media.TransportParameters
	caps   media.Capabilities
	api    *webrtc.API
	link   *link
	logger *log.Logger

	mu        sync.Mutex
	connected bool
	closers   []func()
	closed    bool
}

func (t *localTransport) ID() string                 { return t.id }
func (t *localTransport) Direction() media.Direction { return t.dir }

func (t *localTransport) Connect(ctx context.Context, signal media.ConnectFunc) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New(errors.ErrInvalidState, "transport closed")
	}
	if t.connected {
		return nil
	}
	if err := signal(ctx, t.link.local); err != nil {
		return err
	}
	t.connected = true

	go func() {
		t.link.handshake(t.remote, webrtc.ICERoleControlling)
		if t.link.err != nil {
			t.logger.Warn("Transport handshake failed", log.Error(t.link.err))
		}
	}()
	return nil
}

func (t *localTransport) ready(dir media.Direction) error {
	if t.closed {
		return errors.New(errors.ErrInvalidState, "transport closed")
	}
	if t.dir != dir {
		return errors.Newf(errors.ErrInvalidState, "transport %s is a %s transport", t.id, t.dir)
	}
	if !t.connected {
		return errors.Newf(errors.ErrInvalidState, "transport %s not connected", t.id)
	}
	return nil
}

func (t *localTransport) Produce(_ context.Context, src media.Source) (media.LocalProducer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ready(media.DirectionSend); err != nil {
		return nil, err
	}
	codec := src.Codec()
	if !t.caps.Supports(codec) {
		return nil, errors.Newf(errors.ErrIncompatible, "codec %s not loaded", codec.MimeType)
	}

	cname := uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(capability(codec), "audio", cname)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "new local track")
	}
	sender, err := t.api.NewRTPSender(track, t.link.dtls)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "new rtp sender")
	}
	sendParams := sender.GetParameters()

	ctx, cancel := context.WithCancel(context.Background())
	p := &localProducer{
		params: media.Parameters{Codecs: []media.Codec{codec}, CNAME: cname},
		cancel: cancel,
		sender: sender,
	}
	if len(sendParams.Encodings) > 0 {
		p.params.SSRC = uint32(sendParams.Encodings[0].SSRC)
	}
	t.closers = append(t.closers, func() { _ = p.Close() })

	go func() {
		if err := t.link.wait(ctx); err != nil {
			t.logger.Debug("Producer not started", log.Error(err))
			return
		}
		if err := sender.Send(sendParams); err != nil {
			t.logger.Warn("Producer send failed", log.Error(err))
			return
		}
		for {
			data, duration, err := src.ReadSample(ctx)
			if err != nil {
				t.logger.Debug("Capture stopped", log.Error(err))
				return
			}
			if err := track.WriteSample(pionmedia.Sample{Data: data, Duration: duration}); err != nil {
				t.logger.Debug("Sample write failed", log.Error(err))
			}
		}
	}()
	return p, nil
}

func (t *localTransport) Consume(_ context.Context, id, producerID string, params media.Parameters) (media.LocalConsumer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.ready(media.DirectionRecv); err != nil {
		return nil, err
	}

	receiver, err := t.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.link.dtls)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "new rtp receiver")
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &localConsumer{
		id:         id,
		producerID: producerID,
		receiver:   receiver,
		cancel:     cancel,
	}
	t.closers = append(t.closers, func() { _ = c.Close() })

	go func() {
		if err := t.link.wait(ctx); err != nil {
			return
		}
		if err := receiver.Receive(receiveParameters(params)); err != nil {
			t.logger.Warn("Consumer receive failed", log.Error(err))
			return
		}
		track := receiver.Track()
		if track == nil {
			return
		}
		for {
			if _, _, err := track.ReadRTP(); err != nil {
				return
			}
			c.packets.Add(1)
		}
	}()
	return c, nil
}

func (t *localTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	closers := t.closers
	t.closers = nil
	t.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
	t.link.close()
	return nil
}

type localProducer struct {
	params media.Parameters
	sender *webrtc.RTPSender
	cancel context.CancelFunc
	once   sync.Once
}

func (p *localProducer) Kind() media.Kind             { return media.KindAudio }
func (p *localProducer) Parameters() media.Parameters { return p.params }

func (p *localProducer) Close() error {
	p.once.Do(func() {
		p.cancel()
		_ = p.sender.Stop()
	})
	return nil
}

type localConsumer struct {
	id         string
	producerID string
	receiver   *webrtc.RTPReceiver
	cancel     context.CancelFunc
	packets    atomic.Uint64
	once       sync.Once
}

func (c *localConsumer) ID() string         { return c.id }
func (c *localConsumer) ProducerID() string { return c.producerID }
func (c *localConsumer) Packets() uint64    { return c.packets.Load() }

func (c *localConsumer) Close() error {
	c.once.Do(func() {
		c.cancel()
		_ = c.receiver.Stop()
	})
	return nil
}
