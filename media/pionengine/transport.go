package pionengine

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

// transport is the relay end of a path. The relay is the ICE controlled
// side.
type transport struct {
	id        string
	direction media.Direction
	api       *webrtc.API
	link      *link
	router    *router
	logger    *log.Logger

	mu        sync.Mutex
	connected bool
	producers []*producer
	consumers []*consumer
	closed    bool
}

func (t *transport) ID() string { return t.id }

func (t *transport) LocalParameters() media.TransportParameters {
	return t.link.local
}

func (t *transport) Connect(ctx context.Context, remote media.TransportParameters) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return errors.New(errors.ErrInvalidState, "transport closed")
	}
	if t.connected {
		t.mu.Unlock()
		return errors.Newf(errors.ErrAlreadyConnected, "transport %s already connected", t.id)
	}
	t.connected = true
	t.mu.Unlock()

	err := t.router.engine.pool.submit(ctx, func() {
		t.link.handshake(remote, webrtc.ICERoleControlled)
		if t.link.err != nil {
			t.logger.Warn("Transport handshake failed", log.Error(t.link.err))
			return
		}
		t.logger.Debug("Transport connected")
	})
	if err != nil {
		// nothing was started, a later connect may try again
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}
	return err
}

func (t *transport) Produce(_ context.Context, id string, kind media.Kind, params media.Parameters) (media.Producer, error) {
	if t.direction != media.DirectionSend {
		return nil, errors.Newf(errors.ErrInvalidState, "transport %s is not a send transport", t.id)
	}
	receiver, err := t.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, t.link.dtls)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "new rtp receiver")
	}

	p := newProducer(id, kind, params, receiver, t.logger.With(log.ProducerID(id)))

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = receiver.Stop()
		return nil, errors.New(errors.ErrInvalidState, "transport closed")
	}
	t.producers = append(t.producers, p)
	t.mu.Unlock()

	go p.run(t.link)
	return p, nil
}

func (t *transport) Consume(_ context.Context, id string, source media.Producer, codec media.Codec) (media.Consumer, error) {
	if t.direction != media.DirectionRecv {
		return nil, errors.Newf(errors.ErrInvalidState, "transport %s is not a recv transport", t.id)
	}
	p, ok := source.(*producer)
	if !ok {
		return nil, errors.New(errors.ErrInvalidState, "producer belongs to another engine")
	}
	capability, ok := t.router.codecFor(codec)
	if !ok {
		return nil, errors.Newf(errors.ErrIncompatible, "codec %s not supported by router", codec.MimeType)
	}

	track, err := webrtc.NewTrackLocalStaticRTP(capability, id, p.id)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "new local track")
	}
	sender, err := t.api.NewRTPSender(track, t.link.dtls)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "new rtp sender")
	}

	c := &consumer{
		id:         id,
		transport:  t,
		producer:   p,
		track:      track,
		sender:     sender,
		sendParams: sender.GetParameters(),
		logger:     t.logger.With(log.String("consumerId", id)),
	}
	c.params = media.Parameters{
		Codecs: []media.Codec{codec},
		CNAME:  p.params.CNAME,
	}
	if len(c.sendParams.Encodings) > 0 {
		// packets are rewritten to the sender's ssrc
		c.params.SSRC = uint32(c.sendParams.Encodings[0].SSRC)
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = sender.Stop()
		return nil, errors.New(errors.ErrInvalidState, "transport closed")
	}
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()

	p.attach(c)
	return c, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	producers, consumers := t.producers, t.consumers
	t.producers, t.consumers = nil, nil
	t.mu.Unlock()

	for _, c := range consumers {
		_ = c.Close()
	}
	for _, p := range producers {
		_ = p.Close()
	}
	t.link.close()
	t.router.removeTransport(t.id)
	return nil
}
