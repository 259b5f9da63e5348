package pionengine

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

type router struct {
	id     string
	roomID string
	engine *Engine
	logger *log.Logger

	mu         sync.Mutex
	transports map[string]*transport
	closed     bool
}

func (r *router) ID() string                       { return r.id }
func (r *router) Capabilities() media.Capabilities { return r.engine.caps }

func (r *router) CanConsume(params media.Parameters, caps media.Capabilities) error {
	_, err := media.Negotiate(params, caps)
	return err
}

func (r *router) CreateTransport(ctx context.Context, opts media.TransportOptions) (media.Transport, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, errors.New(errors.ErrInvalidState, "router closed")
	}

	api, err := r.engine.api(opts.AnnouncedIP)
	if err != nil {
		return nil, err
	}
	l, err := newLink(ctx, api)
	if err != nil {
		return nil, err
	}

	t := &transport{
		id:        opts.ID,
		direction: opts.Direction,
		api:       api,
		link:      l,
		router:    r,
		logger: r.logger.With(
			log.String("transportId", opts.ID),
			log.PeerID(opts.PeerID)),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		l.close()
		return nil, errors.New(errors.ErrInvalidState, "router closed")
	}
	r.transports[t.id] = t
	return t, nil
}

func (r *router) removeTransport(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.transports, id)
}

func (r *router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.transports = make(map[string]*transport)
	r.mu.Unlock()

	for _, t := range transports {
		_ = t.Close()
	}
	r.engine.removeRouter(r.id)
	return nil
}

// codecFor finds the router codec matching c.
func (r *router) codecFor(c media.Codec) (webrtc.RTPCodecCapability, bool) {
	for _, have := range r.engine.caps.Codecs {
		if have.Matches(c) {
			return capability(have), true
		}
	}
	return webrtc.RTPCodecCapability{}, false
}
