package pionengine

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
)

const (
	gatherTimeout    = 5 * time.Second
	handshakeTimeout = 30 * time.Second
)

// link is one ICE + DTLS path, shared by the relay transports and the
// device transports.
type link struct {
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
	local    media.TransportParameters

	ready  chan struct{}
	failed chan struct{}
	err    error

	closeOnce sync.Once
	closed    chan struct{}
}

func newLink(ctx context.Context, api *webrtc.API) (*link, error) {
	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "new ice gatherer")
	}

	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		_ = gatherer.Close()
		return nil, errors.Wrap(errors.ErrInternal, err, "gather candidates")
	}

	select {
	case <-gathered:
	case <-time.After(gatherTimeout):
	case <-ctx.Done():
		_ = gatherer.Close()
		return nil, errors.Wrap(errors.ErrTimeout, ctx.Err(), "gather candidates")
	}

	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		_ = gatherer.Close()
		return nil, errors.Wrap(errors.ErrInternal, err, "new dtls transport")
	}

	l := &link{
		gatherer: gatherer,
		ice:      ice,
		dtls:     dtls,
		ready:    make(chan struct{}),
		failed:   make(chan struct{}),
		closed:   make(chan struct{}),
	}
	if err := l.describe(); err != nil {
		l.close()
		return nil, err
	}
	return l, nil
}

func (l *link) describe() error {
	iceParams, err := l.gatherer.GetLocalParameters()
	if err != nil {
		return errors.Wrap(errors.ErrInternal, err, "local ice parameters")
	}
	candidates, err := l.gatherer.GetLocalCandidates()
	if err != nil {
		return errors.Wrap(errors.ErrInternal, err, "local ice candidates")
	}
	dtlsParams, err := l.dtls.GetLocalParameters()
	if err != nil {
		return errors.Wrap(errors.ErrInternal, err, "local dtls parameters")
	}

	l.local = media.TransportParameters{
		ICEParameters:  iceParameters(iceParams),
		ICECandidates:  iceCandidates(candidates),
		DTLSParameters: dtlsParameters(dtlsParams),
	}
	return nil
}

// handshake blocks until DTLS is up. ICE is stopped when it takes longer
// than handshakeTimeout, which fails the handshake.
func (l *link) handshake(remote media.TransportParameters, role webrtc.ICERole) {
	err := l.start(remote, role)
	if err != nil {
		l.err = err
		close(l.failed)
		return
	}
	close(l.ready)
}

func (l *link) start(remote media.TransportParameters, role webrtc.ICERole) error {
	candidates, err := toICECandidates(remote.ICECandidates)
	if err != nil {
		return err
	}
	if err := l.ice.SetRemoteCandidates(candidates); err != nil {
		return errors.Wrap(errors.ErrInternal, err, "set remote candidates")
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-l.closed:
		case <-time.After(handshakeTimeout):
			_ = l.ice.Stop()
		}
	}()

	if err := l.ice.Start(nil, toICEParameters(remote.ICEParameters), &role); err != nil {
		return errors.Wrap(errors.ErrTimeout, err, "ice start")
	}
	if err := l.dtls.Start(toDTLSParameters(remote.DTLSParameters)); err != nil {
		return errors.Wrap(errors.ErrInternal, err, "dtls start")
	}
	return nil
}

// wait returns once the handshake completed, failed or the link closed.
func (l *link) wait(ctx context.Context) error {
	select {
	case <-l.ready:
		return nil
	case <-l.failed:
		return l.err
	case <-l.closed:
		return errors.New(errors.ErrInvalidState, "transport closed")
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, ctx.Err(), "wait for transport")
	}
}

func (l *link) close() {
	l.closeOnce.Do(func() {
		close(l.closed)
		_ = l.dtls.Stop()
		_ = l.ice.Stop()
		_ = l.gatherer.Close()
	})
}
