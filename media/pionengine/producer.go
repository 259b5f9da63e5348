package pionengine

import (
	"context"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

type producer struct {
	id       string
	kind     media.Kind
	params   media.Parameters
	receiver *webrtc.RTPReceiver
	logger   *log.Logger

	mu        sync.RWMutex
	consumers map[string]*consumer
	taps      map[int]media.RTPWriter
	nextTap   int

	closeOnce sync.Once
	closed    chan struct{}
}

func newProducer(id string, kind media.Kind, params media.Parameters, receiver *webrtc.RTPReceiver, logger *log.Logger) *producer {
	return &producer{
		id:        id,
		kind:      kind,
		params:    params,
		receiver:  receiver,
		logger:    logger,
		consumers: make(map[string]*consumer),
		taps:      make(map[int]media.RTPWriter),
		closed:    make(chan struct{}),
	}
}

func (p *producer) ID() string                   { return p.id }
func (p *producer) Kind() media.Kind             { return p.kind }
func (p *producer) Parameters() media.Parameters { return p.params }

func (p *producer) Tap(w media.RTPWriter) func() {
	p.mu.Lock()
	key := p.nextTap
	p.nextTap++
	p.taps[key] = w
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.taps, key)
		p.mu.Unlock()
	}
}

func (p *producer) attach(c *consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers[c.id] = c
}

func (p *producer) detach(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.consumers, id)
}

// run receives once the transport is up and forwards until the producer or
// its transport closes.
func (p *producer) run(l *link) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-p.closed:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := l.wait(ctx); err != nil {
		p.logger.Debug("Producer not started", log.Error(err))
		return
	}
	if err := p.receiver.Receive(receiveParameters(p.params)); err != nil {
		p.logger.Warn("Producer receive failed", log.Error(err))
		return
	}

	track := p.receiver.Track()
	if track == nil {
		p.logger.Warn("Producer has no remote track")
		return
	}
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			p.logger.Debug("Producer read stopped", log.Error(err))
			return
		}
		p.forward(pkt)
	}
}

func (p *producer) forward(pkt *rtp.Packet) {
	p.mu.RLock()
	consumers := make([]*consumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	taps := make([]media.RTPWriter, 0, len(p.taps))
	for _, w := range p.taps {
		taps = append(taps, w)
	}
	p.mu.RUnlock()

	for _, c := range consumers {
		c.write(pkt)
	}
	for _, w := range taps {
		if err := w.WriteRTP(pkt.Clone()); err != nil {
			p.logger.Debug("Tap write failed", log.Error(err))
		}
	}
}

func (p *producer) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.receiver.Stop()
	})
	return nil
}
