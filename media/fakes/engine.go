// Package fakes holds in-memory media engines for tests. They keep the
// state machines of the real engine without touching the network.
package fakes

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
)

// Engine creates fake routers. RouterGate and ConnectGate, when set before
// use, hold NewRouter and Transport.Connect until they are closed.
type Engine struct {
	mu            sync.Mutex
	routers       []*Router
	FailNewRouter error
	FailConnect   error
	RouterGate    chan struct{}
	ConnectGate   chan struct{}
	closed        bool
}

func NewEngine() *Engine {
	return &Engine{}
}

func (e *Engine) NewRouter(ctx context.Context, roomID string) (media.Router, error) {
	e.mu.Lock()
	gate := e.RouterGate
	e.mu.Unlock()
	if err := wait(ctx, gate); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FailNewRouter != nil {
		return nil, e.FailNewRouter
	}
	r := &Router{
		id:     uuid.NewString(),
		RoomID: roomID,
		caps:   media.DefaultCapabilities(),
		engine: e,
	}
	e.routers = append(e.routers, r)
	return r, nil
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Routers returns every router created so far, closed ones included.
func (e *Engine) Routers() []*Router {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Router(nil), e.routers...)
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

type Router struct {
	mu         sync.Mutex
	id         string
	RoomID     string
	caps       media.Capabilities
	transports []*Transport
	engine     *Engine
	closed     bool
}

func (r *Router) ID() string                       { return r.id }
func (r *Router) Capabilities() media.Capabilities { return r.caps }

func (r *Router) CanConsume(params media.Parameters, caps media.Capabilities) error {
	_, err := media.Negotiate(params, caps)
	return err
}

func (r *Router) CreateTransport(_ context.Context, opts media.TransportOptions) (media.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New(errors.ErrInvalidState, "router closed")
	}
	t := &Transport{
		id:          opts.ID,
		Direction:   opts.Direction,
		AnnouncedIP: opts.AnnouncedIP,
		engine:      r.engine,
	}
	r.transports = append(r.transports, t)
	return t, nil
}

func (r *Router) Transports() []*Transport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Transport(nil), r.transports...)
}

func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *Router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

type Transport struct {
	mu          sync.Mutex
	id          string
	Direction   media.Direction
	AnnouncedIP string
	remote      *media.TransportParameters
	connects    int
	consumers   []*Consumer
	engine      *Engine
	closed      bool
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) LocalParameters() media.TransportParameters {
	return FakeParameters("relay-"+t.id, t.AnnouncedIP)
}

func (t *Transport) Connect(ctx context.Context, remote media.TransportParameters) error {
	var (
		gate    chan struct{}
		failure error
	)
	if t.engine != nil {
		t.engine.mu.Lock()
		gate, failure = t.engine.ConnectGate, t.engine.FailConnect
		t.engine.mu.Unlock()
	}
	if err := wait(ctx, gate); err != nil {
		return err
	}
	if failure != nil {
		return failure
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.connects++
	t.remote = &remote
	return nil
}

// Connects counts handshakes started on this transport.
func (t *Transport) Connects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connects
}

func (t *Transport) Produce(_ context.Context, id string, kind media.Kind, params media.Parameters) (media.Producer, error) {
	return &Producer{id: id, kind: kind, params: params}, nil
}

func (t *Transport) Consume(_ context.Context, id string, producer media.Producer, _ media.Codec) (media.Consumer, error) {
	c := &Consumer{id: id, params: producer.Parameters()}
	if p, ok := producer.(*Producer); ok {
		p.attach(c)
	}
	t.mu.Lock()
	t.consumers = append(t.consumers, c)
	t.mu.Unlock()
	return c, nil
}

func (t *Transport) Consumers() []*Consumer {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Consumer(nil), t.consumers...)
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *Transport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

type Producer struct {
	mu        sync.Mutex
	id        string
	kind      media.Kind
	params    media.Parameters
	consumers []*Consumer
	taps      map[int]media.RTPWriter
	nextTap   int
	closed    bool
}

func (p *Producer) ID() string                   { return p.id }
func (p *Producer) Kind() media.Kind             { return p.kind }
func (p *Producer) Parameters() media.Parameters { return p.params }

func (p *Producer) Tap(w media.RTPWriter) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.taps == nil {
		p.taps = make(map[int]media.RTPWriter)
	}
	n := p.nextTap
	p.nextTap++
	p.taps[n] = w
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.taps, n)
	}
}

func (p *Producer) attach(c *Consumer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumers = append(p.consumers, c)
}

// Forward delivers pkt to taps and to resumed consumers.
func (p *Producer) Forward(pkt *rtp.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	for _, w := range p.taps {
		_ = w.WriteRTP(pkt)
	}
	for _, c := range p.consumers {
		c.deliver()
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *Producer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type Consumer struct {
	mu       sync.Mutex
	id       string
	params   media.Parameters
	active   bool
	closed   bool
	received int
}

func (c *Consumer) ID() string                   { return c.id }
func (c *Consumer) Parameters() media.Parameters { return c.params }

func (c *Consumer) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New(errors.ErrInvalidState, "consumer closed")
	}
	c.active = true
	return nil
}

func (c *Consumer) deliver() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active && !c.closed {
		c.received++
	}
}

// Received counts packets forwarded while the consumer was active.
func (c *Consumer) Received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.received
}

func (c *Consumer) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Consumer) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// FakeParameters builds syntactically valid transport parameters.
func FakeParameters(ufrag, address string) media.TransportParameters {
	if address == "" {
		address = "127.0.0.1"
	}
	return media.TransportParameters{
		ICEParameters: media.ICEParameters{
			UsernameFragment: ufrag,
			Password:         "pwd-" + ufrag,
		},
		ICECandidates: []media.ICECandidate{{
			Foundation: "1",
			Priority:   2130706431,
			Address:    address,
			Protocol:   "udp",
			Port:       40000,
			Type:       "host",
		}},
		DTLSParameters: media.DTLSParameters{
			Role: "auto",
			Fingerprints: []media.DTLSFingerprint{{
				Algorithm: "sha-256",
				Value:     "AA:BB:CC",
			}},
		},
	}
}
