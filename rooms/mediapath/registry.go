package mediapath

import (
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

type transportEntry struct {
	info      Transport
	handle    media.Transport
	seq       uint64
	reaper    clockwork.Timer
	producers map[string]struct{}
	consumers map[string]struct{}

	// set while the engine handshake is being started
	connecting bool
}

type producerEntry struct {
	info      Producer
	handle    media.Producer
	seq       uint64
	consumers map[string]struct{}
}

type consumerEntry struct {
	info   Consumer
	handle media.Consumer
}

// Registry holds every media path of one room. All methods are safe for
// concurrent use; handles are closed outside the lock.
type Registry struct {
	mu             sync.Mutex
	router         media.Router
	resolver       *AddressResolver
	connectTimeout time.Duration
	clock          clockwork.Clock
	logger         *log.Logger

	seq        uint64
	transports map[string]*transportEntry
	producers  map[string]*producerEntry
	consumers  map[string]*consumerEntry
	closed     bool
}

// New creates the registry of a room router. A zero connectTimeout keeps
// unconnected transports forever.
func New(
	router media.Router,
	resolver *AddressResolver,
	connectTimeout time.Duration,
	clock clockwork.Clock,
	logger *log.Logger,
) *Registry {
	return &Registry{
		router:         router,
		resolver:       resolver,
		connectTimeout: connectTimeout,
		clock:          clock,
		logger:         logger,
		transports:     make(map[string]*transportEntry),
		producers:      make(map[string]*producerEntry),
		consumers:      make(map[string]*consumerEntry),
	}
}

func (r *Registry) Capabilities() media.Capabilities {
	return r.router.Capabilities()
}

func (r *Registry) CreateTransport(ctx context.Context, peerID string, dir media.Direction, hint string) (Transport, error) {
	if dir != media.DirectionSend && dir != media.DirectionRecv {
		return Transport{}, errors.Newf(errors.ErrInvalidState, "unknown direction %q", dir)
	}

	r.mu.Lock()
	err := r.checkCreateLocked(peerID, dir)
	r.mu.Unlock()
	if err != nil {
		return Transport{}, err
	}

	id := uuid.NewString()
	announced := r.resolver.Resolve(hint)
	handle, err := r.router.CreateTransport(ctx, media.TransportOptions{
		ID:          id,
		PeerID:      peerID,
		Direction:   dir,
		AnnouncedIP: announced,
	})
	if err != nil {
		return Transport{}, errors.Wrap(errors.ErrInternal, err, "create transport")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// another create may have won while the router was busy
	if err := r.checkCreateLocked(peerID, dir); err != nil {
		_ = handle.Close()
		return Transport{}, err
	}

	r.seq++
	entry := &transportEntry{
		info: Transport{
			ID:          id,
			PeerID:      peerID,
			Direction:   dir,
			State:       TransportCreated,
			AnnouncedIP: announced,
			Params:      handle.LocalParameters(),
			CreatedAt:   r.clock.Now(),
		},
		handle:    handle,
		seq:       r.seq,
		producers: make(map[string]struct{}),
		consumers: make(map[string]struct{}),
	}
	if r.connectTimeout > 0 {
		entry.reaper = r.clock.AfterFunc(r.connectTimeout, func() { r.reap(id) })
	}
	r.transports[id] = entry
	transportsCreated.Add(ctx, 1)

	r.logger.Debug("transport created",
		log.String("transportId", id),
		log.PeerID(peerID),
		log.String("direction", string(dir)),
		log.String("announcedIp", announced))
	return entry.info, nil
}

func (r *Registry) checkCreateLocked(peerID string, dir media.Direction) error {
	if r.closed {
		return errors.New(errors.ErrInvalidState, "registry closed")
	}
	if dir != media.DirectionSend {
		return nil
	}
	for _, t := range r.transports {
		if t.info.PeerID == peerID && t.info.Direction == media.DirectionSend {
			return errors.Newf(errors.ErrInvalidState, "peer %s already has a send transport", peerID)
		}
	}
	return nil
}

// ConnectTransport starts the handshake of a created transport. The engine
// is called without the registry lock, so a slow engine holds back only
// this transport.
func (r *Registry) ConnectTransport(ctx context.Context, peerID, transportID string, remote media.TransportParameters) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New(errors.ErrInvalidState, "registry closed")
	}
	t, err := r.ownedTransportLocked(peerID, transportID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if t.info.State == TransportConnected {
		r.mu.Unlock()
		return errors.Newf(errors.ErrAlreadyConnected, "transport %s already connected", transportID)
	}
	if t.connecting {
		r.mu.Unlock()
		return errors.Newf(errors.ErrInvalidState, "transport %s is connecting", transportID)
	}
	t.connecting = true
	r.mu.Unlock()

	connErr := t.handle.Connect(ctx, remote)

	r.mu.Lock()
	t.connecting = false
	if cur, ok := r.transports[transportID]; !ok || cur != t {
		r.mu.Unlock()
		return errors.Newf(errors.ErrNotFound, "transport %s closed while connecting", transportID)
	}
	if connErr != nil {
		var rm *removal
		if r.connectTimeout > 0 && r.clock.Since(t.info.CreatedAt) >= r.connectTimeout {
			// the reaper passed this transport over while it was connecting
			rm = &removal{}
			r.removeTransportLocked(t, rm)
		}
		r.mu.Unlock()
		if rm != nil {
			r.finish(rm)
		}
		return errors.Wrap(errors.ErrInternal, connErr, "connect transport")
	}
	if t.reaper != nil {
		t.reaper.Stop()
		t.reaper = nil
	}
	t.info.State = TransportConnected
	r.mu.Unlock()
	return nil
}

func (r *Registry) ownedTransportLocked(peerID, transportID string) (*transportEntry, error) {
	t, ok := r.transports[transportID]
	if !ok || t.info.PeerID != peerID {
		return nil, errors.Newf(errors.ErrNotFound, "transport %s not found", transportID)
	}
	return t, nil
}

func (r *Registry) Produce(ctx context.Context, peerID, transportID string, kind media.Kind, params media.Parameters) (Producer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Producer{}, errors.New(errors.ErrInvalidState, "registry closed")
	}
	t, err := r.ownedTransportLocked(peerID, transportID)
	if err != nil {
		return Producer{}, err
	}
	if t.info.Direction != media.DirectionSend {
		return Producer{}, errors.Newf(errors.ErrInvalidState, "transport %s is not a send transport", transportID)
	}
	if t.info.State != TransportConnected {
		return Producer{}, errors.Newf(errors.ErrInvalidState, "transport %s not connected", transportID)
	}
	if err := media.ValidateProduce(kind, params, r.router.Capabilities()); err != nil {
		return Producer{}, err
	}

	id := uuid.NewString()
	handle, err := t.handle.Produce(ctx, id, kind, params)
	if err != nil {
		return Producer{}, errors.Wrap(errors.ErrInternal, err, "produce")
	}

	r.seq++
	p := &producerEntry{
		info: Producer{
			ID:          id,
			PeerID:      peerID,
			TransportID: transportID,
			Kind:        kind,
			Parameters:  params,
		},
		handle:    handle,
		seq:       r.seq,
		consumers: make(map[string]struct{}),
	}
	r.producers[id] = p
	t.producers[id] = struct{}{}
	producersCreated.Add(ctx, 1)
	return p.info, nil
}

// Consume attaches a paused consumer of producerID for peerID. An empty
// transportID picks the first connected recv transport of the peer.
func (r *Registry) Consume(ctx context.Context, peerID, producerID string, caps media.Capabilities, transportID string) (Consumer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Consumer{}, errors.New(errors.ErrInvalidState, "registry closed")
	}
	p, ok := r.producers[producerID]
	if !ok {
		return Consumer{}, errors.Newf(errors.ErrNotFound, "producer %s not found", producerID)
	}
	if err := r.router.CanConsume(p.info.Parameters, caps); err != nil {
		if errors.Is(err, errors.ErrIncompatible) {
			return Consumer{}, err
		}
		return Consumer{}, errors.Wrap(errors.ErrIncompatible, err, "can consume")
	}

	t, err := r.recvTransportLocked(peerID, transportID)
	if err != nil {
		return Consumer{}, err
	}

	codec, err := media.Negotiate(p.info.Parameters, caps)
	if err != nil {
		return Consumer{}, err
	}

	id := uuid.NewString()
	handle, err := t.handle.Consume(ctx, id, p.handle, codec)
	if err != nil {
		return Consumer{}, errors.Wrap(errors.ErrInternal, err, "consume")
	}

	c := &consumerEntry{
		info: Consumer{
			ID:             id,
			PeerID:         peerID,
			TransportID:    t.info.ID,
			ProducerID:     producerID,
			ProducerPeerID: p.info.PeerID,
			Kind:           p.info.Kind,
			Parameters:     handle.Parameters(),
			State:          ConsumerPaused,
		},
		handle: handle,
	}
	r.consumers[id] = c
	t.consumers[id] = struct{}{}
	p.consumers[id] = struct{}{}
	consumersCreated.Add(ctx, 1)
	return c.info, nil
}

func (r *Registry) recvTransportLocked(peerID, transportID string) (*transportEntry, error) {
	if transportID == "" {
		var picked *transportEntry
		for _, t := range r.transports {
			if t.info.PeerID != peerID || t.info.Direction != media.DirectionRecv || t.info.State != TransportConnected {
				continue
			}
			if picked == nil || t.seq < picked.seq {
				picked = t
			}
		}
		if picked == nil {
			return nil, errors.Newf(errors.ErrInvalidState, "peer %s has no connected recv transport", peerID)
		}
		return picked, nil
	}

	t, err := r.ownedTransportLocked(peerID, transportID)
	if err != nil {
		return nil, err
	}
	if t.info.Direction != media.DirectionRecv {
		return nil, errors.Newf(errors.ErrInvalidState, "transport %s is not a recv transport", transportID)
	}
	if t.info.State != TransportConnected {
		return nil, errors.Newf(errors.ErrInvalidState, "transport %s not connected", transportID)
	}
	return t, nil
}

// ResumeConsumer activates a paused consumer. Resuming an active one is a no-op.
func (r *Registry) ResumeConsumer(_ context.Context, peerID, consumerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.consumers[consumerID]
	if !ok || c.info.PeerID != peerID {
		return errors.Newf(errors.ErrNotFound, "consumer %s not found", consumerID)
	}
	if c.info.State == ConsumerActive {
		return nil
	}
	if err := c.handle.Resume(); err != nil {
		return errors.Wrap(errors.ErrInternal, err, "resume consumer")
	}
	c.info.State = ConsumerActive
	return nil
}

// removal collects infos and the handles to close once the lock is released.
type removal struct {
	Removal
	closers []io.Closer
}

func (r *Registry) RemoveTransport(peerID, transportID string) (Removal, error) {
	r.mu.Lock()
	t, err := r.ownedTransportLocked(peerID, transportID)
	if err != nil {
		r.mu.Unlock()
		return Removal{}, err
	}
	rm := &removal{}
	r.removeTransportLocked(t, rm)
	r.mu.Unlock()
	return r.finish(rm), nil
}

// RemoveProducer closes a producer and every consumer of it.
func (r *Registry) RemoveProducer(peerID, producerID string) (Removal, error) {
	r.mu.Lock()
	p, ok := r.producers[producerID]
	if !ok || p.info.PeerID != peerID {
		r.mu.Unlock()
		return Removal{}, errors.Newf(errors.ErrNotFound, "producer %s not found", producerID)
	}
	rm := &removal{}
	r.removeProducerLocked(p, rm)
	r.mu.Unlock()
	return r.finish(rm), nil
}

func (r *Registry) RemoveConsumer(peerID, consumerID string) (Removal, error) {
	r.mu.Lock()
	c, ok := r.consumers[consumerID]
	if !ok || c.info.PeerID != peerID {
		r.mu.Unlock()
		return Removal{}, errors.Newf(errors.ErrNotFound, "consumer %s not found", consumerID)
	}
	rm := &removal{}
	r.removeConsumerLocked(c, rm)
	r.mu.Unlock()
	return r.finish(rm), nil
}

// RemovePeer closes every transport owned by peerID.
func (r *Registry) RemovePeer(peerID string) Removal {
	r.mu.Lock()
	rm := &removal{}
	for _, t := range r.sortedTransportsLocked() {
		if t.info.PeerID == peerID {
			r.removeTransportLocked(t, rm)
		}
	}
	r.mu.Unlock()
	return r.finish(rm)
}

// Close releases every handle. The registry rejects new paths afterwards.
func (r *Registry) Close() Removal {
	r.mu.Lock()
	r.closed = true
	rm := &removal{}
	for _, t := range r.sortedTransportsLocked() {
		r.removeTransportLocked(t, rm)
	}
	r.mu.Unlock()
	return r.finish(rm)
}

func (r *Registry) sortedTransportsLocked() []*transportEntry {
	out := make([]*transportEntry, 0, len(r.transports))
	for _, t := range r.transports {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Registry) removeTransportLocked(t *transportEntry, rm *removal) {
	if t.reaper != nil {
		t.reaper.Stop()
		t.reaper = nil
	}
	for id := range t.consumers {
		if c, ok := r.consumers[id]; ok {
			r.removeConsumerLocked(c, rm)
		}
	}
	for id := range t.producers {
		if p, ok := r.producers[id]; ok {
			r.removeProducerLocked(p, rm)
		}
	}
	delete(r.transports, t.info.ID)
	t.info.State = TransportClosed
	rm.Transports = append(rm.Transports, t.info)
	rm.closers = append(rm.closers, t.handle)
}

func (r *Registry) removeProducerLocked(p *producerEntry, rm *removal) {
	for id := range p.consumers {
		if c, ok := r.consumers[id]; ok {
			r.removeConsumerLocked(c, rm)
		}
	}
	delete(r.producers, p.info.ID)
	if t, ok := r.transports[p.info.TransportID]; ok {
		delete(t.producers, p.info.ID)
	}
	rm.Producers = append(rm.Producers, p.info)
	rm.closers = append(rm.closers, p.handle)
}

func (r *Registry) removeConsumerLocked(c *consumerEntry, rm *removal) {
	delete(r.consumers, c.info.ID)
	if t, ok := r.transports[c.info.TransportID]; ok {
		delete(t.consumers, c.info.ID)
	}
	if p, ok := r.producers[c.info.ProducerID]; ok {
		delete(p.consumers, c.info.ID)
	}
	c.info.State = ConsumerClosed
	rm.Consumers = append(rm.Consumers, c.info)
	rm.closers = append(rm.closers, c.handle)
}

func (r *Registry) finish(rm *removal) Removal {
	for _, c := range rm.closers {
		if err := c.Close(); err != nil {
			r.logger.Warn("close media handle", log.Error(err))
		}
	}
	if n := len(rm.Consumers); n > 0 {
		consumersClosed.Add(context.Background(), int64(n))
	}
	return rm.Removal
}

func (r *Registry) reap(transportID string) {
	r.mu.Lock()
	t, ok := r.transports[transportID]
	if !ok || t.info.State != TransportCreated || t.connecting {
		r.mu.Unlock()
		return
	}
	t.reaper = nil
	rm := &removal{}
	r.removeTransportLocked(t, rm)
	r.mu.Unlock()

	r.finish(rm)
	transportsReaped.Add(context.Background(), 1)
	r.logger.Info("transport never connected, closed",
		log.String("transportId", transportID),
		log.PeerID(t.info.PeerID))
}

func (r *Registry) Transport(id string) (Transport, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transports[id]
	if !ok {
		return Transport{}, false
	}
	return t.info, true
}

func (r *Registry) Producer(id string) (Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	if !ok {
		return Producer{}, false
	}
	return p.info, true
}

// ProducerHandle exposes the engine producer, for taps such as recording.
func (r *Registry) ProducerHandle(id string) (media.Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.producers[id]
	if !ok {
		return nil, false
	}
	return p.handle, true
}

func (r *Registry) Consumer(id string) (Consumer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.consumers[id]
	if !ok {
		return Consumer{}, false
	}
	return c.info, true
}

// Producers lists live producers in creation order.
func (r *Registry) Producers() []Producer {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := make([]*producerEntry, 0, len(r.producers))
	for _, p := range r.producers {
		entries = append(entries, p)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	out := make([]Producer, len(entries))
	for i, p := range entries {
		out[i] = p.info
	}
	return out
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Transports: len(r.transports),
		Producers:  len(r.producers),
		Consumers:  len(r.consumers),
	}
}
