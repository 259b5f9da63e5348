// Package client is the peer side of a room: it negotiates paths with the
// relay, consumes the other members' audio and produces its own on unmute.
package client

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/imtaco/audio-rooms/client/speaking"
	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	wsrpc "github.com/imtaco/audio-rooms/internal/jsonrpc/websocket"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/internal/retry"
	"github.com/imtaco/audio-rooms/media"
	"github.com/imtaco/audio-rooms/protocol"
)

const eventBufferSize = 64

// Capturer acquires the local capture device.
type Capturer interface {
	Open(ctx context.Context) (media.Source, error)
}

type Session struct {
	cfg      Config
	device   media.Device
	capturer Capturer
	clock    clockwork.Clock
	retry    retry.Retry
	logger   *log.Logger

	peer   jsonrpc.Peer[struct{}]
	rpc    jsonrpc.Client[struct{}]
	ctx    context.Context
	cancel context.CancelFunc
	ready  chan struct{}
	send   media.LocalTransport
	recv   media.LocalTransport

	// produceMu serializes Unmute, Mute and Close. Push handlers never take it.
	produceMu  sync.Mutex
	source     media.Source
	producer   media.LocalProducer
	producerID string
	tracker    *speaking.Tracker

	mu        sync.Mutex
	consumers map[string]media.LocalConsumer
	events    chan Event
	closed    bool

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Join connects to the relay and negotiates both transports. The returned
// session is in the room and consumes every foreign producer it hears of.
func Join(
	ctx context.Context,
	cfg Config,
	device media.Device,
	capturer Capturer,
	clock clockwork.Clock,
	logger *log.Logger,
) (*Session, error) {
	cfg.withDefaults()
	endpoint, header, err := cfg.endpoint()
	if err != nil {
		return nil, err
	}
	logger = logger.Module("Session").With(
		log.RoomID(cfg.RoomID),
		log.PeerID(cfg.PeerID))

	peer, err := wsrpc.Dial[struct{}](ctx, endpoint, header, nil, logger.Module("RPC"))
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:       cfg,
		device:    device,
		capturer:  capturer,
		clock:     clock,
		retry:     retry.NewFixed(logger, cfg.Capabilities.Attempts, cfg.Capabilities.Backoff),
		logger:    logger,
		peer:      peer,
		rpc:       jsonrpc.TimeoutClient[struct{}](peer, cfg.RequestTimeout),
		ctx:       sctx,
		cancel:    cancel,
		ready:     make(chan struct{}),
		consumers: make(map[string]media.LocalConsumer),
		events:    make(chan Event, eventBufferSize),
	}
	s.define()

	if err := peer.Open(sctx); err != nil {
		cancel()
		_ = peer.Close()
		return nil, err
	}
	if err := s.negotiate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	logger.Info("Joined room")
	return s, nil
}

func (s *Session) negotiate(ctx context.Context) error {
	caps, err := s.fetchCapabilities(ctx)
	if err != nil {
		return err
	}
	if err := s.device.Load(caps); err != nil {
		return err
	}

	if s.send, err = s.openTransport(ctx, true); err != nil {
		return err
	}
	if s.recv, err = s.openTransport(ctx, false); err != nil {
		return err
	}
	close(s.ready)

	return s.rpc.Notify(ctx, protocol.NotifyJoinRoom, protocol.JoinRoomParams{
		UserID:   s.cfg.PeerID,
		Username: s.cfg.Username,
		RoomID:   s.cfg.RoomID,
	})
}

// fetchCapabilities gives up after the configured attempts or timeout,
// whichever comes first.
func (s *Session) fetchCapabilities(ctx context.Context) (media.Capabilities, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Capabilities.Timeout)
	defer cancel()

	var caps media.Capabilities
	err := s.retry.Do(ctx, func() error {
		err := s.rpc.Call(ctx, protocol.MethodGetRouterRtpCapabilities, nil, &caps)
		if errors.Is(err, jsonrpc.ErrClosed) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return caps, errors.Wrap(errors.ErrTimeout, err, "fetch router capabilities")
	}
	return caps, nil
}

// openTransport creates the relay side, then the local side, and returns
// once the relay accepted the local parameters.
func (s *Session) openTransport(ctx context.Context, sender bool) (media.LocalTransport, error) {
	var created protocol.CreateTransportResult
	err := s.call(ctx, protocol.MethodCreateWebRtcTransport, protocol.CreateTransportParams{Sender: sender}, &created)
	if err != nil {
		return nil, err
	}

	create := s.device.CreateRecvTransport
	if sender {
		create = s.device.CreateSendTransport
	}
	t, err := create(ctx, created.TransportID, created.Params)
	if err != nil {
		return nil, err
	}

	err = t.Connect(ctx, func(ctx context.Context, local media.TransportParameters) error {
		return s.call(ctx, protocol.MethodConnectWebRtcTransport, protocol.ConnectTransportParams{
			TransportID:  created.TransportID,
			RemoteParams: local,
		}, nil)
	})
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	s.logger.Debug("Transport connected",
		log.String("transportId", created.TransportID),
		log.String("direction", string(t.Direction())))
	return t, nil
}

func (s *Session) call(ctx context.Context, method string, params, result any) error {
	return protocol.FromRPCError(s.rpc.Call(ctx, method, params, result))
}

// push registers a handler for a relay push. Handlers run on the read
// loop, so they must never wait on a call.
func push[P any](s *Session, method string, handle func(P)) {
	s.peer.Def(method, func(_ context.Context, _ jsonrpc.MethodContext[struct{}], params *json.RawMessage) (any, error) {
		var p P
		if params != nil {
			if err := json.Unmarshal(*params, &p); err != nil {
				s.logger.Warn("Malformed push", log.String("method", method), log.Error(err))
				//nolint:nilnil
				return nil, nil
			}
		}
		handle(p)
		//nolint:nilnil
		return nil, nil
	})
}

func (s *Session) define() {
	push(s, protocol.PushUsers, func(users []protocol.User) {
		s.emit(Event{Type: EventUsers, Users: users})
	})
	push(s, protocol.PushUserJoined, func(u protocol.User) {
		s.emit(Event{Type: EventUserJoined, PeerID: u.PeerID, Users: []protocol.User{u}})
	})
	push(s, protocol.PushUserLeft, func(p protocol.PeerLeft) {
		s.emit(Event{Type: EventUserLeft, PeerID: p.PeerID})
	})
	push(s, protocol.PushPeerDisconnected, func(p protocol.PeerLeft) {
		s.emit(Event{Type: EventPeerDisconnected, PeerID: p.PeerID})
	})
	push(s, protocol.PushUserSpeaking, func(p protocol.UserSpeaking) {
		s.emit(Event{Type: EventUserSpeaking, PeerID: p.PeerID, Speaking: p.Speaking})
	})
	push(s, protocol.PushNewProducer, s.onNewProducer)
	push(s, protocol.PushConsumerClosed, s.onConsumerClosed)
}

func (s *Session) onNewProducer(np protocol.NewProducer) {
	if np.PeerID == s.cfg.PeerID {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		if err := s.consume(s.ctx, np); err != nil {
			s.logger.Warn("Consume failed",
				log.ProducerID(np.ProducerID),
				log.String("remotePeerId", np.PeerID),
				log.Error(err))
		}
	}()
}

func (s *Session) consume(ctx context.Context, np protocol.NewProducer) error {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	var res protocol.ConsumeResult
	err := s.call(ctx, protocol.MethodConsume, protocol.ConsumeParams{
		ProducerID:           np.ProducerID,
		ReceiverCapabilities: s.device.RecvCapabilities(),
		TransportID:          s.recv.ID(),
	}, &res)
	if err != nil {
		return err
	}

	lc, err := s.recv.Consume(ctx, res.ID, res.ProducerID, res.MediaParameters)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return lc.Close()
	}
	s.consumers[res.ID] = lc
	s.mu.Unlock()

	if err := s.call(ctx, protocol.MethodResumeConsumer, protocol.ConsumerParams{ConsumerID: res.ID}, nil); err != nil {
		s.dropConsumer(res.ID)
		return err
	}
	s.emit(Event{
		Type:       EventConsumerReady,
		PeerID:     np.PeerID,
		ConsumerID: res.ID,
		ProducerID: res.ProducerID,
	})
	return nil
}

func (s *Session) onConsumerClosed(cc protocol.ConsumerClosed) {
	if s.dropConsumer(cc.ConsumerID) {
		s.emit(Event{Type: EventConsumerClosed, ConsumerID: cc.ConsumerID, ProducerID: cc.ProducerID})
	}
}

func (s *Session) dropConsumer(id string) bool {
	s.mu.Lock()
	lc, ok := s.consumers[id]
	delete(s.consumers, id)
	s.mu.Unlock()

	if ok {
		_ = lc.Close()
	}
	return ok
}

func (s *Session) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("Event dropped", log.String("type", string(ev.Type)))
	}
}

// Unmute opens the capture device and starts producing. It does nothing
// when already unmuted.
func (s *Session) Unmute(ctx context.Context) error {
	s.produceMu.Lock()
	defer s.produceMu.Unlock()

	if s.isClosed() {
		return errors.New(errors.ErrInvalidState, "session closed")
	}
	if s.producer != nil {
		return nil
	}

	src, err := s.capturer.Open(ctx)
	if err != nil {
		return errors.Wrap(errors.ErrDevice, err, "open capture device")
	}
	lp, err := s.send.Produce(ctx, src)
	if err != nil {
		_ = src.Close()
		return err
	}

	var res protocol.ProduceResult
	err = s.call(ctx, protocol.MethodProduce, protocol.ProduceParams{
		TransportID:     s.send.ID(),
		Kind:            media.KindAudio,
		MediaParameters: lp.Parameters(),
	}, &res)
	if err != nil {
		_ = lp.Close()
		_ = src.Close()
		return err
	}

	s.source, s.producer, s.producerID = src, lp, res.ID
	s.tracker = speaking.NewTracker(src, s.cfg.Speaking, s.clock, s.onSpeaking, s.logger.Module("Speaking"))
	s.tracker.Start()
	s.logger.Info("Unmuted", log.ProducerID(res.ID))
	return nil
}

// Mute closes the local producer and tells the relay, which also ends the
// recording of it.
func (s *Session) Mute(ctx context.Context) error {
	s.produceMu.Lock()
	defer s.produceMu.Unlock()

	if s.producer == nil {
		return nil
	}
	id := s.producerID
	s.releaseProducer()

	var first error
	keep := func(err error) {
		if err != nil && !errors.Is(err, errors.ErrNotFound) && first == nil {
			first = err
		}
	}
	keep(s.call(ctx, protocol.MethodStopRecording, protocol.ProducerParams{ProducerID: id}, nil))
	keep(s.call(ctx, protocol.MethodCloseProducer, protocol.ProducerParams{ProducerID: id}, nil))
	keep(s.notifySpeaking(ctx, false))

	s.logger.Info("Muted", log.ProducerID(id))
	return first
}

func (s *Session) onSpeaking(active bool) {
	if err := s.notifySpeaking(s.ctx, active); err != nil {
		s.logger.Warn("Failed to send speaking state", log.Error(err))
	}
}

func (s *Session) notifySpeaking(ctx context.Context, active bool) error {
	return s.rpc.Notify(ctx, protocol.NotifySpeaking, protocol.SpeakingParams{
		RoomID:   s.cfg.RoomID,
		PeerID:   s.cfg.PeerID,
		Speaking: active,
	})
}

// releaseProducer requires produceMu.
func (s *Session) releaseProducer() {
	if s.tracker != nil {
		s.tracker.Stop()
		s.tracker = nil
	}
	if s.producer != nil {
		_ = s.producer.Close()
		s.producer = nil
	}
	if s.source != nil {
		_ = s.source.Close()
		s.source = nil
	}
	s.producerID = ""
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Events delivers room changes until the session is closed. Events are
// dropped while the channel is full.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Done is closed when the signaling connection ends.
func (s *Session) Done() <-chan struct{} {
	return s.peer.Done()
}

func (s *Session) ProducerID() string {
	s.produceMu.Lock()
	defer s.produceMu.Unlock()
	return s.producerID
}

// Consumers returns the ids of the active consumers.
func (s *Session) Consumers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.consumers))
	for id := range s.consumers {
		ids = append(ids, id)
	}
	return ids
}

// Close releases capture, the tracker and every local path before it
// closes the signaling connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.produceMu.Lock()
		s.releaseProducer()
		s.produceMu.Unlock()

		s.mu.Lock()
		s.closed = true
		consumers := s.consumers
		s.consumers = nil
		close(s.events)
		s.mu.Unlock()

		for _, c := range consumers {
			_ = c.Close()
		}
		if s.recv != nil {
			_ = s.recv.Close()
		}
		if s.send != nil {
			_ = s.send.Close()
		}

		s.cancel()
		err = s.peer.Close()
		s.wg.Wait()
		s.logger.Info("Session closed")
	})
	return err
}
