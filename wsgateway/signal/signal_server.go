package signal

import (
	"context"
	"encoding/json"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	"github.com/imtaco/audio-rooms/internal/log"
	intotel "github.com/imtaco/audio-rooms/internal/otel"
	"github.com/imtaco/audio-rooms/media"
	"github.com/imtaco/audio-rooms/protocol"
	"github.com/imtaco/audio-rooms/recording"
	"github.com/imtaco/audio-rooms/rooms"
	"github.com/imtaco/audio-rooms/rooms/mediapath"
)

var tracer = intotel.Tracer("wsgateway.signal")

type methodHandler func(ctx context.Context, st *peerState, params *json.RawMessage) (any, error)

type Server struct {
	jsonrpc.Handler[peerState]
	peers    *PeerManager
	guard    PeerGuard
	recorder *recording.Manager
	logger   *log.Logger
}

func NewServer(
	handler jsonrpc.Handler[peerState],
	peers *PeerManager,
	guard PeerGuard,
	recorder *recording.Manager,
	logger *log.Logger,
) *Server {
	return &Server{
		Handler:  handler,
		peers:    peers,
		guard:    guard,
		recorder: recorder,
		logger:   logger,
	}
}

func (s *Server) Open(ctx context.Context) error {
	s.logger.Info("Opening Signal Server")
	s.register()

	if err := s.guard.Start(ctx); err != nil {
		return errors.Wrap(errors.ErrInternal, err, "start peer guard")
	}
	return nil
}

func (s *Server) Close() error {
	s.logger.Info("Closing Signal Server")
	s.guard.Stop()
	s.recorder.StopAll()
	s.peers.Close()
	return nil
}

func (s *Server) register() {
	s.Use(s.observe)

	// handlers of one connection run one at a time, in arrival order
	s.def(protocol.MethodGetRouterRtpCapabilities, s.handleGetCapabilities)
	s.def(protocol.MethodCreateWebRtcTransport, s.handleCreateTransport)
	s.def(protocol.MethodConnectWebRtcTransport, s.handleConnectTransport)
	s.def(protocol.MethodProduce, s.handleProduce)
	s.def(protocol.MethodConsume, s.handleConsume)
	s.def(protocol.MethodResumeConsumer, s.handleResumeConsumer)
	s.def(protocol.MethodStopRecording, s.handleStopRecording)
	s.def(protocol.MethodCloseProducer, s.handleCloseProducer)

	s.def(protocol.NotifyJoinRoom, s.handleJoinRoom)
	s.def(protocol.NotifySpeaking, s.handleSpeaking)
}

// def binds the peer state and maps handler errors to protocol errors.
func (s *Server) def(method string, h methodHandler) {
	s.Def(method, func(ctx context.Context, mctx jsonrpc.MethodContext[peerState], params *json.RawMessage) (any, error) {
		result, err := h(ctx, mctx.Get(), params)
		if err != nil {
			return nil, protocol.ToRPCError(err)
		}
		return result, nil
	})
}

// observe records a span and request counters per call.
func (s *Server) observe(method string, next jsonrpc.MethodHandler[peerState]) jsonrpc.MethodHandler[peerState] {
	attrs := metric.WithAttributes(attribute.String("method", method))
	return func(ctx context.Context, mctx jsonrpc.MethodContext[peerState], params *json.RawMessage) (any, error) {
		st := mctx.Get()
		ctx, span := intotel.StartSpan(ctx, tracer, "signal."+method,
			attribute.String("peerId", st.peerID),
			attribute.String("roomId", st.roomID))
		defer span.End()

		rpcRequestsTotal.Add(ctx, 1, attrs)
		result, err := next(ctx, mctx, params)
		if err != nil {
			intotel.RecordError(span, err)
			rpcRequestsFailed.Add(ctx, 1, attrs)
		}
		return result, err
	}
}

func (s *Server) handleGetCapabilities(_ context.Context, st *peerState, _ *json.RawMessage) (any, error) {
	return st.room.Paths().Capabilities(), nil
}

func (s *Server) handleCreateTransport(ctx context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.CreateTransportParams
	if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
		return nil, err
	}

	dir := media.DirectionRecv
	if req.Sender {
		dir = media.DirectionSend
	}
	t, err := st.room.Paths().CreateTransport(ctx, st.peerID, dir, st.remoteAddr)
	if err != nil {
		return nil, err
	}
	return protocol.CreateTransportResult{
		TransportID: t.ID,
		Params:      t.Params,
	}, nil
}

func (s *Server) handleConnectTransport(ctx context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.ConnectTransportParams
	if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
		return nil, err
	}
	if err := st.room.Paths().ConnectTransport(ctx, st.peerID, req.TransportID, req.RemoteParams); err != nil {
		return nil, err
	}
	return protocol.Success, nil
}

func (s *Server) handleProduce(ctx context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.ProduceParams
	if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
		return nil, err
	}

	var (
		producer   mediapath.Producer
		recipients []rooms.Member
	)
	// recipients are whoever is in the room when the producer appears
	err := st.room.WithMembers(func(members []rooms.Member) error {
		var err error
		producer, err = st.room.Paths().Produce(ctx, st.peerID, req.TransportID, req.Kind, req.MediaParameters)
		if err != nil {
			return err
		}
		recipients = others(members, st.peerID)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if handle, ok := st.room.Paths().ProducerHandle(producer.ID); ok {
		if err := s.recorder.Start(ctx, st.peerID, handle); err != nil {
			s.logger.Warn("Recording not started",
				log.ProducerID(producer.ID),
				log.Error(err))
		}
	}

	s.peers.PushMembers(recipients, protocol.PushNewProducer, protocol.NewProducer{
		PeerID:     st.peerID,
		ProducerID: producer.ID,
		Kind:       producer.Kind,
	})
	return protocol.ProduceResult{ID: producer.ID}, nil
}

func (s *Server) handleConsume(ctx context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.ConsumeParams
	if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
		return nil, err
	}

	c, err := st.room.Paths().Consume(ctx, st.peerID, req.ProducerID, req.ReceiverCapabilities, req.TransportID)
	if err != nil {
		return nil, err
	}
	return protocol.ConsumeResult{
		ID:              c.ID,
		ProducerID:      c.ProducerID,
		Kind:            c.Kind,
		MediaParameters: c.Parameters,
	}, nil
}

func (s *Server) handleResumeConsumer(ctx context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.ConsumerParams
	if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
		return nil, err
	}
	if err := st.room.Paths().ResumeConsumer(ctx, st.peerID, req.ConsumerID); err != nil {
		return nil, err
	}
	return protocol.Success, nil
}

func (s *Server) handleStopRecording(_ context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.ProducerParams
	if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
		return nil, err
	}
	if err := s.recorder.Stop(st.peerID, req.ProducerID); err != nil {
		return nil, err
	}
	return protocol.Success, nil
}

func (s *Server) handleCloseProducer(_ context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.ProducerParams
	if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
		return nil, err
	}

	rm, err := st.room.Paths().RemoveProducer(st.peerID, req.ProducerID)
	if err != nil {
		return nil, err
	}
	if err := s.recorder.Stop(st.peerID, req.ProducerID); err != nil && !errors.Is(err, errors.ErrNotFound) {
		s.logger.Warn("Stop recording failed", log.Error(err))
	}
	s.notifyClosedConsumers(rm, st.peerID)
	return protocol.Success, nil
}

func (s *Server) notifyClosedConsumers(rm mediapath.Removal, except string) {
	for _, c := range rm.Consumers {
		if c.PeerID == except {
			continue
		}
		s.peers.Push(c.PeerID, protocol.PushConsumerClosed, protocol.ConsumerClosed{
			ConsumerID: c.ID,
			ProducerID: c.ProducerID,
		})
	}
}

// handleJoinRoom answers the announcement of a connected peer: the member
// list to the sender, userJoined to the others, then the producers already
// live in the room. Pushes to the sender wait for outbox space so a busy
// room is delivered in full.
func (s *Server) handleJoinRoom(ctx context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.JoinRoomParams
	if params != nil {
		if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
			return nil, err
		}
	}
	if req.RoomID != "" && req.RoomID != st.roomID {
		s.logger.Debug("joinRoom names another room, ignored",
			log.PeerID(st.peerID),
			log.RoomID(req.RoomID))
	}

	var (
		users      []protocol.User
		recipients []rooms.Member
		self       protocol.User
	)
	_ = st.room.WithMembers(func(members []rooms.Member) error {
		for _, m := range members {
			u := toUser(m)
			if m.PeerID == st.peerID {
				self = u
			}
			users = append(users, u)
		}
		recipients = others(members, st.peerID)
		return nil
	})

	s.peers.PushWait(ctx, st.peerID, protocol.PushUsers, users)
	if !st.announced {
		st.announced = true
		s.peers.PushMembers(recipients, protocol.PushUserJoined, self)
	}

	for _, p := range st.room.Paths().Producers() {
		if p.PeerID == st.peerID {
			continue
		}
		s.peers.PushWait(ctx, st.peerID, protocol.PushNewProducer, protocol.NewProducer{
			PeerID:     p.PeerID,
			ProducerID: p.ID,
			Kind:       p.Kind,
		})
	}
	//nolint:nilnil
	return nil, nil
}

// handleSpeaking stores the flag, last write wins, then offers the fan-out
// to the peer's throttle. Throttled updates are coalesced, never lost.
func (s *Server) handleSpeaking(ctx context.Context, st *peerState, params *json.RawMessage) (any, error) {
	var req protocol.SpeakingParams
	if err := jsonrpc.ShouldBindParams(params, &req); err != nil {
		return nil, err
	}
	if req.RoomID != "" && req.RoomID != st.roomID {
		return nil, errors.Newf(errors.ErrInvalidState, "peer %s is not in room %s", st.peerID, req.RoomID)
	}

	if _, err := st.room.SetSpeaking(st.peerID, req.Speaking); err != nil {
		return nil, err
	}
	if !st.speaking.offer() {
		speakingCoalesced.Add(ctx, 1)
	}
	//nolint:nilnil
	return nil, nil
}

func others(members []rooms.Member, peerID string) []rooms.Member {
	out := make([]rooms.Member, 0, len(members))
	for _, m := range members {
		if m.PeerID != peerID {
			out = append(out, m)
		}
	}
	return out
}

func toUser(m rooms.Member) protocol.User {
	return protocol.User{
		PeerID:   m.PeerID,
		Username: m.Username,
		Speaking: m.Speaking,
	}
}
