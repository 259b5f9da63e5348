package signal

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	wsrpc "github.com/imtaco/audio-rooms/internal/jsonrpc/websocket"
	"github.com/imtaco/audio-rooms/internal/jwt"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/protocol"
	"github.com/imtaco/audio-rooms/recording"
	"github.com/imtaco/audio-rooms/rooms"
)

type handshake struct {
	RoomID   string `validate:"required,roomid"`
	PeerID   string `validate:"required,peerid"`
	Username string `validate:"max=64"`
}

// NewWSHook wires connection lifecycle to room membership. A nil jwtAuth
// accepts plain roomId/peerId query parameters.
func NewWSHook(
	registry *rooms.Registry,
	peers *PeerManager,
	guard PeerGuard,
	recorder *recording.Manager,
	jwtAuth jwt.Auth,
	cfg Config,
	clock clockwork.Clock,
	logger *log.Logger,
) wsrpc.ConnectionHooks[peerState] {
	return &wsHookImpl{
		registry: registry,
		peers:    peers,
		guard:    guard,
		recorder: recorder,
		jwtAuth:  jwtAuth,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

type wsHookImpl struct {
	registry *rooms.Registry
	peers    *PeerManager
	guard    PeerGuard
	recorder *recording.Manager
	jwtAuth  jwt.Auth
	cfg      Config
	clock    clockwork.Clock
	logger   *log.Logger
}

func (h *wsHookImpl) OnVerify(r *http.Request) (*peerState, error) {
	authAttempts.Add(r.Context(), 1)

	hs, err := h.handshake(r)
	if err == nil {
		if verr := jsonrpc.Validator().Struct(hs); verr != nil {
			h.logger.Info("Invalid handshake", log.Error(verr))
			err = errors.Wrap(wsrpc.ErrUnauthorized, verr, "invalid handshake")
		}
	}
	if err != nil {
		authFailures.Add(r.Context(), 1)
		return nil, err
	}
	if hs.Username == "" {
		hs.Username = hs.PeerID
	}

	return &peerState{
		peerID:     hs.PeerID,
		roomID:     hs.RoomID,
		username:   hs.Username,
		remoteAddr: remoteAddr(r),
		reqCtx:     r.Context(),
	}, nil
}

func (h *wsHookImpl) handshake(r *http.Request) (*handshake, error) {
	q := r.URL.Query()
	if h.jwtAuth == nil {
		return &handshake{
			RoomID:   q.Get(protocol.QueryRoomID),
			PeerID:   q.Get(protocol.QueryPeerID),
			Username: q.Get(protocol.QueryUsername),
		}, nil
	}

	token := q.Get(protocol.QueryToken)
	if token == "" {
		token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	}
	payload, err := h.jwtAuth.Verify(token)
	switch {
	case errors.Is(err, jwt.ErrInvalidToken), errors.Is(err, jwt.ErrNoToken):
		return nil, errors.Wrap(wsrpc.ErrUnauthorized, err, "verify token")
	case err != nil:
		return nil, err
	}
	return &handshake{
		RoomID:   payload.RoomID,
		PeerID:   payload.PeerID,
		Username: payload.Username,
	}, nil
}

// remoteAddr prefers the proxy headers over the socket address.
func remoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return xr
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func (h *wsHookImpl) OnConnect(mctx jsonrpc.MethodContext[peerState]) error {
	st := mctx.Get()
	st.connID = uuid.NewString()
	ctx := st.reqCtx

	ok, err := h.guard.Acquire(ctx, st.peerID, st.connID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Newf(errors.ErrAlreadyExists, "peer %s already connected", st.peerID)
	}

	room, members, err := h.registry.JoinRoom(ctx, st.roomID, rooms.Member{
		PeerID:   st.peerID,
		Username: st.username,
	})
	if err != nil {
		h.release(st)
		return err
	}

	st.room = room
	st.speaking = h.newSpeakingFanout(st.peerID, room)
	h.peers.Add(st.peerID, mctx.Peer())

	wsConnectionsActive.Add(ctx, 1)
	wsConnectionsTotal.Add(ctx, 1)
	h.logger.Info("Peer connected",
		log.String("connId", st.connID),
		log.PeerID(st.peerID),
		log.RoomID(st.roomID),
		log.Int("members", len(members)))
	return nil
}

func (h *wsHookImpl) OnDisconnect(mctx jsonrpc.MethodContext[peerState], closeCode int) {
	st := mctx.Get()
	ctx := context.Background()
	if st.speaking != nil {
		st.speaking.stop()
	}

	dep, err := h.registry.LeaveRoom(st.roomID, st.peerID)
	if err != nil {
		h.logger.Warn("Leave room failed",
			log.PeerID(st.peerID),
			log.RoomID(st.roomID),
			log.Error(err))
	} else {
		for _, c := range dep.Removal.Consumers {
			if c.PeerID == st.peerID {
				continue
			}
			h.peers.Push(c.PeerID, protocol.PushConsumerClosed, protocol.ConsumerClosed{
				ConsumerID: c.ID,
				ProducerID: c.ProducerID,
			})
		}
		left := protocol.PeerLeft{PeerID: st.peerID}
		h.peers.PushMembers(dep.Remaining, protocol.PushPeerDisconnected, left)
		h.peers.PushMembers(dep.Remaining, protocol.PushUserLeft, left)
	}

	h.recorder.StopPeer(st.peerID)
	h.peers.Remove(st.peerID, mctx.Peer())
	h.release(st)

	wsConnectionsActive.Add(ctx, -1)
	wsDisconnectsTotal.Add(ctx, 1)
	h.logger.Info("Peer disconnected",
		log.String("connId", st.connID),
		log.PeerID(st.peerID),
		log.Int("closeCode", closeCode))
}

func (h *wsHookImpl) newSpeakingFanout(peerID string, room *rooms.Room) *speakingFanout {
	return newSpeakingFanout(h.cfg.SpeakingRate, h.cfg.SpeakingBurst, h.clock,
		func() (bool, bool) {
			m, ok := room.Member(peerID)
			return m.Speaking, ok
		},
		func(speaking bool) {
			h.peers.PushMembers(room.Others(peerID), protocol.PushUserSpeaking, protocol.UserSpeaking{
				PeerID:   peerID,
				Speaking: speaking,
			})
		})
}

func (h *wsHookImpl) release(st *peerState) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := h.guard.Release(ctx, st.peerID, st.connID); err != nil {
		h.logger.Error("Failed to release peer lock", log.Error(err))
	}
}
