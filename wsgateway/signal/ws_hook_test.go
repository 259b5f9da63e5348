package signal

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	wsrpc "github.com/imtaco/audio-rooms/internal/jsonrpc/websocket"
	"github.com/imtaco/audio-rooms/internal/jwt"
	jwtmocks "github.com/imtaco/audio-rooms/internal/jwt/mocks"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media/fakes"
	"github.com/imtaco/audio-rooms/recording"
	"github.com/imtaco/audio-rooms/rooms"
	"github.com/imtaco/audio-rooms/rooms/mediapath"
	"github.com/imtaco/audio-rooms/wsgateway/signal/mocks"
)

type WSHookSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	auth     *jwtmocks.MockAuth
	guard    *mocks.MockPeerGuard
	engine   *fakes.Engine
	registry *rooms.Registry
	peers    *PeerManager
	clock    *clockwork.FakeClock
	cfg      Config
}

func TestWSHookSuite(t *testing.T) {
	suite.Run(t, new(WSHookSuite))
}

func (s *WSHookSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.auth = jwtmocks.NewMockAuth(s.ctrl)
	s.guard = mocks.NewMockPeerGuard(s.ctrl)
	s.engine = fakes.NewEngine()
	s.registry = rooms.NewRegistry(
		s.engine,
		mediapath.NewAddressResolver("127.0.0.1"),
		rooms.Config{ConnectTimeout: time.Minute},
		clockwork.NewFakeClock(),
		log.NewTest(s.T()),
	)
	s.peers = NewPeerManager(8, log.NewTest(s.T()))
	s.clock = clockwork.NewFakeClock()
	s.cfg = Config{OutboxSize: 8, SpeakingRate: 20, SpeakingBurst: 10}
}

func (s *WSHookSuite) TearDownTest() {
	s.peers.Close()
	_ = s.registry.Close(context.Background())
}

func (s *WSHookSuite) newHook(auth jwt.Auth) *wsHookImpl {
	return NewWSHook(s.registry, s.peers, s.guard, newRecorder(s.T()), auth, s.cfg, s.clock, log.NewTest(s.T())).(*wsHookImpl)
}

func newRecorder(t *testing.T) *recording.Manager {
	sinks, err := recording.NewSinkFactory("")
	if err != nil {
		t.Fatal(err)
	}
	return recording.NewManager(sinks, clockwork.NewFakeClock(), log.NewTest(t))
}

func (s *WSHookSuite) TestVerifyQueryParams() {
	hook := s.newHook(nil)

	r := httptest.NewRequest("GET", "/ws?roomId=r1&peerId=alice", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	st, err := hook.OnVerify(r)
	s.Require().NoError(err)
	s.Equal("alice", st.peerID)
	s.Equal("r1", st.roomID)
	s.Equal("alice", st.username, "username defaults to the peer id")
	s.Equal("203.0.113.7", st.remoteAddr)
}

func (s *WSHookSuite) TestVerifyRejectsBadHandshake() {
	hook := s.newHook(nil)

	for _, target := range []string{
		"/ws?roomId=r1",
		"/ws?peerId=alice",
		"/ws?roomId=bad%20room&peerId=alice",
	} {
		_, err := hook.OnVerify(httptest.NewRequest("GET", target, nil))
		s.True(errors.Is(err, wsrpc.ErrUnauthorized), target)
	}
}

func (s *WSHookSuite) TestVerifyToken() {
	hook := s.newHook(s.auth)

	s.auth.EXPECT().Verify("good").Return(&jwt.Payload{
		PeerID:   "alice",
		RoomID:   "r1",
		Username: "Alice",
	}, nil)
	r := httptest.NewRequest("GET", "/ws", nil)
	r.Header.Set("Authorization", "Bearer good")
	st, err := hook.OnVerify(r)
	s.Require().NoError(err)
	s.Equal("Alice", st.username)

	s.auth.EXPECT().Verify("bad").Return(nil, jwt.ErrInvalidToken)
	_, err = hook.OnVerify(httptest.NewRequest("GET", "/ws?token=bad", nil))
	s.True(errors.Is(err, wsrpc.ErrUnauthorized))
}

func (s *WSHookSuite) TestConnectRefusedWhenPeerHeld() {
	hook := s.newHook(nil)
	st := &peerState{peerID: "alice", roomID: "r1", reqCtx: context.Background()}

	s.guard.EXPECT().Acquire(gomock.Any(), "alice", gomock.Any()).Return(false, nil)

	err := hook.OnConnect(jsonrpc.NewContext[peerState](newRecordConn(), st))
	s.True(errors.Is(err, errors.ErrAlreadyExists))
	s.Empty(s.engine.Routers())
}

func (s *WSHookSuite) TestConnectReleasesGuardOnJoinFailure() {
	hook := s.newHook(nil)
	s.engine.FailNewRouter = errors.New(errors.ErrInternal, "no workers")
	st := &peerState{peerID: "alice", roomID: "r1", reqCtx: context.Background()}

	gomock.InOrder(
		s.guard.EXPECT().Acquire(gomock.Any(), "alice", gomock.Any()).Return(true, nil),
		s.guard.EXPECT().Release(gomock.Any(), "alice", gomock.Any()).Return(nil),
	)

	err := hook.OnConnect(jsonrpc.NewContext[peerState](newRecordConn(), st))
	s.Error(err)
	s.Equal(0, s.peers.Len())
}

func (s *WSHookSuite) TestConnectAndDisconnect() {
	hook := s.newHook(nil)

	bobConn := newRecordConn()
	bob := &peerState{peerID: "bob", roomID: "r1", username: "Bob", reqCtx: context.Background()}
	alice := &peerState{peerID: "alice", roomID: "r1", username: "Alice", reqCtx: context.Background()}

	s.guard.EXPECT().Acquire(gomock.Any(), gomock.Any(), gomock.Any()).Return(true, nil).Times(2)
	s.guard.EXPECT().Release(gomock.Any(), "alice", gomock.Any()).Return(nil)

	s.Require().NoError(hook.OnConnect(jsonrpc.NewContext[peerState](bobConn, bob)))
	aliceCtx := jsonrpc.NewContext[peerState](newRecordConn(), alice)
	s.Require().NoError(hook.OnConnect(aliceCtx))
	s.NotEmpty(alice.connID)
	s.NotNil(alice.room)
	s.Same(bob.room, alice.room)
	s.Equal(2, s.peers.Len())

	hook.OnDisconnect(aliceCtx, 1000)
	s.Equal(1, s.peers.Len())
	s.Equal(1, bob.room.Len())
	s.Eventually(func() bool {
		m := bobConn.methods()
		return len(m) == 2 && m[0] == "peerDisconnected" && m[1] == "userLeft"
	}, time.Second, 5*time.Millisecond)
}
