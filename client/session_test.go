package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/imtaco/audio-rooms/internal/errors"
	wsrpc "github.com/imtaco/audio-rooms/internal/jsonrpc/websocket"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
	"github.com/imtaco/audio-rooms/media/fakes"
	"github.com/imtaco/audio-rooms/protocol"
	"github.com/imtaco/audio-rooms/recording"
	"github.com/imtaco/audio-rooms/rooms"
	"github.com/imtaco/audio-rooms/rooms/mediapath"
	"github.com/imtaco/audio-rooms/wsgateway/signal"
)

type fakeCapturer struct {
	mu      sync.Mutex
	err     error
	sources []*fakes.Source
}

func (c *fakeCapturer) Open(context.Context) (media.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	src := fakes.NewSource(media.CodecOpus)
	c.sources = append(c.sources, src)
	return src, nil
}

func (c *fakeCapturer) last() *fakes.Source {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sources[len(c.sources)-1]
}

type member struct {
	*Session
	device   *fakes.Device
	capturer *fakeCapturer
	clock    *clockwork.FakeClock
}

type SessionSuite struct {
	suite.Suite
	ctx      context.Context
	cancel   context.CancelFunc
	engine   *fakes.Engine
	registry *rooms.Registry
	server   *signal.Server
	ts       *httptest.Server
	url      string
}

func TestSessionSuite(t *testing.T) {
	suite.Run(t, new(SessionSuite))
}

func (s *SessionSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), 10*time.Second)
	logger := log.NewTest(s.T())

	s.engine = fakes.NewEngine()
	s.registry = rooms.NewRegistry(
		s.engine,
		mediapath.NewAddressResolver("127.0.0.1"),
		rooms.Config{ConnectTimeout: time.Minute},
		clockwork.NewRealClock(),
		logger,
	)
	sinks, err := recording.NewSinkFactory("")
	s.Require().NoError(err)
	recorder := recording.NewManager(sinks, clockwork.NewFakeClock(), logger)

	cfg := signal.Config{OutboxSize: 64, SpeakingRate: 100, SpeakingBurst: 100}
	peers := signal.NewPeerManager(cfg.OutboxSize, logger)
	guard := signal.NewMemoryGuard()
	hook := signal.NewWSHook(s.registry, peers, guard, recorder, nil, cfg, clockwork.NewRealClock(), logger)
	wsServer := wsrpc.NewServer(hook, []string{"*"}, logger)
	s.server = signal.NewServer(wsServer, peers, guard, recorder, logger)
	s.Require().NoError(s.server.Open(s.ctx))

	s.ts = httptest.NewServer(http.HandlerFunc(wsServer.HandleWebSocket))
	s.url = "ws" + strings.TrimPrefix(s.ts.URL, "http")
}

func (s *SessionSuite) TearDownTest() {
	s.ts.Close()
	_ = s.server.Close()
	_ = s.registry.Close(context.Background())
	s.cancel()
}

func (s *SessionSuite) config(peerID string) Config {
	return Config{
		ServerURL: s.url,
		RoomID:    "r1",
		PeerID:    peerID,
		Capabilities: CapabilitiesConfig{
			Attempts: 3,
			Backoff:  10 * time.Millisecond,
			Timeout:  2 * time.Second,
		},
	}
}

func (s *SessionSuite) join(peerID string) *member {
	m := &member{
		device:   fakes.NewDevice(),
		capturer: &fakeCapturer{},
		clock:    clockwork.NewFakeClock(),
	}
	sess, err := Join(s.ctx, s.config(peerID), m.device, m.capturer, m.clock, log.NewTest(s.T()))
	s.Require().NoError(err)
	m.Session = sess
	s.T().Cleanup(func() { _ = sess.Close() })
	return m
}

// expect skips events until one of type t matching ok arrives.
func (s *SessionSuite) expect(m *member, t EventType, ok func(Event) bool) Event {
	s.T().Helper()
	for {
		select {
		case ev, open := <-m.Events():
			s.Require().True(open, "events closed waiting for %s", t)
			if ev.Type == t && (ok == nil || ok(ev)) {
				return ev
			}
		case <-time.After(3 * time.Second):
			s.FailNow("event not received", string(t))
		}
	}
}

func (s *SessionSuite) TestJoinNegotiatesBothTransports() {
	alice := s.join("alice")

	ev := s.expect(alice, EventUsers, nil)
	s.Require().Len(ev.Users, 1)
	s.Equal("alice", ev.Users[0].PeerID)

	s.True(alice.device.Loaded())
	transports := alice.device.Transports()
	s.Require().Len(transports, 2)
	s.Equal(media.DirectionSend, transports[0].Direction())
	s.Equal(media.DirectionRecv, transports[1].Direction())
	for _, t := range transports {
		s.True(t.Connected())
	}

	routers := s.engine.Routers()
	s.Require().Len(routers, 1)
	for _, t := range routers[0].Transports() {
		s.Equal(1, t.Connects())
	}
}

func (s *SessionSuite) TestConsumesForeignProducer() {
	alice := s.join("alice")
	bob := s.join("bob")
	s.expect(alice, EventUserJoined, func(ev Event) bool { return ev.PeerID == "bob" })

	s.Require().NoError(alice.Unmute(s.ctx))
	producerID := alice.ProducerID()
	s.NotEmpty(producerID)

	ev := s.expect(bob, EventConsumerReady, nil)
	s.Equal("alice", ev.PeerID)
	s.Equal(producerID, ev.ProducerID)
	s.Equal([]string{ev.ConsumerID}, bob.Consumers())
	s.Empty(alice.Consumers())

	// the relay side consumer was resumed
	var active bool
	for _, t := range s.engine.Routers()[0].Transports() {
		for _, c := range t.Consumers() {
			if c.ID() == ev.ConsumerID {
				active = c.Active()
			}
		}
	}
	s.True(active)
}

func (s *SessionSuite) TestLateJoinerConsumesExistingProducer() {
	alice := s.join("alice")
	s.Require().NoError(alice.Unmute(s.ctx))

	bob := s.join("bob")
	ev := s.expect(bob, EventConsumerReady, nil)
	s.Equal(alice.ProducerID(), ev.ProducerID)
}

func (s *SessionSuite) TestIgnoresOwnProducer() {
	alice := s.join("alice")
	alice.onNewProducer(protocol.NewProducer{PeerID: "alice", ProducerID: "p1", Kind: media.KindAudio})

	alice.wg.Wait()
	s.Empty(alice.Consumers())
}

func (s *SessionSuite) TestMuteClosesProducer() {
	alice := s.join("alice")
	bob := s.join("bob")
	s.Require().NoError(alice.Unmute(s.ctx))
	ready := s.expect(bob, EventConsumerReady, nil)
	src := alice.capturer.last()

	s.Require().NoError(alice.Mute(s.ctx))
	s.True(src.Closed())
	s.Empty(alice.ProducerID())

	closed := s.expect(bob, EventConsumerClosed, nil)
	s.Equal(ready.ConsumerID, closed.ConsumerID)
	s.Empty(bob.Consumers())

	ev := s.expect(bob, EventUserSpeaking, nil)
	s.Equal("alice", ev.PeerID)
	s.False(ev.Speaking)

	// muting twice is a no-op
	s.NoError(alice.Mute(s.ctx))
}

func (s *SessionSuite) TestUnmuteDeviceError() {
	alice := s.join("alice")
	alice.capturer.err = errors.PureNew("permission denied")

	err := alice.Unmute(s.ctx)
	s.True(errors.Is(err, errors.ErrDevice))
	s.Empty(alice.ProducerID())
}

func (s *SessionSuite) TestSpeakingEdgesReachOthers() {
	alice := s.join("alice")
	bob := s.join("bob")
	s.Require().NoError(alice.Unmute(s.ctx))

	alice.capturer.last().SetAmplitude(0.5)
	alice.clock.Advance(100 * time.Millisecond)

	ev := s.expect(bob, EventUserSpeaking, nil)
	s.Equal("alice", ev.PeerID)
	s.True(ev.Speaking)

	alice.capturer.last().SetAmplitude(0)
	alice.clock.Advance(100 * time.Millisecond)

	ev = s.expect(bob, EventUserSpeaking, nil)
	s.Equal("alice", ev.PeerID)
	s.False(ev.Speaking)
}

func (s *SessionSuite) TestCloseReleasesLocalResources() {
	alice := s.join("alice")
	bob := s.join("bob")
	s.Require().NoError(alice.Unmute(s.ctx))
	s.expect(bob, EventConsumerReady, nil)
	src := alice.capturer.last()

	s.Require().NoError(alice.Close())
	s.True(src.Closed())
	for _, t := range alice.device.Transports() {
		s.True(t.Closed())
	}
	for _, p := range alice.device.Transports()[0].Producers() {
		s.True(p.Closed())
	}
	_, open := <-alice.Events()
	s.False(open)
	s.Error(alice.Unmute(s.ctx))

	s.expect(bob, EventConsumerClosed, nil)
	s.expect(bob, EventPeerDisconnected, func(ev Event) bool { return ev.PeerID == "alice" })
	s.expect(bob, EventUserLeft, func(ev Event) bool { return ev.PeerID == "alice" })
	for _, c := range bob.device.Transports()[1].Consumers() {
		s.True(c.Closed())
	}

	s.NoError(alice.Close())
}

func (s *SessionSuite) TestCapabilityFetchTimesOut() {
	silent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			if _, _, err := conn.Read(r.Context()); err != nil {
				return
			}
		}
	}))
	defer silent.Close()

	cfg := s.config("alice")
	cfg.ServerURL = "ws" + strings.TrimPrefix(silent.URL, "http")
	cfg.Capabilities.Timeout = 200 * time.Millisecond

	device := fakes.NewDevice()
	_, err := Join(s.ctx, cfg, device, &fakeCapturer{}, clockwork.NewFakeClock(), log.NewTest(s.T()))
	s.Require().Error(err)
	s.True(errors.Is(err, errors.ErrTimeout))
	s.False(device.Loaded())
}

func (s *SessionSuite) TestJoinRequiresPeerID() {
	cfg := s.config("")
	_, err := Join(s.ctx, cfg, fakes.NewDevice(), &fakeCapturer{}, clockwork.NewFakeClock(), log.NewTest(s.T()))
	s.True(errors.Is(err, errors.ErrInvalidState))
}
