package rooms

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/suite"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	isync "github.com/imtaco/audio-rooms/internal/sync"
	"github.com/imtaco/audio-rooms/media"
	"github.com/imtaco/audio-rooms/media/fakes"
	"github.com/imtaco/audio-rooms/rooms/mediapath"
)

type RegistrySuite struct {
	suite.Suite
	ctx    context.Context
	engine *fakes.Engine
	reg    *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctx = context.Background()
	s.engine = fakes.NewEngine()
	s.reg = NewRegistry(
		s.engine,
		mediapath.NewAddressResolver("127.0.0.1"),
		Config{ConnectTimeout: time.Minute},
		clockwork.NewFakeClock(),
		log.NewTest(s.T()),
	)
}

func (s *RegistrySuite) TestGetOrCreateIsIdempotent() {
	a, err := s.reg.GetOrCreateRoom(s.ctx, "r1")
	s.Require().NoError(err)
	b, err := s.reg.GetOrCreateRoom(s.ctx, "r1")
	s.Require().NoError(err)

	s.Same(a, b)
	s.Len(s.engine.Routers(), 1)
}

func (s *RegistrySuite) TestConcurrentJoinsShareOneRoom() {
	const n = 16
	var wg sync.WaitGroup
	rooms := make([]*Room, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, _, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: string(rune('a' + i))})
			s.NoError(err)
			rooms[i] = room
		}(i)
	}
	wg.Wait()

	s.Len(s.engine.Routers(), 1)
	for _, room := range rooms[1:] {
		s.Same(rooms[0], room)
		s.Same(rooms[0].Router(), room.Router())
	}
	s.Equal(Stats{Rooms: 1, Peers: n}, s.reg.Stats())
}

func (s *RegistrySuite) TestJoinReturnsSnapshot() {
	_, members, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "alice", Username: "Alice"})
	s.Require().NoError(err)
	s.Equal([]Member{{PeerID: "alice", Username: "Alice"}}, members)

	room, members, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "bob", Username: "Bob", Speaking: true})
	s.Require().NoError(err)
	s.Equal([]Member{
		{PeerID: "alice", Username: "Alice"},
		{PeerID: "bob", Username: "Bob"},
	}, members, "join order, speaking reset")
	s.Equal([]Member{{PeerID: "alice", Username: "Alice"}}, room.Others("bob"))

	_, _, err = s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "bob"})
	s.True(errors.Is(err, errors.ErrAlreadyExists))
}

func (s *RegistrySuite) TestUnknownRoom() {
	_, err := s.reg.Room("nope")
	s.True(errors.Is(err, errors.ErrNotFound))

	_, err = s.reg.LeaveRoom("nope", "alice")
	s.True(errors.Is(err, errors.ErrNotFound))
}

func (s *RegistrySuite) TestLeaveUnknownPeer() {
	_, _, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "alice"})
	s.Require().NoError(err)

	_, err = s.reg.LeaveRoom("r1", "bob")
	s.True(errors.Is(err, errors.ErrNotFound))
}

func (s *RegistrySuite) TestLastLeaveReleasesRoom() {
	room, _, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "alice"})
	s.Require().NoError(err)
	_, _, err = s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "bob"})
	s.Require().NoError(err)

	send, err := room.Paths().CreateTransport(s.ctx, "alice", media.DirectionSend, "")
	s.Require().NoError(err)
	s.Require().NoError(room.Paths().ConnectTransport(s.ctx, "alice", send.ID, fakes.FakeParameters("a", "")))
	_, err = room.Paths().Produce(s.ctx, "alice", send.ID, media.KindAudio,
		media.Parameters{Codecs: []media.Codec{media.CodecOpus}})
	s.Require().NoError(err)

	dep, err := s.reg.LeaveRoom("r1", "alice")
	s.Require().NoError(err)
	s.False(dep.RoomClosed)
	s.Equal([]Member{{PeerID: "bob"}}, dep.Remaining)
	s.Len(dep.Removal.Transports, 1)
	s.Len(dep.Removal.Producers, 1)

	dep, err = s.reg.LeaveRoom("r1", "bob")
	s.Require().NoError(err)
	s.True(dep.RoomClosed)
	s.Empty(dep.Remaining)

	s.True(room.Closed())
	s.True(s.engine.Routers()[0].Closed())
	s.Equal(mediapath.Stats{}, room.Paths().Stats())
	_, err = s.reg.Room("r1")
	s.True(errors.Is(err, errors.ErrNotFound))
	s.Equal(Stats{}, s.reg.Stats())
}

func (s *RegistrySuite) TestRejoinAfterTeardownGetsFreshRoom() {
	first, _, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "alice"})
	s.Require().NoError(err)
	_, err = s.reg.LeaveRoom("r1", "alice")
	s.Require().NoError(err)

	second, _, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "alice"})
	s.Require().NoError(err)
	s.NotSame(first, second)
	s.Len(s.engine.Routers(), 2)
}

func (s *RegistrySuite) TestSetSpeakingLastWriteWins() {
	room, _, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "alice"})
	s.Require().NoError(err)
	_, _, err = s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "bob"})
	s.Require().NoError(err)

	others, err := room.SetSpeaking("alice", true)
	s.Require().NoError(err)
	s.Equal([]Member{{PeerID: "bob"}}, others)
	_, err = room.SetSpeaking("alice", false)
	s.Require().NoError(err)
	_, err = room.SetSpeaking("alice", true)
	s.Require().NoError(err)

	m, ok := room.Member("alice")
	s.Require().True(ok)
	s.True(m.Speaking)

	_, err = room.SetSpeaking("carol", true)
	s.True(errors.Is(err, errors.ErrNotFound))
}

func (s *RegistrySuite) TestEngineFailure() {
	s.engine.FailNewRouter = errors.PureNew("no workers")

	_, _, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "alice"})
	s.True(errors.Is(err, errors.ErrInternal))
	s.Equal(Stats{}, s.reg.Stats())
}

func (s *RegistrySuite) TestCloseTearsDownAll() {
	a, _, err := s.reg.JoinRoom(s.ctx, "r1", Member{PeerID: "alice"})
	s.Require().NoError(err)
	b, _, err := s.reg.JoinRoom(s.ctx, "r2", Member{PeerID: "bob"})
	s.Require().NoError(err)

	s.Require().NoError(s.reg.Close(s.ctx))
	s.True(a.Closed())
	s.True(b.Closed())
	for _, r := range s.engine.Routers() {
		s.True(r.Closed())
	}
	s.Equal(Stats{}, s.reg.Stats())

	err = a.WithMembers(func([]Member) error { return nil })
	s.True(errors.Is(err, errors.ErrInvalidState))
}

func (s *RegistrySuite) creating(roomID string) bool {
	var ok bool
	s.reg.rooms.WithLock(func(_ isync.View[string, *Room]) {
		_, ok = s.reg.creating[roomID]
	})
	return ok
}

type created struct {
	room *Room
	err  error
}

// startCreate runs GetOrCreateRoom until the engine holds it.
func (s *RegistrySuite) startCreate(ctx context.Context, roomID string) <-chan created {
	done := make(chan created, 1)
	go func() {
		room, err := s.reg.GetOrCreateRoom(ctx, roomID)
		done <- created{room, err}
	}()
	s.Eventually(func() bool { return s.creating(roomID) }, time.Second, 5*time.Millisecond)
	return done
}

func (s *RegistrySuite) TestSlowRouterHoldsOnlyItsRoom() {
	_, _, err := s.reg.JoinRoom(s.ctx, "r2", Member{PeerID: "zoe"})
	s.Require().NoError(err)

	gate := make(chan struct{})
	s.engine.RouterGate = gate
	first := s.startCreate(s.ctx, "r1")

	second := make(chan created, 1)
	go func() {
		room, err := s.reg.GetOrCreateRoom(s.ctx, "r1")
		second <- created{room, err}
	}()

	left := make(chan error, 1)
	go func() {
		_, err := s.reg.LeaveRoom("r2", "zoe")
		left <- err
	}()
	select {
	case err := <-left:
		s.NoError(err)
	case <-time.After(time.Second):
		s.FailNow("leave in another room waited for a router")
	}

	close(gate)
	a, b := <-first, <-second
	s.Require().NoError(a.err)
	s.Require().NoError(b.err)
	s.Same(a.room, b.room)
	s.Len(s.engine.Routers(), 2)
}

func (s *RegistrySuite) TestWaitForRoomHonoursContext() {
	gate := make(chan struct{})
	defer close(gate)
	s.engine.RouterGate = gate
	s.startCreate(s.ctx, "r1")

	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()
	_, err := s.reg.GetOrCreateRoom(ctx, "r1")
	s.True(errors.Is(err, errors.ErrTimeout))
}

func (s *RegistrySuite) TestCloseDuringRoomCreation() {
	gate := make(chan struct{})
	s.engine.RouterGate = gate
	done := s.startCreate(s.ctx, "r1")

	s.Require().NoError(s.reg.Close(s.ctx))
	close(gate)

	res := <-done
	s.True(errors.Is(res.err, errors.ErrInvalidState))
	s.Require().Len(s.engine.Routers(), 1)
	s.True(s.engine.Routers()[0].Closed())
	s.Zero(s.reg.Stats().Rooms)
}
