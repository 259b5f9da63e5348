package signal

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"github.com/imtaco/audio-rooms/internal/log"
)

type GuardSuite struct {
	suite.Suite
	ctx    context.Context
	mr     *miniredis.Miniredis
	client *redis.Client
	clock  *clockwork.FakeClock
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.ctx = context.Background()
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.clock = clockwork.NewFakeClock()
}

func (s *GuardSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *GuardSuite) newGuard(serverID string) PeerGuard {
	return NewRedisGuard(s.client, "ar", serverID, s.clock, log.NewTest(s.T()))
}

func (s *GuardSuite) TestAcquireIsExclusive() {
	g := s.newGuard("srv1")
	s.Require().NoError(g.Start(s.ctx))
	defer g.Stop()

	ok, err := g.Acquire(s.ctx, "alice", "c1")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = g.Acquire(s.ctx, "alice", "c2")
	s.Require().NoError(err)
	s.False(ok)

	// same connection again extends the lock
	ok, err = g.Acquire(s.ctx, "alice", "c1")
	s.Require().NoError(err)
	s.True(ok)

	val, err := s.mr.Get("ar:p:alice")
	s.Require().NoError(err)
	s.Equal("srv1:c1", val)
}

func (s *GuardSuite) TestReleaseOnlyByOwner() {
	g := s.newGuard("srv1")

	ok, err := g.Acquire(s.ctx, "alice", "c1")
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Require().NoError(g.Release(s.ctx, "alice", "c2"))
	s.True(s.mr.Exists("ar:p:alice"))

	s.Require().NoError(g.Release(s.ctx, "alice", "c1"))
	s.False(s.mr.Exists("ar:p:alice"))

	ok, err = g.Acquire(s.ctx, "alice", "c2")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *GuardSuite) TestTakeoverFromDeadServer() {
	a := s.newGuard("srvA")
	b := s.newGuard("srvB")
	s.Require().NoError(a.Start(s.ctx))
	s.Require().NoError(b.Start(s.ctx))
	defer b.Stop()

	ok, err := a.Acquire(s.ctx, "alice", "c1")
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = b.Acquire(s.ctx, "alice", "c2")
	s.Require().NoError(err)
	s.False(ok)

	// srvA stops heartbeating and its key expires
	a.Stop()
	s.mr.FastForward(serverHBTTL + time.Second)

	ok, err = b.Acquire(s.ctx, "alice", "c2")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *GuardSuite) TestHeartbeatRefreshesServerKey() {
	g := s.newGuard("srv1")
	s.Require().NoError(g.Start(s.ctx))
	defer g.Stop()

	s.Require().NoError(s.clock.BlockUntilContext(s.ctx, 1))
	s.mr.FastForward(2 * time.Second)
	s.Equal(time.Second, s.mr.TTL("ar:s:srv1"))

	s.clock.Advance(serverHBInterval)
	s.Eventually(func() bool {
		return s.mr.TTL("ar:s:srv1") == serverHBTTL
	}, time.Second, 10*time.Millisecond)
}

func (s *GuardSuite) TestRefreshSkipsReleasedLock() {
	g := s.newGuard("srv1").(*redisGuard)

	ok, err := g.Acquire(s.ctx, "alice", "c1")
	s.Require().NoError(err)
	s.Require().True(ok)

	// the heartbeat took its snapshot just before the peer left
	held := g.snapshot()
	s.Require().NoError(g.Release(s.ctx, "alice", "c1"))
	g.extend(s.ctx, held)

	s.False(s.mr.Exists("ar:p:alice"))
	s.Empty(g.snapshot())

	ok, err = g.Acquire(s.ctx, "alice", "c2")
	s.Require().NoError(err)
	s.True(ok)
}

func (s *GuardSuite) TestRefreshExtendsOwnLockOnly() {
	g := s.newGuard("srv1").(*redisGuard)

	for _, peerID := range []string{"alice", "bob"} {
		ok, err := g.Acquire(s.ctx, peerID, "c-"+peerID)
		s.Require().NoError(err)
		s.Require().True(ok)
	}
	// bob's lock was taken over by another server
	s.Require().NoError(s.mr.Set("ar:p:bob", "srv2:c9"))
	s.mr.FastForward(10 * time.Second)

	g.refresh(s.ctx)

	s.Equal(peerLockTTL, s.mr.TTL("ar:p:alice"))
	val, err := s.mr.Get("ar:p:bob")
	s.Require().NoError(err)
	s.Equal("srv2:c9", val)
	s.Equal(map[string]string{"alice": "c-alice"}, g.snapshot())
}

func TestMemoryGuard(t *testing.T) {
	g := NewMemoryGuard()
	ctx := context.Background()

	ok, _ := g.Acquire(ctx, "alice", "c1")
	if !ok {
		t.Fatal("first acquire refused")
	}
	if ok, _ := g.Acquire(ctx, "alice", "c2"); ok {
		t.Fatal("second connection acquired a held peer")
	}
	_ = g.Release(ctx, "alice", "c2")
	if ok, _ := g.Acquire(ctx, "alice", "c2"); ok {
		t.Fatal("release by a stranger freed the peer")
	}
	_ = g.Release(ctx, "alice", "c1")
	if ok, _ := g.Acquire(ctx, "alice", "c2"); !ok {
		t.Fatal("released peer not acquirable")
	}
}
