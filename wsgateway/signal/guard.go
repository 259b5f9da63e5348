package signal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
)

const (
	peerLockTTL      = 30 * time.Second
	serverHBTTL      = 3 * time.Second
	serverHBInterval = time.Second
	redisTimeout     = 2 * time.Second
)

var (
	// KEYS[1]: peer lock key
	// KEYS[2]: server heartbeat key
	// ARGV[1]: lock value (serverID:connID)
	// ARGV[2]: lock TTL in milliseconds
	luaAcquirePeerLock = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if cur == false then
			redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
			return 1
		end

		if cur == ARGV[1] then
			redis.call('PEXPIRE', KEYS[1], ARGV[2])
			return 1
		end

		local owner = string.match(cur, '^(.*):[^:]*$')
		if owner and redis.call('EXISTS', KEYS[2] .. owner) == 0 then
			redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
			return 1
		end

		return 0
	`)

	// KEYS[1]: peer lock key
	// ARGV[1]: lock value (serverID:connID)
	// ARGV[2]: lock TTL in milliseconds
	luaExtendPeerLock = redis.NewScript(`
		if redis.call('GET', KEYS[1]) ~= ARGV[1] then
			return 0
		end
		redis.call('PEXPIRE', KEYS[1], ARGV[2])
		return 1
	`)

	// KEYS[1]: peer lock key
	// ARGV[1]: lock value (serverID:connID)
	luaReleasePeerLock = redis.NewScript(`
		local cur = redis.call('GET', KEYS[1])
		if cur ~= ARGV[1] then
			return 0
		end
		redis.call('DEL', KEYS[1])
		return 1
	`)
)

// redisGuard holds peer locks in redis. A lock whose server stopped
// heartbeating can be taken over.
type redisGuard struct {
	redisClient *redis.Client
	prefix      string
	serverID    string
	clock       clockwork.Clock
	logger      *log.Logger

	mu   sync.Mutex
	held map[string]string // peerID -> connID

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewRedisGuard(
	redisClient *redis.Client,
	redisPrefix string,
	serverID string,
	clock clockwork.Clock,
	logger *log.Logger,
) PeerGuard {
	return &redisGuard{
		redisClient: redisClient,
		prefix:      redisPrefix,
		serverID:    serverID,
		clock:       clock,
		logger:      logger,
		held:        make(map[string]string),
		stopCh:      make(chan struct{}),
	}
}

func (g *redisGuard) peerKey(peerID string) string {
	return fmt.Sprintf("%s:p:%s", g.prefix, peerID)
}

func (g *redisGuard) serverKeyPrefix() string {
	return g.prefix + ":s:"
}

func (g *redisGuard) serverKey() string {
	return g.serverKeyPrefix() + g.serverID
}

func (g *redisGuard) lockValue(connID string) string {
	return fmt.Sprintf("%s:%s", g.serverID, connID)
}

func (g *redisGuard) Acquire(ctx context.Context, peerID, connID string) (bool, error) {
	result, err := luaAcquirePeerLock.Run(
		ctx,
		g.redisClient,
		[]string{g.peerKey(peerID), g.serverKeyPrefix()},
		g.lockValue(connID),
		peerLockTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, errors.Wrap(errors.ErrInternal, err, "acquire peer lock")
	}
	if result != 1 {
		g.logger.Debug("Peer lock held elsewhere", log.PeerID(peerID))
		return false, nil
	}

	g.mu.Lock()
	g.held[peerID] = connID
	g.mu.Unlock()
	return true, nil
}

func (g *redisGuard) Release(ctx context.Context, peerID, connID string) error {
	g.mu.Lock()
	if g.held[peerID] == connID {
		delete(g.held, peerID)
	}
	g.mu.Unlock()

	_, err := luaReleasePeerLock.Run(
		ctx,
		g.redisClient,
		[]string{g.peerKey(peerID)},
		g.lockValue(connID),
	).Int()
	if err != nil {
		return errors.Wrap(errors.ErrInternal, err, "release peer lock")
	}
	return nil
}

func (g *redisGuard) Start(ctx context.Context) error {
	g.logger.Info("Starting server heartbeat", log.String("serverId", g.serverID))

	if err := g.setHeartbeat(ctx); err != nil {
		return errors.Wrap(errors.ErrInternal, err, "set initial heartbeat")
	}

	g.wg.Add(1)
	go g.heartbeatLoop()
	return nil
}

func (g *redisGuard) Stop() {
	g.logger.Info("Stopping server heartbeat", log.String("serverId", g.serverID))
	close(g.stopCh)
	g.wg.Wait()
}

func (g *redisGuard) setHeartbeat(ctx context.Context) error {
	return g.redisClient.Set(ctx, g.serverKey(), "1", serverHBTTL).Err()
}

// refresh extends the locks of connected peers. It only extends keys that
// still carry this connection's value and never takes a lock.
func (g *redisGuard) refresh(ctx context.Context) {
	g.extend(ctx, g.snapshot())
}

func (g *redisGuard) snapshot() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	held := make(map[string]string, len(g.held))
	for peerID, connID := range g.held {
		held[peerID] = connID
	}
	return held
}

func (g *redisGuard) extend(ctx context.Context, held map[string]string) {
	for peerID, connID := range held {
		result, err := luaExtendPeerLock.Run(
			ctx,
			g.redisClient,
			[]string{g.peerKey(peerID)},
			g.lockValue(connID),
			peerLockTTL.Milliseconds(),
		).Int()
		if err != nil {
			g.logger.Warn("Failed to extend peer lock", log.PeerID(peerID), log.Error(err))
			continue
		}
		if result == 1 {
			continue
		}

		g.logger.Debug("Peer lock gone, no longer extended", log.PeerID(peerID))
		g.mu.Lock()
		if g.held[peerID] == connID {
			delete(g.held, peerID)
		}
		g.mu.Unlock()
	}
}

func (g *redisGuard) heartbeatLoop() {
	defer g.wg.Done()

	ticker := g.clock.NewTicker(serverHBInterval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stopCh:
			ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
			defer cancel()
			g.redisClient.Del(ctx, g.serverKey())
			return
		case <-ticker.Chan():
			ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
			if err := g.setHeartbeat(ctx); err != nil {
				g.logger.Error("Failed to extend server heartbeat", log.Error(err))
			}
			g.refresh(ctx)
			cancel()
		}
	}
}

// memoryGuard is the single process guard used without redis.
type memoryGuard struct {
	mu   sync.Mutex
	held map[string]string
}

func NewMemoryGuard() PeerGuard {
	return &memoryGuard{held: make(map[string]string)}
}

func (g *memoryGuard) Start(context.Context) error { return nil }
func (g *memoryGuard) Stop()                       {}

func (g *memoryGuard) Acquire(_ context.Context, peerID, connID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cur, ok := g.held[peerID]; ok && cur != connID {
		return false, nil
	}
	g.held[peerID] = connID
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, peerID, connID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held[peerID] == connID {
		delete(g.held, peerID)
	}
	return nil
}
