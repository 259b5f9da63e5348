package signal

import (
	"context"
	"sync"

	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	"github.com/imtaco/audio-rooms/internal/log"
	isync "github.com/imtaco/audio-rooms/internal/sync"
	"github.com/imtaco/audio-rooms/rooms"
)

type push struct {
	method string
	params any
}

// outbox delivers pushes to one peer in order, from its own goroutine.
type outbox struct {
	peerID string
	conn   jsonrpc.Conn[peerState]
	ch     chan push
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (o *outbox) run(logger *log.Logger) {
	defer o.wg.Done()
	for {
		select {
		case <-o.done:
			return
		case <-o.conn.Done():
			return
		case p := <-o.ch:
			if err := o.conn.Notify(context.Background(), p.method, p.params); err != nil {
				notificationsFailed.Add(context.Background(), 1)
				logger.Debug("Push failed",
					log.PeerID(o.peerID),
					log.String("method", p.method),
					log.Error(err))
				continue
			}
			notificationsSent.Add(context.Background(), 1)
		}
	}
}

func (o *outbox) stop() {
	o.once.Do(func() { close(o.done) })
	o.wg.Wait()
}

// PeerManager routes pushes to connected peers. Push never blocks: when a
// peer's outbox is full the push is dropped. Outboxes drain into the
// connection from their own goroutine, which may wait for the socket.
type PeerManager struct {
	peers  *isync.Map[string, *outbox]
	size   int
	logger *log.Logger
}

func NewPeerManager(size int, logger *log.Logger) *PeerManager {
	if size <= 0 {
		size = 1
	}
	return &PeerManager{
		peers:  isync.NewMap[string, *outbox](),
		size:   size,
		logger: logger,
	}
}

// Add starts the outbox of peerID, replacing a stale one.
func (m *PeerManager) Add(peerID string, conn jsonrpc.Conn[peerState]) {
	box := &outbox{
		peerID: peerID,
		conn:   conn,
		ch:     make(chan push, m.size),
		done:   make(chan struct{}),
	}
	box.wg.Add(1)
	go box.run(m.logger)

	var stale *outbox
	m.peers.WithLock(func(view isync.View[string, *outbox]) {
		stale, _ = view.Get(peerID)
		view.Set(peerID, box)
	})
	if stale != nil {
		stale.stop()
	}
	m.logger.Debug("Peer added", log.PeerID(peerID))
}

// Remove stops the outbox of peerID if it still belongs to conn.
func (m *PeerManager) Remove(peerID string, conn jsonrpc.Conn[peerState]) {
	var box *outbox
	m.peers.WithLock(func(view isync.View[string, *outbox]) {
		cur, ok := view.Get(peerID)
		if !ok || cur.conn != conn {
			return
		}
		box = cur
		view.Delete(peerID)
	})
	if box != nil {
		box.stop()
		m.logger.Debug("Peer removed", log.PeerID(peerID))
	}
}

// Push queues a notification for peerID and reports whether it was queued.
func (m *PeerManager) Push(peerID, method string, params any) bool {
	box, ok := m.peers.Load(peerID)
	if !ok {
		return false
	}
	select {
	case box.ch <- push{method: method, params: params}:
		return true
	default:
		notificationsDropped.Add(context.Background(), 1)
		m.logger.Warn("Outbox full, push dropped",
			log.PeerID(peerID),
			log.String("method", method))
		return false
	}
}

// PushWait queues a notification for peerID, waiting for outbox space until
// ctx ends or the peer goes away. It is meant for a peer's own handlers,
// which may hold back only their own connection.
func (m *PeerManager) PushWait(ctx context.Context, peerID, method string, params any) bool {
	box, ok := m.peers.Load(peerID)
	if !ok {
		return false
	}
	select {
	case box.ch <- push{method: method, params: params}:
		return true
	case <-box.done:
	case <-box.conn.Done():
	case <-ctx.Done():
	}
	return false
}

// PushMembers queues the same notification for every member.
func (m *PeerManager) PushMembers(members []rooms.Member, method string, params any) {
	for _, member := range members {
		m.Push(member.PeerID, method, params)
	}
}

func (m *PeerManager) Len() int {
	return m.peers.Len()
}

// Close stops every outbox.
func (m *PeerManager) Close() {
	var boxes []*outbox
	m.peers.WithLock(func(view isync.View[string, *outbox]) {
		boxes = view.Drain()
	})
	for _, box := range boxes {
		box.stop()
	}
}
