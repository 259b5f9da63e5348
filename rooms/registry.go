package rooms

import (
	"context"

	"github.com/jonboulle/clockwork"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/internal/sync"
	"github.com/imtaco/audio-rooms/media"
	"github.com/imtaco/audio-rooms/rooms/mediapath"
)

const maxJoinAttempts = 3

// Registry maps room ids to live rooms. Locks are always taken in the order
// registry, room, media paths, and no engine call runs under the registry
// lock.
type Registry struct {
	rooms    *sync.Map[string, *Room]
	engine   media.Engine
	resolver *mediapath.AddressResolver
	cfg      Config
	clock    clockwork.Clock
	logger   *log.Logger

	// guarded by the rooms lock
	creating map[string]*pendingRoom
	closed   bool
}

// pendingRoom is the placeholder of a room whose router is being created.
type pendingRoom struct {
	done chan struct{}
	room *Room
	err  error
}

func NewRegistry(
	engine media.Engine,
	resolver *mediapath.AddressResolver,
	cfg Config,
	clock clockwork.Clock,
	logger *log.Logger,
) *Registry {
	return &Registry{
		rooms:    sync.NewMap[string, *Room](),
		engine:   engine,
		resolver: resolver,
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
		creating: make(map[string]*pendingRoom),
	}
}

// GetOrCreateRoom returns the room with roomID, creating it and its router
// on first use. Concurrent callers wait for the one creating the room and
// get the same room.
func (reg *Registry) GetOrCreateRoom(ctx context.Context, roomID string) (*Room, error) {
	if room, ok := reg.rooms.Load(roomID); ok && !room.Closed() {
		return room, nil
	}

	var (
		room    *Room
		pending *pendingRoom
		owner   bool
		err     error
	)
	reg.rooms.WithLock(func(view sync.View[string, *Room]) {
		if reg.closed {
			err = errors.New(errors.ErrInvalidState, "registry closed")
			return
		}
		if existing, ok := view.Get(roomID); ok && !existing.Closed() {
			room = existing
			return
		}
		if p, ok := reg.creating[roomID]; ok {
			pending = p
			return
		}
		pending = &pendingRoom{done: make(chan struct{})}
		reg.creating[roomID] = pending
		owner = true
	})
	switch {
	case err != nil:
		return nil, err
	case room != nil:
		return room, nil
	case !owner:
		select {
		case <-pending.done:
			return pending.room, pending.err
		case <-ctx.Done():
			return nil, errors.Wrapf(errors.ErrTimeout, ctx.Err(), "wait for room %s", roomID)
		}
	}

	room, err = reg.create(ctx, roomID)
	reg.rooms.WithLock(func(view sync.View[string, *Room]) {
		delete(reg.creating, roomID)
		if err != nil {
			return
		}
		if reg.closed {
			err = errors.New(errors.ErrInvalidState, "registry closed")
			return
		}
		view.Set(roomID, room)
	})
	if err != nil && room != nil {
		room.closed = true
		room.teardown()
		room = nil
	}
	pending.room, pending.err = room, err
	close(pending.done)
	if err != nil {
		return nil, err
	}

	roomsCreated.Add(ctx, 1)
	roomsActive.Add(ctx, 1)
	reg.logger.Info("room created", log.RoomID(roomID))
	return room, nil
}

func (reg *Registry) create(ctx context.Context, roomID string) (*Room, error) {
	router, err := reg.engine.NewRouter(ctx, roomID)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInternal, err, "create router for room %s", roomID)
	}
	paths := mediapath.New(router, reg.resolver, reg.cfg.ConnectTimeout, reg.clock,
		reg.logger.Module("MediaPaths").With(log.RoomID(roomID)))
	return newRoom(roomID, router, paths, reg.clock.Now()), nil
}

// JoinRoom adds m to roomID and returns the room with its member snapshot,
// m included. A room closing under the join is replaced by a fresh one.
func (reg *Registry) JoinRoom(ctx context.Context, roomID string, m Member) (*Room, []Member, error) {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, err := reg.GetOrCreateRoom(ctx, roomID)
		if err != nil {
			return nil, nil, err
		}
		members, err := room.join(m)
		if errors.Is(err, errRoomClosed) {
			joinRetries.Add(ctx, 1)
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		peersActive.Add(ctx, 1)
		reg.logger.Info("peer joined",
			log.RoomID(roomID),
			log.PeerID(m.PeerID),
			log.Int("members", len(members)))
		return room, members, nil
	}
	return nil, nil, errors.Newf(errors.ErrInternal, "room %s kept closing during join", roomID)
}

// LeaveRoom removes peerID with all its media paths. The last member out
// tears the room down. Media handles are closed without holding the
// registry or the room lock.
func (reg *Registry) LeaveRoom(roomID, peerID string) (Departure, error) {
	room, ok := reg.rooms.Load(roomID)
	if !ok {
		return Departure{}, errors.Newf(errors.ErrNotFound, "room %s not found", roomID)
	}

	var dep Departure
	room.mu.Lock()
	if err := room.leaveLocked(peerID); err != nil {
		room.mu.Unlock()
		return Departure{}, err
	}
	dep.Remaining = room.snapshotLocked("")
	if len(dep.Remaining) == 0 && !room.closed {
		room.closed = true
		dep.RoomClosed = true
	}
	room.mu.Unlock()

	dep.Removal = room.paths.RemovePeer(peerID)
	peersActive.Add(context.Background(), -1)
	if !dep.RoomClosed {
		return dep, nil
	}

	reg.rooms.WithLock(func(view sync.View[string, *Room]) {
		if cur, ok := view.Get(roomID); ok && cur == room {
			view.Delete(roomID)
		}
	})
	room.teardown()
	roomsActive.Add(context.Background(), -1)
	reg.logger.Info("room closed", log.RoomID(roomID))
	return dep, nil
}

func (reg *Registry) Room(roomID string) (*Room, error) {
	room, ok := reg.rooms.Load(roomID)
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "room %s not found", roomID)
	}
	return room, nil
}

func (reg *Registry) Stats() Stats {
	var st Stats
	for _, room := range reg.rooms.All() {
		st.Rooms++
		st.Peers += room.Len()
	}
	return st
}

// Close tears down every room.
func (reg *Registry) Close(ctx context.Context) error {
	var closing []*Room
	reg.rooms.WithLock(func(view sync.View[string, *Room]) {
		reg.closed = true
		closing = view.Drain()
		for _, room := range closing {
			room.mu.Lock()
			room.closed = true
			room.mu.Unlock()
		}
	})

	for _, room := range closing {
		if err := ctx.Err(); err != nil {
			return err
		}
		peersActive.Add(ctx, -int64(room.Len()))
		room.teardown()
		roomsActive.Add(ctx, -1)
	}
	return nil
}
