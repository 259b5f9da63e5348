package rooms

import (
	"sync"
	"time"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/media"
	"github.com/imtaco/audio-rooms/rooms/mediapath"
)

var errRoomClosed = errors.New(errors.ErrInvalidState, "room closed")

// Room owns its membership, its router and its media paths. The router is
// created with the room and never replaced.
type Room struct {
	id        string
	router    media.Router
	paths     *mediapath.Registry
	createdAt time.Time

	mu      sync.RWMutex
	order   []string
	members map[string]*Member
	closed  bool
}

func newRoom(id string, router media.Router, paths *mediapath.Registry, now time.Time) *Room {
	return &Room{
		id:        id,
		router:    router,
		paths:     paths,
		createdAt: now,
		members:   make(map[string]*Member),
	}
}

func (r *Room) ID() string                 { return r.id }
func (r *Room) Router() media.Router       { return r.router }
func (r *Room) Paths() *mediapath.Registry { return r.paths }
func (r *Room) CreatedAt() time.Time       { return r.createdAt }

func (r *Room) join(m Member) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errRoomClosed
	}
	if _, ok := r.members[m.PeerID]; ok {
		return nil, errors.Newf(errors.ErrAlreadyExists, "peer %s already in room %s", m.PeerID, r.id)
	}
	m.Speaking = false
	r.members[m.PeerID] = &m
	r.order = append(r.order, m.PeerID)
	return r.snapshotLocked(""), nil
}

// leaveLocked removes peerID. The caller holds r.mu.
func (r *Room) leaveLocked(peerID string) error {
	if _, ok := r.members[peerID]; !ok {
		return errors.Newf(errors.ErrNotFound, "peer %s not in room %s", peerID, r.id)
	}
	delete(r.members, peerID)
	for i, id := range r.order {
		if id == peerID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *Room) snapshotLocked(except string) []Member {
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		if id == except {
			continue
		}
		out = append(out, *r.members[id])
	}
	return out
}

// Members returns the members in join order.
func (r *Room) Members() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked("")
}

// Others returns every member but peerID.
func (r *Room) Others(peerID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(peerID)
}

func (r *Room) Member(peerID string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.members[peerID]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// SetSpeaking stores the flag, last write wins, and returns who should hear
// about it.
func (r *Room) SetSpeaking(peerID string, speaking bool) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[peerID]
	if !ok {
		return nil, errors.Newf(errors.ErrNotFound, "peer %s not in room %s", peerID, r.id)
	}
	m.Speaking = speaking
	return r.snapshotLocked(peerID), nil
}

// WithMembers runs fn with the membership held steady. Media path changes
// made inside fn and the member snapshot it receives are seen together by
// any concurrent join or leave.
func (r *Room) WithMembers(fn func(members []Member) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errRoomClosed
	}
	return fn(r.snapshotLocked(""))
}

func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) teardown() {
	r.paths.Close()
	_ = r.router.Close()
}
