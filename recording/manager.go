// Package recording ties a sink to a producer for as long as a recording
// session is open.
package recording

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

type Session struct {
	ProducerID string
	PeerID     string
	StartedAt  time.Time
}

type session struct {
	Session
	sink  Sink
	untap func()
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session
	factory  SinkFactory
	clock    clockwork.Clock
	logger   *log.Logger
}

func NewManager(factory SinkFactory, clock clockwork.Clock, logger *log.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		factory:  factory,
		clock:    clock,
		logger:   logger,
	}
}

// Start opens a session for producer owned by peerID.
func (m *Manager) Start(ctx context.Context, peerID string, producer media.Producer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := producer.ID()
	if _, ok := m.sessions[id]; ok {
		return errors.Newf(errors.ErrAlreadyExists, "producer %s already recorded", id)
	}
	sink, err := m.factory.NewSink(id, producer.Parameters())
	if err != nil {
		return err
	}
	m.sessions[id] = &session{
		Session: Session{
			ProducerID: id,
			PeerID:     peerID,
			StartedAt:  m.clock.Now(),
		},
		sink:  sink,
		untap: producer.Tap(sink),
	}
	recordingsActive.Add(ctx, 1)
	m.logger.Debug("recording started",
		log.ProducerID(id),
		log.PeerID(peerID))
	return nil
}

// Stop closes the session of producerID. Only its owner may stop it.
func (m *Manager) Stop(peerID, producerID string) error {
	m.mu.Lock()
	s, ok := m.sessions[producerID]
	if !ok || s.PeerID != peerID {
		m.mu.Unlock()
		return errors.Newf(errors.ErrNotFound, "no recording for producer %s", producerID)
	}
	delete(m.sessions, producerID)
	m.mu.Unlock()

	return m.close(s)
}

// StopPeer closes every session of peerID and reports how many there were.
func (m *Manager) StopPeer(peerID string) int {
	m.mu.Lock()
	var stopping []*session
	for id, s := range m.sessions {
		if s.PeerID == peerID {
			stopping = append(stopping, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stopping {
		if err := m.close(s); err != nil {
			m.logger.Warn("close recording", log.ProducerID(s.ProducerID), log.Error(err))
		}
	}
	return len(stopping)
}

func (m *Manager) StopAll() {
	m.mu.Lock()
	stopping := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		stopping = append(stopping, s)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, s := range stopping {
		if err := m.close(s); err != nil {
			m.logger.Warn("close recording", log.ProducerID(s.ProducerID), log.Error(err))
		}
	}
}

func (m *Manager) close(s *session) error {
	s.untap()
	recordingsActive.Add(context.Background(), -1)
	m.logger.Debug("recording stopped",
		log.ProducerID(s.ProducerID),
		log.Duration("duration", m.clock.Since(s.StartedAt)))
	return s.sink.Close()
}

func (m *Manager) Session(producerID string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[producerID]
	if !ok {
		return Session{}, false
	}
	return s.Session, true
}

func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
