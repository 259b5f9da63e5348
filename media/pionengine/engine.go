// Package pionengine implements the media engine on pion's ORTC API: one
// ICE and DTLS path per transport, RTP forwarded from producers to the
// consumers of the same room.
package pionengine

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

type Engine struct {
	cfg     media.Config
	caps    media.Capabilities
	apis    *lru.Cache[string, *webrtc.API]
	factory logging.LoggerFactory
	pool    *pool
	logger  *log.Logger

	mu      sync.Mutex
	routers map[string]*router
	closed  bool
}

// NewEngine starts the worker pool. It fails when cfg cannot serve any
// transport, so callers can exit before accepting peers.
func NewEngine(cfg media.Config, logger *log.Logger) (*Engine, error) {
	if cfg.Workers <= 0 {
		return nil, errors.Newf(errors.ErrInternal, "media workers must be positive, got %d", cfg.Workers)
	}
	if cfg.UDPPortMin > cfg.UDPPortMax {
		return nil, errors.Newf(errors.ErrInternal, "invalid udp port range %d-%d", cfg.UDPPortMin, cfg.UDPPortMax)
	}
	if cfg.ListenIP != "" && net.ParseIP(cfg.ListenIP) == nil {
		return nil, errors.Newf(errors.ErrInternal, "invalid listen ip %q", cfg.ListenIP)
	}
	size := cfg.APICacheSize
	if size <= 0 {
		size = 64
	}
	apis, err := lru.New[string, *webrtc.API](size)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, err, "api cache")
	}

	e := &Engine{
		cfg:     cfg,
		caps:    media.DefaultCapabilities(),
		apis:    apis,
		factory: NewLoggerFactory(logger.Module("Pion")),
		logger:  logger,
		routers: make(map[string]*router),
	}
	// settings errors surface here rather than on the first transport
	if _, err := e.api(cfg.AnnouncedAddress); err != nil {
		return nil, err
	}
	e.pool = newPool(cfg.Workers, logger)

	logger.Info("Media engine started",
		log.Int("workers", cfg.Workers),
		log.String("announcedAddress", cfg.AnnouncedAddress))
	return e, nil
}

// api returns the pion API announcing ip, one per distinct address.
func (e *Engine) api(ip string) (*webrtc.API, error) {
	if api, ok := e.apis.Get(ip); ok {
		return api, nil
	}

	se := webrtc.SettingEngine{LoggerFactory: e.factory}
	if e.cfg.UDPPortMin != 0 || e.cfg.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(e.cfg.UDPPortMin, e.cfg.UDPPortMax); err != nil {
			return nil, errors.Wrap(errors.ErrInternal, err, "set udp port range")
		}
	}
	if ip != "" {
		se.SetNAT1To1IPs([]string{ip}, webrtc.ICECandidateTypeHost)
	}
	if listen := net.ParseIP(e.cfg.ListenIP); listen != nil && !listen.IsUnspecified() {
		se.SetIPFilter(func(candidate net.IP) bool {
			return candidate.Equal(listen)
		})
	}
	se.SetIncludeLoopbackCandidate(e.cfg.IncludeLoopback)

	me, err := newMediaEngine(e.caps)
	if err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithSettingEngine(se), webrtc.WithMediaEngine(me))
	e.apis.Add(ip, api)
	return api, nil
}

func (e *Engine) NewRouter(_ context.Context, roomID string) (media.Router, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New(errors.ErrInvalidState, "media engine closed")
	}

	r := &router{
		id:         uuid.NewString(),
		roomID:     roomID,
		engine:     e,
		transports: make(map[string]*transport),
		logger:     e.logger.With(log.RoomID(roomID)),
	}
	e.routers[r.id] = r
	return r, nil
}

func (e *Engine) removeRouter(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.routers, id)
}

// Close closes every router, then stops the workers.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	routers := make([]*router, 0, len(e.routers))
	for _, r := range e.routers {
		routers = append(routers, r)
	}
	e.mu.Unlock()

	for _, r := range routers {
		_ = r.Close()
	}
	return e.pool.close()
}
