// Package speaking turns a sampled audio level into speaking/silent edges.
package speaking

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/viper"

	"github.com/imtaco/audio-rooms/internal/log"
)

const floorDB = -100

// Sampler reports the peak level of the most recent audio frame in [0, 1].
type Sampler interface {
	Amplitude() float64
}

type Config struct {
	Threshold float64       `mapstructure:"threshold"`
	Interval  time.Duration `mapstructure:"interval"`
}

func Setup(v *viper.Viper, prefix string) {
	p := func(key string) string { return prefix + "." + key }

	v.SetDefault(p("threshold"), -50.0)
	v.SetDefault(p("interval"), "100ms")
}

// Level converts an amplitude to dBFS, clamped to -100.
func Level(amplitude float64) float64 {
	if amplitude <= 0 {
		return floorDB
	}
	db := 20 * math.Log10(amplitude)
	if db < floorDB || math.IsNaN(db) {
		return floorDB
	}
	return db
}

// Tracker samples on a ticker and calls onChange only when the speaking
// state flips.
type Tracker struct {
	cfg      Config
	clock    clockwork.Clock
	onChange func(speaking bool)
	logger   *log.Logger

	mu       sync.Mutex
	sampler  Sampler
	speaking bool
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewTracker(sampler Sampler, cfg Config, clock clockwork.Clock, onChange func(bool), logger *log.Logger) *Tracker {
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = -50
	}
	return &Tracker{
		cfg:      cfg,
		clock:    clock,
		onChange: onChange,
		logger:   logger,
		sampler:  sampler,
	}
}

// Start begins sampling. Calling it on a running or stopped tracker does nothing.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil || t.sampler == nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.run(ctx, t.clock.NewTicker(t.cfg.Interval))
}

func (t *Tracker) run(ctx context.Context, ticker clockwork.Ticker) {
	defer close(t.done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.sample()
		}
	}
}

func (t *Tracker) sample() {
	t.mu.Lock()
	if t.sampler == nil {
		t.mu.Unlock()
		return
	}
	speaking := Level(t.sampler.Amplitude()) > t.cfg.Threshold
	changed := speaking != t.speaking
	t.speaking = speaking
	t.mu.Unlock()

	if changed {
		t.logger.Debug("Speaking state changed", log.Bool("speaking", speaking))
		t.onChange(speaking)
	}
}

func (t *Tracker) Speaking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speaking
}

// Stop ends the loop and drops the sampler. It is safe to call more than
// once, and before Start.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.sampler = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
