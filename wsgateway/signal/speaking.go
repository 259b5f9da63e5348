package signal

import (
	"sync"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// speakingFanout throttles the userSpeaking pushes of one peer. Updates over
// the rate are coalesced into one trailing push carrying the state stored
// when it fires, so the room always ends up with the last write.
type speakingFanout struct {
	limiter *rate.Limiter
	clock   clockwork.Clock
	read    func() (speaking bool, ok bool)
	send    func(speaking bool)

	mu       sync.Mutex
	trailing clockwork.Timer
	sent     bool
	last     bool
	stopped  bool
}

func newSpeakingFanout(
	limit float64,
	burst int,
	clock clockwork.Clock,
	read func() (bool, bool),
	send func(bool),
) *speakingFanout {
	if burst < 1 {
		burst = 1
	}
	if limit <= 0 {
		limit = float64(rate.Inf)
	}
	return &speakingFanout{
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		clock:   clock,
		read:    read,
		send:    send,
	}
}

// offer pushes the stored state now, or reports false when the push was
// deferred to the trailing flush.
func (f *speakingFanout) offer() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.trailing != nil {
		return false
	}

	now := f.clock.Now()
	r := f.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	if delay == 0 {
		f.flushLocked(false)
		return true
	}
	f.trailing = f.clock.AfterFunc(delay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.trailing = nil
		if !f.stopped {
			f.flushLocked(true)
		}
	})
	return false
}

// flushLocked pushes the stored flag. A trailing flush skips a state the
// room has already heard.
func (f *speakingFanout) flushLocked(trailing bool) {
	speaking, ok := f.read()
	if !ok {
		return
	}
	if trailing && f.sent && f.last == speaking {
		return
	}
	f.sent, f.last = true, speaking
	f.send(speaking)
}

func (f *speakingFanout) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.trailing != nil {
		f.trailing.Stop()
		f.trailing = nil
	}
}
