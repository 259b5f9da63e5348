package pionengine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
)

const submitWait = time.Second

// pool runs transport handshakes on a fixed number of workers. A full queue
// is reported as Timeout after submitWait instead of holding the caller.
type pool struct {
	jobs   chan func()
	done   chan struct{}
	once   sync.Once
	group  errgroup.Group
	wait   time.Duration
	logger *log.Logger
}

func newPool(workers int, logger *log.Logger) *pool {
	p := &pool{
		jobs:   make(chan func(), workers*16),
		done:   make(chan struct{}),
		wait:   submitWait,
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

func (p *pool) work() error {
	for {
		select {
		case <-p.done:
			return nil
		case job := <-p.jobs:
			p.run(job)
		}
	}
}

func (p *pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("media job panicked", log.Any("panic", r))
		}
	}()
	job()
}

func (p *pool) submit(ctx context.Context, job func()) error {
	select {
	case <-p.done:
		return errors.New(errors.ErrInvalidState, "media engine closed")
	default:
	}
	timer := time.NewTimer(p.wait)
	defer timer.Stop()
	select {
	case p.jobs <- job:
		return nil
	case <-p.done:
		return errors.New(errors.ErrInvalidState, "media engine closed")
	case <-ctx.Done():
		return errors.Wrap(errors.ErrTimeout, ctx.Err(), "media workers busy")
	case <-timer.C:
		return errors.New(errors.ErrTimeout, "media workers busy")
	}
}

func (p *pool) close() error {
	p.once.Do(func() { close(p.done) })
	return p.group.Wait()
}
