package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/imtaco/audio-rooms/internal/log"
)

type Retry interface {
	Do(ctx context.Context, operation func() error) error
}

// New retries with exponential backoff until maxElapsedTime passes.
func New(logger *log.Logger, initialInterval, maxInterval, maxElapsedTime time.Duration) Retry {
	return &retryImpl{
		logger: logger,
		policy: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initialInterval
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = maxElapsedTime
			return b
		},
	}
}

// NewFixed makes at most attempts calls, sleeping interval between them.
func NewFixed(logger *log.Logger, attempts int, interval time.Duration) Retry {
	if attempts < 1 {
		attempts = 1
	}
	return &retryImpl{
		logger: logger,
		policy: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), uint64(attempts-1))
		},
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

type retryImpl struct {
	logger *log.Logger
	policy func() backoff.BackOff
}

func (r *retryImpl) Do(ctx context.Context, operation func() error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := operation()
		if err != nil {
			r.logger.Warn("Retry attempt failed",
				log.Int("attempt", attempt),
				log.Error(err))
		}
		return err
	}, backoff.WithContext(r.policy(), ctx))
}
