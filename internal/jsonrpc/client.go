package jsonrpc

import (
	"context"
	"time"

	"github.com/imtaco/audio-rooms/internal/errors"
)

// TimeoutClient bounds every Call and Notify on conn by timeout. Running out
// of that budget fails with errors.ErrTimeout; cancellation by the caller's
// own context is returned unchanged.
func TimeoutClient[T any](conn Conn[T], timeout time.Duration) Client[T] {
	if timeout <= 0 {
		panic("timeout must be greater than zero")
	}
	return &timeoutConn[T]{
		Conn:    conn,
		timeout: timeout,
	}
}

type timeoutConn[T any] struct {
	Conn[T]
	timeout time.Duration
}

func (c *timeoutConn[T]) Call(ctx context.Context, method string, params, result any) error {
	return c.bounded(ctx, method, func(ctx context.Context) error {
		return c.Conn.Call(ctx, method, params, result)
	})
}

func (c *timeoutConn[T]) Notify(ctx context.Context, method string, params any) error {
	return c.bounded(ctx, method, func(ctx context.Context) error {
		return c.Conn.Notify(ctx, method, params)
	})
}

func (c *timeoutConn[T]) bounded(ctx context.Context, method string, fn func(context.Context) error) error {
	tctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := fn(tctx)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrapf(errors.ErrTimeout, err, "%s after %s", method, c.timeout)
	}
	return err
}
