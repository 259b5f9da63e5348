package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"sync/atomic"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
)

type handlerFunc[T any] func(context.Context, *connImpl[T], *Request)

type doneChan chan *message

type connImpl[T any] struct {
	stream  ObjectStream
	mctx    MethodContext[T]
	handler handlerFunc[T]
	seq     atomic.Uint64
	logger  *log.Logger

	// writes are serialized; the stream is not safe for concurrent writers
	sendMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	pending map[ID]doneChan
	done    chan struct{}
}

func newConn[T any](
	stream ObjectStream,
	v *T,
	handler handlerFunc[T],
	logger *log.Logger,
) *connImpl[T] {
	c := &connImpl[T]{
		stream:  stream,
		handler: handler,
		pending: make(map[ID]doneChan),
		done:    make(chan struct{}),
		logger:  logger,
	}
	c.mctx = NewContext[T](c, v)
	return c
}

func (c *connImpl[T]) Open(ctx context.Context) error {
	if err := c.stream.Open(ctx); err != nil {
		return err
	}
	go c.readLoop(ctx)
	return nil
}

func (c *connImpl[T]) Close() error {
	return c.close(nil)
}

func (c *connImpl[T]) Context() MethodContext[T] {
	return c.mctx
}

// Done is closed once the connection is closed, from either side.
func (c *connImpl[T]) Done() <-chan struct{} {
	return c.done
}

func (c *connImpl[T]) Call(ctx context.Context, method string, params, result any) error {
	req, err := newRequestMessage(newNumberID(c.seq.Add(1)), method, params)
	if err != nil {
		return err
	}
	done, err := c.send(ctx, req)
	if err != nil {
		return err
	}
	return c.wait(ctx, req.ID, done, result)
}

func (c *connImpl[T]) Notify(ctx context.Context, method string, params any) error {
	req, err := newNotificationMessage(method, params)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, req)
	return err
}

// reply answers a request; notifications (nil id) get nothing.
func (c *connImpl[T]) reply(ctx context.Context, id *ID, result any) error {
	if id == nil {
		return nil
	}
	resp, err := newResponseMessage(*id, result, nil)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, resp)
	return err
}

func (c *connImpl[T]) replyError(ctx context.Context, id *ID, respErr *Error) error {
	if id == nil {
		return nil
	}
	resp, err := newResponseMessage(*id, nil, respErr)
	if err != nil {
		return err
	}
	_, err = c.send(ctx, resp)
	return err
}

// close fails every pending call with ErrClosed.
func (c *connImpl[T]) close(err error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.closed = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, done := range pending {
		close(done)
	}
	close(c.done)

	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) &&
		!errors.Is(err, context.Canceled) {
		c.logger.Warn("jsonrpc connection closed with error", log.Error(err))
	}
	return c.stream.Close()
}

func (c *connImpl[T]) readLoop(ctx context.Context) {
	for {
		var m message
		if err := c.stream.Read(ctx, &m); err != nil {
			c.logger.Debug("jsonrpc read loop stopped", log.Error(err))
			_ = c.close(err)
			return
		}

		m.validate()

		switch m.msgType {
		case typeRequest, typeNotification:
			c.handler(ctx, c, &Request{
				ID:     m.ID,
				Method: *m.Method,
				Params: m.Params,
			})

		case typeResponse:
			done := c.untrack(*m.ID)
			if done == nil {
				c.logger.Debug("ignore response with unmatched id", log.Any("id", m.ID))
				continue
			}
			done <- &m
			close(done)

		default:
			c.logger.Warn("ignore invalid message: neither request nor response is set")
		}
	}
}

func (c *connImpl[T]) track(id ID) (doneChan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	done := make(doneChan, 1)
	c.pending[id] = done
	return done, nil
}

func (c *connImpl[T]) untrack(id ID) doneChan {
	c.mu.Lock()
	defer c.mu.Unlock()
	done, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return done
}

func (c *connImpl[T]) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *connImpl[T]) send(ctx context.Context, m *message) (doneChan, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	var done doneChan
	if m.msgType == typeRequest {
		var err error
		if done, err = c.track(*m.ID); err != nil {
			return nil, err
		}
	} else if c.isClosed() {
		return nil, ErrClosed
	}

	if err := c.stream.Write(ctx, m); err != nil {
		if done != nil {
			c.untrack(*m.ID)
		}
		return nil, err
	}
	return done, nil
}

func (c *connImpl[T]) wait(ctx context.Context, id *ID, done doneChan, result any) error {
	select {
	case <-ctx.Done():
		c.untrack(*id)
		return ctx.Err()

	case resp, ok := <-done:
		if !ok {
			return ErrClosed
		}
		if resp.Error != nil {
			return resp.Error
		}
		if resp.Result != nil && result != nil {
			return json.Unmarshal(*resp.Result, result)
		}
		return nil
	}
}
