package jsonrpc

import (
	"context"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
)

type handlerImpl[T any] struct {
	methods map[string]MethodHandler[T]
	chain   []Middleware[T]
	logger  *log.Logger
}

type peerImpl[T any] struct {
	Handler[T]
	Conn[T]
}

// NewPeer creates a connection that both serves its own methods and calls the remote side.
// Methods must be defined before Open.
func NewPeer[T any](stream ObjectStream, v *T, logger *log.Logger) Peer[T] {
	if v == nil {
		v = new(T)
	}
	h := NewHandler[T](logger)
	return &peerImpl[T]{
		Handler: h,
		Conn:    h.NewConn(stream, v),
	}
}

func NewHandler[T any](logger *log.Logger) Handler[T] {
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &handlerImpl[T]{
		methods: make(map[string]MethodHandler[T]),
		logger:  logger,
	}
}

// Def registers a handler. Not safe once connections are open.
func (s *handlerImpl[T]) Def(method string, handler MethodHandler[T]) {
	if _, ok := s.methods[method]; ok {
		panic("method already defined: " + method)
	}
	s.methods[method] = handler
}

func (s *handlerImpl[T]) Use(mw Middleware[T]) {
	s.chain = append(s.chain, mw)
}

func (s *handlerImpl[T]) NewConn(stream ObjectStream, v *T) Conn[T] {
	return newConn(stream, v, s.handle, s.logger)
}

func (s *handlerImpl[T]) lookup(method string) (MethodHandler[T], bool) {
	h, ok := s.methods[method]
	if !ok {
		return nil, false
	}
	for i := len(s.chain) - 1; i >= 0; i-- {
		h = s.chain[i](method, h)
	}
	return h, true
}

func (s *handlerImpl[T]) handle(ctx context.Context, conn *connImpl[T], req *Request) {
	logger := s.logger.With(log.String("method", req.Method), log.Any("id", req.ID))
	logger.Debug("RPC request received")

	h, ok := s.lookup(req.Method)
	if !ok {
		logger.Warn("Method not found")
		_ = conn.replyError(ctx, req.ID, ErrMethodNotFound(req.Method))
		return
	}

	result, err := h(ctx, conn.mctx, req.Params)
	if err := s.reply(ctx, conn, req, result, err); err != nil {
		logger.Error("Failed to send RPC reply", log.Error(err))
	}
}

func (s *handlerImpl[T]) reply(
	ctx context.Context,
	conn *connImpl[T],
	req *Request,
	result any,
	err error,
) error {
	if err == nil {
		return conn.reply(ctx, req.ID, result)
	}

	if rpcErr, ok := errors.As[*Error](err); ok {
		s.logger.Info("RPC handler returned error",
			log.String("method", req.Method),
			log.Int64("error_code", rpcErr.Code),
			log.String("error_message", rpcErr.Message))
		return conn.replyError(ctx, req.ID, rpcErr)
	}
	s.logger.Error("RPC handler returned unexpected error",
		log.String("method", req.Method),
		log.Error(err))

	// internal details stay on this side
	return conn.replyError(ctx, req.ID, ErrInternal("unknown error"))
}
