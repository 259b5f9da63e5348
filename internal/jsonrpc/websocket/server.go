package websocket

import (
	"net/http"

	"github.com/coder/websocket"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	"github.com/imtaco/audio-rooms/internal/log"
)

// Server accepts websocket upgrades and serves JSON-RPC on each connection.
// Methods must be registered before the first connection arrives.
type Server[T any] struct {
	jsonrpc.Handler[T]
	hooks          ConnectionHooks[T]
	allowedOrigins []string
	logger         *log.Logger
}

func NewServer[T any](
	hooks ConnectionHooks[T],
	allowedOrigins []string,
	logger *log.Logger,
) *Server[T] {
	if hooks == nil {
		panic("hooks cannot be nil")
	}
	return &Server[T]{
		Handler:        jsonrpc.NewHandler[T](logger),
		hooks:          hooks,
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

func (s *Server[T]) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(log.String("remote_addr", r.RemoteAddr))

	state, err := s.hooks.OnVerify(r)
	switch {
	case errors.Is(err, ErrUnauthorized):
		logger.Info("Connection verification failed", log.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	case err != nil:
		logger.Warn("Connection verification error", log.Error(err))
		http.Error(w, "fail to verify", http.StatusInternalServerError)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		logger.Error("WebSocket open failed", log.Error(err))
		return
	}

	stream := newStream(wsConn, s.logger)
	rpcConn := s.NewConn(stream, state)
	mctx := rpcConn.Context()
	logger.Debug("WebSocket connection established", log.String("user_agent", r.UserAgent()))

	if err := s.hooks.OnConnect(mctx); err != nil {
		logger.Info("Connection rejected after upgrade", log.Error(err))
		_ = wsConn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}
	if err := rpcConn.Open(r.Context()); err != nil {
		logger.Error("Failed to open RPC connection", log.Error(err))
		s.hooks.OnDisconnect(mctx, int(websocket.StatusInternalError))
		return
	}

	stream.wait()
	s.hooks.OnDisconnect(mctx, stream.closeCode())
}
