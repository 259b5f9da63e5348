package websocket

import (
	"net/http"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
)

// ErrUnauthorized from OnVerify answers the upgrade with 401; any other
// error answers 500.
const ErrUnauthorized errors.Code = "unauthorized"

// ConnectionHooks drives the lifecycle of one server-side connection.
type ConnectionHooks[T any] interface {
	// OnVerify runs before the upgrade and builds the connection state.
	OnVerify(r *http.Request) (*T, error)

	// OnConnect runs after the upgrade, before any request is read.
	// An error closes the connection without calling OnDisconnect.
	OnConnect(mctx jsonrpc.MethodContext[T]) error

	// OnDisconnect runs once the connection is gone.
	OnDisconnect(mctx jsonrpc.MethodContext[T], closeCode int)
}
