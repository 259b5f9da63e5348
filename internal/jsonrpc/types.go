package jsonrpc

import (
	"context"
	"encoding/json"
	"io"
)

// MethodHandler serves one method. Handlers of a connection run on its read
// loop one at a time; ctx ends with the connection.
type MethodHandler[T any] func(ctx context.Context, mctx MethodContext[T], params *json.RawMessage) (any, error)

// Middleware wraps every handler of a Handler, outermost first.
type Middleware[T any] func(method string, next MethodHandler[T]) MethodHandler[T]

// MethodContext is a handler's view of its connection and the per-connection
// state set up when it was accepted.
type MethodContext[T any] interface {
	Get() *T
	Peer() Conn[T]
}

type Registry[T any] interface {
	Def(method string, handler MethodHandler[T])
	Use(mw Middleware[T])
}

// Handler holds the methods shared by every connection it creates.
type Handler[T any] interface {
	Registry[T]
	NewConn(stream ObjectStream, v *T) Conn[T]
}

// Peer is a single connection that serves its own methods.
type Peer[T any] interface {
	Conn[T]
	Registry[T]
}

type Client[T any] interface {
	Call(ctx context.Context, method string, params, result any) error
	Notify(ctx context.Context, method string, params any) error
	io.Closer
}

type Conn[T any] interface {
	Client[T]
	Open(ctx context.Context) error
	Context() MethodContext[T]
	Done() <-chan struct{}
}

type ObjectStream interface {
	Open(ctx context.Context) error
	Read(ctx context.Context, v any) error
	Write(ctx context.Context, obj any) error
	io.Closer
}
