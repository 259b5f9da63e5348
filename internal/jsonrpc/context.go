package jsonrpc

type methodContext[T any] struct {
	conn Conn[T]
	v    *T
}

// NewContext binds state v to conn.
func NewContext[T any](conn Conn[T], v *T) MethodContext[T] {
	return &methodContext[T]{conn: conn, v: v}
}

func (m *methodContext[T]) Get() *T { return m.v }

func (m *methodContext[T]) Peer() Conn[T] { return m.conn }
