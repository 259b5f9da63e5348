package websocket

import (
	"context"
	"net/http"

	"github.com/coder/websocket"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/jsonrpc"
	"github.com/imtaco/audio-rooms/internal/log"
)

const ErrDial errors.Code = "dial failed"

// Dial connects to a JSON-RPC websocket endpoint and returns an unopened
// peer. Define the peer's methods, then call Open with a context that lives
// as long as the connection.
func Dial[T any](ctx context.Context, url string, header http.Header, v *T, logger *log.Logger) (jsonrpc.Peer[T], error) {
	wsConn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(ErrDial, err, "dial %s", url)
	}

	return jsonrpc.NewPeer(newStream(wsConn, logger), v, logger), nil
}
