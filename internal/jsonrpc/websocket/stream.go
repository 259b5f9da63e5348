package websocket

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/imtaco/audio-rooms/internal/errors"
	"github.com/imtaco/audio-rooms/internal/log"
)

const (
	ErrBufferFull errors.Code = "buffer_full"
	ErrMarshal    errors.Code = "marshal_error"
)

const (
	pingInterval = 10 * time.Second
	pingTimeout  = 3 * time.Second
	writeTimeout = 3 * time.Second
	queueWait    = 5 * time.Second
	queueFrames  = 16
	readLimit    = 1 << 20
)

// wsStream adapts a websocket connection to jsonrpc.ObjectStream. Frames
// are encoded by the writer and sent by a single pump. A writer facing a
// full queue waits for the pump; a pump stalled past queueWait closes the
// connection.
type wsStream struct {
	conn      *websocket.Conn
	frames    chan []byte
	logger    *log.Logger
	queueWait time.Duration

	connCtx   context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	code      atomic.Int32
}

func newStream(conn *websocket.Conn, logger *log.Logger) *wsStream {
	conn.SetReadLimit(readLimit)
	s := &wsStream{
		conn:      conn,
		frames:    make(chan []byte, queueFrames),
		logger:    logger,
		queueWait: queueWait,
	}
	s.code.Store(int32(websocket.StatusAbnormalClosure))
	return s
}

func (ws *wsStream) Open(ctx context.Context) error {
	ws.connCtx, ws.cancel = context.WithCancel(ctx)
	go func() {
		ws.close(ws.pump(ws.connCtx))
	}()
	return nil
}

// Write fails on encoding errors, on a closed connection, or when the
// queue stays full for queueWait.
func (ws *wsStream) Write(ctx context.Context, obj any) error {
	if ctx.Err() != nil {
		return net.ErrClosed
	}
	frame, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrap(ErrMarshal, err, "encode frame")
	}

	select {
	case ws.frames <- frame:
		return nil
	default:
	}

	timer := time.NewTimer(ws.queueWait)
	defer timer.Stop()
	select {
	case ws.frames <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-ws.connCtx.Done():
		return net.ErrClosed
	case <-timer.C:
		ws.close(ErrBufferFull)
		return ErrBufferFull
	}
}

// Read failures end the connection.
func (ws *wsStream) Read(ctx context.Context, v any) error {
	if err := wsjson.Read(ctx, ws.conn, v); err != nil {
		ws.close(err)
		return err
	}
	return nil
}

func (ws *wsStream) Close() error {
	ws.close(nil)
	return nil
}

// closeCode is the websocket status the connection ended with.
func (ws *wsStream) closeCode() int {
	return int(ws.code.Load())
}

func (ws *wsStream) wait() {
	<-ws.connCtx.Done()
}

// closeStatus picks the status for a close caused by err. Abrupt closes
// skip the closing handshake because the peer is already gone.
func closeStatus(err error) (code websocket.StatusCode, abrupt bool) {
	switch {
	case err == nil:
		return websocket.StatusNormalClosure, false
	case websocket.CloseStatus(err) != -1:
		return websocket.CloseStatus(err), true
	case errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
		return websocket.StatusGoingAway, true
	case errors.Is(err, ErrBufferFull):
		return websocket.StatusPolicyViolation, false
	default:
		return websocket.StatusAbnormalClosure, true
	}
}

func (ws *wsStream) close(err error) {
	ws.closeOnce.Do(func() {
		code, abrupt := closeStatus(err)
		ws.code.Store(int32(code))

		switch code {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			ws.logger.Debug("connection closed", log.Int("code", int(code)), log.Error(err))
		default:
			ws.logger.Warn("connection closed", log.Int("code", int(code)), log.Error(err))
		}

		if abrupt {
			_ = ws.conn.CloseNow()
		} else {
			_ = ws.conn.Close(code, "bye")
		}
		if ws.cancel != nil {
			ws.cancel()
		}
	})
}

func (ws *wsStream) pump(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ws.send(ctx, pingTimeout, func(ctx context.Context) error {
				return ws.conn.Ping(ctx)
			}); err != nil {
				return err
			}
		case frame := <-ws.frames:
			if err := ws.send(ctx, writeTimeout, func(ctx context.Context) error {
				return ws.conn.Write(ctx, websocket.MessageText, frame)
			}); err != nil {
				return err
			}
		}
	}
}

func (ws *wsStream) send(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
