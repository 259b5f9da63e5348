package websocket

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imtaco/audio-rooms/internal/log"
)

// queuedStream has a one-frame queue and no pump.
func queuedStream(t *testing.T) *wsStream {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &wsStream{
		frames:    make(chan []byte, 1),
		logger:    log.NewTest(t),
		queueWait: time.Minute,
		connCtx:   ctx,
		cancel:    cancel,
	}
}

func TestWriteWaitsForQueueSpace(t *testing.T) {
	ws := queuedStream(t)
	require.NoError(t, ws.Write(context.Background(), map[string]int{"n": 1}))

	done := make(chan error, 1)
	go func() {
		done <- ws.Write(context.Background(), map[string]int{"n": 2})
	}()

	select {
	case err := <-done:
		t.Fatalf("write returned on a full queue: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	assert.JSONEq(t, `{"n":1}`, string(<-ws.frames))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("write still blocked after the queue drained")
	}
	assert.JSONEq(t, `{"n":2}`, string(<-ws.frames))
}

func TestWriteOnFullQueueEndsWithConnection(t *testing.T) {
	ws := queuedStream(t)
	require.NoError(t, ws.Write(context.Background(), "first"))

	done := make(chan error, 1)
	go func() {
		done <- ws.Write(context.Background(), "second")
	}()
	ws.cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("write outlived the connection")
	}
}

func TestCloseStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   websocket.StatusCode
		abrupt bool
	}{
		{"local close", nil, websocket.StatusNormalClosure, false},
		{"remote close", websocket.CloseError{Code: websocket.StatusGoingAway}, websocket.StatusGoingAway, true},
		{"socket gone", net.ErrClosed, websocket.StatusGoingAway, true},
		{"canceled", context.Canceled, websocket.StatusGoingAway, true},
		{"slow reader", ErrBufferFull, websocket.StatusPolicyViolation, false},
		{"other", errors.New("reset"), websocket.StatusAbnormalClosure, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, abrupt := closeStatus(tt.err)
			assert.Equal(t, tt.code, code)
			assert.Equal(t, tt.abrupt, abrupt)
		})
	}
}
