package pionengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/imtaco/audio-rooms/internal/log"
	"github.com/imtaco/audio-rooms/media"
)

// toneSource emits silent PCMU frames every 20ms.
type toneSource struct{}

func (toneSource) Codec() media.Codec { return media.CodecPCMU }
func (toneSource) Amplitude() float64 { return 0 }
func (toneSource) Close() error       { return nil }

func (toneSource) ReadSample(ctx context.Context) ([]byte, time.Duration, error) {
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0xFF
	}
	return frame, 20 * time.Millisecond, nil
}

// TestLoopbackForwarding runs a full path over 127.0.0.1: device to relay
// producer, relay consumer to a second device transport.
func TestLoopbackForwarding(t *testing.T) {
	if testing.Short() {
		t.Skip("opens udp sockets")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	logger := log.NewTest(t)

	engine, err := NewEngine(media.Config{
		Workers:         2,
		ListenIP:        "127.0.0.1",
		IncludeLoopback: true,
	}, logger)
	require.NoError(t, err)
	defer engine.Close()

	router, err := engine.NewRouter(ctx, "r1")
	require.NoError(t, err)

	device, err := NewDevice(DeviceConfig{IncludeLoopback: true}, logger)
	require.NoError(t, err)
	defer device.Close()
	require.NoError(t, device.Load(router.Capabilities()))

	connect := func(dir media.Direction, id string) (media.Transport, media.LocalTransport) {
		relay, err := router.CreateTransport(ctx, media.TransportOptions{ID: id, PeerID: "alice", Direction: dir})
		require.NoError(t, err)

		create := device.CreateSendTransport
		if dir == media.DirectionRecv {
			create = device.CreateRecvTransport
		}
		local, err := create(ctx, id, relay.LocalParameters())
		require.NoError(t, err)
		require.NoError(t, local.Connect(ctx, func(ctx context.Context, params media.TransportParameters) error {
			return relay.Connect(ctx, params)
		}))
		return relay, local
	}

	relaySend, localSend := connect(media.DirectionSend, "send")
	lp, err := localSend.Produce(ctx, toneSource{})
	require.NoError(t, err)
	producer, err := relaySend.Produce(ctx, "p1", media.KindAudio, lp.Parameters())
	require.NoError(t, err)

	relayRecv, localRecv := connect(media.DirectionRecv, "recv")
	consumer, err := relayRecv.Consume(ctx, "c1", producer, media.CodecPCMU)
	require.NoError(t, err)
	require.NoError(t, consumer.Resume())
	lc, err := localRecv.Consume(ctx, "c1", "p1", consumer.Parameters())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return lc.Packets() > 0
	}, 15*time.Second, 50*time.Millisecond)
}
