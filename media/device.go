package media

import (
	"context"
	"time"
)

// Source is a local capture stream.
type Source interface {
	Codec() Codec
	// ReadSample blocks until the next encoded frame is available.
	ReadSample(ctx context.Context) ([]byte, time.Duration, error)
	// Amplitude is the peak level of the latest frame in [0, 1].
	Amplitude() float64
	Close() error
}

// Device is the peer side media engine.
type Device interface {
	// Load restricts the device to what the room router can handle.
	Load(routerCaps Capabilities) error
	Loaded() bool
	RecvCapabilities() Capabilities
	CreateSendTransport(ctx context.Context, id string, remote TransportParameters) (LocalTransport, error)
	CreateRecvTransport(ctx context.Context, id string, remote TransportParameters) (LocalTransport, error)
	Close() error
}

// ConnectFunc forwards local transport parameters to the relay and returns
// once the relay confirmed them.
type ConnectFunc func(ctx context.Context, local TransportParameters) error

type LocalTransport interface {
	ID() string
	Direction() Direction
	// Connect runs signal once and starts the handshake after it succeeds.
	// Later calls are no-ops.
	Connect(ctx context.Context, signal ConnectFunc) error
	Produce(ctx context.Context, src Source) (LocalProducer, error)
	Consume(ctx context.Context, id, producerID string, params Parameters) (LocalConsumer, error)
	Close() error
}

type LocalProducer interface {
	Kind() Kind
	Parameters() Parameters
	Close() error
}

type LocalConsumer interface {
	ID() string
	ProducerID() string
	// Packets counts received RTP packets.
	Packets() uint64
	Close() error
}
