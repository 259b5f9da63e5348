package media

import (
	"context"

	"github.com/pion/rtp"
)

// Engine allocates one Router per room.
type Engine interface {
	NewRouter(ctx context.Context, roomID string) (Router, error)
	Close() error
}

// Router is the capability provider of a room. It is created once per room
// and closed when the room is torn down.
type Router interface {
	ID() string
	Capabilities() Capabilities
	// CanConsume fails with ErrIncompatible when a receiver with caps
	// cannot decode a producer sending params.
	CanConsume(params Parameters, caps Capabilities) error
	CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	Close() error
}

type TransportOptions struct {
	ID          string
	PeerID      string
	Direction   Direction
	AnnouncedIP string
}

// Transport is the relay side of one negotiated path.
type Transport interface {
	ID() string
	LocalParameters() TransportParameters
	// Connect accepts the remote parameters and starts the handshake in the
	// background. It never blocks on the network.
	Connect(ctx context.Context, remote TransportParameters) error
	Produce(ctx context.Context, id string, kind Kind, params Parameters) (Producer, error)
	// Consume attaches a paused consumer of producer to this transport.
	Consume(ctx context.Context, id string, producer Producer, codec Codec) (Consumer, error)
	Close() error
}

// RTPWriter receives a copy of every packet a producer forwards.
type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

type Producer interface {
	ID() string
	Kind() Kind
	Parameters() Parameters
	// Tap registers w for every forwarded packet until the returned func is called.
	Tap(w RTPWriter) (untap func())
	Close() error
}

type Consumer interface {
	ID() string
	Parameters() Parameters
	// Resume starts forwarding; consumers are created paused.
	Resume() error
	Close() error
}
