package rooms

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/audio-rooms/internal/otel"
)

var (
	roomsCreated metric.Int64Counter
	roomsActive  metric.Int64UpDownCounter
	peersActive  metric.Int64UpDownCounter
	joinRetries  metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("rooms", intotel.PrefixRooms)

	f.Int64Counter(&roomsCreated, "created",
		metric.WithDescription("Rooms created on first join"))

	f.Int64UpDownCounter(&roomsActive, "active",
		metric.WithDescription("Rooms currently open"))

	f.Int64UpDownCounter(&peersActive, "peers.active",
		metric.WithDescription("Peers currently in a room"))

	f.Int64Counter(&joinRetries, "join.retries",
		metric.WithDescription("Joins retried because the room was closing"))
}
