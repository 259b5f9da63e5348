package mediapath

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/audio-rooms/internal/otel"
)

var (
	transportsCreated metric.Int64Counter
	transportsReaped  metric.Int64Counter
	producersCreated  metric.Int64Counter
	consumersCreated  metric.Int64Counter
	consumersClosed   metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("rooms.mediapath", intotel.PrefixMediaPath)

	f.Int64Counter(&transportsCreated, "transports.created",
		metric.WithDescription("Transports allocated on a room router"))

	f.Int64Counter(&transportsReaped, "transports.reaped",
		metric.WithDescription("Transports closed because they never connected"))

	f.Int64Counter(&producersCreated, "producers.created",
		metric.WithDescription("Producers registered"))

	f.Int64Counter(&consumersCreated, "consumers.created",
		metric.WithDescription("Consumers registered"))

	f.Int64Counter(&consumersClosed, "consumers.closed",
		metric.WithDescription("Consumers closed by any cascade"))
}
