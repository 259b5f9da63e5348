package recording

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/audio-rooms/internal/otel"
)

var recordingsActive metric.Int64UpDownCounter

func init() {
	f := intotel.NewFactory("recording", intotel.PrefixMedia)

	f.Int64UpDownCounter(&recordingsActive, "recordings.active",
		metric.WithDescription("Open recording sessions"))
}
