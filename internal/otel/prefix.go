package otel

// Metric name prefixes, one per binary/component.
const (
	PrefixSignal    = "signal"
	PrefixRooms     = "rooms"
	PrefixMediaPath = "mediapath"
	PrefixMedia     = "media"
	PrefixClient    = "client"
)
