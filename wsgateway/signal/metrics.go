package signal

import (
	"go.opentelemetry.io/otel/metric"

	intotel "github.com/imtaco/audio-rooms/internal/otel"
)

var (
	// WebSocket connection metrics
	wsConnectionsActive metric.Int64UpDownCounter
	wsConnectionsTotal  metric.Int64Counter
	wsDisconnectsTotal  metric.Int64Counter

	// RPC metrics
	rpcRequestsTotal  metric.Int64Counter
	rpcRequestsFailed metric.Int64Counter

	// Auth metrics
	authAttempts metric.Int64Counter
	authFailures metric.Int64Counter

	// Notification metrics
	notificationsSent    metric.Int64Counter
	notificationsFailed  metric.Int64Counter
	notificationsDropped metric.Int64Counter
	speakingCoalesced    metric.Int64Counter
)

func init() {
	f := intotel.NewFactory("wsgateway.signal", intotel.PrefixSignal)

	f.Int64UpDownCounter(&wsConnectionsActive, "connections.active",
		metric.WithDescription("Number of active WebSocket connections"))

	f.Int64Counter(&wsConnectionsTotal, "connections.total",
		metric.WithDescription("Total WebSocket connections established"))

	f.Int64Counter(&wsDisconnectsTotal, "disconnects.total",
		metric.WithDescription("Total WebSocket disconnections"))

	f.Int64Counter(&rpcRequestsTotal, "rpc.requests.total",
		metric.WithDescription("Total RPC requests and notifications processed"))

	f.Int64Counter(&rpcRequestsFailed, "rpc.requests.failed",
		metric.WithDescription("Total failed RPC requests"))

	f.Int64Counter(&authAttempts, "auth.attempts",
		metric.WithDescription("Total handshake attempts"))

	f.Int64Counter(&authFailures, "auth.failures",
		metric.WithDescription("Total rejected handshakes"))

	f.Int64Counter(&notificationsSent, "notifications.sent",
		metric.WithDescription("Total pushes written to peers"))

	f.Int64Counter(&notificationsFailed, "notifications.failed",
		metric.WithDescription("Total pushes the connection refused"))

	f.Int64Counter(&notificationsDropped, "notifications.dropped",
		metric.WithDescription("Total pushes dropped on a full outbox"))

	f.Int64Counter(&speakingCoalesced, "speaking.coalesced",
		metric.WithDescription("Speaking updates deferred to a trailing push"))
}
