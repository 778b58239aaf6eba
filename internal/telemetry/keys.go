package telemetry

// Metric keys shared between the client components and the collectors that
// export them.
const (
	MetricReconnectsScheduled = "transport_reconnects_scheduled"
	MetricConnectionsOpened   = "transport_connections_opened"
	MetricConnectionState     = "transport_connection_state"
	MetricTransportErrors     = "transport_errors"
	MetricFramesReceived      = "protocol_frames_received"
	MetricFramesDropped       = "protocol_frames_dropped"
	MetricPendingRequests     = "requests_pending"
	MetricRequestsResolved    = "requests_resolved"
	MetricRequestsRejected    = "requests_rejected"
	MetricRequestsTimedOut    = "requests_timed_out"
	MetricRequestsCanceled    = "requests_canceled"
	MetricRequestLatency      = "request_latency_seconds"
	MetricSnapshotsCommitted  = "snapshots_committed"
	MetricTopologyResets      = "topology_resets"
	MetricEntitiesSynthesized = "entities_synthesized"
	MetricReducerFailures     = "reducer_failures"
	MetricHistorySize         = "history_size"
)
