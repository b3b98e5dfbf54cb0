package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session Registry Metrics
var (
	// ActiveRooms tracks the number of live rooms
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_active_rooms",
			Help: "Number of live rooms",
		},
	)

	// ConnectedUsers tracks joined users across all rooms
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_connected_users",
			Help: "Number of joined users across all rooms",
		},
	)

	// OperationsRecorded counts drawing operations appended to room histories
	OperationsRecorded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_operations_recorded_total",
			Help: "Total drawing operations appended to room histories",
		},
	)

	// ConflictInsertions counts operations stored via timestamp conflict resolution
	ConflictInsertions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "registry_conflict_insertions_total",
			Help: "Total operations inserted out of order via conflict resolution",
		},
	)

	// ActionsTotal counts history actions by name and outcome
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_actions_total",
			Help: "History actions by action name and outcome",
		},
		[]string{"action", "outcome"},
	)

	// DroppedEventsTotal counts inbound events dropped without effect
	DroppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_dropped_events_total",
			Help: "Inbound events dropped without effect, by reason",
		},
		[]string{"reason"},
	)

	// RegistryCommandChannelDepth tracks registry command queue depth
	RegistryCommandChannelDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registry_command_channel_depth",
			Help: "Current depth of the registry command channel",
		},
	)
)

// WebSocket Hub Metrics
var (
	// HubConnectedClients tracks registered websocket connections
	HubConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Number of registered WebSocket connections",
		},
	)

	// HubBroadcastDuration tracks room fan-out duration in seconds
	HubBroadcastDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_broadcast_duration_seconds",
			Help:    "Room broadcast fan-out duration in seconds",
			Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01},
		},
	)

	// HubSlowClientsEvicted counts clients dropped for full send buffers
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	// WebSocketPingFailures counts failed keepalive pings
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Total failed WebSocket keepalive pings",
		},
	)
)

// HTTP Layer Metrics
var (
	// CursorUpdatesThrottled counts cursor updates dropped by the rate limiter
	CursorUpdatesThrottled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "server_cursor_updates_throttled_total",
			Help: "Cursor updates dropped by the per-connection rate limiter",
		},
	)

	// ConnectionsRejected counts upgrades refused by connection limits
	ConnectionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "server_connections_rejected_total",
			Help: "WebSocket upgrades refused by connection limits, by limit",
		},
		[]string{"limit"},
	)

	// MalformedFramesTotal counts inbound frames that failed to decode
	MalformedFramesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "server_malformed_frames_total",
			Help: "Inbound WebSocket frames that failed to decode",
		},
	)
)
