package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Call metrics for monitoring the session lifecycle and signaling relay
var (
	// Lifecycle metrics
	CallStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_started_total",
		Help: "Total number of calls started",
	}, []string{"call_type"}) // "audio", "video"

	CallOutcomeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_outcome_total",
		Help: "Total number of calls reaching a terminal state",
	}, []string{"outcome"}) // "ended", "declined", "missed", "timeout"

	CallActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_active",
		Help: "Current number of calls in ringing, connecting or connected state",
	})

	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_duration_seconds",
		Help:    "Duration of connected calls",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
	})

	CallRingToAnswerDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "call_ring_to_answer_duration_seconds",
		Help:    "Time between start and accept of a call",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 15, 20, 30},
	})

	// Policy metrics
	CallRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_rejected_total",
		Help: "Total number of call attempts rejected by policy",
	}, []string{"reason"}) // "caller_busy", "pair_busy", "rate_limited"

	// Ring timeout metrics
	CallRingTimeoutTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_ring_timeout_total",
		Help: "Total number of calls that timed out while ringing",
	})

	CallSweeperReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "call_sweeper_reclaimed_total",
		Help: "Total number of expired ringing calls reclaimed by the sweep job",
	})

	// Signaling metrics
	CallSignalRelayedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signal_relayed_total",
		Help: "Total number of signaling frames relayed between peers",
	}, []string{"signal_type"}) // "offer", "answer", "ice_candidate"

	CallSignalDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_signal_dropped_total",
		Help: "Total number of signaling frames dropped",
	}, []string{"reason"}) // "no_call", "not_party", "peer_offline"

	// Cache metrics
	CallCacheHitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_cache_hit_total",
		Help: "Total number of call cache lookups",
	}, []string{"result"}) // "hit", "miss", "error"

	// WebSocket connection metrics
	CallWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "call_websocket_connections",
		Help: "Current number of active WebSocket connections",
	})

	CallWebSocketConnectionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_websocket_connection_total",
		Help: "Total number of WebSocket connections",
	}, []string{"status"}) // "accepted", "rejected"

	CallWebSocketMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_websocket_messages_total",
		Help: "Total number of WebSocket messages",
	}, []string{"direction"}) // "in" for received, "out" for sent

	CallWebSocketErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_websocket_errors_total",
		Help: "Total number of WebSocket errors",
	}, []string{"error_type"})

	// Push notification metrics
	CallPushSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "call_push_sent_total",
		Help: "Total number of push notifications sent",
	}, []string{"kind", "status"}) // kind: "incoming_call", "missed_call"
)
