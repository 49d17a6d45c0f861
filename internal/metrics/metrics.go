package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	backendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockboard_backend_requests_total",
			Help: "Requests issued to the inventory backend",
		},
		[]string{"op", "outcome"},
	)
	backendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockboard_backend_request_duration_seconds",
			Help:    "Inventory backend request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	liveMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockboard_live_messages_total",
			Help: "Push notifications received, by kind",
		},
		[]string{"kind"},
	)
	liveState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockboard_live_state",
			Help: "1 for the current push channel state",
		},
		[]string{"state"},
	)
	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stockboard_sessions_active",
			Help: "Mounted dashboard sessions",
		},
	)
	droppedEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stockboard_store_dropped_events_total",
			Help: "Pushed events dropped because a session inbox was full",
		},
	)
)

// ObserveBackend records one backend call. outcome is "ok" or an error kind.
func ObserveBackend(op, outcome string, took time.Duration) {
	backendRequests.WithLabelValues(op, outcome).Inc()
	backendLatency.WithLabelValues(op).Observe(took.Seconds())
}

func LiveMessage(kind string) { liveMessages.WithLabelValues(kind).Inc() }

// LiveState flips the gauge so exactly one state label reads 1.
func LiveState(current string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		liveState.WithLabelValues(s).Set(v)
	}
}

func SessionsActive(n int) { activeSessions.Set(float64(n)) }

func DroppedEvent() { droppedEvents.Inc() }
