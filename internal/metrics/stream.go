package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(liveConnections, broadcastSends, relayMessages) }

var (
	liveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobpulse_live_connections",
		Help: "Open live update connections across all users.",
	})

	broadcastSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpulse_broadcast_sends_total",
			Help: "Per-connection update deliveries by result (delivered/evicted).",
		},
		[]string{"result"},
	)

	relayMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobpulse_relay_messages_total",
			Help: "Job update messages consumed from the event queue by result.",
		},
		[]string{"result"}, // relayed, malformed
	)
)

func ConnectionOpened() { liveConnections.Inc() }

func ConnectionClosed() { liveConnections.Dec() }

func IncBroadcast(result string) {
	broadcastSends.WithLabelValues(norm(result)).Inc()
}

func IncRelay(result string) {
	relayMessages.WithLabelValues(norm(result)).Inc()
}
