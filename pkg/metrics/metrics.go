// Package metrics mirrors per-session and per-lane counters into
// Prometheus collectors, for substrate adapters that want them scraped.
// It is a pure sink: callers own the authoritative counters (in
// pkg/session) and push updates here; nothing in this package reads state
// back.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registered collectors, labeled by session ID and lane index where
// applicable. A single process may host many sessions (see
// transport/udp.Manager), so session_id is always a label rather than a
// separate registry per session.
var (
	MessagesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeronet",
		Name:      "messages_sent_total",
		Help:      "Messages handed to Session.send, by session and lane.",
	}, []string{"session_id", "lane"})

	MessagesRecv = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeronet",
		Name:      "messages_received_total",
		Help:      "Messages reassembled from received fragments (before lane ordering/dedup), by session and lane.",
	}, []string{"session_id", "lane"})

	BytesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeronet",
		Name:      "bytes_sent_total",
		Help:      "Payload bytes handed to Session.send, by session and lane.",
	}, []string{"session_id", "lane"})

	BytesRecv = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeronet",
		Name:      "bytes_received_total",
		Help:      "Payload bytes of reassembled received messages, by session and lane.",
	}, []string{"session_id", "lane"})

	AcksReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeronet",
		Name:      "acks_received_total",
		Help:      "Ack events emitted to the application, by session and lane.",
	}, []string{"session_id", "lane"})

	NacksEmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aeronet",
		Name:      "nacks_emitted_total",
		Help:      "Early-loss-inferred Nack events emitted, by session and lane.",
	}, []string{"session_id", "lane"})

	RTTSmoothed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "aeronet",
		Name:      "rtt_smoothed_seconds",
		Help:      "Current smoothed RTT estimate, by session.",
	}, []string{"session_id"})

	BucketAvailable = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "aeronet",
		Name:      "bucket_available_bytes",
		Help:      "Current spendable byte-bucket balance, by session.",
	}, []string{"session_id"})

	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "aeronet",
		Name:      "sessions_active",
		Help:      "Number of sessions currently in the Established state.",
	})
)

// Register adds every collector in this package to reg. Call once at
// process startup; registering into a fresh, non-default registry keeps
// tests hermetic.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		MessagesSent, MessagesRecv, BytesSent, BytesRecv,
		AcksReceived, NacksEmitted, RTTSmoothed, BucketAvailable, SessionsActive,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
