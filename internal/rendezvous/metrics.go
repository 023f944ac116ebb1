package rendezvous

import (
	"github.com/monkey1992/XyWebRTC/internal/signaling"
	"github.com/prometheus/client_golang/prometheus"
)

// otherType labels relayed envelopes of any type the client does not act on.
const otherType = "other"

// metrics are owned by one hub and exported on its own registry.
type metrics struct {
	registry *prometheus.Registry

	rooms    prometheus.Gauge
	peers    prometheus.Gauge
	relayed  *prometheus.CounterVec
	rejected prometheus.Counter
	evicted  prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xywebrtc",
			Subsystem: "rendezvous",
			Name:      "rooms",
			Help:      "Rooms with at least one member.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "xywebrtc",
			Subsystem: "rendezvous",
			Name:      "peers",
			Help:      "Peers that are members of a room.",
		}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xywebrtc",
			Subsystem: "rendezvous",
			Name:      "relayed_messages_total",
			Help:      "Negotiation messages relayed, by envelope type.",
		}, []string{"type"}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xywebrtc",
			Subsystem: "rendezvous",
			Name:      "full_rejections_total",
			Help:      "Joins rejected because the room was full.",
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "xywebrtc",
			Subsystem: "rendezvous",
			Name:      "slow_clients_evicted_total",
			Help:      "Clients disconnected because their send buffer was full.",
		}),
	}
	m.registry.MustRegister(m.rooms, m.peers, m.relayed, m.rejected, m.evicted)
	return m
}

// relayedType keeps the type label to a fixed set so clients cannot mint
// new series.
func relayedType(t string) string {
	switch t {
	case signaling.TypeOffer, signaling.TypeAnswer, signaling.TypeCandidate:
		return t
	default:
		return otherType
	}
}
