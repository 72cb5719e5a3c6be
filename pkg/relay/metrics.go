package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay counters exposed through the monitoring server.
type Metrics struct {
	sessions          prometheus.GaugeFunc
	connections       prometheus.GaugeFunc
	routed            *prometheus.CounterVec
	sendFailures      prometheus.Counter
	engagementDropped prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, registry *Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		sessions: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "beamcast",
			Name:      "sessions_active",
			Help:      "Number of sessions with at least one connection",
		}, func() float64 { return float64(registry.Sessions()) }),
		connections: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "beamcast",
			Name:      "connections_active",
			Help:      "Number of registered connections",
		}, func() float64 { return float64(registry.Connections()) }),
		routed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "beamcast",
			Name:      "messages_routed_total",
			Help:      "Total number of routed messages by type",
		}, []string{"type"}),
		sendFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "beamcast",
			Name:      "send_failures_total",
			Help:      "Total number of failed deliveries to single targets",
		}),
		engagementDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "beamcast",
			Name:      "engagement_dropped_total",
			Help:      "Total number of engagement events dropped on queue overflow",
		}),
	}
}

func (m *Metrics) MessageRouted(t string) {
	if m != nil {
		m.routed.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) SendFailed() {
	if m != nil {
		m.sendFailures.Inc()
	}
}

func (m *Metrics) EngagementDropped() {
	if m != nil {
		m.engagementDropped.Inc()
	}
}
