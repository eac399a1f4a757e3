package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Flushes      *prometheus.CounterVec
	Destinations prometheus.Gauge
	Staff        prometheus.Gauge
}

// NewMetrics registers the registry collectors on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Flushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsbot",
			Subsystem: "registry",
			Name:      "flushes_total",
			Help:      "Registry persistence attempts by result.",
		}, []string{"result"}),
		Destinations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsbot",
			Subsystem: "registry",
			Name:      "destinations",
			Help:      "Subscribed destination chats.",
		}),
		Staff: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "newsbot",
			Subsystem: "registry",
			Name:      "staff",
			Help:      "Authorized staff members.",
		}),
	}
}
