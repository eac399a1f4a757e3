package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Broadcasts *prometheus.CounterVec
	Targets    *prometheus.CounterVec
	Messages   prometheus.Counter
	Migrations prometheus.Counter
}

// NewMetrics registers the broadcast collectors on reg. A nil reg yields
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsbot",
			Subsystem: "broadcast",
			Name:      "runs_total",
			Help:      "Confirmed broadcasts by result.",
		}, []string{"result"}),
		Targets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "newsbot",
			Subsystem: "broadcast",
			Name:      "targets_total",
			Help:      "Destinations processed by result.",
		}, []string{"result"}),
		Messages: f.NewCounter(prometheus.CounterOpts{
			Namespace: "newsbot",
			Subsystem: "broadcast",
			Name:      "messages_copied_total",
			Help:      "Messages copied to destinations.",
		}),
		Migrations: f.NewCounter(prometheus.CounterOpts{
			Namespace: "newsbot",
			Subsystem: "broadcast",
			Name:      "migrations_total",
			Help:      "Destination id changes followed during delivery.",
		}),
	}
}
