package concord

import "github.com/prometheus/client_golang/prometheus"

// Metrics are optional engine counters; pass one via WithMetrics to
// share a single set across documents.
type Metrics struct {
	ChangesApplied prometheus.Counter
	OpsApplied     prometheus.Counter
	Merges         prometheus.Counter
	PendingChanges prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ChangesApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concord_changes_applied_total",
			Help: "Changes admitted into the operation log.",
		}),
		OpsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concord_ops_applied_total",
			Help: "Operations materialized into the object tree.",
		}),
		Merges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "concord_merges_total",
			Help: "Completed document merges.",
		}),
		PendingChanges: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "concord_pending_changes",
			Help: "Changes buffered awaiting dependencies.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ChangesApplied, m.OpsApplied, m.Merges, m.PendingChanges)
	}
	return m
}
