package unit

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeCommitted = "committed"
	outcomeAborted   = "aborted"
	outcomePartial   = "partial"

	targetDocument = "document"
	targetBlob     = "blob"

	resultOK     = "ok"
	resultFailed = "failed"
)

type metrics struct {
	units         *prometheus.CounterVec
	compensations *prometheus.CounterVec
}

// newMetrics builds the collectors and registers them on reg when it is not nil
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "social",
			Name:      "units_total",
			Help:      "Units of work by outcome.",
		}, []string{"outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "social",
			Name:      "compensations_total",
			Help:      "Compensating actions of aborted units by target and result.",
		}, []string{"target", "result"}),
	}
	if reg != nil {
		reg.MustRegister(m.units, m.compensations)
	}
	return m
}
