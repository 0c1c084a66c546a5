package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/habitfeed/internal/gateway"
)

// Metrics are the engine's Prometheus counters. A nil *Metrics records
// nothing.
type Metrics struct {
	CacheLookups *prometheus.CounterVec
	GatewayCalls *prometheus.CounterVec
	Rollbacks    *prometheus.CounterVec
	Discarded    *prometheus.CounterVec
}

// NewMetrics creates the engine counters and registers them with reg. A nil
// reg leaves them unregistered, which tests use to read values directly.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "habitfeed",
			Name:      "cache_lookups_total",
			Help:      "First-page cache lookups by result.",
		}, []string{"result"}),
		GatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "habitfeed",
			Name:      "gateway_calls_total",
			Help:      "Gateway calls by operation and outcome.",
		}, []string{"op", "outcome"}),
		Rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "habitfeed",
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations restored after a gateway failure.",
		}, []string{"op"}),
		Discarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "habitfeed",
			Name:      "discarded_responses_total",
			Help:      "Gateway responses dropped because a newer request superseded them.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.CacheLookups, m.GatewayCalls, m.Rollbacks, m.Discarded)
	}
	return m
}

func (m *Metrics) cacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) gatewayCall(op string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case gateway.IsRejected(err):
		outcome = "rejected"
	default:
		outcome = "failed"
	}
	m.GatewayCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) rollback(op string) {
	if m == nil {
		return
	}
	m.Rollbacks.WithLabelValues(op).Inc()
}

func (m *Metrics) discarded(reason string) {
	if m == nil {
		return
	}
	m.Discarded.WithLabelValues(reason).Inc()
}
