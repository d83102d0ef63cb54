package cache

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Lookup outcomes recorded by Metrics.
const (
	resultHit    = "hit"
	resultMiss   = "miss"
	resultBypass = "bypass"
	resultError  = "error"
)

// Metrics counts cache outcomes per scope.
type Metrics struct {
	lookups *prometheus.CounterVec
	bumps   *prometheus.CounterVec
}

// NewMetrics creates the cache collectors and registers them with reg.
// A nil reg leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psm",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache-aside lookups by scope and result (hit, miss, bypass, error).",
		}, []string{"scope", "result"}),
		bumps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "psm",
			Subsystem: "cache",
			Name:      "version_bumps_total",
			Help:      "Scope version bumps by scope and outcome.",
		}, []string{"scope", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.lookups, m.bumps)
	}
	return m
}

func (m *Metrics) lookup(scope, result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(scope, result).Inc()
}

func (m *Metrics) bump(scope string, ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	m.bumps.WithLabelValues(scope, outcome).Inc()
}
