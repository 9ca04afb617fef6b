// Package metrics holds the Prometheus collectors of the tip lifecycle.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zapzap"

// Forward outcomes used as the "outcome" label.
const (
	ForwardSucceeded = "succeeded"
	ForwardFailed    = "failed"
	ForwardHeld      = "held"
)

type Metrics struct {
	SettlementsApplied   prometheus.Counter
	SettlementsDuplicate prometheus.Counter
	SettlementsUnknown   prometheus.Counter
	Forwards             *prometheus.CounterVec
	SweepRuns            prometheus.Counter
	SweepItems           prometheus.Counter
	NodeReady            prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SettlementsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_applied_total",
			Help:      "Tips marked received.",
		}),
		SettlementsDuplicate: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_duplicate_total",
			Help:      "Settlement events for tips already received.",
		}),
		SettlementsUnknown: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_unknown_total",
			Help:      "Settlement events matching no tip.",
		}),
		Forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Forwarding attempts by outcome.",
		}, []string{"outcome"}),
		SweepRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Completed reconciliation sweeps.",
		}),
		SweepItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_items_total",
			Help:      "Settled payments replayed by sweeps.",
		}),
		NodeReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "node_ready",
			Help:      "1 while the payment node connection is up.",
		}),
	}

	reg.MustRegister(
		m.SettlementsApplied,
		m.SettlementsDuplicate,
		m.SettlementsUnknown,
		m.Forwards,
		m.SweepRuns,
		m.SweepItems,
		m.NodeReady,
	)
	return m
}

// Nop returns collectors registered nowhere.
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

// SetNodeReady mirrors the supervisor readiness.
func (m *Metrics) SetNodeReady(ready bool) {
	if ready {
		m.NodeReady.Set(1)
	} else {
		m.NodeReady.Set(0)
	}
}

// WatchSubscribers exposes a live subscriber count read from fn.
func WatchSubscribers(reg prometheus.Registerer, fn func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "hub_subscribers",
		Help:      "Connected status stream subscribers.",
	}, func() float64 { return float64(fn()) }))
}
