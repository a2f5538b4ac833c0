package rewards

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	recompute       *prometheus.CounterVec
	settledRewards  prometheus.Counter
	settledAmount   prometheus.Counter
	settlementError prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		recompute: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Name:      "recompute_total",
			Help:      "Customer reward recomputes by outcome.",
		}, []string{"outcome"}),
		settledRewards: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards",
			Name:      "settled_total",
			Help:      "Rewards paid into customer wallets.",
		}),
		settledAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards",
			Name:      "settled_amount_total",
			Help:      "Sum of reward amounts paid into customer wallets.",
		}),
		settlementError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rewards",
			Name:      "settlement_errors_total",
			Help:      "Customer settlements rolled back on error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.recompute, m.settledRewards, m.settledAmount, m.settlementError)
	}
	return m
}

func (m *Metrics) recomputed(outcome string) {
	if m == nil {
		return
	}
	m.recompute.WithLabelValues(outcome).Inc()
}

func (m *Metrics) settled(amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.settledRewards.Inc()
	m.settledAmount.Add(amount.InexactFloat64())
}

func (m *Metrics) settlementFailed() {
	if m == nil {
		return
	}
	m.settlementError.Inc()
}
