package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type vaultMetrics struct {
	ops          *prometheus.CounterVec
	rebalances   *prometheus.CounterVec
	duration     prometheus.Histogram
	currentLTV   prometheus.Gauge
	collateral   prometheus.Gauge
	debt         prometheus.Gauge
	harvested    prometheus.Counter
	rewardShares prometheus.Counter
	throttles    *prometheus.CounterVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *vaultMetrics
)

// VaultMetrics returns the lazily-initialised metrics registry shared by the
// accounting engine, the rebalancer and the gateway.
func VaultMetrics() *vaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &vaultMetrics{
			ops: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Count of vault share operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			rebalances: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "rebalance",
				Name:      "runs_total",
				Help:      "Count of rebalance attempts segmented by outcome.",
			}, []string{"outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "loopvault",
				Subsystem: "rebalance",
				Name:      "duration_seconds",
				Help:      "Latency distribution for complete rebalance runs.",
				Buckets:   prometheus.DefBuckets,
			}),
			currentLTV: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loopvault",
				Subsystem: "position",
				Name:      "ltv_ratio",
				Help:      "Loan-to-value ratio observed at the last position read, scaled to [0,1].",
			}),
			collateral: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loopvault",
				Subsystem: "position",
				Name:      "collateral_value",
				Help:      "Collateral value in reference units at the last position read.",
			}),
			debt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "loopvault",
				Subsystem: "position",
				Name:      "debt_value",
				Help:      "Debt value in reference units at the last position read.",
			}),
			harvested: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "rebalance",
				Name:      "harvested_total",
				Help:      "Cumulative yield-source profit realised back into collateral, in borrowed-asset units.",
			}),
			rewardShares: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "rewards",
				Name:      "shares_minted_total",
				Help:      "Cumulative keeper reward shares minted by the fee accrual.",
			}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "loopvault",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of gateway requests rejected by rate limiting.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(
			vaultRegistry.ops,
			vaultRegistry.rebalances,
			vaultRegistry.duration,
			vaultRegistry.currentLTV,
			vaultRegistry.collateral,
			vaultRegistry.debt,
			vaultRegistry.harvested,
			vaultRegistry.rewardShares,
			vaultRegistry.throttles,
		)
	})
	return vaultRegistry
}

// RecordOp counts a share operation. Outcomes should be the stable strings
// "ok" or "error" so dashboards stay consistent.
func (m *vaultMetrics) RecordOp(operation, outcome string) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.ops.WithLabelValues(operation, outcome).Inc()
}

// RecordRebalance counts a rebalance attempt and records its duration.
func (m *vaultMetrics) RecordRebalance(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.rebalances.WithLabelValues(outcome).Inc()
	if outcome == "ok" {
		m.duration.Observe(elapsed.Seconds())
	}
}

// SetPosition publishes the most recent position read. The LTV is supplied
// already scaled to [0,1].
func (m *vaultMetrics) SetPosition(ltv, collateralValue, debtValue float64) {
	if m == nil {
		return
	}
	m.currentLTV.Set(ltv)
	m.collateral.Set(collateralValue)
	m.debt.Set(debtValue)
}

// AddHarvested accumulates realised yield-source profit.
func (m *vaultMetrics) AddHarvested(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.harvested.Add(amount)
}

// AddRewardShares accumulates minted keeper reward shares.
func (m *vaultMetrics) AddRewardShares(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.rewardShares.Add(amount)
}

// RecordThrottle counts a rate-limited gateway request.
func (m *vaultMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	m.throttles.WithLabelValues(route).Inc()
}
