// Package metrics registers the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the collectors the trading loop updates each cycle.
type Registry struct {
	CycleDuration   prometheus.Histogram
	SignalsTotal    *prometheus.CounterVec
	OrdersTotal     *prometheus.CounterVec
	CircuitLevel    prometheus.Gauge
	OpenPositions   prometheus.Gauge
	PortfolioHeat   prometheus.Gauge
	ExpectancyGauge *prometheus.GaugeVec
}

// New registers and returns the metrics registry against reg. Pass
// prometheus.NewRegistry() in tests to avoid polluting the default
// registry across package-level test runs.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)

	return &Registry{
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scalper",
			Subsystem: "loop",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one trading-loop decision cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		SignalsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scalper",
			Subsystem: "signal",
			Name:      "total",
			Help:      "Signals generated, labeled by symbol and action.",
		}, []string{"symbol", "action"}),
		OrdersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scalper",
			Subsystem: "order",
			Name:      "total",
			Help:      "Orders submitted, labeled by symbol and outcome.",
		}, []string{"symbol", "outcome"}),
		CircuitLevel: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scalper",
			Subsystem: "breaker",
			Name:      "level",
			Help:      "Current circuit breaker level (0=CLOSED .. 4=SHUTDOWN).",
		}),
		OpenPositions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scalper",
			Subsystem: "portfolio",
			Name:      "open_positions",
			Help:      "Number of currently open positions.",
		}),
		PortfolioHeat: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "scalper",
			Subsystem: "portfolio",
			Name:      "correlation_adjusted_heat",
			Help:      "Correlation-adjusted portfolio heat.",
		}),
		ExpectancyGauge: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scalper",
			Subsystem: "expectancy",
			Name:      "value",
			Help:      "Latest expectancy engine outputs, labeled by field.",
		}, []string{"field"}),
	}
}

// CircuitLevelValue maps a circuit level name to the numeric gauge value.
func CircuitLevelValue(level string) float64 {
	switch level {
	case "CLOSED":
		return 0
	case "ALERT":
		return 1
	case "THROTTLE":
		return 2
	case "HALT":
		return 3
	case "SHUTDOWN":
		return 4
	default:
		return -1
	}
}
