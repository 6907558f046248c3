package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects the protocol-level counters and latency histograms for the
// lottery and reward engines.
type Metrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	sold       prometheus.Counter
	settled    prometheus.Counter
}

var (
	lotteryMetricsOnce sync.Once
	lotteryRegistry    *Metrics
)

// LotteryMetrics returns the lazily-initialised metrics registry used to
// record engine activity.
func LotteryMetrics() *Metrics {
	lotteryMetricsOnce.Do(func() {
		lotteryRegistry = &Metrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "meltyfi",
				Subsystem: "lottery",
				Name:      "operations_total",
				Help:      "Total engine operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "meltyfi",
				Subsystem: "lottery",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			sold: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "meltyfi",
				Subsystem: "lottery",
				Name:      "tickets_sold_total",
				Help:      "Total tickets sold across all lotteries.",
			}),
			settled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "meltyfi",
				Subsystem: "lottery",
				Name:      "tickets_settled_total",
				Help:      "Total tickets consumed by settlement.",
			}),
		}
	})
	return lotteryRegistry
}

// Register attaches the collectors to the given registry, typically the
// default prometheus registerer in cmd wiring.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	if m == nil || reg == nil {
		return nil
	}
	for _, c := range []prometheus.Collector{m.operations, m.latency, m.sold, m.settled} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// Observe records one engine operation with its outcome and latency. Intended
// to be deferred with a pointer to the named error result.
func (m *Metrics) Observe(operation string, start time.Time, errp *error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// AddTicketsSold bumps the sold-ticket counter after a purchase.
func (m *Metrics) AddTicketsSold(n uint64) {
	if m == nil {
		return
	}
	m.sold.Add(float64(n))
}

// AddTicketsSettled bumps the settled-ticket counter after a redemption.
func (m *Metrics) AddTicketsSettled(n uint64) {
	if m == nil {
		return
	}
	m.settled.Add(float64(n))
}
