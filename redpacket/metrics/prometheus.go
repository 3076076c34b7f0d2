package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	grabs           *prometheus.CounterVec
	grabLatency     prometheus.Histogram
	settlements     *prometheus.CounterVec
	activePools     prometheus.Gauge
	inconsistencies prometheus.Counter
	recoveries      *prometheus.CounterVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a collector registering on reg, or on
// prometheus.DefaultRegisterer when reg is nil. namespace defaults to "redpacket".
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "redpacket"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.grabs = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "grab",
			Name:      "requests_total",
			Help:      "Total grab requests by outcome.",
		}, []string{"outcome"})

		p.grabLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "grab",
			Name:      "latency_seconds",
			Help:      "End-to-end grab latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms .. ~4s
		})

		p.settlements = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "reconcile",
			Name:      "attempts_total",
			Help:      "Ledger credit attempts by result (settled, failed, skipped).",
		}, []string{"result"})

		p.activePools = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "active_pools",
			Help:      "Activities with a loaded claim pool.",
		})

		p.inconsistencies = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "grab",
			Name:      "store_inconsistencies_total",
			Help:      "Shares handed out by the coordinator that the store had already claimed.",
		})

		p.recoveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "coordinator",
			Name:      "recoveries_total",
			Help:      "Claim pool rebuilds from the store by result.",
		}, []string{"result"})

		p.reg.MustRegister(p.grabs)
		p.reg.MustRegister(p.grabLatency)
		p.reg.MustRegister(p.settlements)
		p.reg.MustRegister(p.activePools)
		p.reg.MustRegister(p.inconsistencies)
		p.reg.MustRegister(p.recoveries)
	})
}

func (p *PrometheusCollector) RecordGrab(outcome string, seconds float64) {
	p.ensureRegistered()
	p.grabs.WithLabelValues(outcome).Inc()
	p.grabLatency.Observe(seconds)
}

func (p *PrometheusCollector) RecordSettlement(result string) {
	p.ensureRegistered()
	p.settlements.WithLabelValues(result).Inc()
}

func (p *PrometheusCollector) SetActivePools(n int) {
	p.ensureRegistered()
	p.activePools.Set(float64(n))
}

func (p *PrometheusCollector) IncrementInconsistency() {
	p.ensureRegistered()
	p.inconsistencies.Inc()
}

func (p *PrometheusCollector) RecordRecovery(result string) {
	p.ensureRegistered()
	p.recoveries.WithLabelValues(result).Inc()
}
