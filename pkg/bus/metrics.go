package bus

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Snapshot is a point-in-time read of the bus's observability counters.
type Snapshot struct {
	Published    uint64
	Consumed     uint64
	Acked        uint64
	Naked        uint64
	DeadLettered uint64
	Redeliveries uint64
	MaxLag       int64
	LatencyP50Ms float64
	LatencyP95Ms float64
	LatencyP99Ms float64
}

// metricsCollector holds atomic counters plus a Prometheus summary for
// publish-to-ack latency.
type metricsCollector struct {
	published    atomic.Uint64
	consumed     atomic.Uint64
	acked        atomic.Uint64
	naked        atomic.Uint64
	deadLettered atomic.Uint64
	redeliveries atomic.Uint64
	maxLag       atomic.Int64

	latency prometheus.Summary
}

func newMetricsCollector(reg prometheus.Registerer, namespace string) *metricsCollector {
	m := &metricsCollector{
		latency: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace:  namespace,
			Name:       "bus_publish_to_ack_latency_ms",
			Help:       "Latency in milliseconds from publish to consumer ack.",
			Objectives: map[float64]float64{0.5: 0.05, 0.95: 0.01, 0.99: 0.001},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.latency)
	}
	return m
}

func (m *metricsCollector) observeLatencyMs(ms float64) { m.latency.Observe(ms) }

func (m *metricsCollector) recordLag(lag int64) {
	for {
		cur := m.maxLag.Load()
		if lag <= cur {
			return
		}
		if m.maxLag.CompareAndSwap(cur, lag) {
			return
		}
	}
}

func (m *metricsCollector) snapshot() Snapshot {
	var metric dto.Metric
	p50, p95, p99 := 0.0, 0.0, 0.0
	if err := m.latency.Write(&metric); err == nil && metric.Summary != nil {
		for _, q := range metric.Summary.Quantile {
			switch q.GetQuantile() {
			case 0.5:
				p50 = q.GetValue()
			case 0.95:
				p95 = q.GetValue()
			case 0.99:
				p99 = q.GetValue()
			}
		}
	}

	return Snapshot{
		Published:    m.published.Load(),
		Consumed:     m.consumed.Load(),
		Acked:        m.acked.Load(),
		Naked:        m.naked.Load(),
		DeadLettered: m.deadLettered.Load(),
		Redeliveries: m.redeliveries.Load(),
		MaxLag:       m.maxLag.Load(),
		LatencyP50Ms: p50,
		LatencyP95Ms: p95,
		LatencyP99Ms: p99,
	}
}
