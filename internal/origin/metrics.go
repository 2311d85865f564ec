package origin

import "github.com/prometheus/client_golang/prometheus"

// latencyBuckets 以毫秒为单位。
var latencyBuckets = []float64{50, 100, 200, 400, 800, 1600, 3200, 5000}

// Metrics 汇总源站交互的计数器，每个 Client 一份。
type Metrics struct {
	Fetches   prometheus.Counter
	Retries   prometheus.Counter
	Failures  prometheus.Counter
	Errors    prometheus.Counter
	Coalesced prometheus.Counter
	Latency   prometheus.Histogram
	Active    prometheus.Gauge
}

// NewMetrics 创建指标并注册到 reg；reg 为 nil 时只创建不注册，便于测试。
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Fetches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quik_origin_fetch_total",
			Help: "Origin requests sent, one per attempt.",
		}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quik_origin_retries_total",
			Help: "Origin attempts retried after a transport error or 5xx.",
		}),
		Failures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quik_origin_failures_total",
			Help: "Origin fetches that exhausted every retry.",
		}),
		Errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quik_origin_errors_total",
			Help: "Origin attempts that failed at the transport level.",
		}),
		Coalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quik_origin_coalesced_total",
			Help: "Callers that joined an in-flight origin fetch instead of starting one.",
		}),
		Latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quik_origin_fetch_latency_ms",
			Help:    "Origin attempt latency in milliseconds.",
			Buckets: latencyBuckets,
		}),
		Active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quik_origin_active_connections",
			Help: "Origin requests currently in flight.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Fetches, m.Retries, m.Failures, m.Errors, m.Coalesced, m.Latency, m.Active)
	}
	return m
}
