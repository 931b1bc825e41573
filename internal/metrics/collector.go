package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes transfer metrics. Each collector owns its
// registry so several can coexist in one process (and in tests).
type Collector struct {
	registry *prometheus.Registry

	partsTotal   *prometheus.CounterVec
	bytesTotal   prometheus.Counter
	partDuration prometheus.Histogram
	queueDepth   prometheus.Gauge
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		partsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transfer_parts_total",
				Help: "Total number of part transfers by status",
			},
			[]string{"status"},
		),
		bytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "transfer_bytes_total",
				Help: "Total bytes transferred",
			},
		),
		partDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transfer_part_duration_seconds",
				Help:    "Time taken to transfer a single part",
				Buckets: prometheus.DefBuckets,
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "transfer_queue_depth",
				Help: "Number of part tasks currently buffered",
			},
		),
	}

	c.registry.MustRegister(c.partsTotal)
	c.registry.MustRegister(c.bytesTotal)
	c.registry.MustRegister(c.partDuration)
	c.registry.MustRegister(c.queueDepth)

	return c
}

// IncPartSuccess records a successfully transferred part
func (c *Collector) IncPartSuccess(bytes int64) {
	c.partsTotal.WithLabelValues("success").Inc()
	c.bytesTotal.Add(float64(bytes))
}

// IncPartFailed records a failed part transfer
func (c *Collector) IncPartFailed() {
	c.partsTotal.WithLabelValues("failed").Inc()
}

// IncPartSkipped records a part skipped because it was already transferred
func (c *Collector) IncPartSkipped() {
	c.partsTotal.WithLabelValues("skipped").Inc()
}

// ObservePartDuration records how long one part transfer took
func (c *Collector) ObservePartDuration(d time.Duration) {
	c.partDuration.Observe(d.Seconds())
}

// SetQueueDepth records the current number of buffered part tasks
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}
