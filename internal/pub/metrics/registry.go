package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Publisher metrics
	publishTotal    *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	publishBytes    *prometheus.HistogramVec
	flushTotal      *prometheus.CounterVec

	// Transport/batch metrics
	batchSendTotal    *prometheus.CounterVec
	batchSendDuration *prometheus.HistogramVec
	batchSize         *prometheus.HistogramVec
	batchBytes        *prometheus.HistogramVec

	// Router metrics
	orderingKeys *prometheus.GaugeVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpub_publish_total",
				Help: "Total number of published messages by final status",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchpub_publish_duration_seconds",
				Help:    "Time from message submission to result resolution",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),

		publishBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchpub_publish_message_bytes",
				Help:    "Accounted size of submitted messages",
				Buckets: prometheus.ExponentialBuckets(64, 4, 10),
			},
			[]string{"topic"},
		),

		flushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpub_flush_total",
				Help: "Total number of explicit Flush calls",
			},
			[]string{"topic"},
		),

		batchSendTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "batchpub_batch_send_total",
				Help: "Total number of batches handed to the transport",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		batchSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchpub_batch_send_duration_seconds",
				Help:    "Time spent in transport Send calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),

		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchpub_batch_size",
				Help:    "Number of messages in sent batches",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
			[]string{"topic"},
		),

		batchBytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "batchpub_batch_bytes",
				Help:    "Accounted byte size of sent batches",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"topic"},
		),

		orderingKeys: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "batchpub_ordering_keys",
				Help: "Number of distinct ordering keys with a live publisher",
			},
			[]string{"topic"},
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "batchpub_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "batchpub_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Register application metrics
	registry.MustRegister(
		r.publishTotal,
		r.publishDuration,
		r.publishBytes,
		r.flushTotal,
		r.batchSendTotal,
		r.batchSendDuration,
		r.batchSize,
		r.batchBytes,
		r.orderingKeys,
		r.systemInfo,
		r.startTime,
	)

	// Set start time
	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// RecordPublish records one message's journey from submission to result
func (r *Registry) RecordPublish(topic string, sizeBytes int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.publishTotal.WithLabelValues(topic, status).Inc()
	r.publishDuration.WithLabelValues(topic).Observe(duration.Seconds())
	r.publishBytes.WithLabelValues(topic).Observe(float64(sizeBytes))
}

// RecordFlush records an explicit Flush call
func (r *Registry) RecordFlush(topic string) {
	r.flushTotal.WithLabelValues(topic).Inc()
}

// RecordBatchSend records one transport Send call
func (r *Registry) RecordBatchSend(topic string, msgCount, byteSize int, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	r.batchSendTotal.WithLabelValues(topic, status).Inc()
	r.batchSendDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if err == nil {
		r.batchSize.WithLabelValues(topic).Observe(float64(msgCount))
		r.batchBytes.WithLabelValues(topic).Observe(float64(byteSize))
	}
}

// SetOrderingKeys updates the live ordering-key gauge for a topic
func (r *Registry) SetOrderingKeys(topic string, count int) {
	r.orderingKeys.WithLabelValues(topic).Set(float64(count))
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
