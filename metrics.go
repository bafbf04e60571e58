package error_telemetry

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "error_telemetry"

// metricsCollector implements prometheus.Collector over atomic counters
// tracking every pipeline outcome.
type metricsCollector struct {
	capturedEvents *uint64 // signals that entered the pipeline
	sentEvents     *uint64 // deliveries acknowledged with 2xx
	failedEvents   *uint64 // failed delivery attempts
	retriedEvents  *uint64 // retries scheduled

	capturedEventsDesc *prometheus.Desc
	sentEventsDesc     *prometheus.Desc
	failedEventsDesc   *prometheus.Desc
	retriedEventsDesc  *prometheus.Desc

	// Vector metric for records that never reached the collector
	discardedByReason *prometheus.CounterVec
}

// newMetricsCollector creates a new metrics collector
func newMetricsCollector() *metricsCollector {
	return &metricsCollector{
		capturedEvents: ptr(uint64(0)),
		sentEvents:     ptr(uint64(0)),
		failedEvents:   ptr(uint64(0)),
		retriedEvents:  ptr(uint64(0)),

		capturedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "captured_events_total"),
			"Total number of capture signals that entered the pipeline",
			nil, nil),

		sentEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "sent_events_total"),
			"Total number of records delivered to the collector",
			nil, nil),

		failedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "failed_attempts_total"),
			"Total number of failed delivery attempts",
			nil, nil),

		retriedEventsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "retries_total"),
			"Total number of delivery retries scheduled",
			nil, nil),

		discardedByReason: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: prometheus.BuildFQName(namespace, "", "discarded_events_total"),
				Help: "Total number of records discarded, by reason",
			},
			[]string{"reason"}),
	}
}

// Public methods for updating metrics (called from business logic)

// IncCaptured increments the captured signals counter
func (mc *metricsCollector) IncCaptured() {
	atomic.AddUint64(mc.capturedEvents, 1)
}

// IncSent increments the delivered records counter
func (mc *metricsCollector) IncSent() {
	atomic.AddUint64(mc.sentEvents, 1)
}

// IncFailed increments the failed attempts counter
func (mc *metricsCollector) IncFailed() {
	atomic.AddUint64(mc.failedEvents, 1)
}

// IncRetries increments the scheduled retries counter
func (mc *metricsCollector) IncRetries() {
	atomic.AddUint64(mc.retriedEvents, 1)
}

// IncDiscarded increments the discard counter for the given reason
func (mc *metricsCollector) IncDiscarded(reason DiscardReason) {
	mc.discardedByReason.WithLabelValues(string(reason)).Inc()
}

// Implement prometheus.Collector interface

// Describe sends all metric descriptions to Prometheus
func (mc *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- mc.capturedEventsDesc
	ch <- mc.sentEventsDesc
	ch <- mc.failedEventsDesc
	ch <- mc.retriedEventsDesc

	// Vector metric handles its own description
	mc.discardedByReason.Describe(ch)
}

// Collect sends current metric values to Prometheus
func (mc *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(
		mc.capturedEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.capturedEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.sentEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.sentEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.failedEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.failedEvents)))

	ch <- prometheus.MustNewConstMetric(
		mc.retriedEventsDesc,
		prometheus.CounterValue,
		float64(atomic.LoadUint64(mc.retriedEvents)))

	// Vector metric collects itself
	mc.discardedByReason.Collect(ch)
}

// snapshot helpers for tests and the RPC status surface

func (mc *metricsCollector) Captured() uint64 { return atomic.LoadUint64(mc.capturedEvents) }
func (mc *metricsCollector) Sent() uint64     { return atomic.LoadUint64(mc.sentEvents) }
func (mc *metricsCollector) Failed() uint64   { return atomic.LoadUint64(mc.failedEvents) }
func (mc *metricsCollector) Retried() uint64  { return atomic.LoadUint64(mc.retriedEvents) }
