/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package limiter

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsLabelBucket = "bucket"
	metricsLabelStatus = "status"
)

const (
	metricsStatusAdmitted = "admitted"
	metricsStatusDenied   = "denied"
)

// MetricsCollector represents collector of metrics for bucket acquisitions.
type MetricsCollector struct {
	AcquiresTotal *prometheus.CounterVec
	WaitDuration  *prometheus.HistogramVec
	StoreErrors   *prometheus.CounterVec
}

// NewMetricsCollector creates a new instance of MetricsCollector.
func NewMetricsCollector(namespace string) *MetricsCollector {
	acquiresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bucket_acquires_total",
		Help:      "Number of finished bucket acquisitions.",
	}, []string{metricsLabelBucket, metricsLabelStatus})

	waitDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "bucket_acquire_wait_seconds",
		Help:      "Time spent waiting in blocking acquisitions before admission.",
		Buckets:   []float64{.005, .05, .25, 1, 5, 30, 120, 600},
	}, []string{metricsLabelBucket})

	storeErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "bucket_store_errors_total",
		Help:      "Number of acquisitions failed because the shared store was unavailable.",
	}, []string{metricsLabelBucket})

	return &MetricsCollector{
		AcquiresTotal: acquiresTotal,
		WaitDuration:  waitDuration,
		StoreErrors:   storeErrors,
	}
}

// MustRegister does registration of metrics collector in Prometheus and panics if any error occurs.
func (mc *MetricsCollector) MustRegister() {
	prometheus.MustRegister(
		mc.AcquiresTotal,
		mc.WaitDuration,
		mc.StoreErrors,
	)
}

// Unregister cancels registration of metrics collector in Prometheus.
func (mc *MetricsCollector) Unregister() {
	prometheus.Unregister(mc.AcquiresTotal)
	prometheus.Unregister(mc.WaitDuration)
	prometheus.Unregister(mc.StoreErrors)
}

func (mc *MetricsCollector) reportAdmitted(bucket string, waited time.Duration) {
	if mc == nil {
		return
	}
	mc.AcquiresTotal.With(prometheus.Labels{
		metricsLabelBucket: bucket, metricsLabelStatus: metricsStatusAdmitted}).Inc()
	if waited > 0 {
		mc.WaitDuration.With(prometheus.Labels{metricsLabelBucket: bucket}).Observe(waited.Seconds())
	}
}

func (mc *MetricsCollector) reportDenied(bucket string) {
	if mc == nil {
		return
	}
	mc.AcquiresTotal.With(prometheus.Labels{
		metricsLabelBucket: bucket, metricsLabelStatus: metricsStatusDenied}).Inc()
}

func (mc *MetricsCollector) reportStoreError(bucket string) {
	if mc == nil {
		return
	}
	mc.StoreErrors.With(prometheus.Labels{metricsLabelBucket: bucket}).Inc()
}
