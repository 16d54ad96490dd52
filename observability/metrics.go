// Package observability hosts the shared Prometheus registries for
// marketplace services. Counters register lazily on first use so binaries
// that never touch a subsystem pay nothing for it.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics tracks settlement activity on the facilitator.
type PaymentMetrics struct {
	settlements *prometheus.CounterVec
	duration    prometheus.Histogram
}

// DeliveryMetrics tracks payment-gated resource requests on providers.
type DeliveryMetrics struct {
	deliveries *prometheus.CounterVec
	replays    *prometheus.CounterVec
}

var (
	paymentMetricsOnce sync.Once
	paymentRegistry    *PaymentMetrics

	deliveryMetricsOnce sync.Once
	deliveryRegistry    *DeliveryMetrics
)

// Payments returns the lazily-initialised settlement metrics registry.
func Payments() *PaymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentRegistry = &PaymentMetrics{
			settlements: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agoranet",
				Subsystem: "payments",
				Name:      "settlements_total",
				Help:      "Count of settlement submissions, segmented by outcome.",
			}, []string{"outcome"}),
			duration: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "agoranet",
				Subsystem: "payments",
				Name:      "settle_duration_seconds",
				Help:      "Latency of settlement submissions in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			}),
		}
		prometheus.MustRegister(paymentRegistry.settlements, paymentRegistry.duration)
	})
	return paymentRegistry
}

// RecordSettlement increments the outcome counter and observes the submission
// latency. Outcomes should be stable strings such as "settled" or "failed" so
// dashboards and alerts remain consistent.
func (m *PaymentMetrics) RecordSettlement(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.settlements.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.duration.Observe(seconds)
}

// Deliveries returns the lazily-initialised delivery metrics registry.
func Deliveries() *DeliveryMetrics {
	deliveryMetricsOnce.Do(func() {
		deliveryRegistry = &DeliveryMetrics{
			deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agoranet",
				Subsystem: "delivery",
				Name:      "requests_total",
				Help:      "Count of gated resource requests, segmented by result.",
			}, []string{"result"}),
			replays: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agoranet",
				Subsystem: "delivery",
				Name:      "replays_total",
				Help:      "Count of replayed payment proofs, segmented by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(deliveryRegistry.deliveries, deliveryRegistry.replays)
	})
	return deliveryRegistry
}

// RecordDelivery increments the delivery counter for the supplied result.
func (m *DeliveryMetrics) RecordDelivery(result string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(result)).Inc()
}

// RecordReplay increments the replay counter for the supplied result.
func (m *DeliveryMetrics) RecordReplay(result string) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(normalizeLabel(result)).Inc()
}
