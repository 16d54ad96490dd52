package observability

import (
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type marketMetrics struct {
	rfps        *prometheus.CounterVec
	bids        *prometheus.CounterVec
	assignments *prometheus.CounterVec
	ratings     *prometheus.CounterVec
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *marketMetrics
)

// Market returns the process-wide counters tracking marketplace activity. The
// registry service increments these as RFPs, bids, assignments and ratings
// flow through it.
func Market() *marketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &marketMetrics{
			rfps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agoranet",
				Subsystem: "market",
				Name:      "rfps_total",
				Help:      "Count of RFPs created, segmented by task type.",
			}, []string{"task_type"}),
			bids: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agoranet",
				Subsystem: "market",
				Name:      "bids_total",
				Help:      "Count of bids submitted, segmented by task type.",
			}, []string{"task_type"}),
			assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agoranet",
				Subsystem: "market",
				Name:      "assignments_total",
				Help:      "Count of winning bids assigned, segmented by task type.",
			}, []string{"task_type"}),
			ratings: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "agoranet",
				Subsystem: "market",
				Name:      "ratings_total",
				Help:      "Count of delivery ratings recorded, segmented by score.",
			}, []string{"score"}),
		}
		prometheus.MustRegister(
			marketRegistry.rfps,
			marketRegistry.bids,
			marketRegistry.assignments,
			marketRegistry.ratings,
		)
	})
	return marketRegistry
}

// RecordRFP increments the RFP counter for the supplied task type.
func (m *marketMetrics) RecordRFP(taskType string) {
	if m == nil {
		return
	}
	m.rfps.WithLabelValues(normalizeLabel(taskType)).Inc()
}

// RecordBid increments the bid counter for the supplied task type.
func (m *marketMetrics) RecordBid(taskType string) {
	if m == nil {
		return
	}
	m.bids.WithLabelValues(normalizeLabel(taskType)).Inc()
}

// RecordAssignment increments the assignment counter for the supplied task type.
func (m *marketMetrics) RecordAssignment(taskType string) {
	if m == nil {
		return
	}
	m.assignments.WithLabelValues(normalizeLabel(taskType)).Inc()
}

// RecordRating increments the rating counter for the supplied score.
func (m *marketMetrics) RecordRating(score int) {
	if m == nil {
		return
	}
	m.ratings.WithLabelValues(strconv.Itoa(score)).Inc()
}

func normalizeLabel(value string) string {
	normalized := strings.TrimSpace(strings.ToLower(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
