// Package metrics holds the pipeline's domain metrics. All recording
// methods are nil-receiver safe so callers can run without a collector in
// tests.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"contentflow/pkg/monitoring"
)

// Conductor groups the service's domain metrics
type Conductor struct {
	pipelineTransitions *prometheus.CounterVec
	publishAttempts     *prometheus.CounterVec
	publishDuration     *prometheus.HistogramVec
	tokenRefreshes      *prometheus.CounterVec
	queueDepth          *prometheus.GaugeVec
	websocketClients    *prometheus.GaugeVec
}

// New registers the domain metrics on the shared collector
func New(mc *monitoring.MetricsCollector) *Conductor {
	return &Conductor{
		pipelineTransitions: mc.NewCounter(
			"pipeline_transitions_total",
			"Status transition commands by target status and outcome",
			[]string{"target_status", "outcome"},
		),
		publishAttempts: mc.NewCounter(
			"publish_attempts_total",
			"Publish attempts by platform, outcome and retryability",
			[]string{"platform", "outcome", "retryable"},
		),
		publishDuration: mc.NewHistogram(
			"publish_duration_seconds",
			"Duration of platform publish attempts",
			[]string{"platform"},
			[]float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		),
		tokenRefreshes: mc.NewCounter(
			"token_refreshes_total",
			"OAuth refresh attempts by platform and outcome",
			[]string{"platform", "outcome"},
		),
		queueDepth: mc.NewGauge(
			"publish_queue_claimed",
			"Distributions claimed by the last scheduler poll",
			nil,
		),
		websocketClients: mc.NewGauge(
			"websocket_clients",
			"Currently connected notification clients",
			nil,
		),
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordTransition counts one status-change command
func (m *Conductor) RecordTransition(targetStatus string, success bool) {
	if m == nil {
		return
	}
	m.pipelineTransitions.WithLabelValues(targetStatus, outcomeLabel(success)).Inc()
}

// RecordPublishAttempt counts one publish attempt and its duration
func (m *Conductor) RecordPublishAttempt(platform string, success, retryable bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(platform, outcomeLabel(success), strconv.FormatBool(retryable)).Inc()
	m.publishDuration.WithLabelValues(platform).Observe(elapsed.Seconds())
}

// RecordTokenRefresh counts one refresh attempt
func (m *Conductor) RecordTokenRefresh(platform string, refreshed bool) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(platform, outcomeLabel(refreshed)).Inc()
}

// SetQueueDepth records how many distributions the last poll claimed
func (m *Conductor) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues().Set(float64(n))
}

// SetWebsocketClients records the connected client count
func (m *Conductor) SetWebsocketClients(n int) {
	if m == nil {
		return
	}
	m.websocketClients.WithLabelValues().Set(float64(n))
}
