// Package metrics provides Prometheus instrumentation for the chat moderation
// pipeline: moderation latency and outcomes, queue depth, admission
// rejections and HTTP latency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventhub/chat-moderation/internal/moderation"
)

var (
	// ModerationDuration records the wall-clock time to process one work item.
	ModerationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatmod_moderation_duration_seconds",
		Help:    "Time to moderate, persist and broadcast one message",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// ModerationDecisions counts engine decisions.
	ModerationDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmod_moderation_decisions_total",
		Help: "Moderation decisions by outcome",
	}, []string{"decision"})

	// ModerationRisk records the distribution of final risk scores.
	ModerationRisk = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatmod_moderation_risk",
		Help:    "Final moderation risk score",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	})

	// ModerationFailures counts work items dropped after a processing error.
	ModerationFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatmod_moderation_failures_total",
		Help: "Work items that failed processing and were dropped",
	})

	// QueueDepth tracks the number of items waiting in the moderation queue.
	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatmod_queue_depth",
		Help: "Current number of work items waiting for moderation",
	})

	// RateLimited counts sends rejected by admission control.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmod_rate_limited_total",
		Help: "Sends rejected by the rate limiter",
	}, []string{"channel"})

	// MessagesTotal counts messages by final status: "published", "held",
	// "blocked".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatmod_messages_total",
		Help: "Moderated messages by resulting status",
	}, []string{"status"})

	// ConnectionsTotal tracks the current number of WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatmod_ws_connections",
		Help: "Current number of active WebSocket connections",
	})

	// HTTPDuration records API latency.
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chatmod_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "code"})
)

func init() {
	prometheus.MustRegister(
		ModerationDuration,
		ModerationDecisions,
		ModerationRisk,
		ModerationFailures,
		QueueDepth,
		RateLimited,
		MessagesTotal,
		ConnectionsTotal,
		HTTPDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Recorder is the worker's view of the metrics above. Its methods never
// panic and return nothing.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// RecordModeration observes one completed work item.
func (Recorder) RecordModeration(d time.Duration, decision moderation.Decision, risk float64) {
	ModerationDuration.Observe(d.Seconds())
	ModerationDecisions.WithLabelValues(decision.String()).Inc()
	ModerationRisk.Observe(risk)
}

// RecordModerationFailure counts one dropped work item.
func (Recorder) RecordModerationFailure() {
	ModerationFailures.Inc()
}

// RecordStatus counts a message reaching status.
func (Recorder) RecordStatus(status string) {
	MessagesTotal.WithLabelValues(status).Inc()
}

// SetQueueDepth publishes the current queue length.
func (Recorder) SetQueueDepth(n int) {
	QueueDepth.Set(float64(n))
}
