// Package metrics provides Prometheus metrics for snmpbridge.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "snmpbridge"
)

// Outcome label values other than failure kinds.
const (
	OutcomeSuccess = "success"
)

// Metrics contains all Prometheus metrics. Every Record method is safe on
// a nil *Metrics, which disables collection.
type Metrics struct {
	// Request metrics
	RequestsSent    *prometheus.CounterVec
	Responses       *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	RequestsPending prometheus.Gauge

	// Session metrics
	SessionsOpen prometheus.Gauge

	// Reactor bridge metrics
	ReadersRegistered prometheus.Gauge
	ReactorSyncs      prometheus.Counter
	TimersScheduled   prometheus.Counter

	// Poller metrics
	PollCycles       prometheus.Counter
	PollDuration     prometheus.Histogram
	PollTargetErrors *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a new Metrics instance registered with the default
// registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a new Metrics instance with a custom registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_sent_total",
			Help:      "Total requests handed to the engine by operation",
		}, []string{"op"}),
		Responses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Total resolved requests by outcome",
		}, []string{"outcome"}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from send to resolution",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		RequestsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_pending",
			Help:      "Number of requests awaiting a response or timeout",
		}),

		SessionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_open",
			Help:      "Number of open sessions",
		}),

		ReadersRegistered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "readers_registered",
			Help:      "Number of sockets registered with the reactor",
		}),
		ReactorSyncs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactor_syncs_total",
			Help:      "Total socket/timeout synchronization passes",
		}),
		TimersScheduled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactor_timers_scheduled_total",
			Help:      "Total engine timeout timers scheduled",
		}),

		PollCycles: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_cycles_total",
			Help:      "Total completed poll cycles",
		}),
		PollDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of a poll cycle across all targets",
			Buckets:   prometheus.DefBuckets,
		}),
		PollTargetErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_target_errors_total",
			Help:      "Total failed target polls by target name",
		}, []string{"target"}),
	}
}

// RecordRequestSent records a request handed to the engine.
func (m *Metrics) RecordRequestSent(op string) {
	if m == nil {
		return
	}
	m.RequestsSent.WithLabelValues(op).Inc()
	m.RequestsPending.Inc()
}

// RecordResponse records the resolution of a previously sent request.
func (m *Metrics) RecordResponse(outcome string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(outcome).Inc()
	m.RequestDuration.Observe(latencySeconds)
	m.RequestsPending.Dec()
}

// RecordSendFailure records a request the engine refused to send.
func (m *Metrics) RecordSendFailure(outcome string) {
	if m == nil {
		return
	}
	m.Responses.WithLabelValues(outcome).Inc()
}

// RecordAbandoned records requests dropped by closing their session.
func (m *Metrics) RecordAbandoned(count int) {
	if m == nil {
		return
	}
	m.RequestsPending.Sub(float64(count))
}

// RecordSessionOpen records a session being opened.
func (m *Metrics) RecordSessionOpen() {
	if m == nil {
		return
	}
	m.SessionsOpen.Inc()
}

// RecordSessionClose records a session being closed.
func (m *Metrics) RecordSessionClose() {
	if m == nil {
		return
	}
	m.SessionsOpen.Dec()
}

// RecordSync records a synchronization pass and the resulting reader count.
func (m *Metrics) RecordSync(readers int) {
	if m == nil {
		return
	}
	m.ReactorSyncs.Inc()
	m.ReadersRegistered.Set(float64(readers))
}

// RecordTimerScheduled records an engine timeout timer being scheduled.
func (m *Metrics) RecordTimerScheduled() {
	if m == nil {
		return
	}
	m.TimersScheduled.Inc()
}

// RecordPollCycle records a completed poll cycle.
func (m *Metrics) RecordPollCycle(durationSeconds float64) {
	if m == nil {
		return
	}
	m.PollCycles.Inc()
	m.PollDuration.Observe(durationSeconds)
}

// RecordPollError records a failed poll of a target.
func (m *Metrics) RecordPollError(target string) {
	if m == nil {
		return
	}
	m.PollTargetErrors.WithLabelValues(target).Inc()
}
