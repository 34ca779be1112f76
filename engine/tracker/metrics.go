package tracker

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "codeassist"

// Metrics counts submissions, status checks, and outcomes per action. A nil
// *Metrics records nothing.
type Metrics struct {
	submissions *prometheus.CounterVec
	polls       *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
	inflight    *prometheus.GaugeVec
	duration    *prometheus.HistogramVec
}

func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "submissions_total",
			Help:      "Task creation requests by action and result.",
		}, []string{"action", "result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "status_checks_total",
			Help:      "Task status requests by action and observed status.",
		}, []string{"action", "status"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "outcomes_total",
			Help:      "Settled invocations by action and outcome.",
		}, []string{"action", "outcome"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "poll_loops_active",
			Help:      "Poll loops currently running.",
		}, []string{"action"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "invocation_duration_seconds",
			Help:      "Time from submission to settlement.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"action", "outcome"}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.submissions, m.polls, m.outcomes, m.inflight, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register tracker metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) submitted(action, result string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) polled(action, status string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(action, status).Inc()
}

func (m *Metrics) loopStarted(action string) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(action).Inc()
}

func (m *Metrics) settled(action string, outcome OutcomeStatus, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(action).Dec()
	m.outcomes.WithLabelValues(action, string(outcome)).Inc()
	m.duration.WithLabelValues(action, string(outcome)).Observe(elapsed.Seconds())
}
