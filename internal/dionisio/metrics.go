package dionisio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "dionisio"

const (
	eventTypeLabel = "event_type"
	verbLabel      = "command"
	resultLabel    = "result"
)

type resultLabelVal string

const (
	resultSuccess  resultLabelVal = "success"
	resultFailure  resultLabelVal = "failure"
	resultFiltered resultLabelVal = "filtered"
	resultReady    resultLabelVal = "ready"
	resultNotReady resultLabelVal = "not_ready"
	resultSkipped  resultLabelVal = "skipped"
)

type metricCollector struct {
	processedEvents *prometheus.CounterVec
	commands        *prometheus.CounterVec
	qaEvaluations   *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
}

var metrics = newMetricCollector()

func newMetricCollector() *metricCollector {
	return &metricCollector{
		processedEvents: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "processed_github_events_total",
				Help:      "count of processed github webhook events",
			},
			[]string{eventTypeLabel, resultLabel},
		),
		commands: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "commands_total",
				Help:      "count of executed comment commands",
			},
			[]string{verbLabel, resultLabel},
		),
		qaEvaluations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "qa_evaluations_total",
				Help:      "count of pull request QA evaluations",
			},
			[]string{resultLabel},
		),
		taskDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "task_duration_seconds",
				Help:      "duration of executed tasks",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{verbLabel},
		),
	}
}

func (m *metricCollector) EventProcessed(eventType string, result resultLabelVal) {
	m.processedEvents.WithLabelValues(eventType, string(result)).Inc()
}

func (m *metricCollector) CommandExecuted(verb string, result resultLabelVal) {
	m.commands.WithLabelValues(verb, string(result)).Inc()
}

func (m *metricCollector) QAEvaluated(result resultLabelVal) {
	m.qaEvaluations.WithLabelValues(string(result)).Inc()
}

func (m *metricCollector) TaskDuration(verb string, seconds float64) {
	m.taskDuration.WithLabelValues(verb).Observe(seconds)
}
