// Package metrics holds the Prometheus collectors of the scoreboard engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scoreboard-engine/internal/domain"
)

const namespace = "scoreboard"

// Metrics owns a private registry and the engine's collectors
type Metrics struct {
	registry *prometheus.Registry

	submissions  *prometheus.CounterVec
	rebuilds     prometheus.Histogram
	backups      *prometheus.CounterVec
	invalidated  prometheus.Counter
	kafkaBatches *prometheus.CounterVec
}

// New creates and registers every collector
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Score submissions by outcome.",
		}, []string{"outcome"}),
		rebuilds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ranking_rebuild_duration_seconds",
			Help:      "Duration of full ranking rebuilds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backups_total",
			Help:      "Backup artifacts written by scope.",
		}, []string{"scope"}),
		invalidated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidated_scores_total",
			Help:      "Scores invalidated by the suspicious-score sweep.",
		}),
		kafkaBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_messages_total",
			Help:      "Submission messages consumed from Kafka by result.",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		m.submissions,
		m.rebuilds,
		m.backups,
		m.invalidated,
		m.kafkaBatches,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) SubmissionObserved(outcome string) {
	m.submissions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRebuild(d time.Duration) {
	m.rebuilds.Observe(d.Seconds())
}

func (m *Metrics) BackupCreated(scope domain.BackupScope) {
	m.backups.WithLabelValues(string(scope)).Inc()
}

func (m *Metrics) ScoresInvalidated(n int) {
	m.invalidated.Add(float64(n))
}

func (m *Metrics) MessagesConsumed(result string, n int) {
	m.kafkaBatches.WithLabelValues(result).Add(float64(n))
}
