// Package metrics exposes Prometheus collectors for the reconciliation engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reconciler"

type Metrics struct {
	ImportRows        *prometheus.CounterVec
	MatchTiers        *prometheus.CounterVec
	ReviewActions     *prometheus.CounterVec
	Commits           *prometheus.CounterVec
	CommitDuration    prometheus.Histogram
	PatternsLearned   *prometheus.CounterVec
	LearnQueueDropped prometheus.Counter
	LearnFailures     prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ImportRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_rows_total",
			Help:      "Statement rows processed by outcome (staged, skipped, replaced, failed).",
		}, []string{"outcome"}),
		MatchTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_results_total",
			Help:      "Matcher results by confidence tier.",
		}, []string{"tier"}),
		ReviewActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_actions_total",
			Help:      "Review actions by action and outcome.",
		}, []string{"action", "outcome"}),
		Commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commits_total",
			Help:      "Commit attempts by outcome.",
		}, []string{"outcome"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Wall time of commit attempts.",
			Buckets:   prometheus.DefBuckets,
		}),
		PatternsLearned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_learned_total",
			Help:      "Pattern upserts by outcome (created, reinforced, conflict, invalid).",
		}, []string{"outcome"}),
		LearnQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learn_queue_dropped_total",
			Help:      "Background learning tasks dropped because the queue was full.",
		}),
		LearnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learn_failures_total",
			Help:      "Background learning tasks that failed.",
		}),
	}

	reg.MustRegister(
		m.ImportRows, m.MatchTiers, m.ReviewActions, m.Commits,
		m.CommitDuration, m.PatternsLearned, m.LearnQueueDropped, m.LearnFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) AddImportRows(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.ImportRows.WithLabelValues(outcome).Add(float64(n))
}

func (m *Metrics) ObserveMatch(tier string) {
	if m == nil {
		return
	}
	m.MatchTiers.WithLabelValues(tier).Inc()
}

func (m *Metrics) ObserveReview(action string, err error) {
	if m == nil {
		return
	}
	m.ReviewActions.WithLabelValues(action, outcome(err)).Inc()
}

func (m *Metrics) ObserveCommit(start time.Time, err error) {
	if m == nil {
		return
	}
	m.Commits.WithLabelValues(outcome(err)).Inc()
	m.CommitDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObservePattern(result string) {
	if m == nil {
		return
	}
	m.PatternsLearned.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveLearnDropped() {
	if m == nil {
		return
	}
	m.LearnQueueDropped.Inc()
}

func (m *Metrics) ObserveLearnFailure() {
	if m == nil {
		return
	}
	m.LearnFailures.Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
