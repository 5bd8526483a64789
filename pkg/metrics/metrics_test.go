package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.AddImportRows("staged", 3)
	m.AddImportRows("failed", 0)
	m.ObserveMatch("HIGH")
	m.ObserveMatch("HIGH")
	m.ObserveReview("accept", nil)
	m.ObserveReview("accept", errors.New("bad state"))
	m.ObserveCommit(time.Now(), nil)
	m.ObservePattern("created")
	m.ObserveLearnFailure()

	assert.Equal(t, 3.0, testutil.ToFloat64(m.ImportRows.WithLabelValues("staged")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MatchTiers.WithLabelValues("HIGH")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReviewActions.WithLabelValues("accept", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Commits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatternsLearned.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LearnFailures))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.AddImportRows("staged", 1)
		m.ObserveMatch("LOW")
		m.ObserveReview("verify", nil)
		m.ObserveCommit(time.Now(), errors.New("x"))
		m.ObservePattern("conflict")
		m.ObserveLearnDropped()
		m.ObserveLearnFailure()
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveMatch("MEDIUM")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `reconciler_match_results_total{tier="MEDIUM"} 1`)
}
