package services

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
	m := NewMetrics(prometheus.NewRegistry())

	m.IngestionFinished(nil)
	m.IngestionFinished(errors.New("boom"))
	m.IngestionFinished(nil)
	m.QuestionAnswered(time.Second, true, nil)
	m.ProgressDropped()
	m.SetActiveSessions(1)
	m.ModelLoaded("fr", 2*time.Second, nil)
	m.ObserveStage(StepChunking, time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestions.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestions.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.questions.WithLabelValues("success", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.progressDrops))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeSessions))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Contains(t, rec.Body.String(), "docqa_model_load_duration_seconds")
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IngestionFinished(nil)
		m.ProgressDropped()
		m.SetActiveSessions(3)
		m.QuestionAnswered(time.Second, false, nil)
	})
}
