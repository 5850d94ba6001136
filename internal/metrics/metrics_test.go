package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument_UsesRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Instrument)
	r.Get("/repositories/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/repositories/"+id, nil))
	}

	got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/repositories/{id}", "404"))
	assert.Equal(t, 3.0, got)
}

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordAnalysis("completed", 2*time.Second)
	m.RecordAnalysis("completed", time.Second)
	m.RecordAnalysis("timeout", time.Second)
	m.RecordWebhook("", "ignored")
	m.QueueDepth(2)
	m.QueueDepth(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.analysisRuns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.webhookEvents.WithLabelValues("unknown", "ignored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueDepth))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAnalysis("completed", time.Second)
		m.RecordBlob("ok")
		m.RecordWebhook("push", "completed")
		m.QueueDepth(1)
		m.RecordSync(3)
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.RecordSync(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "repo_analyser_sync_repositories_total 4"))
}
