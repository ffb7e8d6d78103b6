package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.Turn("ok")
	m.Turn("ok")
	m.Turn("expired")
	m.StructuredAttempt("profile", "malformed")
	m.StructuredAttempt("profile", "valid")
	m.PipelineRun("completed", 3*time.Second)
	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SessionEnded()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.turns.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.structured.WithLabelValues("profile", "malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pipelineRuns.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessionsEnded))
}

func TestObserveCompletion(t *testing.T) {
	m := New()
	m.ObserveCompletion(time.Second, nil)
	m.ObserveCompletion(time.Second, errors.New("boom"))

	assert.Equal(t, 2, testutil.CollectAndCount(m.completions, "prism_completion_duration_seconds"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Turn("ok")
	m.ObserveCompletion(time.Second, nil)
	m.StructuredAttempt("scores", "valid")
	m.PipelineRun("error", time.Second)
	m.ConnectionOpened()
	m.ConnectionClosed()
	m.SessionEnded()
}

func TestHandler(t *testing.T) {
	m := New()
	m.Turn("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `prism_turns_total{result="ok"} 1`)
}
