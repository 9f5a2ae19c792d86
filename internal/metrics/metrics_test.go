package metrics_test

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/programme-lv/probpipe/api"
	"github.com/programme-lv/probpipe/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestMetricsAreExported(t *testing.T) {
	m, handler, err := metrics.New()
	require.NoError(t, err)
	defer m.Shutdown(context.Background())

	pending := 3
	require.NoError(t, m.ObserveQueue(func() int { return pending }))

	ms := int64(120)
	m.VerdictRecorded(api.Verdict{Verdict: api.AC, TimeMs: &ms})
	m.VerdictRecorded(api.Verdict{Verdict: api.WA})
	m.StageFinished(api.JobRunSolution, api.StatusDone, 2*time.Second)
	m.JobUpdated(api.Job{Type: api.JobReview, Status: api.StatusPending})
	m.RecordHTTPRequest(context.Background(), "GET", "/jobs/*", 404, time.Millisecond)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	out := string(body)

	for _, name := range []string{
		"verdicts_total",
		"case_duration_seconds",
		"stage_duration_seconds",
		"stages_total",
		"job_writes_total",
		"http_requests_total",
		"queue_pending",
	} {
		require.Contains(t, out, name)
	}
	require.Contains(t, out, `verdict="WA"`)
	require.Contains(t, out, `status="4xx"`)
}
