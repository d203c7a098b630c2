package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/codecomply/engine"
	"github.com/c360studio/codecomply/report"
)

func sampleReport() *report.Report {
	return report.Aggregate([]engine.Verdict{
		{ClauseID: "1", Status: engine.StatusPass},
		{ClauseID: "2", Status: engine.StatusPass},
		{ClauseID: "3", Status: engine.StatusFail},
		{ClauseID: "4", Status: engine.StatusInconclusive},
	})
}

func TestRecorder_ObserveReport(t *testing.T) {
	r := NewRecorder()
	r.ObserveReport(sampleReport(), 20*time.Millisecond)
	r.ObserveReport(sampleReport(), 30*time.Millisecond)

	assert.Equal(t, 4.0, testutil.ToFloat64(r.verdicts.WithLabelValues("PASS")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.verdicts.WithLabelValues("FAIL")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.verdicts.WithLabelValues("NOT_APPLICABLE")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.reports.WithLabelValues("FAIL")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.duration))
}

func TestRecorder_ObserveRejected(t *testing.T) {
	r := NewRecorder()
	r.ObserveRejected(KindRequirement, 2)
	r.ObserveRejected(KindMeasurement, 0)
	r.ObserveRejected(KindRequirement, 1)

	assert.Equal(t, 3.0, testutil.ToFloat64(r.rejected.WithLabelValues(KindRequirement)))
	assert.Equal(t, 1, testutil.CollectAndCount(r.rejected), "zero observations create no series")
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.ObserveReport(sampleReport(), time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `codecomply_verdicts_total{status="PASS"} 2`)
	assert.Contains(t, body, "codecomply_evaluation_seconds_bucket")
	assert.Contains(t, body, "go_goroutines")
}

func TestRecorder_Serve(t *testing.T) {
	r := NewRecorder()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.serve(ctx, ln, nil) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "codecomply_verdicts_total"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
