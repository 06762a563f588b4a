package metrics_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codeberg.org/mutker/hwsentry/internal/logger"
	"codeberg.org/mutker/hwsentry/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := metrics.New()

	m.ObserveTick("ok", 200*time.Millisecond)
	m.ObserveTick("ok", 300*time.Millisecond)
	m.ObserveTick("skipped", time.Millisecond)
	m.RecordAnomaly("fan")
	m.RecordIssue("cpu", "created")
	m.RecordIssue("cpu", "updated")
	m.RecordTraining("success")
	m.SetModelLoaded(true)
	m.SetAnomalyScore(-0.04)
	m.SetCPUTemperature(61.5)

	assert.InDelta(t, 2, testutil.ToFloat64(m.TicksTotal.WithLabelValues("ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TicksTotal.WithLabelValues("skipped")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AnomaliesTotal.WithLabelValues("fan")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.IssuesTotal.WithLabelValues("cpu", "updated")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TrainingRunsTotal.WithLabelValues("success")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ModelLoaded), 0)
	assert.InDelta(t, -0.04, testutil.ToFloat64(m.AnomalyScore), 1e-12)
	assert.InDelta(t, 61.5, testutil.ToFloat64(m.CPUTemperature), 1e-12)

	m.SetModelLoaded(false)
	assert.Zero(t, testutil.ToFloat64(m.ModelLoaded))
}

func TestIndependentRegistries(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.RecordAnomaly("model")

	assert.Zero(t, testutil.ToFloat64(b.AnomaliesTotal.WithLabelValues("model")))
}

func TestHandler(t *testing.T) {
	m := metrics.New()
	m.RecordIssue("temperature", "created")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `hwsentry_issues_total{action="created",type="temperature"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestServeStopsWithContext(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- metrics.New().Serve(ctx, addr, logger.Nop()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}
