package telemetry

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveRequest("rest/json/cves/2.0", "ok")
	m.ObserveRequest("rest/json/cves/2.0", "ok")
	m.ObserveRequest("rest/json/cves/2.0", "503")
	m.ObserveRetry("rest/json/cves/2.0")
	m.ObserveRecords("vulnerabilities", 2)
	m.ObserveRecords("vulnerabilities", 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("rest/json/cves/2.0", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("rest/json/cves/2.0")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.records.WithLabelValues("vulnerabilities")))
}

func TestMetricsWriteTextfile(t *testing.T) {
	m := NewMetrics()
	end := time.Date(2023, time.February, 1, 0, 0, 0, 0, time.UTC)
	m.ObserveWatermark("matchStrings", end)
	m.ObserveSuccess("matchStrings", end)

	path := filepath.Join(t.TempDir(), "nvd_mirror.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `nvdmirror_watermark_end_timestamp_seconds{kind="matchStrings"} 1.6752096e+09`)
	assert.Contains(t, string(data), `nvdmirror_last_success_timestamp_seconds{kind="matchStrings"}`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("e", "ok")
	m.ObserveRetry("e")
	m.ObserveRecords("k", 1)
	m.ObserveSuccess("k", time.Now())
	m.ObserveWatermark("k", time.Now())
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "unused.prom")))
}

func TestTracerExportsHTTPSpans(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	shutdown, err := InitTracer(true, &buf)
	require.NoError(t, err)

	ctx, span := Tracer().Start(context.Background(), "sync.vulnerabilities")
	client := &http.Client{Transport: HTTPTransport(nil)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name": "sync.vulnerabilities"`)
	assert.Contains(t, buf.String(), "nvd-mirror")
}

func TestDisabledTracerIsNoop(t *testing.T) {
	shutdown, err := InitTracer(false, nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
