// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitNone(t *testing.T) {
	p, err := Init(context.Background(), Config{Exporter: "none"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	p.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitStdout(t *testing.T) {
	p, err := Init(context.Background(), Config{ServiceName: "test-service", Version: "v0.0.1", Exporter: "stdout"})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInitUnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{Exporter: "zipkin"})
	assert.Error(t, err)

	_, err = Init(context.Background(), Config{Exporter: "otlp"})
	assert.Error(t, err, "otlp without endpoint")
}

func TestInitPrometheusServesMetrics(t *testing.T) {
	p, err := Init(context.Background(), Config{Exporter: "prometheus", Version: "test"})
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	m, err := NewMetrics()
	require.NoError(t, err)
	m.RecordToolCall(context.Background(), "hacker_news", "get_stories", 20*time.Millisecond, nil)

	srv := httptest.NewServer(p.MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "techpulse_tool_calls_total")
}
