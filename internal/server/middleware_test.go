package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/inboxguard/inboxguard/internal/classifier"
)

func TestAccessLogLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	srv := New(newTestConfig(t), classifier.New(stubPipeline{label: 2}, classifier.Options{}), zap.New(core), nil)

	doRequest(t, srv, http.MethodGet, "/", "")
	doRequest(t, srv, http.MethodPost, "/predict", `{"text":`)
	doRequest(t, srv, http.MethodPost, "/predict", `{"text":"hi"}`)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, int64(http.StatusUnprocessableEntity), entries[2].ContextMap()["status"])
}

func TestCanceledRequestLogsAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	srv := New(newTestConfig(t), classifier.New(slowPipeline{delay: time.Minute}, classifier.Options{}), zap.New(core), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"text":"hi"}`)).WithContext(ctx)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestMethodLabelIsBounded(t *testing.T) {
	srv := newTestServer(t, stubPipeline{label: 1})

	for _, m := range []string{"FOO", "BAR", "PROPFIND"} {
		rr := doRequest(t, srv, m, "/predict", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	}

	assert.Equal(t, 3.0, testutil.ToFloat64(srv.metrics.requests.WithLabelValues("/predict", "other", "405")))
	assert.Equal(t, "GET", methodLabel(http.MethodGet))
	assert.Equal(t, "other", methodLabel("FOO"))
}
