package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inboxguard/inboxguard/internal/classifier"
	"github.com/inboxguard/inboxguard/internal/config"
	"github.com/inboxguard/inboxguard/internal/pipeline"
)

func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg, err := config.Load("testdata/does-not-exist.yaml")
	require.NoError(t, err)
	cfg.Server.Addr = ":0"
	cfg.Server.MaxRequestBodyBytes = 1024
	return cfg
}

// stubPipeline writes a fixed label, or fails, for every row.
type stubPipeline struct {
	label any
	err   error
	panic bool
}

func (s stubPipeline) Transform(ctx context.Context, in pipeline.Frame) (pipeline.Frame, error) {
	if s.panic {
		panic("boom")
	}
	if s.err != nil {
		return pipeline.Frame{}, s.err
	}
	return in.WithColumn(pipeline.ColPrediction, func(pipeline.Row) (any, error) { return s.label, nil })
}

func newTestServer(t *testing.T, p pipeline.Pipeline) *Server {
	t.Helper()

	var clf *classifier.Classifier
	if p != nil {
		clf = classifier.New(p, classifier.Options{ModelName: "spam_model"})
	}
	return New(newTestConfig(t), clf, zap.NewNop(), NewMetrics(nil))
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]string {
	t.Helper()

	var out map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), "body: %s", rr.Body.String())
	return out
}

func TestRootHealthWithoutModel(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := doRequest(t, srv, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]string{"health": "activelyrunning"}, decodeBody(t, rr))
}

func TestUnknownPathIs404(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := doRequest(t, srv, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPredict(t *testing.T) {
	cases := []struct {
		name string
		pipe stubPipeline
		body string
		want string
	}{
		{name: "spam", pipe: stubPipeline{label: 1}, body: `{"text":"WIN A FREE PRIZE NOW"}`, want: "SPAM"},
		{name: "not spam", pipe: stubPipeline{label: 0}, body: `{"text":"let's meet for lunch"}`, want: "NOT SPAM"},
		{name: "empty text", pipe: stubPipeline{label: 0}, body: `{"text":""}`, want: "NOT SPAM"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, tc.pipe)

			rr := doRequest(t, srv, http.MethodPost, "/predict", tc.body)
			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, map[string]string{"prediction": tc.want}, decodeBody(t, rr))
		})
	}

	srv := newTestServer(t, stubPipeline{label: 1})
	doRequest(t, srv, http.MethodPost, "/predict", `{"text":"a"}`)
	doRequest(t, srv, http.MethodPost, "/predict", `{"text":"b"}`)
	assert.Equal(t, 2.0, testutil.ToFloat64(srv.metrics.predictions.WithLabelValues("SPAM")))
}

func TestPredictErrors(t *testing.T) {
	cases := []struct {
		name   string
		pipe   pipeline.Pipeline
		body   string
		status int
	}{
		{name: "malformed json", pipe: stubPipeline{label: 1}, body: `{"text":`, status: http.StatusBadRequest},
		{name: "not an object", pipe: stubPipeline{label: 1}, body: `"WIN"`, status: http.StatusBadRequest},
		{name: "body too large", pipe: stubPipeline{label: 1}, body: `{"text":"` + strings.Repeat("a", 2048) + `"}`, status: http.StatusRequestEntityTooLarge},
		{name: "no model", pipe: nil, body: `{"text":"hi"}`, status: http.StatusServiceUnavailable},
		{name: "unsupported label", pipe: stubPipeline{label: 2}, body: `{"text":"hi"}`, status: http.StatusUnprocessableEntity},
		{name: "inference failure", pipe: stubPipeline{err: errors.New("session failed")}, body: `{"text":"hi"}`, status: http.StatusInternalServerError},
		{name: "deadline", pipe: stubPipeline{err: context.DeadlineExceeded}, body: `{"text":"hi"}`, status: http.StatusGatewayTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, tc.pipe)

			rr := doRequest(t, srv, http.MethodPost, "/predict", tc.body)
			assert.Equal(t, tc.status, rr.Code)
			body := decodeBody(t, rr)
			assert.Len(t, body, 1)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestPredictWrongMethod(t *testing.T) {
	srv := newTestServer(t, stubPipeline{label: 1})

	rr := doRequest(t, srv, http.MethodGet, "/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestPanicIsRecovered(t *testing.T) {
	srv := newTestServer(t, stubPipeline{panic: true})

	rr := doRequest(t, srv, http.MethodPost, "/predict", `{"text":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, map[string]string{"error": "internal server error"}, decodeBody(t, rr))
}

func TestReadiness(t *testing.T) {
	rr := doRequest(t, newTestServer(t, nil), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not ready", decodeBody(t, rr)["status"])

	rr = doRequest(t, newTestServer(t, stubPipeline{label: 0}), http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]string{"status": "ready", "model": "spam_model"}, decodeBody(t, rr))

	rr = doRequest(t, newTestServer(t, nil), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok\n", rr.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t, nil)

	rr := doRequest(t, srv, http.MethodGet, "/", "")
	assert.NotEmpty(t, rr.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rr = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "req-123", rr.Header().Get(RequestIDHeader))
}

func TestCORS(t *testing.T) {
	srv := newTestServer(t, stubPipeline{label: 1})
	origin := "http://localhost:3000"

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/predict", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)

		assert.Less(t, rr.Code, 300)
		assert.Contains(t, []string{"*", origin}, rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("actual request", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(`{"text":"WIN"}`))
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, []string{"*", origin}, rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
	})
}

func TestMetricsEndpoint(t *testing.T) {
	busy := 0
	cfg := newTestConfig(t)
	m := NewMetrics(func() int { return busy })
	srv := New(cfg, classifier.New(stubPipeline{label: 0}, classifier.Options{}), zap.NewNop(), m)

	doRequest(t, srv, http.MethodPost, "/predict", `{"text":"lunch"}`)
	busy = 1

	rr := doRequest(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `inboxguard_predictions_total{category="NOT SPAM"} 1`)
	assert.Contains(t, body, `inboxguard_http_requests_total{code="200",method="POST",route="/predict"} 1`)
	assert.Contains(t, body, "inboxguard_inference_slots_busy 1")
}

func TestStartAndShutdown(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Server.Addr = "127.0.0.1:0"
	srv := New(cfg, nil, zap.NewNop(), nil)

	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
