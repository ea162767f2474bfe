package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/inboxguard/inboxguard/internal/classifier"
	"github.com/inboxguard/inboxguard/internal/config"
	"github.com/inboxguard/inboxguard/internal/pipeline"
)

// slowPipeline takes delay to answer, or gives up when the context ends.
type slowPipeline struct {
	delay time.Duration
	label int
}

func (s slowPipeline) Transform(ctx context.Context, in pipeline.Frame) (pipeline.Frame, error) {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return pipeline.Frame{}, ctx.Err()
	}
	return in.WithColumn(pipeline.ColPrediction, func(pipeline.Row) (any, error) { return s.label, nil })
}

func loadConfig(t *testing.T, yml string) *config.Config {
	t.Helper()

	path := filepath.Join(t.TempDir(), "inboxguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	return cfg
}

// serveOnListener runs srv on a loopback port so http.Server deadlines apply.
func serveOnListener(t *testing.T, cfg *config.Config, p pipeline.Pipeline) (*Server, string) {
	t.Helper()

	clf := classifier.New(p, classifier.Options{ModelName: "spam_model", Timeout: cfg.Server.PredictTimeout})
	srv := New(cfg, clf, zap.NewNop(), nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	})
	return srv, "http://" + ln.Addr().String()
}

func postPredict(t *testing.T, baseURL, text string) (int, map[string]string) {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(baseURL+"/predict", "application/json", strings.NewReader(`{"text":"`+text+`"}`))
	require.NoError(t, err, "connection must not be dropped")
	defer resp.Body.Close()

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestSlowPredictionIsAnsweredWithoutDeadline(t *testing.T) {
	cfg := loadConfig(t, "server:\n  host: 127.0.0.1\n")
	require.Zero(t, cfg.Server.PredictTimeout)

	srv, url := serveOnListener(t, cfg, slowPipeline{delay: 300 * time.Millisecond, label: 1})
	assert.Zero(t, srv.httpSrv.WriteTimeout)

	status, body := postPredict(t, url, "WIN A FREE PRIZE NOW")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]string{"prediction": "SPAM"}, body)
}

func TestPredictTimeoutReachesClient(t *testing.T) {
	cfg := loadConfig(t, "server:\n  host: 127.0.0.1\n  predict_timeout: 150ms\n")

	srv, url := serveOnListener(t, cfg, slowPipeline{delay: time.Minute, label: 1})
	assert.Greater(t, srv.httpSrv.WriteTimeout, cfg.Server.PredictTimeout)

	status, body := postPredict(t, url, "let's meet for lunch")
	assert.Equal(t, http.StatusGatewayTimeout, status)
	assert.NotEmpty(t, body["error"])
}
