package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/inboxguard/inboxguard/internal/classifier"
	"github.com/inboxguard/inboxguard/internal/config"
	"github.com/inboxguard/inboxguard/internal/logging"
)

// Server wraps the HTTP server components for inboxguard.
type Server struct {
	cfg     *config.Config
	clf     *classifier.Classifier
	logger  *zap.Logger
	metrics *Metrics

	mux     *http.ServeMux
	handler http.Handler
	httpSrv *http.Server
}

// New wires routes and middleware. clf may hold no pipeline; /predict then answers 503.
func New(cfg *config.Config, clf *classifier.Classifier, logger *zap.Logger, metrics *Metrics) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if clf == nil {
		clf = classifier.New(nil, classifier.Options{})
	}

	s := &Server{
		cfg:     cfg,
		clf:     clf,
		logger:  logger,
		metrics: metrics,
		mux:     http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("POST /predict", s.handlePredict)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /readyz", s.handleReady)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.handler = chain(s.mux,
		recovery(logger),
		requestID(),
		accessLog(logger),
		metrics.instrument,
		corsHandler(cfg.CORS),
	)

	s.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ErrorLog:          zap.NewStdLog(logger.Named("http")),
	}
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the configured listen address.
func (s *Server) Addr() string { return s.httpSrv.Addr }

// Start serves until Shutdown is called. A clean shutdown returns nil.
func (s *Server) Start() error {
	s.logger.Info("inboxguard listening",
		zap.String("addr", s.httpSrv.Addr),
		zap.String("model", s.clf.ModelName()),
	)
	ln, err := net.Listen("tcp", s.httpSrv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpSrv.Addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve %s: %w", ln.Addr(), err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// --- Handlers ---

type predictRequest struct {
	Text string `json:"text"`
}

type predictResponse struct {
	Prediction string `json:"prediction"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"health": "activelyrunning"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.clf.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ready",
		"model":  s.clf.ModelName(),
	})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if limit := s.cfg.Server.MaxRequestBodyBytes; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start := time.Now()
	res, err := s.clf.Classify(r.Context(), req.Text)
	s.metrics.observeInference(time.Since(start))
	if err != nil {
		resp := MapClassifyError(err)
		s.metrics.countError(resp.Kind)
		s.logger.Check(resp.Level, "prediction failed").Write(
			zap.String("request_id", RequestIDFromContext(r.Context())),
			zap.String("kind", resp.Kind),
			zap.Int("status", resp.StatusCode),
			logging.Error(err),
		)
		writeError(w, resp.StatusCode, resp.Message)
		return
	}

	s.metrics.countPrediction(res.Category)
	writeJSON(w, http.StatusOK, predictResponse{Prediction: string(res.Category)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the {"error": message} payload used by every failure.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}
