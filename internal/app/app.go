// Package app assembles the runtime, model and classifier from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/inboxguard/inboxguard/internal/classifier"
	"github.com/inboxguard/inboxguard/internal/config"
	"github.com/inboxguard/inboxguard/internal/pipeline"
	"github.com/inboxguard/inboxguard/internal/telemetry"
)

// App owns everything that must be torn down in order on exit.
type App struct {
	Runtime    *pipeline.Runtime
	Model      *pipeline.Model
	Classifier *classifier.Classifier
	Telemetry  *telemetry.Provider

	logger *zap.Logger
}

// Open loads the model described by cfg. On error nothing is left open.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger, version string) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Artifact problems surface before the native library is loaded.
	art, err := pipeline.Inspect(cfg.Model.Dir, pipeline.LoadOptions{
		Name:      cfg.Model.Name,
		MaxTokens: cfg.Model.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}

	tel, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:  cfg.Telemetry.Enabled,
		Endpoint: cfg.Telemetry.Endpoint,
		Protocol: cfg.Telemetry.Protocol,
		Service:  cfg.Telemetry.Service,
		Version:  version,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{Telemetry: tel, logger: logger}

	a.Runtime, err = pipeline.NewRuntime(pipeline.RuntimeOptions{
		SharedLibrary:   cfg.Runtime.SharedLibrary,
		Workers:         cfg.Runtime.Workers,
		IntraOpThreads:  cfg.Runtime.IntraOpThreads,
		InterOpThreads:  cfg.Runtime.InterOpThreads,
		DisableMemArena: cfg.Runtime.DisableMemArena,
		MemoryLimitMB:   cfg.Runtime.MemoryLimitMB,
	}, cfg.Model.Dir)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("onnx runtime: %w", err)
	}
	logger.Info("onnx runtime initialized",
		zap.String("library", a.Runtime.LibraryPath()),
		zap.Int("workers", a.Runtime.Workers()),
		zap.Int("intra_op_threads", cfg.Runtime.IntraOpThreads),
		zap.Int("inter_op_threads", cfg.Runtime.InterOpThreads),
	)

	a.Model, err = pipeline.LoadArtifact(a.Runtime, art)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("load model: %w", err)
	}
	logger.Info("model loaded",
		zap.String("model", a.Model.Name()),
		zap.String("dir", a.Model.Dir()),
		zap.Strings("labels", a.Model.Labels()),
		zap.Int("max_tokens", a.Model.MaxTokens()),
		zap.Bool("manifest_verified", a.Model.ManifestVerified()),
	)

	if cfg.Runtime.WarmupEnabled() {
		took, err := a.Model.Warmup(ctx)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		logger.Info("model warmed up", zap.Duration("took", took))
	}

	a.Classifier = classifier.New(a.Model, classifier.Options{
		ModelName: a.Model.Name(),
		Timeout:   cfg.Server.PredictTimeout,
		Telemetry: tel,
	})
	return a, nil
}

// Close releases the model, then the runtime, then flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Model != nil {
		errs = append(errs, a.Model.Close())
	}
	if a.Runtime != nil {
		errs = append(errs, a.Runtime.Close())
	}
	if a.Telemetry != nil {
		flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errs = append(errs, a.Telemetry.Shutdown(flushCtx))
	}
	return errors.Join(errs...)
}
