package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the loaded config for required fields and safe values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		if strings.TrimSpace(cfg.Server.Host) == "" {
			return errors.New("server.host must be set")
		}
		if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
			return fmt.Errorf("server.port must be in 1..65535, got %d", cfg.Server.Port)
		}
	}
	if cfg.Server.MaxRequestBodyBytes < 0 {
		return errors.New("server.max_request_body_bytes must not be negative")
	}
	if cfg.Server.PredictTimeout < 0 {
		return errors.New("server.predict_timeout must not be negative")
	}
	if cfg.Server.PredictTimeout > 0 && cfg.Server.WriteTimeout > 0 && cfg.Server.PredictTimeout >= cfg.Server.WriteTimeout {
		return fmt.Errorf("server.predict_timeout (%s) must be shorter than server.write_timeout (%s)",
			cfg.Server.PredictTimeout, cfg.Server.WriteTimeout)
	}

	if strings.TrimSpace(cfg.Model.Dir) == "" {
		return errors.New("model.dir must be set")
	}
	if cfg.Model.MaxTokens < 2 {
		return fmt.Errorf("model.max_tokens must be at least 2, got %d", cfg.Model.MaxTokens)
	}

	if err := validateRuntimeConfig(cfg.Runtime); err != nil {
		return err
	}

	if err := validateLoggingConfig(cfg.Logging); err != nil {
		return err
	}

	if err := validateTelemetryConfig(cfg.Telemetry); err != nil {
		return err
	}

	return nil
}

func validateRuntimeConfig(r RuntimeConfig) error {
	if r.Workers < 1 {
		return fmt.Errorf("runtime.workers must be at least 1, got %d", r.Workers)
	}
	if r.IntraOpThreads < 1 {
		return fmt.Errorf("runtime.intra_op_threads must be at least 1, got %d", r.IntraOpThreads)
	}
	if r.InterOpThreads < 1 {
		return fmt.Errorf("runtime.inter_op_threads must be at least 1, got %d", r.InterOpThreads)
	}
	if r.MemoryLimitMB < 0 {
		return errors.New("runtime.memory_limit_mb must not be negative")
	}
	return nil
}

func validateLoggingConfig(l LoggingConfig) error {
	switch strings.ToLower(strings.TrimSpace(l.Level)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", l.Level)
	}
	switch strings.ToLower(strings.TrimSpace(l.Format)) {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", l.Format)
	}
	return nil
}

func validateTelemetryConfig(t TelemetryConfig) error {
	if !t.Enabled {
		return nil
	}
	if strings.TrimSpace(t.Endpoint) == "" {
		return errors.New("telemetry enabled but endpoint is empty")
	}
	if t.Protocol != "" {
		switch strings.ToLower(strings.TrimSpace(t.Protocol)) {
		case "grpc", "http":
		default:
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", t.Protocol)
		}
	}
	return nil
}
