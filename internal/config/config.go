package config

import (
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds inboxguard configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Addr wins over Host/Port when set, e.g. ":8080".
	Addr string `yaml:"addr"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	// WriteTimeout defaults to 0 (none) unless PredictTimeout is set.
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`

	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`
	// PredictTimeout bounds one prediction including the wait for an inference slot; 0 means no limit.
	PredictTimeout time.Duration `yaml:"predict_timeout"`
}

// ListenAddr returns the address the HTTP server binds to.
func (s ServerConfig) ListenAddr() string {
	if strings.TrimSpace(s.Addr) != "" {
		return s.Addr
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type ModelConfig struct {
	Dir       string `yaml:"dir"`  // pipeline artifact directory, relative to the working directory
	Name      string `yaml:"name"` // reported by /readyz and telemetry
	MaxTokens int    `yaml:"max_tokens"`
}

type RuntimeConfig struct {
	SharedLibrary   string `yaml:"shared_library"`
	Workers         int    `yaml:"workers"`
	IntraOpThreads  int    `yaml:"intra_op_threads"`
	InterOpThreads  int    `yaml:"inter_op_threads"`
	DisableMemArena bool   `yaml:"disable_mem_arena"`
	MemoryLimitMB   int64  `yaml:"memory_limit_mb"`
	Warmup          *bool  `yaml:"warmup"`
}

// WarmupEnabled reports whether a startup inference should run (default true).
func (r RuntimeConfig) WarmupEnabled() bool {
	return r.Warmup == nil || *r.Warmup
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials *bool    `yaml:"allow_credentials"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
	Service  string `yaml:"service"`
}

const (
	defaultHost        = "localhost"
	defaultPort        = 6754
	defaultModelDir    = "spam_model"
	defaultModelName   = "spam_model"
	defaultMaxTokens   = 256
	defaultBodyLimit   = 1 << 20
	defaultServiceName = "inboxguard"

	writeTimeoutMargin = 10 * time.Second
)

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := defaultConfig()
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultPort
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	// A write deadline would cut off slow predictions, so it only follows
	// an explicit predict_timeout.
	if cfg.Server.WriteTimeout == 0 && cfg.Server.PredictTimeout > 0 {
		cfg.Server.WriteTimeout = cfg.Server.PredictTimeout + writeTimeoutMargin
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxRequestBodyBytes == 0 {
		cfg.Server.MaxRequestBodyBytes = defaultBodyLimit
	}

	if cfg.Model.Dir == "" {
		cfg.Model.Dir = defaultModelDir
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = defaultModelName
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model.MaxTokens = defaultMaxTokens
	}

	// One execution slot with one thread each.
	if cfg.Runtime.Workers == 0 {
		cfg.Runtime.Workers = 1
	}
	if cfg.Runtime.IntraOpThreads == 0 {
		cfg.Runtime.IntraOpThreads = 1
	}
	if cfg.Runtime.InterOpThreads == 0 {
		cfg.Runtime.InterOpThreads = 1
	}

	if len(cfg.CORS.AllowedOrigins) == 0 {
		cfg.CORS.AllowedOrigins = []string{"*"}
	}
	if cfg.CORS.AllowCredentials == nil {
		allow := true
		cfg.CORS.AllowCredentials = &allow
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Service == "" {
		cfg.Telemetry.Service = defaultServiceName
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("INBOXGUARD_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("INBOXGUARD_PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := strings.TrimSpace(os.Getenv("INBOXGUARD_MODEL_DIR")); v != "" {
		cfg.Model.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("INBOXGUARD_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")); v != "" {
		cfg.Runtime.SharedLibrary = v
	}
}
