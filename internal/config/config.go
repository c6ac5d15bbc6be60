package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort              = 8080
	defaultDataDir           = "data"
	defaultGatewayURL        = "http://127.0.0.1:8000/api/v1"
	defaultMaxUploadMiB      = 500
	defaultMaxConcurrentRuns = 3
	defaultTickSeconds       = 2
	defaultInferenceTimeout  = 600
	defaultStepDelayMillis   = 50
)

// Config describes runtime configuration for the service.
type Config struct {
	Port                    int      `yaml:"port"`
	DataDir                 string   `yaml:"data_dir"`
	GatewayURL              string   `yaml:"gateway_url"`
	JWTSecret               string   `yaml:"jwt_secret"`
	MaxUploadMiB            int64    `yaml:"max_upload_mib"`
	AllowedTypes            []string `yaml:"allowed_types"`
	MaxConcurrentRuns       int      `yaml:"max_concurrent_runs"`
	AmbientTickSeconds      int      `yaml:"ambient_tick_seconds"`
	InferenceTimeoutSeconds int      `yaml:"inference_timeout_seconds"`
	AnalysisStepMillis      int      `yaml:"analysis_step_millis"`
	HistoryDB               string   `yaml:"history_db"`
}

// Default returns sane defaults for local development.
func Default() Config {
	return Config{
		Port:                    defaultPort,
		DataDir:                 defaultDataDir,
		GatewayURL:              defaultGatewayURL,
		MaxUploadMiB:            defaultMaxUploadMiB,
		AllowedTypes:            defaultAllowedTypes(),
		MaxConcurrentRuns:       defaultMaxConcurrentRuns,
		AmbientTickSeconds:      defaultTickSeconds,
		InferenceTimeoutSeconds: defaultInferenceTimeout,
		AnalysisStepMillis:      defaultStepDelayMillis,
		HistoryDB:               "data/history.db",
	}
}

func defaultAllowedTypes() []string {
	return []string{"video/mp4", "video/mov", "video/avi", "video/quicktime"}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = defaultGatewayURL
	}
	if cfg.HistoryDB == "" {
		cfg.HistoryDB = "data/history.db"
	}
	if cfg.MaxUploadMiB <= 0 {
		return cfg, fmt.Errorf("invalid max_upload_mib: %d (must be >= 1)", cfg.MaxUploadMiB)
	}
	if cfg.MaxConcurrentRuns < 1 {
		return cfg, fmt.Errorf("invalid max_concurrent_runs: %d (must be >= 1)", cfg.MaxConcurrentRuns)
	}
	if cfg.AmbientTickSeconds < 1 {
		cfg.AmbientTickSeconds = defaultTickSeconds
	}
	if cfg.InferenceTimeoutSeconds < 1 {
		cfg.InferenceTimeoutSeconds = defaultInferenceTimeout
	}
	if cfg.AnalysisStepMillis < 1 {
		cfg.AnalysisStepMillis = defaultStepDelayMillis
	}
	cfg.AllowedTypes = normalizeTypes(cfg.AllowedTypes)
	return cfg, nil
}

// MaxUploadBytes returns the upload size ceiling in bytes.
func (c Config) MaxUploadBytes() int64 { return c.MaxUploadMiB * 1024 * 1024 }

func (c Config) AmbientTickInterval() time.Duration {
	return time.Duration(c.AmbientTickSeconds) * time.Second
}

func (c Config) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutSeconds) * time.Second
}

func (c Config) AnalysisStepDelay() time.Duration {
	return time.Duration(c.AnalysisStepMillis) * time.Millisecond
}

func normalizeTypes(in []string) []string {
	if len(in) == 0 {
		return defaultAllowedTypes()
	}
	seen := make(map[string]struct{}, len(in))
	normalized := make([]string, 0, len(in))
	for _, mt := range in {
		m := strings.ToLower(strings.TrimSpace(mt))
		if m == "" {
			continue
		}
		if !strings.Contains(m, "/") {
			m = "video/" + m
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		normalized = append(normalized, m)
	}
	return normalized
}
