package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AllowedExtensions is fixed at build time; it is not read from the environment.
var AllowedExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".mkv":  {},
	".webm": {},
}

type Config struct {
	Port string `koanf:"port" validate:"required"`

	ModelAPIURL  string        `koanf:"model_api_url" validate:"required,url"`
	ModelAPIKey  string        `koanf:"model_api_key"`
	ModelTimeout time.Duration `koanf:"model_timeout" validate:"gt=0"`

	MaxFileSize   int64   `koanf:"max_file_size" validate:"gt=0"`
	FlagThreshold float64 `koanf:"flag_threshold" validate:"gte=0,lte=1"`
	WrapperAPIKey string  `koanf:"wrapper_api_key" validate:"required"`

	// RateLimit is the per-client ceiling. A zero RateLimitWindow never refills,
	// which is only suitable for development.
	RateLimit       int           `koanf:"rate_limit" validate:"gt=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gte=0"`

	TempDir      string        `koanf:"temp_dir"`
	FFProbePath  string        `koanf:"ffprobe_path" validate:"required"`
	ProbeTimeout time.Duration `koanf:"probe_timeout" validate:"gt=0"`

	DBPath      string `koanf:"db_path"`
	DatabaseURL string `koanf:"database_url"`

	AuditBufferSize     int           `koanf:"audit_buffer_size" validate:"gt=0"`
	AuditEnqueueTimeout time.Duration `koanf:"audit_enqueue_timeout" validate:"gte=0"`

	KafkaBroker     string `koanf:"kafka_broker"`
	KafkaAlertTopic string `koanf:"kafka_alert_topic"`

	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format" validate:"omitempty,oneof=json console"`
}

func Default() *Config {
	return &Config{
		Port:                "8001",
		ModelAPIURL:         "http://127.0.0.1:5000/predict",
		ModelTimeout:        30 * time.Second,
		MaxFileSize:         50 * 1024 * 1024,
		FlagThreshold:       0.6,
		WrapperAPIKey:       "wrapper-test-key",
		RateLimit:           20,
		FFProbePath:         "ffprobe",
		ProbeTimeout:        10 * time.Second,
		DBPath:              "cyber_b_logs.db",
		AuditBufferSize:     1000,
		AuditEnqueueTimeout: 250 * time.Millisecond,
		KafkaAlertTopic:     "deepfake_alerts",
		LogLevel:            "info",
		LogFormat:           "json",
	}
}

// Load reads .env (if present), then layers defaults and environment variables.
// Environment variables win over defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps MODEL_API_URL to model_api_url. Variables that are not config keys
// are dropped so PATH, HOME and friends never reach koanf.
func envKey(key string) string {
	key = strings.ToLower(key)
	if _, ok := knownKeys[key]; !ok {
		return ""
	}
	return key
}

var knownKeys = map[string]struct{}{
	"port": {}, "model_api_url": {}, "model_api_key": {}, "model_timeout": {},
	"max_file_size": {}, "flag_threshold": {}, "wrapper_api_key": {},
	"rate_limit": {}, "rate_limit_window": {}, "temp_dir": {}, "ffprobe_path": {},
	"probe_timeout": {}, "db_path": {}, "database_url": {}, "audit_buffer_size": {},
	"audit_enqueue_timeout": {}, "kafka_broker": {}, "kafka_alert_topic": {},
	"log_level": {}, "log_format": {},
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		return errors.New("invalid configuration: one of DATABASE_URL or DB_PATH is required")
	}
	return nil
}

// IsAllowedExtension expects a lower-cased extension including the dot.
func IsAllowedExtension(ext string) bool {
	_, ok := AllowedExtensions[ext]
	return ok
}
