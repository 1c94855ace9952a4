package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gridwatch/vms/internal/ratelimit"
)

// Config is assembled from the environment, with an optional YAML file
// (VMS_CONFIG) layering the structured tunables. Environment always wins for
// the flat values.
type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	DB struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"-"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"db"`

	RedisAddr string `yaml:"redis_addr"`
	NATSURL   string `yaml:"nats_url"`

	JWTSecret string `yaml:"-"`
	EncKey    string `yaml:"-"`

	FFmpegPath   string `yaml:"ffmpeg_path"`
	MediaBaseURL string `yaml:"media_base_url"`
	DataRoot     string `yaml:"data_root"`

	ANPR struct {
		Enabled     bool   `yaml:"enabled"`
		DetectorBin string `yaml:"detector_bin"`
		OCRBin      string `yaml:"ocr_bin"`
	} `yaml:"anpr"`

	Health struct {
		Interval time.Duration `yaml:"interval"`
		Workers  int           `yaml:"workers"`
	} `yaml:"health"`

	Supervisor struct {
		TerminateGrace  time.Duration `yaml:"terminate_grace"`
		SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
		GiveUp          int           `yaml:"give_up"`
	} `yaml:"supervisor"`

	RetentionInterval time.Duration `yaml:"retention_interval"`

	RateLimit ratelimit.LimitConfig `yaml:"rate_limit"`
}

// Load builds the config: defaults, then the optional YAML file, then the
// environment on top.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.HTTPAddr = ":8080"
	cfg.DB.Port = 5432
	cfg.DB.SSLMode = "disable"
	cfg.RedisAddr = "localhost:6379"
	cfg.FFmpegPath = "ffmpeg"
	cfg.Health.Interval = 30 * time.Second
	cfg.Supervisor.TerminateGrace = 3 * time.Second
	cfg.Supervisor.SnapshotTimeout = 5 * time.Second
	cfg.RetentionInterval = 24 * time.Hour
	cfg.RateLimit = ratelimit.LimitConfig{Rate: 300, Window: time.Minute}

	if path := os.Getenv("VMS_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	envStr(&cfg.HTTPAddr, "HTTP_ADDR")
	envStr(&cfg.DB.Host, "DB_HOST")
	envInt(&cfg.DB.Port, "DB_PORT")
	envStr(&cfg.DB.User, "DB_USER")
	envStr(&cfg.DB.Password, "DB_PASSWORD")
	envStr(&cfg.DB.Name, "DB_NAME")
	envStr(&cfg.DB.SSLMode, "DB_SSLMODE")
	envStr(&cfg.RedisAddr, "REDIS_ADDR")
	envStr(&cfg.NATSURL, "NATS_URL")
	envStr(&cfg.JWTSecret, "JWT_SECRET")
	envStr(&cfg.EncKey, "ENC_KEY")
	envStr(&cfg.FFmpegPath, "FFMPEG_PATH")
	envStr(&cfg.MediaBaseURL, "MEDIA_BASE_URL")
	envStr(&cfg.DataRoot, "VMS_DATA_ROOT")
	envBool(&cfg.ANPR.Enabled, "ANPR_ENABLED")
	envStr(&cfg.ANPR.DetectorBin, "ANPR_DETECTOR_BIN")
	envStr(&cfg.ANPR.OCRBin, "ANPR_OCR_BIN")
	envDuration(&cfg.Health.Interval, "HEALTH_INTERVAL")
	envDuration(&cfg.RetentionInterval, "RETENTION_INTERVAL")

	return cfg, cfg.Validate()
}

// Validate enforces the startup invariants; failing any of them is fatal.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if len(c.EncKey) != 32 {
		return fmt.Errorf("ENC_KEY must be exactly 32 bytes, got %d", len(c.EncKey))
	}
	if c.DB.Host == "" || c.DB.User == "" || c.DB.Name == "" {
		return errors.New("DB_HOST, DB_USER and DB_NAME are required")
	}
	return nil
}

// DSN renders the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

func envStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
