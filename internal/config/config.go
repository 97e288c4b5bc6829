// Package config provides unified configuration loading for the OCR service
// and the serverless worker. Supports YAML files, .env files and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Ingestion     IngestionConfig     `yaml:"ingestion"`
	Workers       WorkerConfig        `yaml:"workers"`
	Cache         CacheConfig         `yaml:"cache"`
	Serverless    ServerlessConfig    `yaml:"serverless"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxConnections   int           `yaml:"max_connections"` // 0 disables the limit
	RequestTimeout   time.Duration `yaml:"request_timeout"` // 0 disables it; extraction time is unbounded
	CORSOrigins      []string      `yaml:"cors_origins"`
}

// PipelineConfig holds the extraction engine settings. It is built once at
// startup and passed around by value.
type PipelineConfig struct {
	ServerURL    string `yaml:"server_url"`
	ModelName    string `yaml:"model_name"`
	APIKey       string `yaml:"api_key"`
	Device       string `yaml:"device"`
	CPUThreads   int    `yaml:"cpu_threads"`
	Precision    string `yaml:"precision"`
	EnableMKLDNN bool   `yaml:"enable_mkldnn"`
	EnableHPI    bool   `yaml:"enable_hpi"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxTokens      int           `yaml:"max_tokens"`
	RenderDPI      float64       `yaml:"render_dpi"`
	MaxImageSide   int           `yaml:"max_image_side"`
	MaxInputBytes  int64         `yaml:"max_input_bytes"`
	TessdataDir    string        `yaml:"tessdata_dir"`
	Version        string        `yaml:"version"`
}

// IngestionConfig holds upload and download limits.
type IngestionConfig struct {
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	ChunkSize       int           `yaml:"chunk_size"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	UserAgent       string        `yaml:"user_agent"`
	TempDir         string        `yaml:"temp_dir"` // empty means os.TempDir()
}

// WorkerConfig sizes the pool that runs blocking pipeline calls.
type WorkerConfig struct {
	PoolSize  int `yaml:"pool_size"`
	QueueSize int `yaml:"queue_size"`
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Driver     string        `yaml:"driver"` // none, memory or redis
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`

	// CacheReferences also caches POST /parse results, keyed by the input
	// string. A URL or path whose content changes keeps returning the old
	// result until the entry expires. Uploads are keyed by content and are
	// always cached when a driver is set.
	CacheReferences bool `yaml:"cache_references"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
	Prefix   string `yaml:"prefix"`
}

// ServerlessConfig holds batch job settings.
type ServerlessConfig struct {
	MaxFileBytes    int64         `yaml:"max_file_bytes"`
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	TempDir         string        `yaml:"temp_dir"`
	GetJobURL       string        `yaml:"get_job_url"`
	PostOutputURL   string        `yaml:"post_output_url"`
	APIKey          string        `yaml:"api_key"`
	WorkerID        string        `yaml:"worker_id"`
	PollInterval    time.Duration `yaml:"poll_interval"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file, a .env file in the working
// directory and the environment, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      5 * time.Minute,
			WriteTimeout:     0, // extraction time is unbounded
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			CORSOrigins:      []string{"*"},
		},
		Pipeline: PipelineConfig{
			ServerURL:      "https://api.siliconflow.cn/v1",
			ModelName:      "PaddlePaddle/PaddleOCR-VL-1.5",
			Device:         "cpu",
			CPUThreads:     8,
			Precision:      "fp16",
			EnableMKLDNN:   true,
			EnableHPI:      true,
			RequestTimeout: 10 * time.Minute,
			MaxRetries:     3,
			MaxTokens:      4096,
			RenderDPI:      144,
			MaxImageSide:   2048,
			MaxInputBytes:  200 << 20,
		},
		Ingestion: IngestionConfig{
			MaxUploadBytes:  50 << 20,
			ChunkSize:       1 << 20,
			DownloadTimeout: 300 * time.Second,
			UserAgent:       "MinerU-RunPod/1.0",
		},
		Workers: WorkerConfig{
			PoolSize:  2,
			QueueSize: 64,
		},
		Cache: CacheConfig{
			Driver:     "none",
			TTL:        30 * time.Minute,
			MaxEntries: 512,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				DB:       0,
				PoolSize: 10,
				Prefix:   "ocr:",
			},
		},
		Serverless: ServerlessConfig{
			MaxFileBytes:    200 << 20,
			DownloadTimeout: 300 * time.Second,
			PollInterval:    time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "ocr-service",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}

	if c.Pipeline.ServerURL == "" {
		return fmt.Errorf("pipeline server_url is required")
	}

	if c.Pipeline.CPUThreads < 1 {
		return fmt.Errorf("cpu_threads must be at least 1")
	}

	if c.Ingestion.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be positive")
	}

	if c.Ingestion.ChunkSize < 1 {
		return fmt.Errorf("chunk_size must be positive")
	}

	if c.Serverless.MaxFileBytes < 1 {
		return fmt.Errorf("serverless max_file_bytes must be positive")
	}

	if c.Workers.PoolSize < 1 {
		return fmt.Errorf("worker pool_size must be at least 1")
	}

	switch c.Cache.Driver {
	case "none", "memory", "redis":
	default:
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	setInt(&cfg.Server.Port, "PORT")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setString(&cfg.Server.Host, "HOST")
	setInt(&cfg.Server.MaxConnections, "MAX_CONNECTIONS")

	setString(&cfg.Pipeline.ServerURL, "VL_REC_SERVER_URL")
	setString(&cfg.Pipeline.ModelName, "VL_REC_API_MODEL_NAME")
	setString(&cfg.Pipeline.APIKey, "VL_REC_API_KEY")
	setString(&cfg.Pipeline.Device, "DEVICE")
	setInt(&cfg.Pipeline.CPUThreads, "CPU_THREADS")
	setString(&cfg.Pipeline.Precision, "PRECISION")
	setBool(&cfg.Pipeline.EnableMKLDNN, "ENABLE_MKLDNN")
	setBool(&cfg.Pipeline.EnableHPI, "ENABLE_HPI")
	setString(&cfg.Pipeline.TessdataDir, "TESSDATA_PREFIX")

	if v := os.Getenv("MAX_UPLOAD_SIZE_MB"); v != "" {
		if mb, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingestion.MaxUploadBytes = mb << 20
		}
	}

	if v := os.Getenv("TEMP_DIR"); v != "" {
		cfg.Ingestion.TempDir = v
		cfg.Serverless.TempDir = v
	}

	setInt(&cfg.Workers.PoolSize, "WORKER_POOL_SIZE")

	setString(&cfg.Cache.Driver, "CACHE_DRIVER")
	setBool(&cfg.Cache.CacheReferences, "CACHE_REFERENCES")
	setDuration(&cfg.Server.RequestTimeout, "REQUEST_TIMEOUT")
	if v := os.Getenv("REDIS_URL"); v != "" {
		opts, err := redis.ParseURL(v)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		cfg.Cache.Driver = "redis"
		cfg.Cache.Redis.Addr = opts.Addr
		cfg.Cache.Redis.Password = opts.Password
		cfg.Cache.Redis.DB = opts.DB
	}

	setString(&cfg.Serverless.GetJobURL, "RUNPOD_WEBHOOK_GET_JOB")
	setString(&cfg.Serverless.PostOutputURL, "RUNPOD_WEBHOOK_POST_OUTPUT")
	setString(&cfg.Serverless.APIKey, "RUNPOD_AI_API_KEY")
	setString(&cfg.Serverless.WorkerID, "RUNPOD_POD_ID")

	setString(&cfg.Observability.LogLevel, "MINERU_LOG_LEVEL")
	setString(&cfg.Observability.LogLevel, "LOG_LEVEL")
	setString(&cfg.Observability.LogFormat, "LOG_FORMAT")
	setString(&cfg.Observability.ServiceName, "SERVICE_NAME")
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true") || v == "1"
	}
}

// Redacted returns a copy safe for printing.
func (c Config) Redacted() Config {
	if c.Pipeline.APIKey != "" {
		c.Pipeline.APIKey = "***"
	}
	if c.Serverless.APIKey != "" {
		c.Serverless.APIKey = "***"
	}
	if c.Cache.Redis.Password != "" {
		c.Cache.Redis.Password = "***"
	}
	return c
}
