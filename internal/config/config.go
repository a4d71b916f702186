package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the settings for both the api and worker binaries. Everything
// comes from environment variables; mains call godotenv.Load() first so a
// local .env file works in development.
type Config struct {
	HTTPAddr string
	DocsDir  string
	// MaxUploadBytes caps the multipart document size accepted by /analyze.
	MaxUploadBytes int64

	Store  StoreConfig
	Queue  QueueConfig
	Worker WorkerConfig
	LLM    LLMConfig
}

// StoreConfig configures the Postgres result store.
type StoreConfig struct {
	DatabaseURL  string
	QueryTimeout time.Duration
}

// QueueConfig configures the NATS JetStream broker.
type QueueConfig struct {
	URL        string
	Stream     string
	Subject    string
	Durable    string
	AckWait    time.Duration
	MaxDeliver int
}

// WorkerConfig bounds pipeline execution.
type WorkerConfig struct {
	// Concurrency is how many sequential job-consumption loops one worker
	// process hosts. Each loop claims and runs one job at a time.
	Concurrency      int
	StageMaxAttempts int
	StageBackoff     time.Duration
	StageTimeout     time.Duration
	// JobTimeout is the per-job wall-clock ceiling across all stages.
	JobTimeout time.Duration
}

// LLMConfig points at the OpenAI-compatible reasoning provider.
type LLMConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

func Load() (Config, error) {
	cfg := Config{
		HTTPAddr: getenv("HTTP_ADDR", ":8000"),
		DocsDir:  getenv("DOCS_DIR", "./data/documents"),
		Store: StoreConfig{
			DatabaseURL: getenv("DATABASE_URL", ""),
		},
		Queue: QueueConfig{
			URL:     getenv("NATS_URL", "nats://127.0.0.1:4222"),
			Stream:  getenv("QUEUE_STREAM", "ANALYSIS"),
			Subject: getenv("QUEUE_SUBJECT", "analysis.jobs"),
			Durable: getenv("QUEUE_DURABLE", "analysis-workers"),
		},
		LLM: LLMConfig{
			BaseURL: getenv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
			APIKey:  getenv("LLM_API_KEY", ""),
			Model:   getenv("LLM_MODEL", "llama-3.3-70b-versatile"),
		},
	}

	var err error
	if cfg.MaxUploadBytes, err = parsePositiveInt64(getenv("MAX_UPLOAD_BYTES", "33554432"), "MAX_UPLOAD_BYTES"); err != nil {
		return Config{}, err
	}
	if cfg.Store.QueryTimeout, err = parseDuration(getenv("DB_QUERY_TIMEOUT", "5s"), "DB_QUERY_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.Queue.AckWait, err = parseDuration(getenv("QUEUE_ACK_WAIT", "5m"), "QUEUE_ACK_WAIT"); err != nil {
		return Config{}, err
	}
	if cfg.Queue.MaxDeliver, err = parsePositiveInt(getenv("QUEUE_MAX_DELIVER", "5"), "QUEUE_MAX_DELIVER"); err != nil {
		return Config{}, err
	}
	if cfg.Worker.Concurrency, err = parsePositiveInt(getenv("WORKER_CONCURRENCY", "2"), "WORKER_CONCURRENCY"); err != nil {
		return Config{}, err
	}
	if cfg.Worker.StageMaxAttempts, err = parsePositiveInt(getenv("STAGE_MAX_ATTEMPTS", "3"), "STAGE_MAX_ATTEMPTS"); err != nil {
		return Config{}, err
	}
	if cfg.Worker.StageBackoff, err = parseDuration(getenv("STAGE_BACKOFF", "2s"), "STAGE_BACKOFF"); err != nil {
		return Config{}, err
	}
	if cfg.Worker.StageTimeout, err = parseDuration(getenv("STAGE_TIMEOUT", "90s"), "STAGE_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.Worker.JobTimeout, err = parseDuration(getenv("JOB_TIMEOUT", "10m"), "JOB_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.LLM.Timeout, err = parseDuration(getenv("LLM_TIMEOUT", "45s"), "LLM_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.LLM.MaxTokens, err = parsePositiveInt(getenv("LLM_MAX_TOKENS", "3500"), "LLM_MAX_TOKENS"); err != nil {
		return Config{}, err
	}
	if cfg.LLM.Temperature, err = parseFloat32(getenv("LLM_TEMPERATURE", "0.2"), "LLM_TEMPERATURE"); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ValidateStore checks the settings both binaries need to reach Postgres.
func (c Config) ValidateStore() error {
	if c.Store.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// ValidateLLM checks the settings the worker needs to call the provider.
func (c Config) ValidateLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	return nil
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func parsePositiveInt(value, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parsePositiveInt64(value, name string) (int64, error) {
	v, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parseFloat32(value, name string) (float32, error) {
	v, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return float32(v), nil
}

func parseDuration(value, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %s)", name, d)
	}
	return d, nil
}
