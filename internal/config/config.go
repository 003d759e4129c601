package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// Config holds all application configuration, loaded from environment
// variables with sensible defaults.
//
// Environment Variables:
//
// HTTP:
// - HTTP_ADDR: listen address (default: :8080)
// - UI_ENABLED: serve the static admin UI (default: false)
// - UI_STATIC_DIR: static UI directory (default: /app/web)
//
// Storage:
// - DATA_DIR: directory for the database and artifacts (default: /app/data)
// - MAX_UPLOAD_MB: upload size cap in megabytes (default: 100)
// - LOG_LEVEL: debug|info|warn|error (default: info)
//
// Jobs:
// - WORKER_COUNT: fixed worker pool size (default: 3)
// - MAX_QUEUED_JOBS: pending+processing cap before submissions are
//   rejected (default: 100)
// - JOB_TIMEOUT_SECONDS: wall-clock ceiling per job (default: 300)
//
// Retention:
// - RETENTION_DAYS: age after which terminal jobs are swept (default: 30)
// - SWEEP_CRON: sweep schedule, standard 5-field cron (default: 0 3 * * *)
//
// LLM (defaults may be overridden at runtime through the settings table):
// - LLM_API_KEY: API key for the LLM provider
// - LLM_API_URL: API endpoint URL (default: https://openrouter.ai/api/v1)
// - LLM_MODEL: primary model (default: claude-sonnet-4-20250514)
// - LLM_FALLBACK_MODEL: retry model on API errors (default: claude-3-haiku-20240307)
// - LLM_MAX_TOKENS: client-level response cap (default: 8000)
// - LLM_TEMPERATURE: client-level temperature (default: 0.7)
// - LLM_TIMEOUT: request timeout in seconds (default: 120)
//
// Auth:
// - ADMIN_PASSWORD: initial admin password (default: admin123)
// - SESSION_TTL_HOURS: session lifetime (default: 24)

type Config struct {
	HTTP      HTTPConfig      `json:"http"`
	System    SystemConfig    `json:"system"`
	Jobs      JobsConfig      `json:"jobs"`
	Retention RetentionConfig `json:"retention"`
	LLM       LLMConfig       `json:"llm"`
	Auth      AuthConfig      `json:"auth"`
}

type HTTPConfig struct {
	Addr        string `json:"addr"`
	UIEnabled   bool   `json:"ui_enabled"`
	UIStaticDir string `json:"ui_static_dir"`
}

type SystemConfig struct {
	DataDir     string `json:"data_dir"`
	MaxUploadMB int64  `json:"max_upload_mb"`
	LogLevel    string `json:"log_level"`
	LogFile     string `json:"log_file"`
}

type JobsConfig struct {
	WorkerCount    int `json:"worker_count"`
	MaxQueuedJobs  int `json:"max_queued_jobs"`
	TimeoutSeconds int `json:"timeout_seconds"`
}

type RetentionConfig struct {
	Days      int    `json:"days"`
	SweepCron string `json:"sweep_cron"`
}

// LLMConfig holds the configuration for the LLM client. Supports any
// OpenAI-compatible provider (OpenRouter, OpenAI, Anthropic, etc.).
type LLMConfig struct {
	APIKey        string  `json:"api_key"`
	APIURL        string  `json:"api_url"`
	Model         string  `json:"model"`
	FallbackModel string  `json:"fallback_model"`
	MaxTokens     int     `json:"max_tokens"`
	Temperature   float64 `json:"temperature"`
	Timeout       int     `json:"timeout"`
}

type AuthConfig struct {
	AdminPassword   string `json:"admin_password"`
	SessionTTLHours int    `json:"session_ttl_hours"`
}

// DBPath is the SQLite database file under the data dir.
func (c Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "shipdeck.db")
}

// ArtifactsDir is the artifact store root under the data dir.
func (c Config) ArtifactsDir() string {
	return filepath.Join(c.System.DataDir, "artifacts")
}

func (c Config) MaxUploadBytes() int64 {
	return c.System.MaxUploadMB << 20
}

func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Auth.SessionTTLHours) * time.Hour
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment
// variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		HTTP: HTTPConfig{
			Addr:        getEnvString("HTTP_ADDR", ":8080"),
			UIEnabled:   getEnvBool("UI_ENABLED", false),
			UIStaticDir: getEnvString("UI_STATIC_DIR", "/app/web"),
		},
		System: SystemConfig{
			DataDir:     getEnvString("DATA_DIR", "/app/data"),
			MaxUploadMB: int64(getEnvInt("MAX_UPLOAD_MB", 100)),
			LogLevel:    getEnvString("LOG_LEVEL", "info"),
			LogFile:     getEnvString("LOG_FILE", ""),
		},
		Jobs: JobsConfig{
			WorkerCount:    getEnvInt("WORKER_COUNT", 3),
			MaxQueuedJobs:  getEnvInt("MAX_QUEUED_JOBS", 100),
			TimeoutSeconds: getEnvInt("JOB_TIMEOUT_SECONDS", 300),
		},
		Retention: RetentionConfig{
			Days:      getEnvInt("RETENTION_DAYS", 30),
			SweepCron: getEnvString("SWEEP_CRON", "0 3 * * *"),
		},
		LLM: LLMConfig{
			APIKey:        getEnvString("LLM_API_KEY", ""),
			APIURL:        getEnvString("LLM_API_URL", "https://openrouter.ai/api/v1"),
			Model:         getEnvString("LLM_MODEL", "claude-sonnet-4-20250514"),
			FallbackModel: getEnvString("LLM_FALLBACK_MODEL", "claude-3-haiku-20240307"),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 8000),
			Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.7),
			Timeout:       getEnvInt("LLM_TIMEOUT", 120),
		},
		Auth: AuthConfig{
			AdminPassword:   getEnvString("ADMIN_PASSWORD", "admin123"),
			SessionTTLHours: getEnvInt("SESSION_TTL_HOURS", 24),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks if all required configuration is properly set. The LLM API
// key is deliberately not required here: shipment jobs run without one, and
// the admin panel can supply it at runtime.
func (c *Config) validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("HTTP_ADDR is required")
	}
	if c.System.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	if c.System.MaxUploadMB < 1 {
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1, got %d", c.System.MaxUploadMB)
	}
	if c.Jobs.WorkerCount < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Jobs.WorkerCount)
	}
	if c.Jobs.MaxQueuedJobs < 1 {
		return fmt.Errorf("MAX_QUEUED_JOBS must be at least 1, got %d", c.Jobs.MaxQueuedJobs)
	}
	if c.Jobs.TimeoutSeconds < 1 {
		return fmt.Errorf("JOB_TIMEOUT_SECONDS must be at least 1, got %d", c.Jobs.TimeoutSeconds)
	}
	if c.Retention.Days < 1 {
		return fmt.Errorf("RETENTION_DAYS must be at least 1, got %d", c.Retention.Days)
	}
	if _, err := cron.ParseStandard(c.Retention.SweepCron); err != nil {
		return fmt.Errorf("invalid SWEEP_CRON: %w", err)
	}
	if c.Auth.AdminPassword == "" {
		return fmt.Errorf("ADMIN_PASSWORD is required")
	}
	if c.Auth.SessionTTLHours < 1 {
		return fmt.Errorf("SESSION_TTL_HOURS must be at least 1, got %d", c.Auth.SessionTTLHours)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean value from environment variables with default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
