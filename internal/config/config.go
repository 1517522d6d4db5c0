// Package config loads runtime configuration from the environment.
// A .env file is honored when present; explicit environment variables win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the full runtime configuration of the service.
type Config struct {
	// Core paths and surfaces
	MonitorsFile string // JSON monitor configuration file
	DataDir      string // sqlite database directory
	ListenAddr   string // /metrics and /healthz listener

	// Logging
	LogLevel  string
	LogFormat string

	// Cache
	RedisAddr        string // empty selects the in-memory backend
	BaselineTTL      time.Duration
	RepoMetadataTTL  time.Duration
	LLMResponseTTL   time.Duration

	// Adapter endpoints and credentials
	DatadogBaseURL     string
	DatadogAPIKey      string
	DatadogAppKey      string
	GitlabBaseURL      string
	GitlabToken        string
	SourcegraphBaseURL string
	SourcegraphToken   string
	InvestigationDSN   string // read-only postgres connection
	AnthropicAPIKey    string
	LLMModel           string
	TeamsWebhookURL    string // default webhook when a monitor has none

	// Timeouts
	MetricsTimeout    time.Duration
	GitTimeout        time.Duration
	CodeSearchTimeout time.Duration
	DBQueryTimeout    time.Duration
	CollectorTimeout  time.Duration

	// Cost accounting (USD per 1K tokens)
	LLMCostPer1KInput  float64
	LLMCostPer1KOutput float64

	// Investigation tuning
	RecentDeploymentWindow time.Duration // deployment lookback for tier refinement
	CommitLookbackWindow   time.Duration // commit scoring window
}

// Load reads configuration from the environment, applying defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg := &Config{
		MonitorsFile: envString("SENTINEL_MONITORS_FILE", "/etc/sentinel/monitors.json"),
		DataDir:      envString("SENTINEL_DATA_DIR", "/var/lib/sentinel"),
		ListenAddr:   envString("SENTINEL_LISTEN_ADDR", ":9920"),

		LogLevel:  envString("SENTINEL_LOG_LEVEL", "info"),
		LogFormat: envString("SENTINEL_LOG_FORMAT", "auto"),

		RedisAddr:       envString("SENTINEL_REDIS_ADDR", ""),
		BaselineTTL:     envDuration("SENTINEL_BASELINE_TTL", 24*time.Hour),
		RepoMetadataTTL: envDuration("SENTINEL_REPO_METADATA_TTL", 6*time.Hour),
		LLMResponseTTL:  envDuration("SENTINEL_LLM_RESPONSE_TTL", time.Hour),

		DatadogBaseURL:     envString("DATADOG_BASE_URL", "https://api.datadoghq.com"),
		DatadogAPIKey:      envString("DATADOG_API_KEY", ""),
		DatadogAppKey:      envString("DATADOG_APP_KEY", ""),
		GitlabBaseURL:      envString("GITLAB_BASE_URL", "https://gitlab.com"),
		GitlabToken:        envString("GITLAB_TOKEN", ""),
		SourcegraphBaseURL: envString("SOURCEGRAPH_BASE_URL", ""),
		SourcegraphToken:   envString("SOURCEGRAPH_TOKEN", ""),
		InvestigationDSN:   envString("SENTINEL_INVESTIGATION_DSN", ""),
		AnthropicAPIKey:    envString("ANTHROPIC_API_KEY", ""),
		LLMModel:           envString("SENTINEL_LLM_MODEL", "claude-sonnet-4-20250514"),
		TeamsWebhookURL:    envString("TEAMS_WEBHOOK_URL", ""),

		MetricsTimeout:    envDuration("SENTINEL_METRICS_TIMEOUT", 30*time.Second),
		GitTimeout:        envDuration("SENTINEL_GIT_TIMEOUT", 30*time.Second),
		CodeSearchTimeout: envDuration("SENTINEL_CODE_SEARCH_TIMEOUT", 30*time.Second),
		DBQueryTimeout:    envDuration("SENTINEL_DB_QUERY_TIMEOUT", 10*time.Second),
		CollectorTimeout:  envDuration("SENTINEL_COLLECTOR_TIMEOUT", 30*time.Second),

		LLMCostPer1KInput:  envFloat("SENTINEL_LLM_COST_PER_1K_INPUT", 0.003),
		LLMCostPer1KOutput: envFloat("SENTINEL_LLM_COST_PER_1K_OUTPUT", 0.015),

		RecentDeploymentWindow: envDuration("SENTINEL_RECENT_DEPLOYMENT_WINDOW", 2*time.Hour),
		CommitLookbackWindow:   envDuration("SENTINEL_COMMIT_LOOKBACK_WINDOW", 24*time.Hour),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.MonitorsFile == "" {
		return fmt.Errorf("monitors file path is required")
	}
	if c.BaselineTTL <= 0 || c.LLMResponseTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if c.MetricsTimeout <= 0 || c.GitTimeout <= 0 || c.CodeSearchTimeout <= 0 ||
		c.DBQueryTimeout <= 0 || c.CollectorTimeout <= 0 {
		return fmt.Errorf("adapter timeouts must be positive")
	}
	return nil
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid duration, using default")
		return fallback
	}
	return d
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("Invalid number, using default")
		return fallback
	}
	return f
}
