// Package config loads process-env configuration, per spec §6's
// "Environment" section: unknown keys are ignored, required keys fail
// fast at boot. Mirrors the flag/env precedence Arkeep's cmd/server/main.go
// establishes with envOrDefault.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds every tunable the core needs at boot. Worker pool sizes are
// per work_type (spec §4.3: "N configurable per work_type, default 4 for
// network-bound, 1 for heavy visual/AI work").
type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	BackupRoot string
	QueueWALDir string

	AIProviderKey string
	AIModel       string

	RetentionDays int
	QueueHighWater int

	WorkerPoolProspecting     int
	WorkerPoolAnalyzeURL      int
	WorkerPoolAnalyzeProspect int
	WorkerPoolCompose         int
	WorkerPoolReport          int

	JobTimeoutSeconds int

	RateLimitAIConcurrent int
	RateLimitAIPerSecond  float64

	LogLevel string
}

// Load reads configuration from the process environment, applying defaults
// and failing fast if a required key is missing.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:   envOrDefault("LEADFORGE_HTTP_ADDR", ":8080"),
		DBDriver:   envOrDefault("LEADFORGE_DB_DRIVER", "sqlite"),
		DBDSN:      envOrDefault("LEADFORGE_DB_DSN", "./leadforge.db"),
		BackupRoot: envOrDefault("LEADFORGE_BACKUP_ROOT", "./local-backups"),
		QueueWALDir: envOrDefault("LEADFORGE_QUEUE_WAL_DIR", "./queue-wal"),
		AIModel:    envOrDefault("LEADFORGE_AI_MODEL", "gemini-3-flash-preview"),
		LogLevel:   envOrDefault("LEADFORGE_LOG_LEVEL", "info"),
	}

	cfg.AIProviderKey = os.Getenv("LEADFORGE_AI_API_KEY")
	if cfg.AIProviderKey == "" {
		return nil, fmt.Errorf("config: LEADFORGE_AI_API_KEY is required")
	}

	var err error
	if cfg.RetentionDays, err = envInt("LEADFORGE_RETENTION_DAYS", 30); err != nil {
		return nil, err
	}
	if cfg.QueueHighWater, err = envInt("LEADFORGE_QUEUE_HIGH_WATER", 10_000); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolProspecting, err = envInt("LEADFORGE_WORKERS_PROSPECTING", 4); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolAnalyzeURL, err = envInt("LEADFORGE_WORKERS_ANALYZE_URL", 4); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolAnalyzeProspect, err = envInt("LEADFORGE_WORKERS_ANALYZE_PROSPECT", 1); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolCompose, err = envInt("LEADFORGE_WORKERS_COMPOSE", 4); err != nil {
		return nil, err
	}
	if cfg.WorkerPoolReport, err = envInt("LEADFORGE_WORKERS_REPORT", 1); err != nil {
		return nil, err
	}
	if cfg.RateLimitAIConcurrent, err = envInt("LEADFORGE_AI_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if cfg.JobTimeoutSeconds, err = envInt("LEADFORGE_JOB_TIMEOUT_SECONDS", 300); err != nil {
		return nil, err
	}
	cfg.RateLimitAIPerSecond = 2.0

	return cfg, nil
}

// PoolSize returns the configured worker count for a work_type string,
// defaulting to 4 for unrecognized types (network-bound default per spec §4.3).
func (c *Config) PoolSize(workType string) int {
	switch workType {
	case "prospecting":
		return c.WorkerPoolProspecting
	case "analyze_url":
		return c.WorkerPoolAnalyzeURL
	case "analyze_prospect":
		return c.WorkerPoolAnalyzeProspect
	case "compose_outreach":
		return c.WorkerPoolCompose
	case "generate_report":
		return c.WorkerPoolReport
	default:
		return 4
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q: %w", key, v, err)
	}
	return n, nil
}
