// Package config loads service settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Lllllllleong/scoreflow/internal/gcp"
)

// Config holds every setting shared by the API, the upload trigger and the admin CLI.
type Config struct {
	ProjectID           string
	FirestoreDatabase   string
	FirestoreCollection string
	StorageBucket       string
	VertexAIRegion      string
	GeminiModel         string

	MaxConcurrentJobs int
	JobTimeout        time.Duration
	SignedURLTTL      time.Duration
	DefaultPageSize   int
	MaxPageSize       int

	AuthDisabled bool
	Port         string
	LogLevel     slog.Level
	LogFormat    string
}

// Load reads envFile when it exists, then the process environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &Config{
		ProjectID:           gcp.GetEnv("PROJECT_ID", ""),
		FirestoreDatabase:   gcp.GetEnv("FIRESTORE_DATABASE", "(default)"),
		FirestoreCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "jobs"),
		StorageBucket:       gcp.GetEnv("STORAGE_BUCKET", ""),
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		GeminiModel:         gcp.GetEnv("GEMINI_MODEL_NAME", "gemini-2.5-flash"),
		Port:                gcp.GetEnv("PORT", "8080"),
		LogFormat:           strings.ToLower(gcp.GetEnv("LOG_FORMAT", "json")),
	}

	var err error
	if cfg.MaxConcurrentJobs, err = envInt("MAX_CONCURRENT_JOBS", 0); err != nil {
		return nil, err
	}
	if cfg.DefaultPageSize, err = envInt("DEFAULT_PAGE_SIZE", 10); err != nil {
		return nil, err
	}
	if cfg.MaxPageSize, err = envInt("MAX_PAGE_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = envDuration("JOB_TIMEOUT", 0); err != nil {
		return nil, err
	}
	if cfg.SignedURLTTL, err = envDuration("SIGNED_URL_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.AuthDisabled, err = strconv.ParseBool(gcp.GetEnv("AUTH_DISABLED", "false")); err != nil {
		return nil, fmt.Errorf("invalid AUTH_DISABLED: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(gcp.GetEnv("LOG_LEVEL", "INFO"))); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if c.StorageBucket == "" {
		return fmt.Errorf("STORAGE_BUCKET environment variable must be set")
	}
	if c.MaxConcurrentJobs < 0 {
		return fmt.Errorf("MAX_CONCURRENT_JOBS must not be negative")
	}
	if c.DefaultPageSize < 1 || c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("DEFAULT_PAGE_SIZE must be between 1 and MAX_PAGE_SIZE")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text, got %q", c.LogFormat)
	}
	return nil
}

func envInt(key string, fallback int) (int, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := gcp.GetEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
