/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://192.168.195.6:8080)
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string
	JWTSecret   string

	// Relay process
	FFmpegBin string
	MediaRoot string

	// Schedule engine
	Timezone     string
	PollInterval time.Duration

	// Broadcast platform endpoints
	BroadcastTokenURL string
	BroadcastAPIURL   string

	// Thumbnail/title-set storage. StorageRoot is the filesystem
	// fallback when no S3 bucket is configured.
	StorageRoot string

	// S3 Object Storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheEnabled  bool
	InstanceID    string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"MUNINN_ENV", "MLV_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"MUNINN_HTTP_BIND", "MLV_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"MUNINN_HTTP_PORT", "MLV_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"MUNINN_BASE_URL", "MLV_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"MUNINN_DB_BACKEND", "MLV_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"MUNINN_DB_DSN", "MLV_DB_DSN"}, ""),
		MetricsBind: getEnvAny([]string{"MUNINN_METRICS_BIND", "MLV_METRICS_BIND"}, "127.0.0.1:9000"),
		JWTSecret:   getEnvAny([]string{"MUNINN_JWT_SECRET", "MLV_JWT_SECRET"}, ""),

		FFmpegBin: getEnvAny([]string{"MUNINN_FFMPEG_BIN", "MLV_FFMPEG_BIN"}, "ffmpeg"),
		MediaRoot: getEnvAny([]string{"MUNINN_MEDIA_ROOT", "MLV_MEDIA_ROOT"}, "./media"),

		Timezone:     getEnvAny([]string{"MUNINN_TIMEZONE", "MLV_TIMEZONE"}, ""),
		PollInterval: time.Duration(getEnvIntAny([]string{"MUNINN_POLL_INTERVAL_SECONDS", "MLV_POLL_INTERVAL_SECONDS"}, 60)) * time.Second,

		BroadcastTokenURL: getEnvAny([]string{"MUNINN_BROADCAST_TOKEN_URL", "MLV_BROADCAST_TOKEN_URL"}, "https://oauth2.googleapis.com/token"),
		BroadcastAPIURL:   getEnvAny([]string{"MUNINN_BROADCAST_API_URL", "MLV_BROADCAST_API_URL"}, ""),

		StorageRoot: getEnvAny([]string{"MUNINN_STORAGE_ROOT", "MLV_STORAGE_ROOT"}, "./storage"),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"MUNINN_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"MUNINN_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"MUNINN_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"MUNINN_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"MUNINN_S3_ENDPOINT", "S3_ENDPOINT"}, ""),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"MUNINN_TRACING_ENABLED", "MLV_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"MUNINN_OTLP_ENDPOINT", "MLV_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"MUNINN_TRACING_SAMPLE_RATE", "MLV_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		RedisAddr:     getEnvAny([]string{"MUNINN_REDIS_ADDR", "MLV_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"MUNINN_REDIS_PASSWORD", "MLV_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"MUNINN_REDIS_DB", "MLV_REDIS_DB"}, 0),
		CacheEnabled:  getEnvBoolAny([]string{"MUNINN_CACHE_ENABLED", "MLV_CACHE_ENABLED"}, false),
		InstanceID:    getEnvAny([]string{"MUNINN_INSTANCE_ID", "MLV_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("MUNINN_DB_DSN or MLV_DB_DSN must be provided")
	}

	if cfg.PollInterval < 10*time.Second {
		return nil, fmt.Errorf("MUNINN_POLL_INTERVAL_SECONDS must be at least 10")
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if cfg.BroadcastAPIURL == "" {
			return nil, fmt.Errorf("MUNINN_BROADCAST_API_URL must be set in production")
		}
		if cfg.JWTSecret == "" {
			return nil, fmt.Errorf("MUNINN_JWT_SECRET must be set in production")
		}
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":     "use MUNINN_ENV (or MLV_ENV)",
		"DB_DSN":          "use MUNINN_DB_DSN (or MLV_DB_DSN)",
		"FFMPEG_BIN":      "use MUNINN_FFMPEG_BIN (or MLV_FFMPEG_BIN)",
		"TRACING_ENABLED": "use MUNINN_TRACING_ENABLED (or MLV_TRACING_ENABLED)",
		"OTLP_ENDPOINT":   "use MUNINN_OTLP_ENDPOINT (or MLV_OTLP_ENDPOINT)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
