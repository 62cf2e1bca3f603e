package config

import (
	"testing"
	"time"
)

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("MUNINN_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("MUNINN_ENV", "development")
	t.Setenv("MUNINN_FFMPEG_BIN", "/usr/local/bin/ffmpeg")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.FFmpegBin != "/usr/local/bin/ffmpeg" {
		t.Fatalf("unexpected ffmpeg binary: %q", cfg.FFmpegBin)
	}
	if cfg.PollInterval != 60*time.Second {
		t.Fatalf("unexpected default poll interval: %v", cfg.PollInterval)
	}
}

func TestLoadRejectsUnsupportedBackend(t *testing.T) {
	t.Setenv("MUNINN_DB_DSN", "file::memory:")
	t.Setenv("MUNINN_DB_BACKEND", "oracle")

	if _, err := Load(); err == nil {
		t.Fatal("expected unsupported backend to fail")
	}
}

func TestLoadRejectsTooShortPollInterval(t *testing.T) {
	t.Setenv("MUNINN_DB_DSN", "file::memory:")
	t.Setenv("MUNINN_POLL_INTERVAL_SECONDS", "2")

	if _, err := Load(); err == nil {
		t.Fatal("expected sub-10s poll interval to fail")
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("MUNINN_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("FFMPEG_BIN", "/opt/ffmpeg")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadProductionRequiresBroadcastAPIURL(t *testing.T) {
	t.Setenv("MUNINN_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("MUNINN_ENV", "production")
	t.Setenv("MUNINN_JWT_SECRET", "super-secret")
	t.Setenv("MUNINN_BROADCAST_API_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without broadcast API URL")
	}

	t.Setenv("MUNINN_BROADCAST_API_URL", "https://broadcast.example.com/v1")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load to succeed: %v", err)
	}
}

func TestLoadProductionRequiresJWTSecret(t *testing.T) {
	t.Setenv("MUNINN_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("MUNINN_ENV", "production")
	t.Setenv("MUNINN_BROADCAST_API_URL", "https://broadcast.example.com/v1")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail without JWT secret")
	}
}
