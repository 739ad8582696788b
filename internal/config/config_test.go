package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TASK_TIMEOUT", "")
	t.Setenv("MAX_PARALLEL", "")
	t.Setenv("DEFAULT_STORAGE_BACKEND", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.NATSURL != "nats://127.0.0.1:4222" {
		t.Fatalf("unexpected NATS URL: %s", cfg.NATSURL)
	}
	if cfg.StartSubject != "production.runs.start" || cfg.EventSubject != "production.runs.done" {
		t.Fatalf("unexpected subjects: %s %s", cfg.StartSubject, cfg.EventSubject)
	}
	if cfg.TaskTimeout != 5*time.Minute || cfg.MaxParallel != 4 {
		t.Fatalf("unexpected limits: %s %d", cfg.TaskTimeout, cfg.MaxParallel)
	}
	if cfg.RunRetention != time.Hour || cfg.MaxFinishedRuns != 1000 {
		t.Fatalf("unexpected run retention: %s %d", cfg.RunRetention, cfg.MaxFinishedRuns)
	}
	if cfg.OutputWidth != 1920 || cfg.DegradedHeight != 480 {
		t.Fatalf("unexpected output dimensions: %+v", cfg)
	}
	if len(cfg.ThumbnailSizes) != 2 || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected thumbnails/log level: %+v %s", cfg.ThumbnailSizes, cfg.LogLevel)
	}
	if cfg.Content.StorageBackend != "memory" {
		t.Fatalf("unexpected storage backend: %s", cfg.Content.StorageBackend)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TASK_TIMEOUT", "90s")
	t.Setenv("MAX_PARALLEL", "2")
	t.Setenv("THUMBNAIL_SIZES", "tiny:64x36")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DATABASE_URL", "postgres://localhost/production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.TaskTimeout != 90*time.Second || cfg.MaxParallel != 2 {
		t.Fatalf("overrides not applied: %s %d", cfg.TaskTimeout, cfg.MaxParallel)
	}
	if len(cfg.ThumbnailSizes) != 1 || cfg.ThumbnailSizes[0].Name != "tiny" {
		t.Fatalf("unexpected thumbnail sizes: %+v", cfg.ThumbnailSizes)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("log level = %s", cfg.LogLevel)
	}
	if cfg.Content.DatabaseURL != "postgres://localhost/production" {
		t.Fatalf("content database url not inherited: %q", cfg.Content.DatabaseURL)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"TASK_TIMEOUT", "soon"},
		{"TASK_TIMEOUT", "-1s"},
		{"MAX_PARALLEL", "0"},
		{"RUN_RETENTION", "0s"},
		{"MAX_FINISHED_RUNS", "-5"},
		{"OUTPUT_WIDTH", "wide"},
		{"THUMBNAIL_SIZES", "small"},
		{"LOG_LEVEL", "loud"},
		{"DEFAULT_STORAGE_BACKEND", "floppy"},
		{"DEFAULT_STORAGE_BACKEND", "s3"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv("AWS_S3_BUCKET", "")
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
			want := tt.key
			if tt.value == "s3" {
				want = "AWS_S3_BUCKET"
			}
			if !strings.Contains(err.Error(), want) {
				t.Fatalf("error %q does not name %s", err, want)
			}
		})
	}
}
