// Package config reads orchestrator settings from the environment, with an
// optional .env file.
package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	simpleconfig "github.com/tendant/simple-content/pkg/simplecontent/config"

	"github.com/tendant/simple-production/internal/img"
)

type Config struct {
	NATSURL           string
	StartSubject      string
	WorkerQueue       string
	EventSubject      string
	TaskSubjectPrefix string
	TaskTimeout       time.Duration
	MaxParallel       int
	RunRetention      time.Duration
	MaxFinishedRuns   int
	WorkDir           string
	PipelineFile      string
	DatabaseURL       string
	DocumentTable     string
	OutputWidth       int
	OutputHeight      int
	DegradedWidth     int
	DegradedHeight    int
	FFmpegBin         string
	FFprobeBin        string
	ThumbnailSizes    []img.ThumbnailSpec
	LogLevel          slog.Level
	Content           ContentConfig
}

// ContentConfig holds the simple-content service settings.
type ContentConfig struct {
	DatabaseType   string
	DatabaseURL    string
	DatabaseSchema string
	StorageBackend string
	S3Bucket       string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3UseSSL       bool
	S3UsePathStyle bool
}

var defaults = map[string]any{
	"NATS_URL":                "nats://127.0.0.1:4222",
	"START_SUBJECT":           "production.runs.start",
	"WORKER_QUEUE":            "production-orchestrators",
	"EVENT_SUBJECT":           "production.runs.done",
	"TASK_SUBJECT_PREFIX":     "production.task",
	"TASK_TIMEOUT":            "5m",
	"MAX_PARALLEL":            4,
	"RUN_RETENTION":           "1h",
	"MAX_FINISHED_RUNS":       1000,
	"WORK_DIR":                "./data/production",
	"PIPELINE_FILE":           "",
	"DATABASE_URL":            "",
	"DOCUMENT_TABLE":          "production_documents",
	"OUTPUT_WIDTH":            1920,
	"OUTPUT_HEIGHT":           1080,
	"DEGRADED_WIDTH":          854,
	"DEGRADED_HEIGHT":         480,
	"FFMPEG_BIN":              "ffmpeg",
	"FFPROBE_BIN":             "ffprobe",
	"THUMBNAIL_SIZES":         "",
	"LOG_LEVEL":               "info",
	"DATABASE_TYPE":           "postgres",
	"CONTENT_DATABASE_URL":    "",
	"DATABASE_SCHEMA":         "content",
	"DEFAULT_STORAGE_BACKEND": "memory",
	"AWS_S3_BUCKET":           "",
	"AWS_S3_REGION":           "us-east-1",
	"AWS_ACCESS_KEY_ID":       "",
	"AWS_SECRET_ACCESS_KEY":   "",
	"AWS_S3_ENDPOINT":         "",
	"AWS_S3_USE_SSL":          false,
	"AWS_S3_USE_PATH_STYLE":   true,
}

// Load reads .env when present, then the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	cfg := Config{
		NATSURL:           v.GetString("NATS_URL"),
		StartSubject:      v.GetString("START_SUBJECT"),
		WorkerQueue:       v.GetString("WORKER_QUEUE"),
		EventSubject:      v.GetString("EVENT_SUBJECT"),
		TaskSubjectPrefix: v.GetString("TASK_SUBJECT_PREFIX"),
		WorkDir:           v.GetString("WORK_DIR"),
		PipelineFile:      v.GetString("PIPELINE_FILE"),
		DatabaseURL:       v.GetString("DATABASE_URL"),
		DocumentTable:     v.GetString("DOCUMENT_TABLE"),
		FFmpegBin:         v.GetString("FFMPEG_BIN"),
		FFprobeBin:        v.GetString("FFPROBE_BIN"),
		ThumbnailSizes:    img.DefaultSpecs,
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"TASK_TIMEOUT", &cfg.TaskTimeout},
		{"RUN_RETENTION", &cfg.RunRetention},
	}
	for _, f := range durations {
		d, err := time.ParseDuration(v.GetString(f.key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", f.key, err)
		}
		if d <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero (got %s)", f.key, d)
		}
		*f.dst = d
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"MAX_PARALLEL", &cfg.MaxParallel},
		{"MAX_FINISHED_RUNS", &cfg.MaxFinishedRuns},
		{"OUTPUT_WIDTH", &cfg.OutputWidth},
		{"OUTPUT_HEIGHT", &cfg.OutputHeight},
		{"DEGRADED_WIDTH", &cfg.DegradedWidth},
		{"DEGRADED_HEIGHT", &cfg.DegradedHeight},
	}
	for _, f := range ints {
		n, err := parsePositiveInt(v.GetString(f.key), f.key)
		if err != nil {
			return Config{}, err
		}
		*f.dst = n
	}

	if sizes := v.GetString("THUMBNAIL_SIZES"); sizes != "" {
		specs, err := img.ParseSpecs(sizes)
		if err != nil {
			return Config{}, fmt.Errorf("parse THUMBNAIL_SIZES: %w", err)
		}
		cfg.ThumbnailSizes = specs
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("LOG_LEVEL"))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg.Content = ContentConfig{
		DatabaseType:   v.GetString("DATABASE_TYPE"),
		DatabaseURL:    v.GetString("CONTENT_DATABASE_URL"),
		DatabaseSchema: v.GetString("DATABASE_SCHEMA"),
		StorageBackend: v.GetString("DEFAULT_STORAGE_BACKEND"),
		S3Bucket:       v.GetString("AWS_S3_BUCKET"),
		S3Region:       v.GetString("AWS_S3_REGION"),
		S3AccessKey:    v.GetString("AWS_ACCESS_KEY_ID"),
		S3SecretKey:    v.GetString("AWS_SECRET_ACCESS_KEY"),
		S3Endpoint:     v.GetString("AWS_S3_ENDPOINT"),
		S3UseSSL:       v.GetBool("AWS_S3_USE_SSL"),
		S3UsePathStyle: v.GetBool("AWS_S3_USE_PATH_STYLE"),
	}
	if cfg.Content.DatabaseURL == "" {
		cfg.Content.DatabaseURL = cfg.DatabaseURL
	}
	switch cfg.Content.StorageBackend {
	case "memory":
	case "s3":
		if cfg.Content.S3Bucket == "" {
			return Config{}, fmt.Errorf("AWS_S3_BUCKET is required when DEFAULT_STORAGE_BACKEND=s3")
		}
	default:
		return Config{}, fmt.Errorf("unsupported DEFAULT_STORAGE_BACKEND %q", cfg.Content.StorageBackend)
	}

	return cfg, nil
}

func parsePositiveInt(value, name string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, n)
	}
	return n, nil
}

// SimpleContent builds the simple-content server configuration.
func (c ContentConfig) SimpleContent() (*simpleconfig.ServerConfig, error) {
	opts := []simpleconfig.Option{
		simpleconfig.WithDatabase(c.DatabaseType, c.DatabaseURL),
		simpleconfig.WithDatabaseSchema(c.DatabaseSchema),
		simpleconfig.WithDefaultStorage(c.StorageBackend),
	}

	switch c.StorageBackend {
	case "s3":
		opts = append(opts, simpleconfig.WithS3StorageFull(
			"s3",
			c.S3Bucket,
			c.S3Region,
			c.S3AccessKey,
			c.S3SecretKey,
			c.S3Endpoint,
			c.S3UseSSL,
			c.S3UsePathStyle,
		))
	case "memory":
		opts = append(opts, simpleconfig.WithMemoryStorage("memory"))
	}

	opts = append(opts,
		simpleconfig.WithEventLogging(false),
		simpleconfig.WithPreviews(false),
		simpleconfig.WithStorageDelegatedURLs(),
	)

	return simpleconfig.Load(opts...)
}
