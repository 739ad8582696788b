package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/simple-production/internal/bus"
	"github.com/tendant/simple-production/internal/config"
	"github.com/tendant/simple-production/internal/converters"
	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/pipeline"
	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/internal/upload"
	"github.com/tendant/simple-production/internal/workers"
)

// openStore returns a Postgres store when DATABASE_URL is set and an
// in-process store otherwise. The returned func releases the pool.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (document.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, documents are kept in memory")
		return document.NewMemoryStore(), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	store, err := document.NewPostgresStore(pool, cfg.DocumentTable)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure document table: %w", err)
	}
	logger.Info("document store ready", "table", cfg.DocumentTable)
	return store, pool.Close, nil
}

// compileTiers builds the Primary, Secondary and Minimal compile workers.
func compileTiers(cfg config.Config, conv workers.VideoCompiler, logger *slog.Logger) []pipeline.TierWorker {
	return []pipeline.TierWorker{
		{Tier: pipeline.TierPrimary, Worker: workers.NewFFmpegCompiler(conv, converters.PrimaryProfile(cfg.OutputWidth, cfg.OutputHeight), cfg.WorkDir, logger)},
		{Tier: pipeline.TierSecondary, Worker: workers.NewFFmpegCompiler(conv, converters.DegradedProfile(cfg.DegradedWidth, cfg.DegradedHeight), cfg.WorkDir, logger)},
		{Tier: pipeline.TierMinimal, Worker: workers.NewMinimalFrame(cfg.OutputWidth, cfg.OutputHeight, cfg.WorkDir, logger)},
	}
}

// newUploader builds the simple-content upload client used by the
// distribute worker.
func newUploader(cfg config.Config, logger *slog.Logger) (*upload.Client, error) {
	contentCfg, err := cfg.Content.SimpleContent()
	if err != nil {
		return nil, fmt.Errorf("load simplecontent config: %w", err)
	}
	logger.Info("simplecontent metadata repository", "database_type", contentCfg.DatabaseType, "schema", contentCfg.DBSchema, "has_database_url", contentCfg.DatabaseURL != "")
	svc, err := contentCfg.BuildService()
	if err != nil {
		return nil, fmt.Errorf("build simplecontent service: %w", err)
	}
	logger.Info("simplecontent service ready", "backend", contentCfg.DefaultStorageBackend)
	return upload.NewClient(svc, contentCfg.DefaultStorageBackend), nil
}

// localWorkers returns the media workers this process can run itself.
// Distribution is left out when no content service can be built.
func localWorkers(cfg config.Config, tiers []pipeline.TierWorker, logger *slog.Logger) task.Registry {
	reg := task.Registry{
		task.GenerateThumbnail: workers.NewThumbnailer(cfg.ThumbnailSizes, cfg.WorkDir, logger),
		task.Compile:           tiers[0].Worker,
	}
	uploader, err := newUploader(cfg, logger)
	if err != nil {
		logger.Warn("distribution served remotely", "err", err)
		return reg
	}
	reg[task.Distribute] = workers.NewDistributor(uploader, logger)
	return reg
}

// workerRegistry routes every task to a local worker when one exists and to
// the NATS task subjects otherwise.
func workerRegistry(local task.Registry, remote task.Worker) task.Registry {
	reg := make(task.Registry, len(task.All()))
	for _, id := range task.All() {
		if w, ok := local[id]; ok {
			reg[id] = w
			continue
		}
		reg[id] = remote
	}
	return reg
}

type engine struct {
	nc       *bus.Client
	store    document.Store
	catalog  *pipeline.Catalog
	orch     *pipeline.Orchestrator
	closeAll func()
}

// newEngine wires the store, the bus, the workers and the orchestrator.
func newEngine(ctx context.Context, cfg config.Config, remoteMedia bool, logger *slog.Logger) (*engine, error) {
	catalog, err := pipeline.LoadCatalog(cfg.PipelineFile)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure work directory: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		closeStore()
		return nil, fmt.Errorf("connect to NATS %s: %w", cfg.NATSURL, err)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)

	remote := workers.NewRemote(nc, cfg.TaskSubjectPrefix)
	var tiers []pipeline.TierWorker
	local := task.Registry{}
	if !remoteMedia {
		conv := converters.NewFFmpegConverter(converters.WithBinaries(cfg.FFmpegBin, cfg.FFprobeBin))
		if err := conv.Available(); err != nil {
			logger.Warn("ffmpeg not available, video tiers will fail", "err", err)
		}
		tiers = compileTiers(cfg, conv, logger)
		local = localWorkers(cfg, tiers, logger)
	}
	reg := workerRegistry(local, remote)

	inv := task.NewInvoker(reg, logger)
	esc := pipeline.NewEscalator(inv, logger, tiers...)
	runner := pipeline.NewRunner(inv, esc, pipeline.RunnerConfig{
		MaxParallel: cfg.MaxParallel,
		TaskTimeout: cfg.TaskTimeout,
		Logger:      logger,
	})
	orch, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Store:        store,
		Runner:       runner,
		Events:       nc,
		EventSubject: cfg.EventSubject,
		Logger:       logger,
	})
	if err != nil {
		nc.Close()
		closeStore()
		return nil, err
	}

	for _, id := range task.All() {
		logger.Debug("task route", "task", id, "worker", reg[id].Name())
	}
	return &engine{
		nc:      nc,
		store:   store,
		catalog: catalog,
		orch:    orch,
		closeAll: func() {
			nc.Close()
			closeStore()
		},
	}, nil
}
