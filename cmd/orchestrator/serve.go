package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-production/internal/pipeline"
	"github.com/tendant/simple-production/internal/process"
	"github.com/tendant/simple-production/pkg/schema"
)

var serveRemoteMedia bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Consume start requests from NATS and run pipelines",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info("orchestrator starting", "nats_url", cfg.NATSURL, "start_subject", cfg.StartSubject, "queue", cfg.WorkerQueue, "event_subject", cfg.EventSubject, "max_parallel", cfg.MaxParallel, "task_timeout", cfg.TaskTimeout)

		eng, err := newEngine(ctx, cfg, serveRemoteMedia, logger)
		if err != nil {
			fatal(logger, "wire orchestrator", err)
		}
		defer eng.closeAll()

		runs := process.NewRegistry(eng.orch, logger, process.WithRetention(cfg.RunRetention), process.WithMaxFinished(cfg.MaxFinishedRuns))
		sub, err := eng.nc.QueueSubscribeJSON(cfg.StartSubject, cfg.WorkerQueue, startHandler(runs, eng.catalog, logger))
		if err != nil {
			fatal(logger, "subscribe start requests", err, "subject", cfg.StartSubject, "queue", cfg.WorkerQueue)
		}
		logger.Info("listening for start requests", "subject", cfg.StartSubject, "queue", cfg.WorkerQueue)

		<-ctx.Done()
		logger.Info("shutting down", "active_runs", runs.Active())
		if err := sub.Drain(); err != nil {
			logger.Warn("drain start subscription", "err", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := runs.Shutdown(shutdownCtx); err != nil {
			logger.Error("runs did not stop in time", "err", err)
		}
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveRemoteMedia, "remote-media", false, "Route compile, thumbnail and distribute tasks to NATS workers")
}

// runStarter is the part of process.Registry a start handler needs.
type runStarter interface {
	StartRun(ctx context.Context, jobID string, def pipeline.Definition) (string, error)
}

// startHandler launches a run for every schema.StartRun message.
func startHandler(runs runStarter, catalog *pipeline.Catalog, logger *slog.Logger) func(ctx context.Context, data []byte) {
	return func(ctx context.Context, data []byte) {
		var req schema.StartRun
		if err := json.Unmarshal(data, &req); err != nil {
			logger.Warn("invalid start request", "err", err)
			return
		}
		reqLogger := logger.With("job_id", req.JobID, "pipeline", req.Pipeline, "request_id", req.RequestID)
		def, err := catalog.Get(req.Pipeline)
		if err != nil {
			reqLogger.Warn("unknown pipeline", "err", err)
			return
		}
		runID, err := runs.StartRun(ctx, req.JobID, def)
		if errors.Is(err, process.ErrJobBusy) {
			reqLogger.Info("job already running, start request ignored", "err", err)
			return
		}
		if err != nil {
			reqLogger.Warn("start run rejected", "err", err)
			return
		}
		reqLogger.Info("run started", "run_id", runID)
	}
}
