package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-production/internal/bus"
	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/pkg/schema"
)

type requeueOptions struct {
	Statuses []document.Status
	Limit    int
	DryRun   bool
	Pipeline string
	Subject  string
}

type requeueResult struct {
	Found     int
	Published int
	Failed    []string
}

// documentLister is the part of document.PostgresStore requeue scans with.
type documentLister interface {
	ListByStatus(ctx context.Context, statuses []document.Status, limit int) ([]string, error)
}

type eventPublisher interface {
	PublishJSON(subject string, v any) error
}

var (
	requeueStatuses []string
	requeueLimit    int
	requeueDryRun   bool
	requeueExecute  bool
	requeuePipeline string
)

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Publish start requests for queued or failed job documents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return errors.New("requeue needs DATABASE_URL")
		}
		opts := requeueOptions{
			Limit:    requeueLimit,
			DryRun:   requeueDryRun && !requeueExecute,
			Pipeline: requeuePipeline,
			Subject:  cfg.StartSubject,
		}
		for _, s := range requeueStatuses {
			st := document.Status(s)
			if st != document.StatusQueued && st != document.StatusFailed && st != document.StatusProcessing {
				return fmt.Errorf("status %q cannot be requeued", s)
			}
			opts.Statuses = append(opts.Statuses, st)
		}
		logger.Info("requeue starting", "statuses", requeueStatuses, "limit", opts.Limit, "dry_run", opts.DryRun, "pipeline", opts.Pipeline, "subject", opts.Subject)

		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer pool.Close()
		store, err := document.NewPostgresStore(pool, cfg.DocumentTable)
		if err != nil {
			return err
		}

		var pub eventPublisher
		if !opts.DryRun {
			nc, err := bus.Connect(cfg.NATSURL)
			if err != nil {
				return fmt.Errorf("connect to NATS %s: %w", cfg.NATSURL, err)
			}
			defer nc.Close()
			logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
			pub = nc
		}

		res, err := requeue(ctx, store, pub, opts, logger)
		if err != nil {
			return err
		}
		logger.Info("requeue complete", "total_found", res.Found, "published", res.Published, "failed", len(res.Failed), "dry_run", opts.DryRun)
		if len(res.Failed) > 0 {
			logger.Error("some start requests failed", "failed_ids", res.Failed)
		}
		return nil
	},
}

func init() {
	f := requeueCmd.Flags()
	f.StringSliceVar(&requeueStatuses, "status", []string{string(document.StatusQueued), string(document.StatusFailed)}, "Document statuses to requeue")
	f.IntVar(&requeueLimit, "limit", 0, "Maximum number of documents to requeue (0 = unlimited)")
	f.BoolVar(&requeueDryRun, "dry-run", true, "Show what would be requeued without publishing")
	f.BoolVar(&requeueExecute, "execute", false, "Actually publish start requests (disables dry-run)")
	f.StringVar(&requeuePipeline, "pipeline", "", "Pipeline to request (default pipeline when empty)")
}

// requeue lists matching documents and publishes one schema.StartRun per
// document. In dry-run mode it only logs; pub may be nil.
func requeue(ctx context.Context, store documentLister, pub eventPublisher, opts requeueOptions, logger *slog.Logger) (requeueResult, error) {
	if len(opts.Statuses) == 0 {
		return requeueResult{}, errors.New("no statuses to requeue")
	}
	ids, err := store.ListByStatus(ctx, opts.Statuses, opts.Limit)
	if err != nil {
		return requeueResult{}, fmt.Errorf("list documents: %w", err)
	}

	res := requeueResult{Found: len(ids)}
	for _, id := range ids {
		if opts.DryRun || pub == nil {
			logger.Info("would requeue", "job_id", id)
			continue
		}
		req := schema.StartRun{
			JobID:      id,
			Pipeline:   opts.Pipeline,
			RequestID:  uuid.NewString(),
			HappenedAt: time.Now().Unix(),
		}
		if err := pub.PublishJSON(opts.Subject, req); err != nil {
			logger.Error("publish start request failed", "job_id", id, "err", err)
			res.Failed = append(res.Failed, id)
			continue
		}
		res.Published++
		logger.Info("start request published", "job_id", id, "request_id", req.RequestID)
	}
	return res, nil
}
