package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-production/internal/bus"
	"github.com/tendant/simple-production/internal/converters"
	"github.com/tendant/simple-production/internal/workers"
)

var workersQueue string

var workersCmd = &cobra.Command{
	Use:   "workers",
	Short: "Serve the local media workers on the NATS task subjects",
	Long: `workers answers compile, thumbnail and distribute requests on
<TASK_SUBJECT_PREFIX>.<task_id> so orchestrators started with --remote-media
can run without ffmpeg or storage credentials.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
			fatal(logger, "ensure work directory", err, "work_dir", cfg.WorkDir)
		}
		logger.Info("ensured work directory", "work_dir", cfg.WorkDir)

		conv := converters.NewFFmpegConverter(converters.WithBinaries(cfg.FFmpegBin, cfg.FFprobeBin))
		if err := conv.Available(); err != nil {
			logger.Warn("ffmpeg not available, video compilation will fail", "err", err)
		}
		local := localWorkers(cfg, compileTiers(cfg, conv, logger), logger)

		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
		}
		defer nc.Close()
		logger.Info("connected to NATS", "nats_url", cfg.NATSURL)

		subs, err := workers.Serve(nc, cfg.TaskSubjectPrefix, workersQueue, local, logger)
		if err != nil {
			fatal(logger, "serve workers", err, "prefix", cfg.TaskSubjectPrefix)
		}
		logger.Info("workers ready", "subjects", len(subs), "queue", workersQueue)

		<-ctx.Done()
		for _, s := range subs {
			if err := s.Drain(); err != nil {
				logger.Warn("drain subscription", "subject", s.Subject, "err", err)
			}
		}
		logger.Info("workers stopped")
	},
}

func init() {
	workersCmd.Flags().StringVar(&workersQueue, "queue", "production-media-workers", "NATS queue group for task requests")
}
