// cmd/orchestrator/main.go
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-production/internal/config"
)

var (
	cfg    config.Config
	logger *slog.Logger

	// exitCode is set by commands that report a run status.
	exitCode int
)

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Drive production jobs through multi-phase pipelines",
	Long: `orchestrator runs job documents through ordered phases of task workers,
merging their results into the document and checkpointing it after every
phase. Video compilation escalates through fallback tiers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, runCmd, requeueCmd, compileCmd, workersCmd, watchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
