package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/process"
	"github.com/tendant/simple-production/internal/task"
)

var (
	runPipeline    string
	runBrief       string
	runJSON        bool
	runRemoteMedia bool
)

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Run one job through a pipeline and exit with its status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		eng, err := newEngine(ctx, cfg, runRemoteMedia, logger)
		if err != nil {
			return err
		}
		defer eng.closeAll()

		if runBrief != "" {
			if err := seedBrief(ctx, eng.store, jobID, runBrief); err != nil {
				return err
			}
			logger.Info("seeded job document", "job_id", jobID, "brief", runBrief)
		}

		def, err := eng.catalog.Get(runPipeline)
		if err != nil {
			return err
		}

		runs := process.NewRegistry(eng.orch, logger, process.WithRetention(cfg.RunRetention), process.WithMaxFinished(cfg.MaxFinishedRuns))
		runID, err := runs.StartRun(ctx, jobID, def)
		if err != nil {
			return err
		}

		view, err := runs.Wait(ctx, runID)
		if err != nil {
			logger.Warn("interrupted, canceling run", "run_id", runID)
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = runs.Shutdown(shutdownCtx)
			if view, err = runs.GetRunStatus(runID); err != nil {
				return err
			}
		}

		if err := printRun(cmd.OutOrStdout(), view, runJSON); err != nil {
			return err
		}
		exitCode = process.ExitCode(view.Status)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runPipeline, "pipeline", "", "Pipeline name from the catalog (default pipeline when empty)")
	runCmd.Flags().StringVar(&runBrief, "brief", "", "Seed the job document with this brief JSON file before running")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the run status as JSON")
	runCmd.Flags().BoolVar(&runRemoteMedia, "remote-media", false, "Route compile, thumbnail and distribute tasks to NATS workers")
}

// seedBrief writes a queued document holding the brief. An existing
// document keeps its other content.
func seedBrief(ctx context.Context, store document.Store, jobID, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read brief: %w", err)
	}
	var brief task.Brief
	if err := json.Unmarshal(data, &brief); err != nil {
		return fmt.Errorf("parse brief %s: %w", path, err)
	}
	if brief.Topic == "" {
		return fmt.Errorf("brief %s: topic is required", path)
	}
	raw, err := json.Marshal(brief)
	if err != nil {
		return err
	}

	doc, err := store.Load(ctx, jobID)
	switch {
	case errors.Is(err, document.ErrNotFound):
		doc = document.New(jobID)
	case err != nil:
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	doc = doc.Apply(document.SetContent(document.SlotBrief, raw)).WithStatus(document.StatusQueued)
	return store.Save(ctx, doc)
}

func printRun(w io.Writer, view process.RunView, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	fmt.Fprintf(w, "Run: %s\n", view.RunID)
	fmt.Fprintf(w, "Job: %s (pipeline %s)\n", view.JobID, view.Pipeline)
	fmt.Fprintf(w, "Status: %s\n", view.Status)
	if view.Cause != "" {
		fmt.Fprintf(w, "Cause: %s\n", view.Cause)
	}
	if view.Error != "" && view.Error != string(view.Cause) {
		fmt.Fprintf(w, "Error: %s\n", view.Error)
	}
	if view.FallbackTier != "" {
		fmt.Fprintf(w, "Fallback tier: %s\n", view.FallbackTier)
	}
	s := view.Summary
	fmt.Fprintf(w, "Tasks: %d, failures: %d, total %s\n", s.TaskCount, s.FailureCount, s.TotalDuration.Round(time.Millisecond))
	for _, p := range s.Phases {
		fmt.Fprintf(w, "  %-14s %4d tasks %3d failed  %s\n", p.Name, p.Tasks, p.Failures, p.Duration.Round(time.Millisecond))
	}
	if s.FailedPhase != "" {
		fmt.Fprintf(w, "Failed at: %s", s.FailedPhase)
		if s.FailedTask != "" {
			fmt.Fprintf(w, " / %s", s.FailedTask)
		}
		fmt.Fprintln(w)
	}
	return nil
}
