package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-production/internal/bus"
	"github.com/tendant/simple-production/pkg/schema"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print run lifecycle and completion events as they are published",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		nc, err := bus.Connect(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("connect to NATS %s: %w", cfg.NATSURL, err)
		}
		defer nc.Close()

		var mu sync.Mutex
		out := cmd.OutOrStdout()
		emit := func(line string) {
			mu.Lock()
			defer mu.Unlock()
			fmt.Fprintln(out, line)
		}

		lifecycle := cfg.EventSubject + ".lifecycle"
		if _, err := nc.SubscribeJSON(lifecycle, func(_ context.Context, data []byte) {
			emit(formatLifecycle(data))
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", lifecycle, err)
		}
		if _, err := nc.SubscribeJSON(cfg.EventSubject, func(_ context.Context, data []byte) {
			emit(formatDone(data))
		}); err != nil {
			return fmt.Errorf("subscribe %s: %w", cfg.EventSubject, err)
		}
		logger.Info("watching run events", "subject", cfg.EventSubject)

		<-ctx.Done()
		return nil
	},
}

func formatLifecycle(data []byte) string {
	var e schema.RunLifecycleEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Sprintf("unreadable lifecycle event: %v", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s run=%s job=%s %s", time.Unix(e.HappenedAt, 0).Format(time.TimeOnly), e.Pipeline, e.RunID, e.JobID, e.Stage)
	if e.Phase != "" {
		fmt.Fprintf(&b, " phase=%s", e.Phase)
	}
	if e.Failures > 0 {
		fmt.Fprintf(&b, " failures=%d", e.Failures)
	}
	if e.FailureType != "" {
		fmt.Fprintf(&b, " failure=%s", e.FailureType)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}

func formatDone(data []byte) string {
	var d schema.RunDone
	if err := json.Unmarshal(data, &d); err != nil {
		return fmt.Sprintf("unreadable run result: %v", err)
	}
	line := fmt.Sprintf("%s %s run=%s job=%s done status=%s tasks=%d failed=%d", time.Unix(d.HappenedAt, 0).Format(time.TimeOnly), d.Pipeline, d.RunID, d.JobID, d.Status, d.TotalTasks, d.TotalFailed)
	if d.FallbackTier != "" {
		line += " tier=" + d.FallbackTier
	}
	if d.FailureType != "" {
		line += fmt.Sprintf(" failure=%s at %s/%s", d.FailureType, d.FailedPhase, d.FailedTask)
	}
	return line
}
