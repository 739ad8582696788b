package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-production/internal/converters"
	"github.com/tendant/simple-production/internal/pipeline"
	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/internal/workers"
)

var (
	compileImages  string
	compileAudio   string
	compileOut     string
	compileSeconds float64
	compileTimeout time.Duration
)

var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true}

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Run the compile fallback chain locally against a directory of images",
	Long: `compile builds a video from the images in --images (in file name order)
with optional narration audio, trying the Primary, Secondary and Minimal
tiers in order. It needs no NATS, database or job document.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if compileImages == "" {
			return fmt.Errorf("--images is required")
		}
		payload, err := compilePayloadFromDir(compileImages, compileAudio, compileSeconds)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}

		local := cfg
		if compileOut != "" {
			local.WorkDir = compileOut
		}
		conv := converters.NewFFmpegConverter(converters.WithBinaries(cfg.FFmpegBin, cfg.FFprobeBin))
		if err := conv.Available(); err != nil {
			logger.Warn("ffmpeg not available, only the Minimal tier can succeed", "err", err)
		}
		tiers := compileTiers(local, conv, logger)
		inv := task.NewInvoker(task.Registry{task.Compile: tiers[0].Worker}, logger)
		esc := pipeline.NewEscalator(inv, logger, tiers...)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		start := time.Now()
		call := task.Call{JobID: "compile", RunID: uuid.NewString(), Payload: raw}
		result := esc.Escalate(ctx, call, compileTimeout)

		printEscalation(cmd.OutOrStdout(), result, time.Since(start))
		if result.Tier == pipeline.TierNone {
			exitCode = 1
		}
		return nil
	},
}

func init() {
	f := compileCmd.Flags()
	f.StringVar(&compileImages, "images", "", "Directory of scene images (required)")
	f.StringVar(&compileAudio, "audio", "", "Narration audio file")
	f.StringVar(&compileOut, "out", "", "Output directory (default WORK_DIR)")
	f.Float64Var(&compileSeconds, "seconds", 3, "Seconds each image is shown")
	f.DurationVar(&compileTimeout, "timeout", 5*time.Minute, "Timeout for each tier")
}

// compilePayloadFromDir treats every image in dir as one scene, ordered by
// file name.
func compilePayloadFromDir(dir, audio string, seconds float64) (task.CompilePayload, error) {
	if seconds <= 0 {
		return task.CompilePayload{}, fmt.Errorf("seconds must be greater than zero (got %v)", seconds)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return task.CompilePayload{}, fmt.Errorf("read images: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return task.CompilePayload{}, fmt.Errorf("no images in %s", dir)
	}
	sort.Strings(names)

	p := task.CompilePayload{Title: filepath.Base(dir)}
	for i, name := range names {
		p.Scenes = append(p.Scenes, task.Scene{Index: i, Description: name, DurationSec: seconds})
		p.Images = append(p.Images, task.ImageRef{SceneIndex: i, URI: workers.FileURI(filepath.Join(dir, name))})
	}
	if audio != "" {
		if _, err := os.Stat(audio); err != nil {
			return task.CompilePayload{}, fmt.Errorf("audio: %w", err)
		}
		p.AudioURI = workers.FileURI(audio)
	}
	return p, nil
}

func printEscalation(w io.Writer, e pipeline.Escalation, elapsed time.Duration) {
	fmt.Fprintln(w, "Tier attempts:")
	for _, a := range e.Attempts {
		status := "ok"
		if !a.Succeeded {
			status = "failed: " + a.Error
		}
		fmt.Fprintf(w, "  %-9s %-20s %6dms  %s\n", a.Tier, a.Worker, a.DurationMs, status)
	}
	if e.Tier == pipeline.TierNone {
		fmt.Fprintf(w, "All tiers exhausted after %s\n", elapsed.Round(time.Millisecond))
		return
	}
	var out task.CompileResult
	if err := json.Unmarshal(e.Outcome.Result, &out); err != nil {
		fmt.Fprintf(w, "Compiled with %s tier (unreadable result: %v)\n", e.Tier, err)
		return
	}
	fmt.Fprintf(w, "Compiled with %s tier in %s\n", e.Tier, elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Output: %s (%s", out.URI, out.Format)
	if out.Width > 0 && out.Height > 0 {
		fmt.Fprintf(w, ", %dx%d", out.Width, out.Height)
	}
	if out.DurationSec > 0 {
		fmt.Fprintf(w, ", %.1fs", out.DurationSec)
	}
	fmt.Fprintln(w, ")")
}
