package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tendant/simple-production/internal/converters"
	"github.com/tendant/simple-production/internal/img"
	"github.com/tendant/simple-production/internal/task"
	"github.com/tendant/simple-production/pkg/schema"
)

// defaultStillSeconds is used for images whose scene has no duration.
const defaultStillSeconds = 3.0

// VideoCompiler renders segments to a video file. *converters.FFmpegConverter
// satisfies it.
type VideoCompiler interface {
	Compile(ctx context.Context, segments []converters.Segment, audioPath, output string, p converters.Profile) error
	Probe(ctx context.Context, input string) (*converters.FileInfo, error)
}

// FFmpegCompiler is a compile tier backed by ffmpeg at a fixed profile.
type FFmpegCompiler struct {
	conv    VideoCompiler
	profile converters.Profile
	workDir string
	logger  *slog.Logger
}

func NewFFmpegCompiler(conv VideoCompiler, profile converters.Profile, workDir string, logger *slog.Logger) *FFmpegCompiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegCompiler{conv: conv, profile: profile, workDir: workDir, logger: logger}
}

func (c *FFmpegCompiler) Name() string { return "ffmpeg-" + c.profile.Name }

func (c *FFmpegCompiler) Do(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
	return handle(ctx, req, func(ctx context.Context, p task.CompilePayload) (task.CompileResult, error) {
		segments, err := Segments(p)
		if err != nil {
			return task.CompileResult{}, err
		}
		var audio string
		if p.AudioURI != "" {
			if audio, err = LocalPath(p.AudioURI); err != nil {
				return task.CompileResult{}, fmt.Errorf("audio: %w", err)
			}
		}

		dir, err := runDir(c.workDir, req)
		if err != nil {
			return task.CompileResult{}, err
		}
		out := filepath.Join(dir, c.profile.Name+".mp4")

		logger := c.logger.With("job_id", req.JobID, "run_id", req.RunID, "profile", c.profile.Name)
		logger.Info("compiling video", "segments", len(segments), "audio", audio != "")
		if err := c.conv.Compile(ctx, segments, audio, out, c.profile); err != nil {
			_ = os.Remove(out)
			return task.CompileResult{}, err
		}

		res := task.CompileResult{URI: FileURI(out), Format: "mp4", Width: c.profile.Width, Height: c.profile.Height}
		if info, err := c.conv.Probe(ctx, out); err == nil {
			if info.Width > 0 && info.Height > 0 {
				res.Width, res.Height = info.Width, info.Height
			}
			res.DurationSec = info.Duration
		} else {
			logger.Warn("probe compiled output", "err", err)
		}
		return res, nil
	})
}

// Segments pairs each image with its scene's duration, in scene order.
func Segments(p task.CompilePayload) ([]converters.Segment, error) {
	if len(p.Images) == 0 {
		return nil, errors.New("no images to compile")
	}
	durations := make(map[int]float64, len(p.Scenes))
	for _, s := range p.Scenes {
		durations[s.Index] = s.DurationSec
	}
	paths, err := imagePaths(p.Images)
	if err != nil {
		return nil, err
	}
	sorted := sortedRefs(p.Images)
	segments := make([]converters.Segment, len(paths))
	for i, path := range paths {
		d := durations[sorted[i].SceneIndex]
		if d <= 0 {
			d = defaultStillSeconds
		}
		segments[i] = converters.Segment{Image: path, DurationSec: d}
	}
	return segments, nil
}

// MinimalFrame is the last-resort compile tier: a single representative
// still, produced without ffmpeg.
type MinimalFrame struct {
	width   int
	height  int
	workDir string
	logger  *slog.Logger
}

func NewMinimalFrame(width, height int, workDir string, logger *slog.Logger) *MinimalFrame {
	if logger == nil {
		logger = slog.Default()
	}
	return &MinimalFrame{width: width, height: height, workDir: workDir, logger: logger}
}

func (m *MinimalFrame) Name() string { return "imaging-frame" }

func (m *MinimalFrame) Do(ctx context.Context, req schema.TaskRequest) (schema.TaskResponse, error) {
	return handle(ctx, req, func(_ context.Context, p task.CompilePayload) (task.CompileResult, error) {
		paths, err := imagePaths(p.Images)
		if err != nil {
			return task.CompileResult{}, err
		}
		dir, err := runDir(m.workDir, req)
		if err != nil {
			return task.CompileResult{}, err
		}
		out := filepath.Join(dir, "frame.jpg")
		used, err := img.RepresentativeFrame(paths, out, m.width, m.height)
		if err != nil {
			return task.CompileResult{}, err
		}
		m.logger.Info("rendered representative frame", "job_id", req.JobID, "run_id", req.RunID, "source", used)
		return task.CompileResult{URI: FileURI(out), Format: "jpg", Width: m.width, Height: m.height}, nil
	})
}
