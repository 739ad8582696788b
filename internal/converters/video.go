package converters

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpegConverter builds slideshow videos from stills with ffmpeg.
type FFmpegConverter struct {
	ffmpeg  string
	ffprobe string
	runner  Runner
}

type Option func(*FFmpegConverter)

// WithRunner replaces process execution, mainly for tests.
func WithRunner(r Runner) Option {
	return func(f *FFmpegConverter) { f.runner = r }
}

// WithBinaries overrides the ffmpeg and ffprobe paths.
func WithBinaries(ffmpeg, ffprobe string) Option {
	return func(f *FFmpegConverter) {
		if ffmpeg != "" {
			f.ffmpeg = ffmpeg
		}
		if ffprobe != "" {
			f.ffprobe = ffprobe
		}
	}
}

func NewFFmpegConverter(opts ...Option) *FFmpegConverter {
	f := &FFmpegConverter{ffmpeg: "ffmpeg", ffprobe: "ffprobe", runner: ExecRunner{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns the converter name
func (f *FFmpegConverter) Name() string {
	return "ffmpeg"
}

// Available reports whether ffmpeg can be found.
func (f *FFmpegConverter) Available() error {
	if _, ok := f.runner.(ExecRunner); !ok {
		return nil
	}
	if _, err := exec.LookPath(f.ffmpeg); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	return nil
}

// WriteConcatList writes an ffmpeg concat demuxer script. The last image is
// listed twice so its duration is honoured.
func WriteConcatList(path string, segments []Segment) error {
	if len(segments) == 0 {
		return errors.New("no segments")
	}
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, s := range segments {
		if s.DurationSec <= 0 {
			return fmt.Errorf("segment %s: duration must be positive", s.Image)
		}
		fmt.Fprintf(&b, "file '%s'\nduration %s\n", escapeConcat(s.Image), strconv.FormatFloat(s.DurationSec, 'f', 3, 64))
	}
	fmt.Fprintf(&b, "file '%s'\n", escapeConcat(segments[len(segments)-1].Image))
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func escapeConcat(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}

// CompileArgs returns the ffmpeg arguments for a slideshow with optional
// narration. Stills are scaled to fit and padded to the exact frame size.
func CompileArgs(listPath, audioPath, output string, p Profile) []string {
	vf := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,format=yuv420p",
		p.Width, p.Height, p.Width, p.Height)

	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "concat", "-safe", "0", "-i", listPath,
	}
	if audioPath != "" {
		args = append(args, "-i", audioPath)
	}
	args = append(args,
		"-vf", vf,
		"-r", strconv.Itoa(p.FPS),
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
	)
	if audioPath != "" {
		args = append(args, "-c:a", "aac", "-b:a", p.AudioBitrate, "-shortest")
	} else {
		args = append(args, "-an")
	}
	return append(args, "-movflags", "+faststart", "-y", output)
}

// Compile renders segments (and narration, if audioPath is set) to output.
func (f *FFmpegConverter) Compile(ctx context.Context, segments []Segment, audioPath, output string, p Profile) error {
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("profile %s: invalid size %dx%d", p.Name, p.Width, p.Height)
	}
	if err := f.Available(); err != nil {
		return err
	}

	list, err := os.CreateTemp("", "concat-*.txt")
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	listPath := list.Name()
	_ = list.Close()
	defer os.Remove(listPath)

	if err := WriteConcatList(listPath, segments); err != nil {
		return err
	}

	res, err := f.runner.Run(ctx, f.ffmpeg, CompileArgs(listPath, audioPath, output, p)...)
	if err != nil {
		return fmt.Errorf("ffmpeg failed (exit %d): %w\nOutput: %s", res.ExitCode, err, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// Probe returns metadata about the video file
func (f *FFmpegConverter) Probe(ctx context.Context, input string) (*FileInfo, error) {
	res, err := f.runner.Run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration,size",
		"-of", "default=noprint_wrappers=1",
		input,
	)
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w\nOutput: %s", err, strings.TrimSpace(res.Stderr))
	}
	return ParseProbe(res.Stdout), nil
}

// ParseProbe reads ffprobe key=value output.
func ParseProbe(output string) *FileInfo {
	info := &FileInfo{}
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "width":
			if w, err := strconv.Atoi(value); err == nil {
				info.Width = w
			}
		case "height":
			if h, err := strconv.Atoi(value); err == nil {
				info.Height = h
			}
		case "duration":
			if d, err := strconv.ParseFloat(value, 64); err == nil {
				info.Duration = d
			}
		case "size":
			if s, err := strconv.ParseInt(value, 10, 64); err == nil {
				info.Size = s
			}
		}
	}
	return info
}
