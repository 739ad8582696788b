// Package converters wraps the ffmpeg and ffprobe command lines used to
// assemble scene stills and narration into a compiled video.
package converters

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandResult is the captured output of one process.
type CommandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner abstracts process execution for testability.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandResult, error)
}

// ExecRunner executes commands via os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		return res, err
	}
	return res, nil
}

// FileInfo contains metadata about a media file
type FileInfo struct {
	Width    int     // Width in pixels
	Height   int     // Height in pixels
	Duration float64 // Duration in seconds
	Size     int64   // File size in bytes
}

// Profile is one encoding quality level.
type Profile struct {
	Name         string
	Width        int
	Height       int
	FPS          int
	CRF          int    // x264 constant rate factor (lower is better)
	Preset       string // x264 preset
	AudioBitrate string
}

// PrimaryProfile is full-quality output.
func PrimaryProfile(width, height int) Profile {
	return Profile{Name: "primary", Width: width, Height: height, FPS: 30, CRF: 20, Preset: "medium", AudioBitrate: "192k"}
}

// DegradedProfile trades quality for a cheaper, more forgiving encode.
func DegradedProfile(width, height int) Profile {
	return Profile{Name: "degraded", Width: width, Height: height, FPS: 24, CRF: 30, Preset: "veryfast", AudioBitrate: "96k"}
}

// Segment is one still shown for a fixed time.
type Segment struct {
	Image       string
	DurationSec float64
}
