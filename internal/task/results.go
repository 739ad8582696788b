package task

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Brief is the externally written request that seeds a job.
type Brief struct {
	Topic         string `json:"topic"`
	Audience      string `json:"audience,omitempty"`
	Tone          string `json:"tone,omitempty"`
	Voice         string `json:"voice,omitempty"`
	TargetSeconds int    `json:"target_seconds,omitempty"`
	ContentID     string `json:"content_id,omitempty"`
}

type ScriptResult struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

func (r ScriptResult) validate() error {
	if r.Text == "" {
		return errors.New("text is required")
	}
	return nil
}

type Scene struct {
	Index       int     `json:"index"`
	Description string  `json:"description"`
	Narration   string  `json:"narration,omitempty"`
	DurationSec float64 `json:"duration_sec"`
}

type ScenesResult struct {
	Scenes []Scene `json:"scenes"`
}

func (r ScenesResult) validate() error {
	if len(r.Scenes) == 0 {
		return errors.New("at least one scene is required")
	}
	seen := make(map[int]bool, len(r.Scenes))
	for _, s := range r.Scenes {
		if s.DurationSec <= 0 {
			return fmt.Errorf("scene %d: duration_sec must be positive", s.Index)
		}
		if seen[s.Index] {
			return fmt.Errorf("scene %d: duplicate index", s.Index)
		}
		seen[s.Index] = true
	}
	return nil
}

type AudioResult struct {
	URI         string  `json:"uri"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	Voice       string  `json:"voice,omitempty"`
}

func (r AudioResult) validate() error {
	if r.URI == "" {
		return errors.New("uri is required")
	}
	return nil
}

type ImageRef struct {
	SceneIndex int    `json:"scene_index"`
	URI        string `json:"uri"`
}

type ImagesResult struct {
	Images []ImageRef `json:"images"`
}

func (r ImagesResult) validate() error {
	if len(r.Images) == 0 {
		return errors.New("at least one image is required")
	}
	for i, img := range r.Images {
		if img.URI == "" {
			return fmt.Errorf("image %d: uri is required", i)
		}
	}
	return nil
}

type Thumbnail struct {
	Name   string `json:"name"`
	URI    string `json:"uri"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type ThumbnailsResult struct {
	Thumbnails []Thumbnail `json:"thumbnails"`
}

func (r ThumbnailsResult) validate() error {
	if len(r.Thumbnails) == 0 {
		return errors.New("at least one thumbnail is required")
	}
	for _, t := range r.Thumbnails {
		if t.URI == "" || t.Name == "" {
			return errors.New("thumbnail name and uri are required")
		}
	}
	return nil
}

type CompileResult struct {
	URI         string  `json:"uri"`
	Format      string  `json:"format"`
	Width       int     `json:"width,omitempty"`
	Height      int     `json:"height,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
}

func (r CompileResult) validate() error {
	if r.URI == "" {
		return errors.New("uri is required")
	}
	if r.Format == "" {
		return errors.New("format is required")
	}
	return nil
}

type DistributionResult struct {
	ContentID string `json:"content_id"`
	Variant   string `json:"variant"`
	URL       string `json:"url,omitempty"`
}

func (r DistributionResult) validate() error {
	if r.ContentID == "" {
		return errors.New("content_id is required")
	}
	return nil
}

type validator interface {
	validate() error
}

// resultSchemas returns a fresh value to strictly decode each task's result into.
var resultSchemas = map[ID]func() validator{
	WriteScript:       func() validator { return &ScriptResult{} },
	PlanScenes:        func() validator { return &ScenesResult{} },
	SynthesizeVoice:   func() validator { return &AudioResult{} },
	RenderImages:      func() validator { return &ImagesResult{} },
	GenerateThumbnail: func() validator { return &ThumbnailsResult{} },
	Compile:           func() validator { return &CompileResult{} },
	Distribute:        func() validator { return &DistributionResult{} },
}

// Validate strictly checks a raw worker result against the task's schema:
// unknown fields, trailing data and missing required fields are rejected.
func Validate(id ID, raw json.RawMessage) error {
	_, err := decodeResult(id, raw)
	return err
}

func decodeResult(id ID, raw json.RawMessage) (validator, error) {
	newResult, ok := resultSchemas[id]
	if !ok {
		return nil, fmt.Errorf("unknown task %q", id)
	}
	v := newResult()
	if err := decodeStrict(raw, v); err != nil {
		return nil, err
	}
	if err := v.validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return errors.New("empty result")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if dec.More() {
		return errors.New("decode: trailing data after result")
	}
	return nil
}
