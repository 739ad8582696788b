package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tendant/simple-production/internal/document"
)

type ScriptPayload struct {
	Brief Brief `json:"brief"`
}

type ScenesPayload struct {
	Title         string `json:"title"`
	Script        string `json:"script"`
	TargetSeconds int    `json:"target_seconds,omitempty"`
}

type VoicePayload struct {
	Title  string `json:"title"`
	Script string `json:"script"`
	Voice  string `json:"voice,omitempty"`
}

type ImagesPayload struct {
	Scenes []Scene `json:"scenes"`
	Tone   string  `json:"tone,omitempty"`
}

type ThumbnailPayload struct {
	Images []ImageRef `json:"images"`
}

type CompilePayload struct {
	Title    string     `json:"title"`
	Scenes   []Scene    `json:"scenes"`
	Images   []ImageRef `json:"images"`
	AudioURI string     `json:"audio_uri,omitempty"`
}

type DistributePayload struct {
	Title     string        `json:"title"`
	ContentID string        `json:"content_id"`
	Output    CompileResult `json:"output"`
}

// PayloadError means a task's input could not be built from the document,
// usually because an upstream slot is missing.
type PayloadError struct {
	TaskID ID
	Slot   document.Slot
	Err    error
}

func (e *PayloadError) Error() string {
	if e.Slot != "" {
		return fmt.Sprintf("build payload for %s: slot %s: %v", e.TaskID, e.Slot, e.Err)
	}
	return fmt.Sprintf("build payload for %s: %v", e.TaskID, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

var errMissingSlot = errors.New("required slot is empty")

type payloadBuilder func(doc document.Document) (any, error)

var payloadBuilders = map[ID]payloadBuilder{
	WriteScript: func(doc document.Document) (any, error) {
		brief, err := requireBrief(doc)
		if err != nil {
			return nil, err
		}
		if brief.Topic == "" {
			return nil, &PayloadError{Slot: document.SlotBrief, Err: errors.New("topic is required")}
		}
		return ScriptPayload{Brief: brief}, nil
	},
	PlanScenes: func(doc document.Document) (any, error) {
		var script ScriptResult
		if err := requireSlot(doc, document.SlotScript, &script); err != nil {
			return nil, err
		}
		brief, _ := optionalBrief(doc)
		return ScenesPayload{Title: script.Title, Script: script.Text, TargetSeconds: brief.TargetSeconds}, nil
	},
	SynthesizeVoice: func(doc document.Document) (any, error) {
		var script ScriptResult
		if err := requireSlot(doc, document.SlotScript, &script); err != nil {
			return nil, err
		}
		brief, _ := optionalBrief(doc)
		return VoicePayload{Title: script.Title, Script: narration(doc, script), Voice: brief.Voice}, nil
	},
	RenderImages: func(doc document.Document) (any, error) {
		var scenes ScenesResult
		if err := requireSlot(doc, document.SlotScenes, &scenes); err != nil {
			return nil, err
		}
		brief, _ := optionalBrief(doc)
		return ImagesPayload{Scenes: sortedScenes(scenes.Scenes), Tone: brief.Tone}, nil
	},
	GenerateThumbnail: func(doc document.Document) (any, error) {
		var images ImagesResult
		if err := requireSlot(doc, document.SlotImages, &images); err != nil {
			return nil, err
		}
		return ThumbnailPayload{Images: sortedImages(images.Images)}, nil
	},
	Compile: func(doc document.Document) (any, error) {
		var scenes ScenesResult
		if err := requireSlot(doc, document.SlotScenes, &scenes); err != nil {
			return nil, err
		}
		var images ImagesResult
		if err := requireSlot(doc, document.SlotImages, &images); err != nil {
			return nil, err
		}
		p := CompilePayload{
			Scenes: sortedScenes(scenes.Scenes),
			Images: sortedImages(images.Images),
		}
		var script ScriptResult
		if ok, _ := doc.DecodeSlot(document.SlotScript, &script); ok {
			p.Title = script.Title
		}
		var audio AudioResult
		if ok, _ := doc.DecodeSlot(document.SlotAudio, &audio); ok {
			p.AudioURI = audio.URI
		}
		return p, nil
	},
	Distribute: func(doc document.Document) (any, error) {
		var out CompileResult
		if err := requireSlot(doc, document.SlotCompiledOutput, &out); err != nil {
			return nil, err
		}
		brief, _ := optionalBrief(doc)
		p := DistributePayload{ContentID: brief.ContentID, Output: out}
		var script ScriptResult
		if ok, _ := doc.DecodeSlot(document.SlotScript, &script); ok {
			p.Title = script.Title
		}
		return p, nil
	},
}

// BuildPayload maps a task and the current document to the task's input.
func BuildPayload(id ID, doc document.Document) (json.RawMessage, error) {
	build, ok := payloadBuilders[id]
	if !ok {
		return nil, &PayloadError{TaskID: id, Err: errors.New("unknown task")}
	}
	p, err := build(doc)
	if err != nil {
		var pe *PayloadError
		if errors.As(err, &pe) {
			pe.TaskID = id
			return nil, pe
		}
		return nil, &PayloadError{TaskID: id, Err: err}
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, &PayloadError{TaskID: id, Err: err}
	}
	return b, nil
}

func requireSlot(doc document.Document, slot document.Slot, v any) error {
	found, err := doc.DecodeSlot(slot, v)
	if err != nil {
		return &PayloadError{Slot: slot, Err: err}
	}
	if !found {
		return &PayloadError{Slot: slot, Err: errMissingSlot}
	}
	return nil
}

func requireBrief(doc document.Document) (Brief, error) {
	var b Brief
	if err := requireSlot(doc, document.SlotBrief, &b); err != nil {
		return Brief{}, err
	}
	return b, nil
}

func optionalBrief(doc document.Document) (Brief, bool) {
	var b Brief
	ok, err := doc.DecodeSlot(document.SlotBrief, &b)
	return b, ok && err == nil
}

// narration prefers per-scene narration when scenes were planned before
// voicing; otherwise the full script text is read.
func narration(doc document.Document, script ScriptResult) string {
	var scenes ScenesResult
	if ok, err := doc.DecodeSlot(document.SlotScenes, &scenes); !ok || err != nil {
		return script.Text
	}
	var text string
	for _, s := range sortedScenes(scenes.Scenes) {
		if s.Narration == "" {
			continue
		}
		if text != "" {
			text += "\n\n"
		}
		text += s.Narration
	}
	if text == "" {
		return script.Text
	}
	return text
}

func sortedScenes(in []Scene) []Scene {
	out := make([]Scene, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func sortedImages(in []ImageRef) []ImageRef {
	out := make([]ImageRef, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SceneIndex < out[j].SceneIndex })
	return out
}
