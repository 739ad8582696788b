// Package task defines the closed set of production tasks, the payload each
// task receives, the document mutations each result produces, and the
// invoker that isolates worker failures.
//
// Every task ID must have an entry in both the payload table and the merge
// table; the package refuses to initialise otherwise.
package task

import (
	"fmt"

	"github.com/tendant/simple-production/internal/document"
)

// ID identifies a task. The set is closed: only the constants below are valid.
type ID string

const (
	WriteScript       ID = "script.write"
	PlanScenes        ID = "scenes.plan"
	SynthesizeVoice   ID = "voice.synthesize"
	RenderImages      ID = "images.render"
	GenerateThumbnail ID = "thumbnail.generate"
	Compile           ID = "video.compile"
	Distribute        ID = "distribute.publish"
)

var all = []ID{
	WriteScript,
	PlanScenes,
	SynthesizeVoice,
	RenderImages,
	GenerateThumbnail,
	Compile,
	Distribute,
}

// All returns every task ID in pipeline order.
func All() []ID {
	out := make([]ID, len(all))
	copy(out, all)
	return out
}

func (id ID) String() string { return string(id) }

// Valid reports whether id is one of the known tasks.
func (id ID) Valid() bool {
	for _, known := range all {
		if id == known {
			return true
		}
	}
	return false
}

// Parse converts a string into a known task ID.
func Parse(s string) (ID, error) {
	id := ID(s)
	if !id.Valid() {
		return "", fmt.Errorf("unknown task %q", s)
	}
	return id, nil
}

// Writes returns the content slots the task's merge rule is allowed to write.
func Writes(id ID) []document.Slot {
	rule, ok := mergeRules[id]
	if !ok {
		return nil
	}
	out := make([]document.Slot, len(rule.writes))
	copy(out, rule.writes)
	return out
}

func init() {
	for _, id := range all {
		if _, ok := payloadBuilders[id]; !ok {
			panic(fmt.Sprintf("task: no payload builder for %s", id))
		}
		if _, ok := mergeRules[id]; !ok {
			panic(fmt.Sprintf("task: no merge rule for %s", id))
		}
		if _, ok := resultSchemas[id]; !ok {
			panic(fmt.Sprintf("task: no result schema for %s", id))
		}
	}
}
