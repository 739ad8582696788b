package task

import (
	"encoding/json"
	"fmt"

	"github.com/tendant/simple-production/internal/document"
)

// MergeError is a merge-level failure: the task is unknown to the merge
// table or its result does not fit the slot it owns. It is distinct from a
// worker failure so schema drift can be told apart from worker outages.
type MergeError struct {
	TaskID ID
	Err    error
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge %s: %v", e.TaskID, e.Err)
}

func (e *MergeError) Unwrap() error { return e.Err }

type mergeRule struct {
	writes []document.Slot
	merge  func(result validator, doc document.Document) ([]document.Mutation, error)
}

// setSlot writes the canonical encoding of the decoded result, so equal
// results always produce byte-equal slots.
func setSlot(slot document.Slot) func(validator, document.Document) ([]document.Mutation, error) {
	return func(result validator, _ document.Document) ([]document.Mutation, error) {
		b, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		return []document.Mutation{document.SetContent(slot, b)}, nil
	}
}

var mergeRules = map[ID]mergeRule{
	WriteScript: {
		writes: []document.Slot{document.SlotScript},
		merge:  setSlot(document.SlotScript),
	},
	PlanScenes: {
		writes: []document.Slot{document.SlotScenes},
		merge: func(result validator, doc document.Document) ([]document.Mutation, error) {
			r := result.(*ScenesResult)
			return setSlot(document.SlotScenes)(&ScenesResult{Scenes: sortedScenes(r.Scenes)}, doc)
		},
	},
	SynthesizeVoice: {
		writes: []document.Slot{document.SlotAudio},
		merge:  setSlot(document.SlotAudio),
	},
	RenderImages: {
		writes: []document.Slot{document.SlotImages},
		merge: func(result validator, doc document.Document) ([]document.Mutation, error) {
			r := result.(*ImagesResult)
			return setSlot(document.SlotImages)(&ImagesResult{Images: sortedImages(r.Images)}, doc)
		},
	},
	GenerateThumbnail: {
		writes: []document.Slot{document.SlotThumbnails},
		merge:  setSlot(document.SlotThumbnails),
	},
	Compile: {
		writes: []document.Slot{document.SlotCompiledOutput, document.SlotCompilationError},
		merge: func(result validator, doc document.Document) ([]document.Mutation, error) {
			muts, err := setSlot(document.SlotCompiledOutput)(result, doc)
			if err != nil {
				return nil, err
			}
			if _, ok := doc.Slot(document.SlotCompilationError); ok {
				muts = append(muts, document.ClearContent(document.SlotCompilationError))
			}
			return muts, nil
		},
	},
	Distribute: {
		writes: []document.Slot{document.SlotDistribution},
		merge:  setSlot(document.SlotDistribution),
	},
}

// Merge maps a task result onto the document mutations the task is
// authorised to make. It is pure: it neither reads nor writes anything but
// its arguments, and equal inputs give equal mutation sets.
func Merge(id ID, result json.RawMessage, doc document.Document) ([]document.Mutation, error) {
	rule, ok := mergeRules[id]
	if !ok {
		return nil, &MergeError{TaskID: id, Err: fmt.Errorf("no merge rule")}
	}
	decoded, err := decodeResult(id, result)
	if err != nil {
		return nil, &MergeError{TaskID: id, Err: err}
	}
	muts, err := rule.merge(decoded, doc)
	if err != nil {
		return nil, &MergeError{TaskID: id, Err: err}
	}
	for _, m := range muts {
		if m.Op == document.OpSetMetadata {
			continue
		}
		if !owns(rule.writes, m.Slot) {
			return nil, &MergeError{TaskID: id, Err: fmt.Errorf("slot %s is not owned by this task", m.Slot)}
		}
	}
	return muts, nil
}

// CompilationError builds the mutation recording that compilation produced
// no artifact.
func CompilationError(message string) document.Mutation {
	b, _ := json.Marshal(message)
	return document.SetContent(document.SlotCompilationError, b)
}

func owns(slots []document.Slot, s document.Slot) bool {
	for _, o := range slots {
		if o == s {
			return true
		}
	}
	return false
}
