// Package document holds the job document threaded through a production
// pipeline run, the mutations that phases apply to it, and the stores that
// persist it between phases.
package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a job document.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether a run ending in this status is finished.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Slot names a content field of the document.
type Slot string

const (
	SlotBrief            Slot = "brief"
	SlotScript           Slot = "script"
	SlotScenes           Slot = "scenes"
	SlotAudio            Slot = "audio"
	SlotImages           Slot = "images"
	SlotThumbnails       Slot = "thumbnails"
	SlotCompiledOutput   Slot = "compiledOutput"
	SlotCompilationError Slot = "compilationError"
	SlotDistribution     Slot = "distribution"
)

// Metadata keys written by the orchestrator and phase runner.
const (
	MetaRunID            = "runId"
	MetaExecutionLedger  = "executionLedger"
	MetaLedgerSummary    = "ledgerSummary"
	MetaFallbackTier     = "fallbackTier"
	MetaFallbackAttempts = "fallbackAttempts"
	MetaMergeErrors      = "mergeErrors"
)

// TaskMetaKey is the metadata key holding a task's raw result for one run.
func TaskMetaKey(taskID string) string {
	return "task." + taskID
}

var ErrNotFound = errors.New("document not found")

// Document is the job record. It is treated as a value: Apply and Clone
// return new documents and never share maps with the receiver.
type Document struct {
	ID        string                     `json:"id"`
	Status    Status                     `json:"status"`
	Content   map[Slot]json.RawMessage   `json:"content"`
	Metadata  map[string]json.RawMessage `json:"metadata"`
	UpdatedAt time.Time                  `json:"updated_at"`
}

// New returns a queued document with empty content and metadata.
func New(id string) Document {
	return Document{
		ID:       id,
		Status:   StatusQueued,
		Content:  map[Slot]json.RawMessage{},
		Metadata: map[string]json.RawMessage{},
	}
}

// Clone deep-copies the document.
func (d Document) Clone() Document {
	out := d
	out.Content = make(map[Slot]json.RawMessage, len(d.Content))
	for k, v := range d.Content {
		out.Content[k] = cloneRaw(v)
	}
	out.Metadata = make(map[string]json.RawMessage, len(d.Metadata))
	for k, v := range d.Metadata {
		out.Metadata[k] = cloneRaw(v)
	}
	return out
}

// Slot returns the raw value of a content slot. Empty and JSON null values
// count as absent.
func (d Document) Slot(s Slot) (json.RawMessage, bool) {
	v, ok := d.Content[s]
	if !ok || isEmpty(v) {
		return nil, false
	}
	return v, true
}

// DecodeSlot unmarshals a content slot into v. It returns false when the
// slot is absent.
func (d Document) DecodeSlot(s Slot, v any) (bool, error) {
	raw, ok := d.Slot(s)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, err
	}
	return true, nil
}

// Meta returns a metadata value.
func (d Document) Meta(key string) (json.RawMessage, bool) {
	v, ok := d.Metadata[key]
	if !ok || isEmpty(v) {
		return nil, false
	}
	return v, true
}

// WithStatus returns a copy with the status changed.
func (d Document) WithStatus(s Status) Document {
	out := d.Clone()
	out.Status = s
	return out
}

// ContentEqual reports whether two documents hold byte-equal content slots.
func ContentEqual(a, b Document) bool {
	if len(a.Content) != len(b.Content) {
		return false
	}
	for k, v := range a.Content {
		w, ok := b.Content[k]
		if !ok || !bytes.Equal(v, w) {
			return false
		}
	}
	return true
}

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	out := make(json.RawMessage, len(v))
	copy(out, v)
	return out
}

func isEmpty(v json.RawMessage) bool {
	t := bytes.TrimSpace(v)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
