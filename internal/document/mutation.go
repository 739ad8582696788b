package document

import (
	"encoding/json"
	"fmt"
)

// Op is the kind of change a Mutation describes.
type Op string

const (
	OpSetContent   Op = "set_content"
	OpClearContent Op = "clear_content"
	OpSetMetadata  Op = "set_metadata"
)

// Mutation is a field-level change to a document. Merge rules describe
// mutations; only the phase runner applies them.
type Mutation struct {
	Op    Op              `json:"op"`
	Slot  Slot            `json:"slot,omitempty"`
	Key   string          `json:"key,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

func SetContent(slot Slot, value json.RawMessage) Mutation {
	return Mutation{Op: OpSetContent, Slot: slot, Value: cloneRaw(value)}
}

func ClearContent(slot Slot) Mutation {
	return Mutation{Op: OpClearContent, Slot: slot}
}

func SetMetadata(key string, value json.RawMessage) Mutation {
	return Mutation{Op: OpSetMetadata, Key: key, Value: cloneRaw(value)}
}

// SetMetadataJSON marshals v and returns a metadata mutation.
func SetMetadataJSON(key string, v any) (Mutation, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Mutation{}, fmt.Errorf("marshal metadata %s: %w", key, err)
	}
	return SetMetadata(key, b), nil
}

// Apply returns a new document with the mutations applied in order. The
// receiver is not modified.
func (d Document) Apply(muts ...Mutation) Document {
	out := d.Clone()
	for _, m := range muts {
		switch m.Op {
		case OpSetContent:
			out.Content[m.Slot] = cloneRaw(m.Value)
		case OpClearContent:
			delete(out.Content, m.Slot)
		case OpSetMetadata:
			out.Metadata[m.Key] = cloneRaw(m.Value)
		}
	}
	return out
}
