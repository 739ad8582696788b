package document

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestApplyDoesNotAliasReceiver(t *testing.T) {
	base := New("job-1")
	base.Content[SlotBrief] = json.RawMessage(`{"topic":"tides"}`)

	next := base.Apply(
		SetContent(SlotScript, json.RawMessage(`{"text":"hello"}`)),
		SetMetadata("flag", json.RawMessage(`true`)),
	)

	if _, ok := base.Slot(SlotScript); ok {
		t.Fatal("receiver was mutated by Apply")
	}
	if _, ok := base.Meta("flag"); ok {
		t.Fatal("receiver metadata was mutated by Apply")
	}
	if got, _ := next.Slot(SlotScript); string(got) != `{"text":"hello"}` {
		t.Fatalf("unexpected script slot: %s", got)
	}

	next.Content[SlotBrief][2] = 'X'
	if string(base.Content[SlotBrief]) != `{"topic":"tides"}` {
		t.Fatalf("brief bytes shared between documents: %s", base.Content[SlotBrief])
	}
}

func TestApplyClearContent(t *testing.T) {
	doc := New("job-2").Apply(SetContent(SlotCompilationError, json.RawMessage(`"boom"`)))
	doc = doc.Apply(ClearContent(SlotCompilationError))
	if _, ok := doc.Slot(SlotCompilationError); ok {
		t.Fatal("compilation error slot not cleared")
	}
}

func TestSlotTreatsNullAsAbsent(t *testing.T) {
	doc := New("job-3")
	doc.Content[SlotAudio] = json.RawMessage(` null `)
	if _, ok := doc.Slot(SlotAudio); ok {
		t.Fatal("null slot reported as present")
	}

	var v map[string]any
	found, err := doc.DecodeSlot(SlotAudio, &v)
	if err != nil || found {
		t.Fatalf("DecodeSlot on null slot = %v, %v", found, err)
	}
}

func TestContentEqual(t *testing.T) {
	a := New("a").Apply(SetContent(SlotScript, json.RawMessage(`{"text":"x"}`)))
	b := New("b").Apply(SetContent(SlotScript, json.RawMessage(`{"text":"x"}`)))
	if !ContentEqual(a, b) {
		t.Fatal("expected equal content")
	}
	b = b.Apply(SetContent(SlotAudio, json.RawMessage(`{"uri":"a.wav"}`)))
	if ContentEqual(a, b) {
		t.Fatal("expected content to differ")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc := New("job-4").Apply(SetContent(SlotScript, json.RawMessage(`{"text":"a"}`)))
	if err := store.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	doc.Content[SlotScript] = json.RawMessage(`{"text":"mutated"}`)

	loaded, err := store.Load(ctx, "job-4")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got, _ := loaded.Slot(SlotScript); string(got) != `{"text":"a"}` {
		t.Fatalf("store aliased caller document: %s", got)
	}
	if loaded.UpdatedAt.IsZero() {
		t.Fatal("UpdatedAt not stamped on save")
	}
	if store.Saves("job-4") != 1 {
		t.Fatalf("unexpected save count %d", store.Saves("job-4"))
	}
}

func TestMemoryStoreListByStatus(t *testing.T) {
	queued := New("b")
	failed := New("a").WithStatus(StatusFailed)
	done := New("c").WithStatus(StatusCompleted)
	store := NewMemoryStore(queued, failed, done)

	ids, err := store.ListByStatus(context.Background(), []Status{StatusQueued, StatusFailed}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}

	ids, _ = store.ListByStatus(context.Background(), []Status{StatusQueued, StatusFailed}, 1)
	if len(ids) != 1 {
		t.Fatalf("limit not applied: %v", ids)
	}
}
