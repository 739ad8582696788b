package pipeline

import (
	"context"
	"reflect"
	"testing"

	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/task"
)

func compileReadyDoc(t *testing.T) document.Document {
	return withSlots(t, briefDoc(t, "job"), map[document.Slot]any{
		document.SlotScript: scriptResult,
		document.SlotScenes: scenesResult,
		document.SlotImages: imagesResult,
		document.SlotAudio:  audioResult,
	})
}

var compilePhase = Phase{Name: "compilation", Mode: ModeSequential, Fallback: true, Tasks: []task.ID{task.Compile}}

func TestEscalationStopsAtFirstSuccess(t *testing.T) {
	log := &callLog{}
	r := newRunner(standardWorkers(nil),
		TierWorker{Tier: TierPrimary, Worker: failWorker(log, "primary", "ffmpeg exited 1")},
		TierWorker{Tier: TierSecondary, Worker: okWorker(log, "secondary", degradedResult)},
		TierWorker{Tier: TierMinimal, Worker: okWorker(log, "minimal", minimalResult)},
	)

	out := r.RunPhase(context.Background(), "run-1", compileReadyDoc(t), compilePhase)
	if out.Exhausted || out.Tier != TierSecondary || len(out.Failed) != 0 {
		t.Fatalf("unexpected outcome tier=%s exhausted=%v failed=%v", out.Tier, out.Exhausted, out.Failed)
	}
	if got := log.names(); !reflect.DeepEqual(got, []string{"primary", "secondary"}) {
		t.Fatalf("tiers called %v", got)
	}

	var compiled task.CompileResult
	if ok, err := out.Document.DecodeSlot(document.SlotCompiledOutput, &compiled); !ok || err != nil {
		t.Fatalf("compiled output missing: %v", err)
	}
	if compiled.URI != degradedResult.URI {
		t.Fatalf("compiled output from wrong tier: %+v", compiled)
	}

	var tier Tier
	decodeMeta(t, out.Document, document.MetaFallbackTier, &tier)
	if tier != TierSecondary {
		t.Fatalf("fallbackTier = %s", tier)
	}
	var attempts []Attempt
	decodeMeta(t, out.Document, document.MetaFallbackAttempts, &attempts)
	if len(attempts) != 2 || attempts[0].Succeeded || !attempts[1].Succeeded || attempts[0].Error != "ffmpeg exited 1" {
		t.Fatalf("unexpected attempts %+v", attempts)
	}

	records := out.Ledger.Records()
	if len(records) != 1 || records[0].Tier != string(TierSecondary) {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestEscalationExhausted(t *testing.T) {
	r := newRunner(standardWorkers(nil),
		TierWorker{Tier: TierPrimary, Worker: failWorker(nil, "primary", "encoder missing")},
		TierWorker{Tier: TierSecondary, Worker: failWorker(nil, "secondary", "encoder missing")},
		TierWorker{Tier: TierMinimal, Worker: failWorker(nil, "minimal", "no images readable")},
	)

	out := r.RunPhase(context.Background(), "run-1", compileReadyDoc(t), compilePhase)
	if !out.Exhausted || out.Tier != TierNone {
		t.Fatalf("expected exhaustion, got tier=%s", out.Tier)
	}
	if _, ok := out.Document.Slot(document.SlotCompiledOutput); ok {
		t.Fatal("compiled output written after exhaustion")
	}
	var msg string
	if ok, _ := out.Document.DecodeSlot(document.SlotCompilationError, &msg); !ok || msg == "" {
		t.Fatal("compilation error not recorded")
	}
	var tier Tier
	decodeMeta(t, out.Document, document.MetaFallbackTier, &tier)
	if tier != TierNone {
		t.Fatalf("fallbackTier = %s", tier)
	}
	records := out.Ledger.Records()
	if len(records) != 1 || records[0].FailureKind != string(task.KindAllTiersExhausted) {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestSuccessfulCompileClearsEarlierError(t *testing.T) {
	r := newRunner(standardWorkers(nil))
	doc := compileReadyDoc(t).Apply(task.CompilationError("previous run failed"))

	out := r.RunPhase(context.Background(), "run-2", doc, compilePhase)
	if out.Exhausted || out.Tier != TierPrimary {
		t.Fatalf("unexpected outcome tier=%s", out.Tier)
	}
	if _, ok := out.Document.Slot(document.SlotCompilationError); ok {
		t.Fatal("stale compilation error kept")
	}
}

func TestCompileWithoutInputsSkipsTiers(t *testing.T) {
	log := &callLog{}
	r := newRunner(standardWorkers(nil), TierWorker{Tier: TierPrimary, Worker: okWorker(log, "primary", primaryResult)})

	out := r.RunPhase(context.Background(), "run-1", briefDoc(t, "job"), compilePhase)
	if !out.Exhausted {
		t.Fatal("expected exhaustion without scenes and images")
	}
	if len(log.names()) != 0 {
		t.Fatalf("tiers called without a payload: %v", log.names())
	}
}

func TestEscalatorDefaultsToRegisteredWorker(t *testing.T) {
	inv := task.NewInvoker(standardWorkers(nil), quietLogger())
	esc := NewEscalator(inv, quietLogger())
	tiers := esc.Tiers()
	if len(tiers) != 1 || tiers[0].Tier != TierPrimary || tiers[0].Worker.Name() != "compile" {
		t.Fatalf("unexpected tiers %+v", tiers)
	}
}
