package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tendant/simple-production/internal/task"
)

func TestDefaultDefinitionIsValid(t *testing.T) {
	def := DefaultDefinition()
	if err := def.Validate(); err != nil {
		t.Fatalf("default definition invalid: %v", err)
	}
	seen := map[task.ID]bool{}
	for _, p := range def.Phases {
		for _, id := range p.Tasks {
			seen[id] = true
		}
	}
	if len(seen) != len(task.All()) {
		t.Fatalf("default definition covers %d of %d tasks", len(seen), len(task.All()))
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"no name", Definition{Phases: []Phase{{Name: "a", Tasks: []task.ID{task.WriteScript}}}}, "name is required"},
		{"no phases", Definition{Name: "p"}, "no phases"},
		{"empty phase", Definition{Name: "p", Phases: []Phase{{Name: "a"}}}, "no tasks"},
		{"duplicate phase", Definition{Name: "p", Phases: []Phase{
			{Name: "a", Tasks: []task.ID{task.WriteScript}},
			{Name: "a", Tasks: []task.ID{task.PlanScenes}},
		}}, "duplicate phase"},
		{"unknown task", Definition{Name: "p", Phases: []Phase{{Name: "a", Tasks: []task.ID{"video.explode"}}}}, "unknown task"},
		{"task twice", Definition{Name: "p", Phases: []Phase{
			{Name: "a", Tasks: []task.ID{task.WriteScript}},
			{Name: "b", Tasks: []task.ID{task.WriteScript}},
		}}, "already configured"},
		{"bad mode", Definition{Name: "p", Phases: []Phase{{Name: "a", Mode: "batch", Tasks: []task.ID{task.WriteScript}}}}, "unknown mode"},
		{"compile outside fallback", Definition{Name: "p", Phases: []Phase{{Name: "a", Tasks: []task.ID{task.Compile}}}}, "fallback phase"},
		{"fallback with extra task", Definition{Name: "p", Phases: []Phase{
			{Name: "a", Fallback: true, Tasks: []task.ID{task.Compile, task.Distribute}},
		}}, "exactly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.def.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateDefaultsToSequential(t *testing.T) {
	def := Definition{Name: "p", Phases: []Phase{{Name: "a", Tasks: []task.ID{task.WriteScript}}}}
	if err := def.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if def.Phases[0].Mode != ModeSequential {
		t.Fatalf("mode = %q", def.Phases[0].Mode)
	}
}

const catalogYAML = `
default: short
pipelines:
  - name: short
    phases:
      - name: writing
        tasks: [script.write]
        critical: true
      - name: planning
        tasks: [scenes.plan, voice.synthesize]
        mode: parallel
        timeout: 45s
  - name: episode
    phases:
      - name: writing
        tasks: [script.write]
      - name: compilation
        tasks: [video.compile]
        fallback: true
`

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	def, err := c.Get("")
	if err != nil || def.Name != "short" {
		t.Fatalf("default = %q, %v", def.Name, err)
	}
	planning, ok := def.Phase("planning")
	if !ok {
		t.Fatal("planning phase missing")
	}
	if planning.Mode != ModeParallel || planning.Timeout != 45*time.Second || len(planning.Tasks) != 2 {
		t.Fatalf("unexpected planning phase %+v", planning)
	}
	if writing, _ := def.Phase("writing"); !writing.Critical || writing.Mode != ModeSequential {
		t.Fatalf("unexpected writing phase %+v", writing)
	}
	if _, err := c.Get("episode"); err != nil {
		t.Fatalf("Get(episode): %v", err)
	}
	if _, err := c.Get("missing"); err == nil {
		t.Fatal("expected error for unknown pipeline")
	}
}

func TestParseCatalogRejectsUnknownKeys(t *testing.T) {
	_, err := ParseCatalog([]byte("pipelines:\n  - name: p\n    stages: []\n"))
	if err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestLoadCatalogEmptyPathUsesDefault(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if def, _ := c.Get(""); def.Name != DefaultDefinition().Name {
		t.Fatalf("default = %q", def.Name)
	}
}
