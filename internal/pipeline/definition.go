package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tendant/simple-production/internal/document"
	"github.com/tendant/simple-production/internal/task"
)

// Mode selects how the tasks of a phase are dispatched.
type Mode string

const (
	// ModeParallel dispatches every task at once; each task sees the
	// document as it was when the phase began.
	ModeParallel Mode = "parallel"

	// ModeSequential runs tasks in declared order; each task sees the
	// mutations of the tasks before it in the same phase.
	ModeSequential Mode = "sequential"
)

// Phase describes one stage of a pipeline.
type Phase struct {
	Name     string        `yaml:"name"`
	Tasks    []task.ID     `yaml:"tasks"`
	Mode     Mode          `yaml:"mode"`
	Critical bool          `yaml:"critical"`
	Fallback bool          `yaml:"fallback"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Definition is an ordered list of phases. Phase order is the only global
// sequencing guarantee of a run.
type Definition struct {
	Name   string  `yaml:"name"`
	Phases []Phase `yaml:"phases"`
}

// Validate checks the definition and fills in the default mode.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return errors.New("pipeline name is required")
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("pipeline %s: no phases", d.Name)
	}

	phaseNames := make(map[string]bool, len(d.Phases))
	taskPhase := make(map[task.ID]string)
	slotOwner := make(map[document.Slot]task.ID)
	fallbackPhases := 0

	for i := range d.Phases {
		p := &d.Phases[i]
		if p.Name == "" {
			return fmt.Errorf("pipeline %s: phase %d has no name", d.Name, i)
		}
		if phaseNames[p.Name] {
			return fmt.Errorf("pipeline %s: duplicate phase %q", d.Name, p.Name)
		}
		phaseNames[p.Name] = true

		switch p.Mode {
		case "":
			p.Mode = ModeSequential
		case ModeParallel, ModeSequential:
		default:
			return fmt.Errorf("phase %s: unknown mode %q", p.Name, p.Mode)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("phase %s: negative timeout", p.Name)
		}
		if len(p.Tasks) == 0 {
			return fmt.Errorf("phase %s: no tasks", p.Name)
		}

		for _, id := range p.Tasks {
			if !id.Valid() {
				return fmt.Errorf("phase %s: unknown task %q", p.Name, id)
			}
			if prev, ok := taskPhase[id]; ok {
				return fmt.Errorf("phase %s: task %s already configured in phase %s", p.Name, id, prev)
			}
			taskPhase[id] = p.Name
			for _, slot := range task.Writes(id) {
				if owner, ok := slotOwner[slot]; ok {
					return fmt.Errorf("phase %s: slot %s owned by both %s and %s", p.Name, slot, owner, id)
				}
				slotOwner[slot] = id
			}
			if id == task.Compile && !p.Fallback {
				return fmt.Errorf("phase %s: %s must run in the fallback phase", p.Name, id)
			}
		}

		if p.Fallback {
			fallbackPhases++
			if len(p.Tasks) != 1 || p.Tasks[0] != task.Compile {
				return fmt.Errorf("phase %s: fallback phase must hold exactly %s", p.Name, task.Compile)
			}
		}
	}
	if fallbackPhases > 1 {
		return fmt.Errorf("pipeline %s: more than one fallback phase", d.Name)
	}
	return nil
}

// Phase returns the named phase.
func (d Definition) Phase(name string) (Phase, bool) {
	for _, p := range d.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return Phase{}, false
}

// DefaultDefinition is the standard episode pipeline.
func DefaultDefinition() Definition {
	return Definition{
		Name: "episode",
		Phases: []Phase{
			{Name: "writing", Tasks: []task.ID{task.WriteScript}, Mode: ModeSequential, Critical: true},
			{Name: "planning", Tasks: []task.ID{task.PlanScenes}, Mode: ModeSequential, Critical: true},
			{Name: "assets", Tasks: []task.ID{task.SynthesizeVoice, task.RenderImages}, Mode: ModeParallel},
			{Name: "compilation", Tasks: []task.ID{task.Compile}, Mode: ModeSequential, Fallback: true},
			{Name: "publishing", Tasks: []task.ID{task.GenerateThumbnail, task.Distribute}, Mode: ModeParallel},
		},
	}
}

// Catalog holds named pipeline definitions.
type Catalog struct {
	defs        map[string]Definition
	defaultName string
}

type catalogFile struct {
	Default   string       `yaml:"default"`
	Pipelines []Definition `yaml:"pipelines"`
}

// NewCatalog validates and indexes definitions. The first definition is the
// default unless defaultName is set.
func NewCatalog(defaultName string, defs ...Definition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, errors.New("catalog: no pipelines")
	}
	c := &Catalog{defs: make(map[string]Definition, len(defs)), defaultName: defaultName}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.defs[d.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate pipeline %q", d.Name)
		}
		c.defs[d.Name] = d
	}
	if c.defaultName == "" {
		c.defaultName = defs[0].Name
	}
	if _, ok := c.defs[c.defaultName]; !ok {
		return nil, fmt.Errorf("catalog: default pipeline %q not defined", c.defaultName)
	}
	return c, nil
}

// DefaultCatalog holds only DefaultDefinition.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog("", DefaultDefinition())
	if err != nil {
		panic(err)
	}
	return c
}

// Get returns the named definition; an empty name selects the default.
func (c *Catalog) Get(name string) (Definition, error) {
	if name == "" {
		name = c.defaultName
	}
	d, ok := c.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("unknown pipeline %q", name)
	}
	return d, nil
}

// ParseCatalog decodes a YAML catalog. Unknown keys are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode pipelines: %w", err)
	}
	return NewCatalog(f.Default, f.Pipelines...)
}

// LoadCatalog reads a YAML catalog from path. An empty path yields the
// default catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipelines %s: %w", path, err)
	}
	return ParseCatalog(data)
}
