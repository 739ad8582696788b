// Package ledger records what happened during one pipeline run: one record
// per attempted task, in the order the tasks resolved, plus one aggregate per
// phase in execution order. It holds no business logic.
package ledger

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/tendant/simple-production/pkg/schema"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusCrashed Status = "crashed"
)

// Record is one task invocation. Records are never modified after Record.
type Record struct {
	TaskID      string          `json:"task_id"`
	Phase       string          `json:"phase"`
	Status      Status          `json:"status"`
	Duration    time.Duration   `json:"duration_ns"`
	FailureKind string          `json:"failure_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Tier        string          `json:"tier,omitempty"`
}

func (r Record) Failed() bool { return r.Status != StatusSuccess }

// PhaseEntry aggregates one phase.
type PhaseEntry struct {
	Name     string        `json:"name"`
	Duration time.Duration `json:"duration_ns"`
	Tasks    int           `json:"tasks"`
	Failures int           `json:"failures"`
}

// Ledger is append-only and safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	records []Record
	phases  []PhaseEntry
}

func New() *Ledger {
	return &Ledger{}
}

// Record appends one task record.
func (l *Ledger) Record(rec Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Result != nil {
		rec.Result = append(json.RawMessage(nil), rec.Result...)
	}
	l.records = append(l.records, rec)
}

// RecordPhase appends a phase aggregate, counting the phase's task records
// already present.
func (l *Ledger) RecordPhase(name string, d time.Duration) PhaseEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := PhaseEntry{Name: name, Duration: d}
	for _, r := range l.records {
		if r.Phase != name {
			continue
		}
		entry.Tasks++
		if r.Failed() {
			entry.Failures++
		}
	}
	l.phases = append(l.phases, entry)
	return entry
}

// Append copies every record and phase of sub onto l, preserving order.
func (l *Ledger) Append(sub *Ledger) {
	if sub == nil || sub == l {
		return
	}
	records := sub.Records()
	phases := sub.Phases()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, records...)
	l.phases = append(l.phases, phases...)
}

func (l *Ledger) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

func (l *Ledger) Phases() []PhaseEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PhaseEntry, len(l.phases))
	copy(out, l.phases)
	return out
}

// Summary is the condensed view attached to run status and persisted on
// the job document.
type Summary struct {
	TotalDuration time.Duration `json:"total_duration_ns"`
	Phases        []PhaseEntry  `json:"phases"`
	TaskCount     int           `json:"task_count"`
	FailureCount  int           `json:"failure_count"`
	FailedPhase   string        `json:"failed_phase,omitempty"`
	FailedTask    string        `json:"failed_task,omitempty"`
}

// PerPhaseDurations returns phase durations keyed by phase name.
func (s Summary) PerPhaseDurations() map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.Phases))
	for _, p := range s.Phases {
		out[p.Name] = p.Duration
	}
	return out
}

// PhaseSummaries converts the phase aggregates to their wire form.
func (s Summary) PhaseSummaries() []schema.PhaseSummary {
	out := make([]schema.PhaseSummary, len(s.Phases))
	for i, p := range s.Phases {
		out[i] = schema.PhaseSummary{
			Name:       p.Name,
			DurationMs: p.Duration.Milliseconds(),
			Tasks:      p.Tasks,
			Failures:   p.Failures,
		}
	}
	return out
}

// Summary totals the ledger. FailedPhase and FailedTask name the first
// failure recorded, which is what a failed run reports.
func (l *Ledger) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Summary{
		Phases:    make([]PhaseEntry, len(l.phases)),
		TaskCount: len(l.records),
	}
	copy(s.Phases, l.phases)
	for _, p := range l.phases {
		s.TotalDuration += p.Duration
	}
	for _, r := range l.records {
		if !r.Failed() {
			continue
		}
		s.FailureCount++
		if s.FailedTask == "" {
			s.FailedPhase = r.Phase
			s.FailedTask = r.TaskID
		}
	}
	return s
}

// MarkFailure pins the phase and task that ended the run, overriding the
// first-failure default.
func (s *Summary) MarkFailure(phase, taskID string) {
	s.FailedPhase = phase
	s.FailedTask = taskID
}
