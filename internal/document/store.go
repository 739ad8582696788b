package document

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store loads and saves job documents. Save is called at every phase
// boundary, not only at the end of a run.
type Store interface {
	Load(ctx context.Context, id string) (Document, error)
	Save(ctx context.Context, doc Document) error
}

// MemoryStore keeps documents in process. It stores clones so callers can
// never alias a stored document.
type MemoryStore struct {
	mu    sync.RWMutex
	docs  map[string]Document
	saves map[string]int
	now   func() time.Time
}

func NewMemoryStore(docs ...Document) *MemoryStore {
	s := &MemoryStore{
		docs:  make(map[string]Document),
		saves: make(map[string]int),
		now:   time.Now,
	}
	for _, d := range docs {
		s.docs[d.ID] = d.Clone()
	}
	return s
}

func (s *MemoryStore) Load(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc = doc.Clone()
	doc.UpdatedAt = s.now()
	s.docs[doc.ID] = doc
	s.saves[doc.ID]++
	return nil
}

// Saves returns how many times a document has been saved.
func (s *MemoryStore) Saves(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves[id]
}

// ListByStatus returns ids of documents in any of the given statuses,
// sorted, up to limit (0 = unlimited).
func (s *MemoryStore) ListByStatus(_ context.Context, statuses []Status, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[Status]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}
	var ids []string
	for id, d := range s.docs {
		if want[d.Status] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}
