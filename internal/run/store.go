package run

import (
	"sort"
	"sync"

	"github.com/chainreview/core/internal/apperr"
)

// Store is the process-wide run_id -> Run mapping. Single-writer discipline:
// only the orchestrator owning a Run may mutate it through the Run's own
// methods; Store itself only ever inserts, looks up, lists, and deletes whole
// entries, which is safe under a plain RWMutex.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewStore constructs an empty run store.
func NewStore() *Store {
	return &Store{runs: make(map[string]*Run)}
}

// Put registers a newly created run. Panics on a colliding run_id, since
// run_id is generated by the orchestrator and must be process-wide unique.
func (s *Store) Put(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[r.ID]; exists {
		panic("run: duplicate run_id " + r.ID)
	}
	s.runs[r.ID] = r
}

// Get returns the run with the given id, or NoSuchRun.
func (s *Store) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, apperr.Wrap(apperr.NoSuchRun, "%s", id)
	}
	return r, nil
}

// List returns all runs ordered by StartedAt descending.
func (s *Store) List(limit int) []*Run {
	s.mu.RLock()
	out := make([]*Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Delete removes a run, freeing its storage. Subsequent Get calls against the
// same id fail with NoSuchRun.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[id]; !ok {
		return apperr.Wrap(apperr.NoSuchRun, "%s", id)
	}
	delete(s.runs, id)
	return nil
}
