package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Vigil/server/internal/vigil/store"
)

// RunStore keeps pipeline runs in memory. Used in dev and tests.
type RunStore struct {
	mu   sync.Mutex
	runs []store.RunRecord
}

func NewRunStore() *RunStore {
	return &RunStore{}
}

func (s *RunStore) RecordRun(_ context.Context, rec store.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	s.runs = append(s.runs, rec)
	return nil
}

func (s *RunStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.runs[:0]
	var n int64
	for _, r := range s.runs {
		if r.StartedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.runs = kept
	return n, nil
}

// Runs returns a copy of all recorded runs. Test-only helper.
func (s *RunStore) Runs() []store.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.RunRecord, len(s.runs))
	copy(out, s.runs)
	return out
}
