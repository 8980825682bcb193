package checkpoint

import (
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in memory. It records every save, which makes it useful for
// asserting checkpoint progression in tests and for dry runs.
type MemoryStore struct {
	mu      sync.Mutex
	current *Checkpoint
	history []Checkpoint
	// SaveErr, when set, is returned by every Save
	SaveErr error
}

func NewMemoryStore(initial *Checkpoint) *MemoryStore {
	s := &MemoryStore{}
	if initial != nil {
		cp := *initial
		s.current = &cp
	}
	return s
}

func (s *MemoryStore) Load() (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return &Checkpoint{Version: CurrentVersion}, nil
	}
	cp := *s.current
	return &cp, nil
}

func (s *MemoryStore) Save(cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	now := time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	saved := *cp
	s.current = &saved
	s.history = append(s.history, saved)
	return nil
}

// Saves returns every checkpoint saved so far, oldest first.
func (s *MemoryStore) Saves() []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Checkpoint, len(s.history))
	copy(out, s.history)
	return out
}
