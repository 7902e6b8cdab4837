package status

import (
	"sync"
	"time"

	"github.com/obsidianstack/gpuburn/pkg/types"
)

// Store holds the most recent snapshot published by the supervisor.
// It is safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	snap      types.Snapshot
	updatedAt time.Time
	ok        bool
	now       func() time.Time // injectable for deterministic tests
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{now: time.Now}
}

// Put replaces the stored snapshot with a copy of snap.
func (s *Store) Put(snap types.Snapshot) {
	c := snap.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = c
	s.updatedAt = s.now()
	s.ok = true
}

// Latest returns the stored snapshot, the time it was stored, and whether
// any snapshot has been stored yet. The returned value may be modified by
// the caller.
func (s *Store) Latest() (types.Snapshot, time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.ok {
		return types.Snapshot{}, time.Time{}, false
	}
	return s.snap.Clone(), s.updatedAt, true
}
