// Package status serves the node's health to HTTP and gRPC probes. The run
// loop pushes a snapshot after every iteration; handlers only read snapshots.
package status

import (
	"sync"

	"github.com/LeonardoBeccarini/sdcc_node/internal/model"
)

// Store holds the latest snapshot.
type Store struct {
	mu   sync.RWMutex
	snap model.Snapshot
	set  bool
}

func NewStore() *Store { return &Store{} }

func (s *Store) Update(snap model.Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.set = true
	s.mu.Unlock()
}

// Latest returns the last snapshot and whether one was ever stored.
func (s *Store) Latest() (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap, s.set
}
