// Package inmem provides an in-process Checkpointer, grounded on the same
// mutex-guarded map-of-slices shape as session/inmem.Store, for tests and
// embedded (non-Temporal) runs.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/estatecopilot/runtime/runtime/checkpoint"
)

// Store implements checkpoint.Store entirely in memory.
type Store struct {
	mu           sync.RWMutex
	byID         map[string]checkpoint.Checkpoint
	bySessionSeq map[string][]string // sessionID -> checkpoint ids, oldest first
}

// New returns an empty in-memory checkpoint store.
func New() *Store {
	return &Store{
		byID:         make(map[string]checkpoint.Checkpoint),
		bySessionSeq: make(map[string][]string),
	}
}

// Write implements checkpoint.Store.
func (s *Store) Write(ctx context.Context, state checkpoint.RunState) (string, error) {
	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now()
	}
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[id] = checkpoint.Checkpoint{ID: id, RunState: state}
	s.bySessionSeq[state.SessionID] = append(s.bySessionSeq[state.SessionID], id)
	return id, nil
}

// Latest implements checkpoint.Store.
func (s *Store) Latest(ctx context.Context, sessionID string) (checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.bySessionSeq[sessionID]
	if len(ids) == 0 {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return s.byID[ids[len(ids)-1]], nil
}

// Get implements checkpoint.Store.
func (s *Store) Get(ctx context.Context, checkpointID string) (checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.byID[checkpointID]
	if !ok {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return cp, nil
}

// Fork implements checkpoint.Store: it copies the source checkpoint's
// RunState into a new checkpoint, appended to the same session's sequence,
// so Latest immediately reflects the fork.
func (s *Store) Fork(ctx context.Context, checkpointID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.byID[checkpointID]
	if !ok {
		return "", checkpoint.ErrNotFound
	}

	id := uuid.NewString()
	forked := checkpoint.Checkpoint{
		ID:         id,
		RunState:   src.RunState,
		ForkedFrom: checkpointID,
	}
	forked.RunState.CreatedAt = time.Now()

	s.byID[id] = forked
	s.bySessionSeq[src.RunState.SessionID] = append(s.bySessionSeq[src.RunState.SessionID], id)
	return id, nil
}

var _ checkpoint.Store = (*Store)(nil)
