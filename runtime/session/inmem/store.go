// Package inmem provides an in-memory implementation of session.Store, used
// for tests and local development. Production deployments use
// store/postgres instead.
package inmem

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/estatecopilot/runtime/runtime/session"
)

// Store is an in-memory, concurrency-safe implementation of session.Store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	runs     map[string]session.RunMeta
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions: make(map[string]session.Session),
		runs:     make(map[string]session.RunMeta),
	}
}

// CreateSession implements session.Store.
func (s *Store) CreateSession(_ context.Context, id, userID string, now, expiresAt time.Time) (session.Session, error) {
	if id == "" {
		return session.Session{}, errors.New("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[id]; ok {
		if existing.Status == session.StatusEnded {
			return session.Session{}, session.ErrSessionEnded
		}
		return existing, nil
	}

	out := session.Session{
		ID:           id,
		UserID:       userID,
		Status:       session.StatusActive,
		CreatedAt:    now.UTC(),
		ExpiresAt:    expiresAt.UTC(),
		LastActivity: now.UTC(),
	}
	s.sessions[id] = out
	return out, nil
}

// LoadSession implements session.Store.
func (s *Store) LoadSession(_ context.Context, id string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	existing, ok := s.sessions[id]
	if !ok || existing.Expired(time.Now()) {
		return session.Session{}, session.ErrSessionNotFound
	}
	return existing, nil
}

// TouchSession implements session.Store.
func (s *Store) TouchSession(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[id]
	if !ok {
		return session.ErrSessionNotFound
	}
	existing.LastActivity = at.UTC()
	s.sessions[id] = existing
	return nil
}

// EndSession implements session.Store.
func (s *Store) EndSession(_ context.Context, id string, endedAt time.Time) (session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.sessions[id]
	if !ok {
		return session.Session{}, session.ErrSessionNotFound
	}
	if existing.Status == session.StatusEnded {
		return existing, nil
	}
	at := endedAt.UTC()
	existing.Status = session.StatusEnded
	existing.EndedAt = &at
	s.sessions[id] = existing
	return existing, nil
}

// UpsertRun implements session.Store.
func (s *Store) UpsertRun(_ context.Context, run session.RunMeta) error {
	if run.RunID == "" {
		return errors.New("run id is required")
	}
	if run.SessionID == "" {
		return errors.New("session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	existing, ok := s.runs[run.RunID]
	if ok && !existing.StartedAt.IsZero() {
		if run.StartedAt.IsZero() {
			run.StartedAt = existing.StartedAt
		}
	} else if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now
	s.runs[run.RunID] = cloneRun(run)
	return nil
}

// LoadRun implements session.Store.
func (s *Store) LoadRun(_ context.Context, runID string) (session.RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return session.RunMeta{}, session.ErrRunNotFound
	}
	return cloneRun(run), nil
}

// ListRunsBySession implements session.Store, ordered most-recently-updated
// first.
func (s *Store) ListRunsBySession(_ context.Context, sessionID string, limit int) ([]session.RunMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []session.RunMeta
	for _, run := range s.runs {
		if run.SessionID == sessionID {
			out = append(out, cloneRun(run))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListSessionsByUser implements session.Store, ordered by most recent
// activity descending, excluding excludeSessionID (§4.4 step 1).
func (s *Store) ListSessionsByUser(_ context.Context, userID, excludeSessionID string, limit int) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []session.Session
	for _, sess := range s.sessions {
		if sess.UserID != userID {
			continue
		}
		if sess.ID == excludeSessionID {
			continue
		}
		out = append(out, sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneRun(in session.RunMeta) session.RunMeta {
	out := in
	if len(in.Labels) > 0 {
		out.Labels = make(map[string]string, len(in.Labels))
		for k, v := range in.Labels {
			out.Labels[k] = v
		}
	}
	if len(in.Metadata) > 0 {
		out.Metadata = make(map[string]any, len(in.Metadata))
		for k, v := range in.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

var _ session.Store = (*Store)(nil)
