// Package session defines the durable Session and Run metadata contracts
// (§3 Session, Run). A Session is the first-class conversational container;
// every Run belongs to exactly one Session. Session lifecycle (create, touch,
// expire, end) is independent of a Run's in-flight execution state, which
// lives in the supervisor package and is checkpointed separately.
package session

import (
	"context"
	"errors"
	"time"
)

type (
	// Session captures durable session lifecycle state (§3 Session).
	Session struct {
		// ID is the opaque, caller-provided or server-generated session
		// identifier.
		ID string
		// UserID is optional; anonymous sessions leave it empty.
		UserID string
		// Status is the current lifecycle state.
		Status Status
		// CreatedAt records when the session was opened.
		CreatedAt time.Time
		// ExpiresAt is the wall-clock deadline after which the session is
		// treated as gone even if EndSession was never called explicitly.
		ExpiresAt time.Time
		// LastActivity is bumped on every inbound message and drives the
		// tiered memory service's "most recent activity" ordering (§4.4
		// step 1).
		LastActivity time.Time
		// EndedAt is set once EndSession completes.
		EndedAt *time.Time
	}

	// RunMeta is the persisted envelope around a Run (§3 Run): identity,
	// phase, and timestamps. The Run's full execution state tree (Plan,
	// ExecutionSteps, TeamResults) is the supervisor package's concern and
	// is checkpointed separately (C1); RunMeta is what session bootstrap
	// (§6.2) and memory session listing (§4.4 step 1) need without paying
	// for a full checkpoint load.
	RunMeta struct {
		// RunID is the run's unique identifier.
		RunID string
		// SessionID associates this run with its owning session.
		SessionID string
		// RequestSeq is the monotonically increasing request id within the
		// session (§3 Run: "a monotonically increasing request id").
		RequestSeq int64
		// Query is the user's natural-language input for this run.
		Query string
		// Phase is the current top-level supervisor phase.
		Phase Phase
		// StartedAt records when the run began.
		StartedAt time.Time
		// UpdatedAt records the last phase transition.
		UpdatedAt time.Time
		// Labels carries caller- or policy-provided tags.
		Labels map[string]string
		// Metadata carries implementation-specific details (error codes,
		// intent type, etc.).
		Metadata map[string]any
	}

	// Status is a Session's lifecycle state.
	Status string

	// Phase is a Run's top-level supervisor phase (§3 Run).
	Phase string

	// Store persists Session and RunMeta records. Implementations must be
	// durable: failures are surfaced so the supervisor can fail a run fast
	// rather than silently lose metadata (§5 "checkpoint store is
	// append-only per session").
	Store interface {
		// CreateSession creates (or idempotently returns) an active session.
		// Returns ErrSessionEnded if the session exists but is terminal.
		CreateSession(ctx context.Context, id, userID string, now, expiresAt time.Time) (Session, error)
		// LoadSession loads a session by id. Returns ErrSessionNotFound if
		// absent or past ExpiresAt.
		LoadSession(ctx context.Context, id string) (Session, error)
		// TouchSession bumps LastActivity. Best-effort: callers should not
		// fail a run turn solely because a touch failed.
		TouchSession(ctx context.Context, id string, at time.Time) error
		// EndSession ends a session. Idempotent.
		EndSession(ctx context.Context, id string, endedAt time.Time) (Session, error)

		// UpsertRun inserts or updates run metadata.
		UpsertRun(ctx context.Context, run RunMeta) error
		// LoadRun loads run metadata. Returns ErrRunNotFound if absent.
		LoadRun(ctx context.Context, runID string) (RunMeta, error)
		// ListRunsBySession lists up to limit runs for a session, most
		// recently updated first.
		ListRunsBySession(ctx context.Context, sessionID string, limit int) ([]RunMeta, error)
		// ListSessionsByUser lists a user's sessions ordered by most recent
		// activity descending, excluding excludeSessionID, up to limit
		// entries (§4.4 step 1).
		ListSessionsByUser(ctx context.Context, userID, excludeSessionID string, limit int) ([]Session, error)
	}
)

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
	StatusEnded   Status = "ended"

	PhaseInitialization     Phase = "initialization"
	PhasePlanning           Phase = "planning"
	PhaseExecuting          Phase = "executing"
	PhaseAggregation        Phase = "aggregation"
	PhaseResponseGenerating Phase = "response_generation"
	PhaseInterrupted        Phase = "interrupted"
	PhaseCompleted          Phase = "completed"
	PhaseError              Phase = "error"
)

var (
	// ErrSessionNotFound indicates a session does not exist (or has expired
	// past ExpiresAt) in the store.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionEnded indicates a session exists but is terminal.
	ErrSessionEnded = errors.New("session ended")
	// ErrRunNotFound indicates run metadata does not exist in the store.
	ErrRunNotFound = errors.New("run not found")
)

// Expired reports whether the session's wall-clock deadline has passed as of
// now, independent of whether EndSession was ever called.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Terminal reports whether ph is one of the Run's terminal phases, after
// which no further progress events may be emitted for the turn (§4.1
// property 3).
func (ph Phase) Terminal() bool {
	switch ph {
	case PhaseCompleted, PhaseError:
		return true
	default:
		return false
	}
}
