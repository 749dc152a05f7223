// Package checkpoint implements the Checkpointer (C1): durable snapshots of
// a run's full supervisor state, written after every phase transition and
// replayed on resume after an HITL interrupt (§4.7).
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates no checkpoint exists for the requested session or id.
var ErrNotFound = errors.New("checkpoint: not found")

type (
	// RunState is the full, serializable snapshot of a supervisor run.
	// Non-serializable handles (progress callbacks, open sockets, tool
	// instances) never appear here; the supervisor rebuilds those from its
	// current process's registries on rehydration (§4.7).
	RunState struct {
		RunID     string
		SessionID string
		Phase     string
		// Data carries the supervisor's plan/step/result tree as plain JSON
		// so the checkpointer never needs to import the supervisor package
		// (avoiding an import cycle); the supervisor owns encode/decode of
		// its own shape via json.Marshal/Unmarshal.
		Data json.RawMessage
		// CreatedAt is when this snapshot was taken, not when the run began.
		CreatedAt time.Time
	}

	// Checkpoint is a persisted RunState with its assigned identity.
	Checkpoint struct {
		ID       string
		RunState RunState
		// ForkedFrom is non-empty when this checkpoint was produced by Fork
		// rather than Write.
		ForkedFrom string
	}

	// Store is the Checkpointer contract (§4.7): write, latest, fork.
	Store interface {
		// Write persists state as a new checkpoint and returns its id.
		// Write is append-only: it never overwrites a prior checkpoint for
		// the same run (§5 "checkpoint store is append-only per session").
		Write(ctx context.Context, state RunState) (string, error)
		// Latest returns the most recently written checkpoint for
		// sessionID, or ErrNotFound if none exists.
		Latest(ctx context.Context, sessionID string) (Checkpoint, error)
		// Fork duplicates the checkpoint identified by checkpointID into a
		// new checkpoint with a fresh id, for HITL resume: the resumed run
		// continues from a forked copy rather than mutating the original
		// snapshot.
		Fork(ctx context.Context, checkpointID string) (string, error)
		// Get loads a single checkpoint by id.
		Get(ctx context.Context, checkpointID string) (Checkpoint, error)
	}
)
