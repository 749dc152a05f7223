package inmem_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/estatecopilot/runtime/runtime/checkpoint"
	"github.com/estatecopilot/runtime/runtime/checkpoint/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndLatest(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()

	id1, err := store.Write(ctx, checkpoint.RunState{RunID: "run-1", SessionID: "sess-1", Phase: "planning", Data: json.RawMessage(`{"n":1}`)})
	require.NoError(t, err)
	id2, err := store.Write(ctx, checkpoint.RunState{RunID: "run-1", SessionID: "sess-1", Phase: "executing", Data: json.RawMessage(`{"n":2}`)})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	latest, err := store.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "executing", latest.RunState.Phase)
	assert.Equal(t, id2, latest.ID)
}

func TestLatestUnknownSessionReturnsNotFound(t *testing.T) {
	store := inmem.New()
	_, err := store.Latest(context.Background(), "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestForkCreatesIndependentCheckpoint(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()

	original, err := store.Write(ctx, checkpoint.RunState{RunID: "run-1", SessionID: "sess-1", Phase: "interrupted", Data: json.RawMessage(`{"step":"review"}`)})
	require.NoError(t, err)

	forkedID, err := store.Fork(ctx, original)
	require.NoError(t, err)
	assert.NotEqual(t, original, forkedID)

	forked, err := store.Get(ctx, forkedID)
	require.NoError(t, err)
	assert.Equal(t, original, forked.ForkedFrom)
	assert.Equal(t, "interrupted", forked.RunState.Phase)

	latest, err := store.Latest(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, forkedID, latest.ID, "fork must become the session's latest checkpoint")
}

func TestGetUnknownIDReturnsNotFound(t *testing.T) {
	store := inmem.New()
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
