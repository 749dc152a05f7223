package inmem_test

import (
	"context"
	"testing"
	"time"

	"github.com/estatecopilot/runtime/runtime/session"
	"github.com/estatecopilot/runtime/runtime/session/inmem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSessionIdempotent(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	now := time.Now()

	first, err := store.CreateSession(ctx, "sess-1", "user-1", now, now.Add(time.Hour))
	require.NoError(t, err)

	second, err := store.CreateSession(ctx, "sess-1", "user-1", now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestCreateSessionAfterEndedReturnsError(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	now := time.Now()

	_, err := store.CreateSession(ctx, "sess-1", "user-1", now, now.Add(time.Hour))
	require.NoError(t, err)
	_, err = store.EndSession(ctx, "sess-1", now.Add(time.Minute))
	require.NoError(t, err)

	_, err = store.CreateSession(ctx, "sess-1", "user-1", now, now.Add(time.Hour))
	assert.ErrorIs(t, err, session.ErrSessionEnded)
}

func TestLoadSessionNotFound(t *testing.T) {
	store := inmem.New()
	_, err := store.LoadSession(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestListSessionsByUserExcludesCurrentAndOrders(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	base := time.Now()

	_, err := store.CreateSession(ctx, "sess-old", "user-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "sess-new", "user-1", base, base.Add(time.Hour))
	require.NoError(t, err)
	_, err = store.CreateSession(ctx, "sess-current", "user-1", base, base.Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, store.TouchSession(ctx, "sess-new", base.Add(time.Minute)))

	sessions, err := store.ListSessionsByUser(ctx, "user-1", "sess-current", 10)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "sess-new", sessions[0].ID)
	assert.Equal(t, "sess-old", sessions[1].ID)
}

func TestUpsertRunPreservesStartedAt(t *testing.T) {
	store := inmem.New()
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)

	require.NoError(t, store.UpsertRun(ctx, session.RunMeta{
		RunID: "run-1", SessionID: "sess-1", StartedAt: started, Phase: session.PhasePlanning,
	}))
	require.NoError(t, store.UpsertRun(ctx, session.RunMeta{
		RunID: "run-1", SessionID: "sess-1", Phase: session.PhaseExecuting,
	}))

	run, err := store.LoadRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, started.Unix(), run.StartedAt.Unix())
	assert.Equal(t, session.PhaseExecuting, run.Phase)
}
