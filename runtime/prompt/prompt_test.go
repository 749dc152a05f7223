package prompt_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/estatecopilot/runtime/runtime/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndRender(t *testing.T) {
	store := prompt.NewStore()
	require.NoError(t, store.Register("greeting", "Hello, {{.Name}}!"))

	out, err := store.Render("greeting", struct{ Name string }{Name: "Maria"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, Maria!", out)
}

func TestRenderUnknownPromptReturnsNotFound(t *testing.T) {
	store := prompt.NewStore()
	_, err := store.Render("missing", nil)
	assert.ErrorIs(t, err, prompt.ErrNotFound)
}

func TestRenderMissingKeyFails(t *testing.T) {
	store := prompt.NewStore()
	require.NoError(t, store.Register("greeting", "Hello, {{.Name}}!"))

	_, err := store.Render("greeting", struct{ Other string }{Other: "x"})
	require.Error(t, err)
}

func TestLoadDirReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "intent_analysis.tmpl"), []byte("Analyze: {{.Query}}"), 0o644))

	store := prompt.NewStore()
	require.NoError(t, store.LoadDir(dir))
	assert.True(t, store.Has("intent_analysis"))
	assert.Equal(t, []string{"intent_analysis"}, store.Names())

	out, err := store.Render("intent_analysis", struct{ Query string }{Query: "buy a condo"})
	require.NoError(t, err)
	assert.Equal(t, "Analyze: buy a condo", out)
}

func TestLoadDirLeavesPreviousRevisionOnParseFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tmpl"), []byte("ok: {{.X}}"), 0o644))

	store := prompt.NewStore()
	require.NoError(t, store.LoadDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tmpl"), []byte("broken: {{.X"), 0o644))
	err := store.LoadDir(dir)
	require.Error(t, err)
	assert.True(t, store.Has("a"), "a previously loaded template must survive a failed reload")
}

func TestWatchDirReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "greeting.tmpl")
	require.NoError(t, os.WriteFile(path, []byte("v1: {{.X}}"), 0o644))

	store := prompt.NewStore()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, store.WatchDir(ctx, dir, nil))

	require.NoError(t, os.WriteFile(path, []byte("v2: {{.X}}"), 0o644))

	require.Eventually(t, func() bool {
		out, err := store.Render("greeting", struct{ X string }{X: "y"})
		return err == nil && out == "v2: y"
	}, 2*time.Second, 20*time.Millisecond)
}
