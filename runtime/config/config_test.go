package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
intents:
  - name: legal_consult
    display_name: Legal Consultation
    keywords: ["전세", "임대차"]
    suggested_agents: ["search"]
    priority: 1
  - name: irrelevant
    display_name: Irrelevant
    short_circuit: true
  - name: unclear
    display_name: Unclear
    short_circuit: true
llm:
  models:
    intent_analysis: claude-sonnet
    response_synthesis: claude-sonnet
  confidence_floor: 0.5
memory:
  shortterm_limit: 3
  midterm_limit: 5
  longterm_limit: 10
  token_limit: 4000
  message_limit: 20
  summary_max_length: 400
supervisor:
  enable_checkpointing: true
  max_recursion: 10
  max_retries: 3
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "runtime.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Intents, 3)
	assert.Equal(t, "claude-sonnet", cfg.LLM.Models.IntentAnalysis)
	assert.Equal(t, 3, cfg.Supervisor.MaxRevisions, "default applied when unset")
	assert.Equal(t, 5, cfg.Supervisor.DataReuseWindow, "default applied when unset")

	intent, ok := cfg.IntentByName("legal_consult")
	require.True(t, ok)
	assert.Equal(t, []string{"search"}, intent.SuggestedAgents)

	_, ok = cfg.IntentByName("does_not_exist")
	assert.False(t, ok)
}

func TestLoadRejectsMissingIntents(t *testing.T) {
	path := writeTempConfig(t, "intents: []\nmemory:\n  token_limit: 100\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateIntent(t *testing.T) {
	path := writeTempConfig(t, `
intents:
  - name: legal_consult
  - name: legal_consult
memory:
  token_limit: 100
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingTokenLimit(t *testing.T) {
	path := writeTempConfig(t, "intents:\n  - name: legal_consult\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestConfidenceThresholdForFallsBackToFloor(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.ConfidenceThresholdFor("legal_consult"))
}
