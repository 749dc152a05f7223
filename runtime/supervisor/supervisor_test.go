package supervisor_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatecopilot/runtime/runtime/answer"
	"github.com/estatecopilot/runtime/runtime/bus"
	"github.com/estatecopilot/runtime/runtime/checkpoint/inmem"
	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/estatecopilot/runtime/runtime/memory"
	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/planner"
	"github.com/estatecopilot/runtime/runtime/prompt"
	"github.com/estatecopilot/runtime/runtime/session"
	"github.com/estatecopilot/runtime/runtime/supervisor"
	"github.com/estatecopilot/runtime/runtime/team"
	"github.com/estatecopilot/runtime/runtime/tools"
)

// fakeLLM dispatches canned responses by inspecting the rendered prompt, since
// a single supervisor run makes several distinctly shaped sequential calls
// (intent analysis, keyword extraction, tool selection, response synthesis).
type fakeLLM struct {
	fn func(req modelgw.Request) (modelgw.Response, error)
}

func (f *fakeLLM) Complete(ctx context.Context, req modelgw.Request) (modelgw.Response, error) {
	return f.fn(req)
}

func (f *fakeLLM) Embed(ctx context.Context, req modelgw.EmbedRequest) (modelgw.EmbedResponse, error) {
	return modelgw.EmbedResponse{}, nil
}

func promptBody(req modelgw.Request) string {
	if len(req.Messages) == 0 {
		return ""
	}
	return req.Messages[0].Content
}

type fakeSessionStore struct{}

func (fakeSessionStore) CreateSession(ctx context.Context, id, userID string, now, expiresAt time.Time) (session.Session, error) {
	return session.Session{}, nil
}
func (fakeSessionStore) LoadSession(ctx context.Context, id string) (session.Session, error) {
	return session.Session{}, session.ErrSessionNotFound
}
func (fakeSessionStore) TouchSession(ctx context.Context, id string, at time.Time) error { return nil }
func (fakeSessionStore) EndSession(ctx context.Context, id string, endedAt time.Time) (session.Session, error) {
	return session.Session{}, nil
}
func (fakeSessionStore) UpsertRun(ctx context.Context, run session.RunMeta) error { return nil }
func (fakeSessionStore) LoadRun(ctx context.Context, runID string) (session.RunMeta, error) {
	return session.RunMeta{}, session.ErrRunNotFound
}
func (fakeSessionStore) ListRunsBySession(ctx context.Context, sessionID string, limit int) ([]session.RunMeta, error) {
	return nil, nil
}
func (fakeSessionStore) ListSessionsByUser(ctx context.Context, userID, excludeSessionID string, limit int) ([]session.Session, error) {
	return nil, nil
}

type fakeMessageStore struct{}

func (fakeMessageStore) LoadMessages(ctx context.Context, sessionID string, limit int) ([]memory.Message, error) {
	return nil, nil
}

type fakeSummaryCache struct{}

func (fakeSummaryCache) GetSummary(ctx context.Context, sessionID string) (string, bool, error) {
	return "", false, nil
}
func (fakeSummaryCache) PutSummary(ctx context.Context, sessionID, summary string) error { return nil }

type fakeSummarizer struct{}

func (fakeSummarizer) Summarize(ctx context.Context, sessionID string, messages []memory.Message, maxLength int) (string, error) {
	return "", nil
}

type fakeTokenizer struct{}

func (fakeTokenizer) Count(text string) int { return len(text) }

func testConfig(intents ...config.IntentConfig) *config.Config {
	return &config.Config{
		Intents: intents,
		LLM:     config.LLMConfig{ConfidenceFloor: 0.5},
		Memory:  config.MemoryConfig{ShorttermLimit: 2, MidtermLimit: 2, LongtermLimit: 2, TokenLimit: 100000, MessageLimit: 20},
		Supervisor: config.SupervisorConfig{
			EnableCheckpointing: true,
			MaxRevisions:        3,
			DataReuseWindow:     5,
		},
	}
}

func newPromptStore(t *testing.T) *prompt.Store {
	t.Helper()
	store := prompt.NewStore()
	require.NoError(t, store.Register("intent_analysis", "intent analyze: {{.Query}}"))
	require.NoError(t, store.Register("query_decomposition", "decompose: {{.Query}}"))
	require.NoError(t, store.Register("response_synthesis", "synthesize intent={{.IntentType}}"))
	return store
}

func newMemoryService(cfg *config.Config) *memory.Service {
	return memory.NewService(fakeSessionStore{}, fakeMessageStore{}, fakeSummaryCache{}, fakeSummarizer{}, fakeTokenizer{}, cfg.Memory, nil)
}

func noopCallback(ctx context.Context, event bus.Event) error { return nil }

func TestProcessQueryGuidanceShortCircuit(t *testing.T) {
	cfg := testConfig(config.IntentConfig{Name: "irrelevant", ShortCircuit: true})

	llm := &fakeLLM{fn: func(req modelgw.Request) (modelgw.Response, error) {
		if strings.Contains(promptBody(req), "intent analyze:") {
			return modelgw.Response{Content: `{"intent_type":"irrelevant","confidence":0.9,"keywords":[],"entities":{}}`}, nil
		}
		t.Fatalf("unexpected LLM call: %q", promptBody(req))
		return modelgw.Response{}, nil
	}}

	store := newPromptStore(t)
	plannerAgent := planner.New(llm, store, cfg)
	formatter := answer.New(llm, "synthesis-model", store)
	mem := newMemoryService(cfg)

	sup := supervisor.New(inmem.New(), bus.New(nil), mem, plannerAgent, map[string]*team.Executor{}, formatter, cfg, nil)

	sess := session.Session{ID: "sess-1", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}
	run, err := sup.ProcessQuery(context.Background(), sess, "what's the weather", 1, true, noopCallback)
	require.NoError(t, err)

	assert.Equal(t, session.PhaseCompleted, run.Phase)
	require.NotNil(t, run.Answer)
	assert.Equal(t, "irrelevant", run.Answer.Metadata.IntentType)
	assert.Empty(t, run.Plan.ExecutionSteps)
}

func TestProcessQuerySearchOnlySequentialFlow(t *testing.T) {
	cfg := testConfig(config.IntentConfig{Name: "comparative_analysis", SuggestedAgents: []string{"search"}})

	llm := &fakeLLM{fn: func(req modelgw.Request) (modelgw.Response, error) {
		body := promptBody(req)
		switch {
		case strings.Contains(body, "intent analyze:"):
			return modelgw.Response{Content: `{"intent_type":"comparative_analysis","confidence":0.9,"keywords":["condo"],"entities":{}}`}, nil
		case strings.Contains(body, "extract search keywords"):
			return modelgw.Response{Content: `{"keywords":["condo","miami"]}`}, nil
		case strings.Contains(body, "\ntools:"):
			return modelgw.Response{Content: `{"selected_tools":["search.real_estate.listing_lookup"],"reasoning":"relevant listing tool","confidence":0.8}`}, nil
		case strings.Contains(body, "synthesize intent="):
			return modelgw.Response{Content: `{"sections":[{"title":"Listings","content":"3 condos found in Miami","priority":"high","type":"text"}],"sources":["mls"]}`}, nil
		}
		t.Fatalf("unexpected LLM call: %q", body)
		return modelgw.Response{}, nil
	}}

	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Spec{Name: "search.real_estate.listing_lookup", Team: "search", Description: "look up listings"},
		tools.ToolFunc(func(ctx context.Context, input map[string]any) tools.Result {
			return tools.Result{Status: tools.StatusSuccess, Data: "3 condos found in Miami"}
		})))

	store := newPromptStore(t)
	plannerAgent := planner.New(llm, store, cfg)
	formatter := answer.New(llm, "synthesis-model", store)
	mem := newMemoryService(cfg)

	searchExec := team.NewExecutor(team.NewSearchDefinition(llm, "keyword-model"), registry, llm, "tool-select-model")
	teams := map[string]*team.Executor{"search": searchExec}

	sup := supervisor.New(inmem.New(), bus.New(nil), mem, plannerAgent, teams, formatter, cfg, nil)

	var events []bus.Event
	callback := func(ctx context.Context, event bus.Event) error {
		events = append(events, event)
		return nil
	}

	sess := session.Session{ID: "sess-2", UserID: "user-2", ExpiresAt: time.Now().Add(time.Hour)}
	run, err := sup.ProcessQuery(context.Background(), sess, "compare condos in miami", 1, true, callback)
	require.NoError(t, err)

	assert.Equal(t, session.PhaseCompleted, run.Phase)
	require.Equal(t, planner.StrategySequential, run.Plan.ExecutionStrategy)
	require.Contains(t, run.TeamResults, "search")
	assert.Equal(t, team.StatusCompleted, run.TeamResults["search"].Status)

	require.NotNil(t, run.Answer)
	require.Len(t, run.Answer.Sections, 1)
	assert.Equal(t, "Listings", run.Answer.Sections[0].Title)
	assert.Equal(t, []string{"mls"}, run.Answer.Metadata.Sources)

	var sawFinalResponse bool
	for _, e := range events {
		if e.Type == bus.EventFinalResponse {
			sawFinalResponse = true
		}
	}
	assert.True(t, sawFinalResponse)
}
