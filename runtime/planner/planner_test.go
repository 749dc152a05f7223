package planner_test

import (
	"context"
	"testing"

	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/planner"
	"github.com/estatecopilot/runtime/runtime/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLLM struct {
	response modelgw.Response
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, req modelgw.Request) (modelgw.Response, error) {
	return f.response, f.err
}

func (f *fakeLLM) Embed(ctx context.Context, req modelgw.EmbedRequest) (modelgw.EmbedResponse, error) {
	return modelgw.EmbedResponse{}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Intents: []config.IntentConfig{
			{Name: "buying_guidance", SuggestedAgents: []string{"search", "analysis"}},
			{Name: "comparative_analysis", SuggestedAgents: []string{"search"}},
			{Name: "document_request", SuggestedAgents: []string{"search", "analysis", "document"}},
			{Name: "irrelevant", ShortCircuit: true},
			{Name: "unclear", ShortCircuit: true},
		},
		LLM: config.LLMConfig{ConfidenceFloor: 0.5},
	}
}

func newStore(t *testing.T) *prompt.Store {
	t.Helper()
	store := prompt.NewStore()
	require.NoError(t, store.Register("intent_analysis", "analyze: {{.Query}}"))
	require.NoError(t, store.Register("query_decomposition", "decompose: {{.Query}}"))
	return store
}

func TestAnalyzeIntentBelowFloorForcesUnclear(t *testing.T) {
	llm := &fakeLLM{response: modelgw.Response{Content: `{"intent_type":"buying_guidance","confidence":0.2,"keywords":["condo"],"entities":{}}`}}
	agent := planner.New(llm, newStore(t), testConfig())

	result, err := agent.AnalyzeIntent(context.Background(), "should I buy a condo", "")
	require.NoError(t, err)
	assert.Equal(t, "unclear", result.IntentType)
}

func TestAnalyzeIntentAboveFloorKeepsIntent(t *testing.T) {
	llm := &fakeLLM{response: modelgw.Response{Content: `{"intent_type":"buying_guidance","confidence":0.9,"keywords":["condo"],"entities":{}}`}}
	agent := planner.New(llm, newStore(t), testConfig())

	result, err := agent.AnalyzeIntent(context.Background(), "should I buy a condo", "")
	require.NoError(t, err)
	assert.Equal(t, "buying_guidance", result.IntentType)
	assert.Equal(t, []string{"condo"}, result.Keywords)
}

func TestCreatePlanShortCircuitIntentHasNoSteps(t *testing.T) {
	agent := planner.New(&fakeLLM{}, newStore(t), testConfig())

	plan, err := agent.CreatePlan(planner.IntentResult{IntentType: "irrelevant", Confidence: 0.9}, nil)
	require.NoError(t, err)
	assert.Empty(t, plan.ExecutionSteps)
}

func TestCreatePlanOrdersStepsByDependency(t *testing.T) {
	agent := planner.New(&fakeLLM{}, newStore(t), testConfig())

	plan, err := agent.CreatePlan(planner.IntentResult{IntentType: "document_request", Confidence: 0.9}, nil)
	require.NoError(t, err)
	require.Len(t, plan.ExecutionSteps, 3)
	assert.Equal(t, "search", plan.ExecutionSteps[0].Team)
	assert.Equal(t, "analysis", plan.ExecutionSteps[1].Team)
	assert.Equal(t, "document", plan.ExecutionSteps[2].Team)
	assert.Equal(t, planner.StrategySequential, plan.ExecutionStrategy)
	for _, step := range plan.ExecutionSteps {
		assert.Equal(t, planner.StepPending, step.Status)
	}
}

func TestCreatePlanSingleTeamIsSequential(t *testing.T) {
	agent := planner.New(&fakeLLM{}, newStore(t), testConfig())

	plan, err := agent.CreatePlan(planner.IntentResult{IntentType: "comparative_analysis", Confidence: 0.9}, nil)
	require.NoError(t, err)
	assert.Equal(t, planner.StrategySequential, plan.ExecutionStrategy)
}

func TestCreatePlanUnknownIntentFails(t *testing.T) {
	agent := planner.New(&fakeLLM{}, newStore(t), testConfig())
	_, err := agent.CreatePlan(planner.IntentResult{IntentType: "nonexistent"}, nil)
	assert.Error(t, err)
}
