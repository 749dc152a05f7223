package team_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/team"
	"github.com/estatecopilot/runtime/runtime/tools"
)

type fakeLLM struct {
	response   modelgw.Response
	responses  []modelgw.Response
	calls      int
	err        error
	lastPrompt string
}

func (f *fakeLLM) Complete(ctx context.Context, req modelgw.Request) (modelgw.Response, error) {
	if len(req.Messages) > 0 {
		f.lastPrompt = req.Messages[0].Content
	}
	if f.err != nil {
		return modelgw.Response{}, f.err
	}
	if len(f.responses) > 0 {
		resp := f.responses[f.calls%len(f.responses)]
		f.calls++
		return resp, nil
	}
	return f.response, nil
}

func (f *fakeLLM) Embed(ctx context.Context, req modelgw.EmbedRequest) (modelgw.EmbedResponse, error) {
	return modelgw.EmbedResponse{}, nil
}

func newRegistry(t *testing.T, teamName string, names ...string) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, n := range names {
		n := n
		err := r.Register(tools.Spec{Name: n, Team: teamName, Description: n}, tools.ToolFunc(func(ctx context.Context, input map[string]any) tools.Result {
			return tools.Result{Status: tools.StatusSuccess, Data: map[string]any{"tool": n}}
		}))
		require.NoError(t, err)
	}
	return r
}

func TestSearchTeamRunProducesFourSlots(t *testing.T) {
	llm := &fakeLLM{responses: []modelgw.Response{
		{Content: `{"keywords":["lease","deposit"]}`},
		{Content: `{"selected_tools":["search.legal.case_lookup","search.real_estate.listing_lookup","search.property.details","search.loan.rate_lookup"],"reasoning":"all relevant","confidence":0.9}`},
	}}
	registry := newRegistry(t, "search",
		"search.legal.case_lookup",
		"search.real_estate.listing_lookup",
		"search.property.details",
		"search.loan.rate_lookup",
	)

	def := team.NewSearchDefinition(llm, "keyword-model")
	exec := team.NewExecutor(def, registry, llm, "tool-selection-model")

	shared := team.SharedContext{Query: "can I break my lease early", SessionID: "s1", Timestamp: time.Now()}
	state := exec.Run(context.Background(), shared, nil)

	require.Equal(t, team.StatusCompleted, state.Status)
	require.Contains(t, state.Output, "legal_search")
	require.Contains(t, state.Output, "real_estate_search")
	require.Contains(t, state.Output, "property_search")
	require.Contains(t, state.Output, "loan_search")
	require.NotNil(t, state.Decision)
	require.Len(t, state.Decision.Outcomes, 4)
}

func TestSearchTeamSkipsWhenNoToolsRegistered(t *testing.T) {
	llm := &fakeLLM{response: modelgw.Response{Content: `{"keywords":[]}`}}
	registry := tools.NewRegistry()
	def := team.NewSearchDefinition(llm, "keyword-model")
	exec := team.NewExecutor(def, registry, llm, "tool-selection-model")

	state := exec.Run(context.Background(), team.SharedContext{Query: "q"}, nil)
	require.Equal(t, team.StatusSkipped, state.Status)
}

func TestAnalysisTeamFallsBackToAllToolsOnSelectionFailure(t *testing.T) {
	registry := newRegistry(t, "analysis", "analysis.market.trend")
	llm := &fakeLLM{err: modelgw.NewProviderError("fake", "complete", modelgw.KindUnavailable, 503, "down", "unavailable", "req-1", true, nil)}

	def := team.NewAnalysisDefinition(llm, "insight-model")
	exec := team.NewExecutor(def, registry, llm, "tool-selection-model")

	state := exec.Run(context.Background(), team.SharedContext{Query: "is this a good market"}, map[string]any{"analysis_type": "market"})

	require.Equal(t, team.StatusCompleted, state.Status)
	require.Equal(t, 0.3, state.Decision.Confidence)
	require.Contains(t, state.Output, "insights")
	require.Contains(t, state.Output, "confidence_score")
}

func TestDocumentTeamGeneratesDraft(t *testing.T) {
	registry := newRegistry(t, "document", "document.template.fill")
	llm := &fakeLLM{response: modelgw.Response{Content: "Dear Tenant, ..."}}

	def := team.NewDocumentDefinition(llm, "synthesis-model")
	exec := team.NewExecutor(def, registry, llm, "tool-selection-model")

	state := exec.Run(context.Background(), team.SharedContext{Query: "draft a lease termination letter"}, map[string]any{"document_type": "general_letter"})

	require.Equal(t, team.StatusCompleted, state.Status)
	require.Equal(t, "Dear Tenant, ...", state.Output["generated_document"])
	require.Equal(t, "Dear Tenant, ...", state.Output["final_document_markdown"])
}

func TestDocumentTeamRejectsUnknownDocumentType(t *testing.T) {
	registry := newRegistry(t, "document", "document.template.fill")
	llm := &fakeLLM{}

	def := team.NewDocumentDefinition(llm, "synthesis-model")
	exec := team.NewExecutor(def, registry, llm, "tool-selection-model")

	state := exec.Run(context.Background(), team.SharedContext{Query: "draft something"}, map[string]any{"document_type": "unknown_type"})
	require.Equal(t, team.StatusFailed, state.Status)
	require.NotEmpty(t, state.Error)
}

func TestRequiresApproval(t *testing.T) {
	require.True(t, team.RequiresApproval("purchase_agreement"))
	require.True(t, team.RequiresApproval("lease_agreement"))
	require.True(t, team.RequiresApproval("disclosure_statement"))
	require.False(t, team.RequiresApproval("general_letter"))
}

func TestGenerateDraftIncludesRevisionFeedback(t *testing.T) {
	llm := &fakeLLM{response: modelgw.Response{Content: "revised draft"}}
	draft, err := team.GenerateDraft(context.Background(), llm, "synthesis-model",
		map[string]any{"document_type": "general_letter", "template": "templates/general_letter.md", "query": "q"},
		"shorten paragraph two")
	require.NoError(t, err)
	require.Equal(t, "revised draft", draft)
	require.Contains(t, llm.lastPrompt, "revision feedback: shorten paragraph two")
}
