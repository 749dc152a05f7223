package answer_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/estatecopilot/runtime/runtime/answer"
	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/prompt"
)

type fakeLLM struct {
	content string
	err     error
}

func (f *fakeLLM) Complete(ctx context.Context, req modelgw.Request) (modelgw.Response, error) {
	return modelgw.Response{Content: f.content}, f.err
}

func (f *fakeLLM) Embed(ctx context.Context, req modelgw.EmbedRequest) (modelgw.EmbedResponse, error) {
	return modelgw.EmbedResponse{}, nil
}

func newStore(t *testing.T) *prompt.Store {
	t.Helper()
	s := prompt.NewStore()
	require.NoError(t, s.Register("response_synthesis", "intent={{.IntentType}} results={{.Results}}"))
	return s
}

func TestIsGuidance(t *testing.T) {
	require.True(t, answer.IsGuidance("guidance"))
	require.True(t, answer.IsGuidance("irrelevant"))
	require.True(t, answer.IsGuidance("unclear"))
	require.False(t, answer.IsGuidance("buying_guidance_detailed"))
}

func TestGuidanceRendersStaticSection(t *testing.T) {
	ans := answer.Guidance("unclear", "Could you clarify your question?")
	require.Len(t, ans.Sections, 1)
	require.Equal(t, answer.SectionText, ans.Sections[0].Type)
	require.Equal(t, "unclear", ans.Metadata.IntentType)
	require.Equal(t, float64(1), ans.Metadata.Confidence)
}

func TestSynthesizeDecodesSectionsAndSources(t *testing.T) {
	llm := &fakeLLM{content: `{"sections":[{"title":"Summary","content":"text","priority":"high","type":"text"}],"sources":["legal_search"]}`}
	f := answer.New(llm, "synthesis-model", newStore(t))

	ans, err := f.Synthesize(context.Background(), "comparative_analysis", 0.82, map[string]any{"raw_analysis": "x"})
	require.NoError(t, err)
	require.Len(t, ans.Sections, 1)
	require.Equal(t, "Summary", ans.Sections[0].Title)
	require.Equal(t, answer.PriorityHigh, ans.Sections[0].Priority)
	require.Equal(t, 0.82, ans.Metadata.Confidence)
	require.Equal(t, []string{"legal_search"}, ans.Metadata.Sources)
}

func TestSynthesizePropagatesLLMFailure(t *testing.T) {
	llm := &fakeLLM{err: modelgw.NewProviderError("fake", "complete", modelgw.KindTimeout, 504, "timeout", "slow", "req-1", true, nil)}
	f := answer.New(llm, "synthesis-model", newStore(t))

	_, err := f.Synthesize(context.Background(), "comparative_analysis", 0.5, map[string]any{})
	require.Error(t, err)
}
