// Package llmsummarizer implements memory.Summarizer over the LLM Gateway
// and the Prompt Template Store's conversation_summary role (§4.4 "Summary
// resolution"). It lives outside runtime/memory so that package can stay
// decoupled from modelgw, per memory.Summarizer's own doc comment.
package llmsummarizer

import (
	"context"
	"fmt"
	"strings"

	"github.com/estatecopilot/runtime/runtime/memory"
	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/prompt"
)

// Summarizer renders the conversation_summary template and completes it
// against a configured model.
type Summarizer struct {
	llm     modelgw.Client
	prompts *prompt.Store
	model   string
}

// New constructs a Summarizer.
func New(llm modelgw.Client, prompts *prompt.Store, model string) *Summarizer {
	return &Summarizer{llm: llm, prompts: prompts, model: model}
}

type summaryPromptData struct {
	Messages  []memory.Message
	MaxLength int
}

// Summarize implements memory.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string, messages []memory.Message, maxLength int) (string, error) {
	body, err := s.prompts.Render("conversation_summary", summaryPromptData{Messages: messages, MaxLength: maxLength})
	if err != nil {
		return "", fmt.Errorf("llmsummarizer: render prompt: %w", err)
	}

	resp, err := s.llm.Complete(ctx, modelgw.Request{
		Model:    s.model,
		Messages: []modelgw.Message{{Role: modelgw.RoleUser, Content: body}},
	})
	if err != nil {
		return "", fmt.Errorf("llmsummarizer: complete: %w", err)
	}

	summary := strings.TrimSpace(resp.Content)
	if maxLength > 0 && len(summary) > maxLength {
		summary = summary[:maxLength]
	}
	return summary, nil
}

var _ memory.Summarizer = (*Summarizer)(nil)
