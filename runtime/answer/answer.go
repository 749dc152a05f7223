// Package answer implements the Structured Answer Formatter (C11):
// converts a run's aggregated team results into typed sections a client can
// render without bespoke parsing (§4.8).
package answer

import (
	"context"
	"fmt"

	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/prompt"
)

type (
	// Priority is a section's display priority (§4.8).
	Priority string

	// SectionType names how a section's content should be rendered.
	SectionType string

	// AnswerSection is one block of the structured answer (§4.8).
	AnswerSection struct {
		Title      string      `json:"title"`
		Content    any         `json:"content"`
		Icon       string      `json:"icon,omitempty"`
		Priority   Priority    `json:"priority"`
		Expandable bool        `json:"expandable,omitempty"`
		Type       SectionType `json:"type"`
	}

	// Metadata carries the answer's provenance (§4.8).
	Metadata struct {
		Confidence float64  `json:"confidence"`
		Sources    []string `json:"sources,omitempty"`
		IntentType string   `json:"intent_type"`
	}

	// Answer is the complete formatted payload (§4.8).
	Answer struct {
		Sections []AnswerSection `json:"sections"`
		Metadata Metadata        `json:"metadata"`
	}

	synthesisResponse struct {
		Sections []AnswerSection `json:"sections"`
		Sources  []string        `json:"sources"`
	}
)

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"

	SectionText      SectionType = "text"
	SectionChecklist SectionType = "checklist"
	SectionWarning   SectionType = "warning"
)

// guidanceIntents are rendered from a static template without invoking the
// LLM again (§4.1 respond, §4.8 "for guidance intents it is template-driven").
var guidanceIntents = map[string]bool{
	"guidance":   true,
	"irrelevant": true,
	"unclear":    true,
}

// Formatter implements C11.
type Formatter struct {
	llm    modelgw.Client
	model  string
	prompt *prompt.Store
}

// New constructs a Formatter backed by the response_synthesis prompt.
func New(llm modelgw.Client, model string, prompts *prompt.Store) *Formatter {
	return &Formatter{llm: llm, model: model, prompt: prompts}
}

// IsGuidance reports whether intentType should bypass C3 and render from a
// static template (§4.1 respond).
func IsGuidance(intentType string) bool {
	return guidanceIntents[intentType]
}

// Guidance renders a template-driven answer for guidance/irrelevant/unclear
// intents with no further LLM reasoning (§4.8).
func Guidance(intentType, message string) Answer {
	return Answer{
		Sections: []AnswerSection{
			{
				Title:    "Guidance",
				Content:  message,
				Priority: PriorityMedium,
				Type:     SectionText,
			},
		},
		Metadata: Metadata{Confidence: 1, IntentType: intentType},
	}
}

// HITLCancelled renders the guidance answer for a HITLExpired run (§7
// "the run as completed with a guidance answer explaining the cancellation").
func HITLCancelled(intentType string) Answer {
	return Guidance(intentType, "Your request was paused for review and the approval window has expired, so it was cancelled. Please submit the request again if you'd still like this document.")
}

// Synthesize invokes C3 with the response_synthesis prompt over aggregated
// team results and produces the structured payload (§4.1 respond, §4.8).
func (f *Formatter) Synthesize(ctx context.Context, intentType string, confidence float64, aggregated map[string]any) (Answer, error) {
	rendered, err := f.prompt.Render("response_synthesis", map[string]any{
		"IntentType": intentType,
		"Results":    aggregated,
	})
	if err != nil {
		return Answer{}, fmt.Errorf("answer: render response_synthesis: %w", err)
	}

	resp, err := f.llm.Complete(ctx, modelgw.Request{
		Model:    f.model,
		JSONMode: true,
		Messages: []modelgw.Message{{Role: modelgw.RoleUser, Content: rendered}},
	})
	if err != nil {
		return Answer{}, fmt.Errorf("answer: response_synthesis: %w", err)
	}

	var parsed synthesisResponse
	if err := modelgw.DecodeJSON(resp, &parsed); err != nil {
		return Answer{}, fmt.Errorf("answer: decode response_synthesis: %w", err)
	}

	return Answer{
		Sections: parsed.Sections,
		Metadata: Metadata{
			Confidence: confidence,
			Sources:    parsed.Sources,
			IntentType: intentType,
		},
	}, nil
}
