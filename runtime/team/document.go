package team

import (
	"context"
	"fmt"

	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/tools"
)

type (
	// InterruptAction is one of the allowed human responses to an
	// InterruptRequest (§3 InterruptRequest).
	InterruptAction string

	// InterruptRequest is written by the document team when a document
	// type requires human approval before finalize (§4.2 "Document team
	// HITL branch").
	InterruptRequest struct {
		Content string
		Message string
		Allowed []InterruptAction
	}

	// InterruptResponse resumes a paused document team.
	InterruptResponse struct {
		Action   InterruptAction
		Feedback string
	}
)

const (
	InterruptApprove InterruptAction = "approve"
	InterruptModify  InterruptAction = "modify"
	InterruptReject  InterruptAction = "reject"
)

// RequiresApproval reports whether docType is configured to require human
// review before finalize. Grounded on a static allowlist today; §9 leaves
// room to move this into runtime.config without changing the HITL
// mechanics themselves.
func RequiresApproval(docType string) bool {
	switch docType {
	case "purchase_agreement", "lease_agreement", "disclosure_statement":
		return true
	default:
		return false
	}
}

// NewDocumentDefinition builds the document team (§4.2): prepare selects a
// template for the document_type (general_letter when none is given) and
// fails for an unknown type; placeholder coverage is not checked. Aggregate
// produces {generated_document, review_result, final_document_markdown}. The
// HITL gate itself (interrupt/resume/max-revisions) is driven by the
// supervisor, which on `modify` calls Regenerate, i.e. GenerateDraft again
// with that response's Feedback only (earlier feedback is not carried over).
func NewDocumentDefinition(llm modelgw.Client, synthesisModel string) Definition {
	return Definition{
		Name: "document",
		Prepare: func(ctx context.Context, shared SharedContext, inputData map[string]any) (map[string]any, error) {
			docType, _ := inputData["document_type"].(string)
			if docType == "" {
				docType = "general_letter"
			}
			template, ok := templateFor(docType)
			if !ok {
				return nil, fmt.Errorf("team/document: no template registered for document_type %q", docType)
			}
			return map[string]any{
				"query":         shared.Query,
				"document_type": docType,
				"template":      template,
			}, nil
		},
		ToolSelectionPromptRole: "tool_selection_document",
		ToolTags:                []string{"document"},
		Aggregate: func(ctx context.Context, input map[string]any, results map[string]tools.Result) (map[string]any, error) {
			draft, err := GenerateDraft(ctx, llm, synthesisModel, input, "")
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"generated_document":      draft,
				"review_result":           nil,
				"final_document_markdown": draft,
			}, nil
		},
		Regenerate: func(ctx context.Context, input map[string]any, feedback string) (map[string]any, error) {
			draft, err := GenerateDraft(ctx, llm, synthesisModel, input, feedback)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"generated_document":      draft,
				"review_result":           nil,
				"final_document_markdown": draft,
			}, nil
		},
	}
}

// GenerateDraft renders a document draft using the synthesis model, folding
// in HITL feedback on a `modify` re-entry (§4.2 "re-enter generate with the
// feedback added to the prompt context").
func GenerateDraft(ctx context.Context, llm modelgw.Client, model string, input map[string]any, feedback string) (string, error) {
	prompt := fmt.Sprintf("draft document_type=%v using template=%v for query=%v", input["document_type"], input["template"], input["query"])
	if feedback != "" {
		prompt += fmt.Sprintf("\nrevision feedback: %s", feedback)
	}
	resp, err := llm.Complete(ctx, modelgw.Request{
		Model:    model,
		Messages: []modelgw.Message{{Role: modelgw.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", fmt.Errorf("team/document: generate draft: %w", err)
	}
	return resp.Content, nil
}

// templateFor resolves a document type to its template identifier. A
// real deployment sources this from configuration; a small static table is
// enough to exercise the HITL contract end to end.
func templateFor(docType string) (string, bool) {
	templates := map[string]string{
		"purchase_agreement":   "templates/purchase_agreement.md",
		"lease_agreement":      "templates/lease_agreement.md",
		"disclosure_statement": "templates/disclosure_statement.md",
		"general_letter":       "templates/general_letter.md",
	}
	t, ok := templates[docType]
	return t, ok
}
