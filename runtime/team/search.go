package team

import (
	"context"
	"fmt"

	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/tools"
)

// NewSearchDefinition builds the search team (§4.2): prepare asks the
// keyword model, with an inline prompt, for a JSON keyword list (keeping just
// the query when that call or its decoding fails); aggregate produces the
// four-slot output {legal_search, real_estate_search, property_search,
// loan_search}.
func NewSearchDefinition(llm modelgw.Client, keywordModel string) Definition {
	return Definition{
		Name:     "search",
		Reusable: true,
		Prepare: func(ctx context.Context, shared SharedContext, inputData map[string]any) (map[string]any, error) {
			resp, err := llm.Complete(ctx, modelgw.Request{
				Model:    keywordModel,
				JSONMode: true,
				Messages: []modelgw.Message{{Role: modelgw.RoleUser, Content: fmt.Sprintf("extract search keywords: %s", shared.Query)}},
			})
			if err != nil {
				return map[string]any{"query": shared.Query}, nil
			}
			var parsed struct {
				Keywords []string `json:"keywords"`
			}
			if err := modelgw.DecodeJSON(resp, &parsed); err != nil {
				return map[string]any{"query": shared.Query}, nil
			}
			return map[string]any{"query": shared.Query, "keywords": parsed.Keywords}, nil
		},
		ToolSelectionPromptRole: "tool_selection_search",
		ToolTags:                []string{"search"},
		Aggregate: func(ctx context.Context, input map[string]any, results map[string]tools.Result) (map[string]any, error) {
			return map[string]any{
				"legal_search":       results["search.legal.case_lookup"],
				"real_estate_search": results["search.real_estate.listing_lookup"],
				"property_search":    results["search.property.details"],
				"loan_search":        results["search.loan.rate_lookup"],
			}, nil
		},
	}
}
