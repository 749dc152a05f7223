package team

import (
	"context"
	"fmt"

	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/tools"
)

// AnalysisType enumerates the analysis team's prepare-stage classification
// (§4.2 prepare: "determine analysis_type").
type AnalysisType string

const (
	AnalysisComprehensive AnalysisType = "comprehensive"
	AnalysisMarket        AnalysisType = "market"
	AnalysisRisk          AnalysisType = "risk"
	AnalysisContract      AnalysisType = "contract"
	AnalysisCustom        AnalysisType = "custom"
)

// NewAnalysisDefinition builds the analysis team (§4.2): prepare takes
// analysis_type from an analysis_type entry in input_data (comprehensive
// when absent or unrecognised) and copies an input_data search_results entry
// when present; the plan's intent and the other upstream search fields are
// not consulted. Aggregate calls C3 with insight_generation once tools have
// produced raw data and produces
// {raw_analysis, insights, report, confidence_score}.
func NewAnalysisDefinition(llm modelgw.Client, insightModel string) Definition {
	return Definition{
		Name: "analysis",
		Prepare: func(ctx context.Context, shared SharedContext, inputData map[string]any) (map[string]any, error) {
			analysisType := classifyAnalysisType(inputData)
			prepared := map[string]any{"query": shared.Query, "analysis_type": string(analysisType)}
			if upstream, ok := inputData["search_results"]; ok {
				prepared["search_results"] = upstream
			}
			return prepared, nil
		},
		ToolSelectionPromptRole: "tool_selection_analysis",
		ToolTags:                []string{"analysis"},
		Aggregate: func(ctx context.Context, input map[string]any, results map[string]tools.Result) (map[string]any, error) {
			raw := map[string]any{}
			for name, res := range results {
				raw[name] = res
			}

			resp, err := llm.Complete(ctx, modelgw.Request{
				Model:    insightModel,
				JSONMode: true,
				Messages: []modelgw.Message{{Role: modelgw.RoleUser, Content: fmt.Sprintf("generate insights for analysis_type=%v from: %v", input["analysis_type"], raw)}},
			})
			confidence := 0.5
			insights := []string{}
			if err == nil {
				var parsed struct {
					Insights   []string `json:"insights"`
					Confidence float64  `json:"confidence"`
				}
				if decodeErr := modelgw.DecodeJSON(resp, &parsed); decodeErr == nil {
					insights = parsed.Insights
					confidence = parsed.Confidence
				}
			}

			return map[string]any{
				"raw_analysis":     raw,
				"insights":         insights,
				"report":           fmt.Sprintf("Analysis (%v): %d insight(s) generated", input["analysis_type"], len(insights)),
				"confidence_score": confidence,
			}, nil
		},
	}
}

// classifyAnalysisType maps upstream context into one of the analysis
// subtypes (§4.2 prepare). Defaults to comprehensive when no hint is
// present, since that is the safest, most-inclusive analysis mode.
func classifyAnalysisType(inputData map[string]any) AnalysisType {
	hint, _ := inputData["analysis_type"].(string)
	switch AnalysisType(hint) {
	case AnalysisMarket, AnalysisRisk, AnalysisContract, AnalysisCustom:
		return AnalysisType(hint)
	default:
		return AnalysisComprehensive
	}
}
