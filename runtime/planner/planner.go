// Package planner implements the Planning Agent (C6): intent
// classification, optional query decomposition, and deterministic plan
// construction from configured intent→team mappings (§4.3).
package planner

import (
	"context"
	"fmt"

	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/prompt"
)

type (
	// Strategy is a Plan's execution_strategy (§3 Plan).
	Strategy string

	// StepStatus is an ExecutionStep's lifecycle state (§3 ExecutionStep).
	StepStatus string

	// IntentResult is the output of analyze_intent.
	IntentResult struct {
		IntentType string
		Confidence float64
		Keywords   []string
		Entities   map[string]string
	}

	// SubQuery is one decomposed piece of a comprehensive query.
	SubQuery struct {
		Text   string
		Intent string
	}

	// ExecutionStep is the unit of observable progress within a Run (§3
	// ExecutionStep). StepID is assigned by create_plan and referenced by
	// the supervisor and progress events.
	ExecutionStep struct {
		StepID             string
		Team               string
		Task               string
		Description        string
		Status             StepStatus
		ProgressPercentage int
		StartedAt          *int64 // Unix millis; nil until in_progress
		CompletedAt        *int64
		Result             map[string]any
		Error              string
		// IsReused marks a synthetic step produced by the Option-A
		// data-reuse optimization (§4.5) rather than a real team execution.
		IsReused bool
	}

	// Plan is the output of create_plan (§3 Plan).
	Plan struct {
		IntentType          string
		Confidence          float64
		Keywords            []string
		ExecutionSteps      []ExecutionStep
		ExecutionStrategy   Strategy
		ParallelGroups      [][]string
		EstimatedTotalTimeS int
	}
)

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyPipeline   Strategy = "pipeline"

	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepFailed     StepStatus = "failed"
	StepSkipped    StepStatus = "skipped"
)

// teamDependencyOrder fixes the ordering policy named in §4.3: "order teams
// by a dependency policy (search before analysis before document)".
var teamDependencyOrder = map[string]int{
	"search":   0,
	"analysis": 1,
	"document": 2,
}

// intentAnalysisResponse is the JSON-mode shape the intent_analysis prompt
// must return (§4.3).
type intentAnalysisResponse struct {
	IntentType string            `json:"intent_type"`
	Confidence float64           `json:"confidence"`
	Keywords   []string          `json:"keywords"`
	Entities   map[string]string `json:"entities"`
}

// Agent implements the Planning Agent (C6).
type Agent struct {
	llm    modelgw.Client
	models config.ModelMap
	prompt *prompt.Store
	cfg    *config.Config
}

// New constructs a planning agent wired to the given LLM client, prompt
// store, and configuration.
func New(llm modelgw.Client, prompts *prompt.Store, cfg *config.Config) *Agent {
	return &Agent{llm: llm, models: cfg.LLM.Models, prompt: prompts, cfg: cfg}
}

// AnalyzeIntent implements analyze_intent (§4.3). A confidence below the
// returned intent's confidence_threshold (or the global floor when the
// intent sets none) forces a re-classification into "unclear" rather than
// trusting a low-confidence label.
func (a *Agent) AnalyzeIntent(ctx context.Context, query string, memoryContext string) (IntentResult, error) {
	rendered, err := a.prompt.Render("intent_analysis", map[string]any{
		"Query":   query,
		"Context": memoryContext,
		"Intents": a.cfg.Intents,
	})
	if err != nil {
		return IntentResult{}, fmt.Errorf("planner: render intent_analysis: %w", err)
	}

	resp, err := a.llm.Complete(ctx, modelgw.Request{
		Model:    a.models.IntentAnalysis,
		JSONMode: true,
		Messages: []modelgw.Message{{Role: modelgw.RoleUser, Content: rendered}},
	})
	if err != nil {
		return IntentResult{}, fmt.Errorf("planner: analyze_intent: %w", err)
	}

	var parsed intentAnalysisResponse
	if err := modelgw.DecodeJSON(resp, &parsed); err != nil {
		return IntentResult{}, fmt.Errorf("planner: analyze_intent: %w", err)
	}

	result := IntentResult{
		IntentType: parsed.IntentType,
		Confidence: parsed.Confidence,
		Keywords:   parsed.Keywords,
		Entities:   parsed.Entities,
	}
	if result.Confidence < a.cfg.ConfidenceThresholdFor(result.IntentType) {
		result.IntentType = "unclear"
	}
	return result, nil
}

// subQueryResponse is the JSON-mode shape the query_decomposition prompt
// must return.
type subQueryResponse struct {
	SubQueries []SubQuery `json:"sub_queries"`
}

// DecomposeQuery implements decompose_query (§4.3), invoked only for
// comprehensive intents.
func (a *Agent) DecomposeQuery(ctx context.Context, query string, intent IntentResult) ([]SubQuery, error) {
	rendered, err := a.prompt.Render("query_decomposition", map[string]any{
		"Query":  query,
		"Intent": intent.IntentType,
	})
	if err != nil {
		return nil, fmt.Errorf("planner: render query_decomposition: %w", err)
	}

	resp, err := a.llm.Complete(ctx, modelgw.Request{
		Model:    a.models.IntentAnalysis,
		JSONMode: true,
		Messages: []modelgw.Message{{Role: modelgw.RoleUser, Content: rendered}},
	})
	if err != nil {
		return nil, fmt.Errorf("planner: decompose_query: %w", err)
	}

	var parsed subQueryResponse
	if err := modelgw.DecodeJSON(resp, &parsed); err != nil {
		return nil, fmt.Errorf("planner: decompose_query: %w", err)
	}
	return parsed.SubQueries, nil
}

// CreatePlan implements create_plan (§4.3): deterministic, no LLM call.
// Short-circuit intents (configured with ShortCircuit=true) produce an
// empty ExecutionSteps, per §4.3 and §4.1's "plan's intent is in the
// configured short-circuit set".
func (a *Agent) CreatePlan(intent IntentResult, subQueries []SubQuery) (Plan, error) {
	intentCfg, ok := a.cfg.IntentByName(intent.IntentType)
	if !ok {
		return Plan{}, fmt.Errorf("planner: unknown intent %q", intent.IntentType)
	}

	plan := Plan{
		IntentType: intent.IntentType,
		Confidence: intent.Confidence,
		Keywords:   intent.Keywords,
	}

	if intentCfg.ShortCircuit || len(intentCfg.SuggestedAgents) == 0 {
		return plan, nil
	}

	teams := make([]string, len(intentCfg.SuggestedAgents))
	copy(teams, intentCfg.SuggestedAgents)
	sortByDependency(teams)

	plan.ExecutionSteps = make([]ExecutionStep, 0, len(teams))
	for i, team := range teams {
		plan.ExecutionSteps = append(plan.ExecutionSteps, ExecutionStep{
			StepID:             fmt.Sprintf("step-%d-%s", i+1, team),
			Team:               team,
			Task:               defaultTask(team),
			Description:        defaultDescription(team),
			Status:             StepPending,
			ProgressPercentage: 0,
		})
	}

	if teamsIndependent(teams) {
		plan.ExecutionStrategy = StrategyParallel
		plan.ParallelGroups = [][]string{teams}
	} else {
		plan.ExecutionStrategy = StrategySequential
	}

	return plan, nil
}

// sortByDependency orders teams in place according to teamDependencyOrder
// (search before analysis before document), stable for unknown team names.
func sortByDependency(teams []string) {
	for i := 1; i < len(teams); i++ {
		for j := i; j > 0 && rank(teams[j-1]) > rank(teams[j]); j-- {
			teams[j-1], teams[j] = teams[j], teams[j-1]
		}
	}
}

func rank(team string) int {
	if r, ok := teamDependencyOrder[team]; ok {
		return r
	}
	return len(teamDependencyOrder)
}

// teamsIndependent reports whether none of teams depends on another's
// output, i.e. there is no cross-team pairing requiring sequential handoff.
// Per §4.3, only "search" feeding "analysis" (or "analysis" feeding
// "document") constitutes a dependency. Two or more teams with no adjacent
// dependency pairing can run in parallel; a single team is reported as not
// independent, so a one-team plan runs sequentially.
func teamsIndependent(teams []string) bool {
	if len(teams) <= 1 {
		return false
	}
	seen := make(map[string]bool, len(teams))
	for _, t := range teams {
		seen[t] = true
	}
	if seen["search"] && seen["analysis"] {
		return false
	}
	if seen["analysis"] && seen["document"] {
		return false
	}
	return true
}

func defaultTask(team string) string {
	switch team {
	case "search":
		return "Search for relevant listings and regulations"
	case "analysis":
		return "Analyze market data and generate insights"
	case "document":
		return "Draft the requested document"
	default:
		return "Process request"
	}
}

func defaultDescription(team string) string {
	switch team {
	case "search":
		return "Query property listings, legal references, and market data sources."
	case "analysis":
		return "Synthesize findings into actionable insights for the user's query."
	case "document":
		return "Generate a structured document and route it through review if required."
	default:
		return "Execute the configured team workflow."
	}
}
