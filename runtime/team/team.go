// Package team implements the Team Executor subgraph shape (C7): every
// team (search, analysis, document) runs the same
// prepare → route → execute → aggregate → finalize pipeline over a shared
// context, with concurrent tool dispatch and a per-team deadline (§4.2).
package team

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/estatecopilot/runtime/runtime/modelgw"
	"github.com/estatecopilot/runtime/runtime/tools"
)

type (
	// Status is a team's terminal status, distinct from an individual
	// ExecutionStep's status vocabulary but mapped onto it by the
	// supervisor (§4.2 finalize).
	Status string

	// SharedContext is the projection of the Run every team receives (§3
	// TeamState: "a projection of the Run containing query, session id,
	// user id, language, timestamp").
	SharedContext struct {
		Query     string
		SessionID string
		UserID    string
		Language  string
		Timestamp time.Time
	}

	// ToolSelection is the tool_selection_* prompt's required JSON
	// response shape (§4.2 step 2).
	ToolSelection struct {
		SelectedTools []string `json:"selected_tools"`
		Reasoning     string   `json:"reasoning"`
		Confidence    float64  `json:"confidence"`
	}

	// DecisionRecord captures one team's tool-selection decision and
	// per-tool outcome for offline audit (§4.2 step 5: "Decision Log").
	DecisionRecord struct {
		Team          string
		SelectedTools []string
		Reasoning     string
		Confidence    float64
		Outcomes      []ToolOutcome
		RecordedAt    time.Time
	}

	// ToolOutcome is one tool's execution record within a DecisionRecord.
	ToolOutcome struct {
		ToolName  string
		Status    tools.Status
		LatencyMS int64
		Error     string
	}

	// TeamState is a team execution's full working state (§3 TeamState):
	// inputs, outputs, and an error slot. Output is the team-specific
	// aggregated slot (§4.2 aggregate), kept as a plain map so the
	// supervisor can extract a typed projection without this package
	// depending on supervisor types.
	TeamState struct {
		Team     string
		Status   Status
		Input    map[string]any
		Output   map[string]any
		Decision *DecisionRecord
		Error    string
	}

	// Definition supplies the team-specific hooks the generic pipeline
	// calls at each stage (§4.2's skeletal shape). A concrete team
	// (search, analysis, document) is just a Definition value.
	Definition struct {
		// Name is the team identifier (search, analysis, document).
		Name string
		// Prepare derives team-specific inputs from shared context and
		// upstream input_data.
		Prepare func(ctx context.Context, shared SharedContext, inputData map[string]any) (map[string]any, error)
		// ToolSelectionPromptRole names the team's tool_selection_* prompt.
		ToolSelectionPromptRole string
		// ToolTags lists tag metadata for this team's tools. Executor.Run
		// does not read it: candidates come from Registry.ForTeam, which
		// filters on Spec.Team.
		ToolTags []string
		// Aggregate merges per-tool results into the team's output slot
		// shape (§4.2 aggregate). Some teams (analysis) invoke C3 again
		// during aggregate, hence the context parameter.
		Aggregate func(ctx context.Context, input map[string]any, results map[string]tools.Result) (map[string]any, error)
		// Deadline bounds concurrent tool execution for this team.
		Deadline time.Duration
		// Reusable opts this team into the Option-A data-reuse optimization
		// (§4.5): the supervisor may skip execution outright and copy a
		// recent prior run's output when the input fingerprint matches.
		Reusable bool
		// Regenerate re-enters generate with HITL feedback folded into the
		// prompt context (§4.2 "modify with feedback"). Nil for teams with
		// no HITL branch.
		Regenerate func(ctx context.Context, input map[string]any, feedback string) (map[string]any, error)
	}

	// Executor drives the generic team pipeline for a Definition.
	Executor struct {
		def      Definition
		registry *tools.Registry
		llm      modelgw.Client
		model    string
	}
)

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// fallbackConfidence is used when the tool-selection LLM call fails and the
// team falls back to "use all available tools" (§4.2 step 3).
const fallbackConfidence = 0.3
const fallbackReasoning = "tool selection unavailable; falling back to all registered tools for this team"

// defaultDeadline bounds tool execution when a Definition does not specify
// one.
const defaultDeadline = 30 * time.Second

// Name returns the team this Executor drives.
func (e *Executor) Name() string { return e.def.Name }

// Reusable reports whether this team opted into the Option-A data-reuse
// optimization (§4.5).
func (e *Executor) Reusable() bool { return e.def.Reusable }

// Regenerate re-invokes the team's HITL regeneration hook, if any (§4.2
// "modify with feedback"). ok is false when the team has no such hook.
func (e *Executor) Regenerate(ctx context.Context, input map[string]any, feedback string) (output map[string]any, ok bool, err error) {
	if e.def.Regenerate == nil {
		return nil, false, nil
	}
	output, err = e.def.Regenerate(ctx, input, feedback)
	return output, true, err
}

// NewExecutor builds an Executor for def, dispatching tool-selection calls
// to llm/model and resolving tools from registry.
func NewExecutor(def Definition, registry *tools.Registry, llm modelgw.Client, model string) *Executor {
	if def.Deadline <= 0 {
		def.Deadline = defaultDeadline
	}
	return &Executor{def: def, registry: registry, llm: llm, model: model}
}

// Run drives prepare → route → execute → aggregate → finalize for one team
// invocation (§4.2).
func (e *Executor) Run(ctx context.Context, shared SharedContext, inputData map[string]any) TeamState {
	state := TeamState{Team: e.def.Name, Input: inputData}

	prepared, err := e.def.Prepare(ctx, shared, inputData)
	if err != nil {
		state.Status = StatusFailed
		state.Error = err.Error()
		return state
	}
	state.Input = prepared

	candidates := e.registry.ForTeam(e.def.Name)
	if len(candidates) == 0 {
		state.Status = StatusSkipped
		return state
	}

	selection := e.selectTools(ctx, shared, candidates)

	deadlineCtx, cancel := context.WithTimeout(ctx, e.def.Deadline)
	defer cancel()
	results, decision := e.invokeTools(deadlineCtx, selection, prepared)
	decision.Team = e.def.Name
	state.Decision = &decision

	output, err := e.def.Aggregate(deadlineCtx, prepared, results)
	if err != nil {
		state.Status = StatusFailed
		state.Error = err.Error()
		return state
	}
	state.Output = output
	state.Status = finalStatus(results)
	return state
}

// selectTools implements §4.2 step 2-3: ask the tool-selection model for a
// JSON selection with an inline prompt carrying the query and the candidate
// tools' metadata (ToolSelectionPromptRole is not read here), falling back
// to "use all available tools" with a fixed low-confidence reasoning on any
// LLM or decode failure.
func (e *Executor) selectTools(ctx context.Context, shared SharedContext, candidates []tools.Spec) ToolSelection {
	type toolMetadata struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Tags        []string        `json:"tags,omitempty"`
		InputSchema json.RawMessage `json:"input_schema,omitempty"`
	}
	views := make([]toolMetadata, len(candidates))
	for i, c := range candidates {
		views[i] = toolMetadata{Name: c.Name, Description: c.Description, Tags: c.Tags, InputSchema: c.InputSchemaRaw}
	}

	metadata, err := json.Marshal(views)
	if err != nil {
		return fallbackSelection(candidates)
	}

	prompt := fmt.Sprintf("query: %s\ntools: %s", shared.Query, string(metadata))
	resp, err := e.llm.Complete(ctx, modelgw.Request{
		Model:    e.model,
		JSONMode: true,
		Messages: []modelgw.Message{{Role: modelgw.RoleUser, Content: prompt}},
	})
	if err != nil {
		return fallbackSelection(candidates)
	}

	var selection ToolSelection
	if err := modelgw.DecodeJSON(resp, &selection); err != nil {
		return fallbackSelection(candidates)
	}
	return selection
}

func fallbackSelection(candidates []tools.Spec) ToolSelection {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	return ToolSelection{SelectedTools: names, Reasoning: fallbackReasoning, Confidence: fallbackConfidence}
}

// invokeTools runs the selected tools concurrently (§4.2 step 4: "tool
// calls run concurrently by default") and records per-tool outcomes. Every
// tool receives the same prepared input the team derived in its prepare
// step, so a tool's schema validates against real data rather than nil.
func (e *Executor) invokeTools(ctx context.Context, selection ToolSelection, input map[string]any) (map[string]tools.Result, DecisionRecord) {
	results := make(map[string]tools.Result, len(selection.SelectedTools))
	outcomes := make([]ToolOutcome, len(selection.SelectedTools))

	g, gctx := errgroup.WithContext(ctx)
	type pair struct {
		name   string
		result tools.Result
		ms     int64
	}
	out := make([]pair, len(selection.SelectedTools))

	for i, name := range selection.SelectedTools {
		i, name := i, name
		g.Go(func() error {
			start := time.Now()
			res := e.registry.Invoke(gctx, name, input)
			out[i] = pair{name: name, result: res, ms: time.Since(start).Milliseconds()}
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range out {
		results[p.name] = p.result
		outcome := ToolOutcome{ToolName: p.name, Status: p.result.Status, LatencyMS: p.ms}
		if p.result.Status == tools.StatusError {
			outcome.Error = p.result.Error
		}
		outcomes[i] = outcome
	}

	return results, DecisionRecord{
		SelectedTools: selection.SelectedTools,
		Reasoning:     selection.Reasoning,
		Confidence:    selection.Confidence,
		Outcomes:      outcomes,
		RecordedAt:    time.Now(),
	}
}

// finalStatus implements §4.2 finalize's status rule: completed if any tool
// succeeded, failed only if every attempted tool errored.
func finalStatus(results map[string]tools.Result) Status {
	if len(results) == 0 {
		return StatusSkipped
	}
	anySuccess := false
	for _, r := range results {
		if r.Status == tools.StatusSuccess {
			anySuccess = true
			break
		}
	}
	if anySuccess {
		return StatusCompleted
	}
	return StatusFailed
}
