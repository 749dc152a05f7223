package main

import (
	"context"
	"fmt"

	"github.com/estatecopilot/runtime/runtime/engine"
	"github.com/estatecopilot/runtime/runtime/team"
)

// teamExecutionTaskQueue is the default Temporal task queue for durable team
// runs (§9 decision: the top-level supervisor graph stays in-process; a
// team's own tool-heavy subgraph is what this worker makes durable).
const teamExecutionTaskQueue = "estatecopilot-team-execution"

const (
	teamExecutionWorkflowName = "TeamExecution"
	runTeamActivityName       = "RunTeam"
)

// TeamExecutionInput is the workflow/activity payload: which team to run and
// the inputs team.Executor.Run itself takes.
type TeamExecutionInput struct {
	Team      string
	Shared    team.SharedContext
	InputData map[string]any
}

// teamRunner resolves a team name to the Executor that should run it. main
// populates this once at startup from the same team wiring cmd/server uses.
type teamRunner struct {
	executors map[string]*team.Executor
}

// teamExecutionWorkflow is the Temporal workflow entry point: it schedules
// exactly one RunTeam activity and returns its result. Temporal gives this
// single step retries, timeouts, and a durable history independent of the
// supervisor process that requested it — the actual tool/LLM calls still
// happen inside the activity, not split into sub-activities, since
// team.Executor's control flow is not itself replay-deterministic.
func teamExecutionWorkflow(ctx engine.WorkflowContext, input any) (any, error) {
	req, ok := input.(TeamExecutionInput)
	if !ok {
		return nil, fmt.Errorf("team execution workflow: unexpected input type %T", input)
	}

	var state team.TeamState
	err := ctx.ExecuteActivity(ctx.Context(), engine.ActivityRequest{
		Name:  runTeamActivityName,
		Input: req,
	}, &state)
	if err != nil {
		return nil, fmt.Errorf("team execution workflow: run team %q: %w", req.Team, err)
	}
	return state, nil
}

// runTeamActivity is the Temporal activity that actually drives a team's
// tool selection, invocation, and result assembly (§4.2) — the side-
// effecting work the workflow function itself must stay free of.
func (r *teamRunner) runTeamActivity(ctx context.Context, input any) (any, error) {
	req, ok := input.(TeamExecutionInput)
	if !ok {
		return nil, fmt.Errorf("run team activity: unexpected input type %T", input)
	}
	executor, ok := r.executors[req.Team]
	if !ok {
		return nil, fmt.Errorf("run team activity: unknown team %q", req.Team)
	}
	state := executor.Run(ctx, req.Shared, req.InputData)
	return state, nil
}
