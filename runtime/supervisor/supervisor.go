// Package supervisor implements the top-level Supervisor State Machine
// (C8): initialize → planning → execute → aggregate → respond, with an
// interrupted side-branch for document-team HITL pauses. It owns every
// side effect that bridges inside↔outside the run: memory load/save,
// checkpoint write, progress emission, and final answer formatting (§4.1).
package supervisor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/estatecopilot/runtime/runtime/answer"
	"github.com/estatecopilot/runtime/runtime/bus"
	"github.com/estatecopilot/runtime/runtime/checkpoint"
	"github.com/estatecopilot/runtime/runtime/config"
	"github.com/estatecopilot/runtime/runtime/memory"
	"github.com/estatecopilot/runtime/runtime/planner"
	"github.com/estatecopilot/runtime/runtime/session"
	"github.com/estatecopilot/runtime/runtime/team"
	"github.com/estatecopilot/runtime/runtime/telemetry"
)

type (
	// Run is the in-memory working state of one end-to-end query turn (§3
	// Run). It is the shape persisted (as JSON) inside checkpoint.RunState's
	// opaque Data field.
	Run struct {
		RunID            string
		SessionID        string
		UserID           string
		Language         string
		Query            string
		RequestSeq       int64
		Phase            session.Phase
		Plan             *planner.Plan
		TeamResults      map[string]team.TeamState
		Answer           *answer.Answer
		StartedAt        time.Time
		CompletedAt      *time.Time
		ErrorLog         []string
		SessionExpiresAt time.Time
		// HITLExpired is set when a document team's approval window
		// outlived the session (§7 HITLExpired), so respond renders a
		// cancellation guidance answer instead of synthesizing from
		// (necessarily incomplete) team results.
		HITLExpired bool
	}

	reuseEntry struct {
		Team        string
		Fingerprint string
		Output      map[string]any
		RecordedAt  time.Time
	}

	// Supervisor wires together every collaborator component named in §2's
	// control-flow line and drives the graph described in §4.1.
	Supervisor struct {
		checkpoints checkpoint.Store
		bus         *bus.Bus
		memory      *memory.Service
		planner     *planner.Agent
		teams       map[string]*team.Executor
		teamOrder   []string
		formatter   *answer.Formatter
		cfg         *config.Config
		logger      telemetry.Logger

		mu         sync.Mutex
		interrupts map[string]chan team.InterruptResponse
		reuse      map[string][]reuseEntry
	}
)

// New constructs a Supervisor. teams must be keyed by team name (search,
// analysis, document); every Definition's Reusable flag and the config's
// suggested_agents vocabulary are the only two places a team name must
// agree.
func New(
	checkpoints checkpoint.Store,
	progressBus *bus.Bus,
	mem *memory.Service,
	plan *planner.Agent,
	teams map[string]*team.Executor,
	formatter *answer.Formatter,
	cfg *config.Config,
	logger telemetry.Logger,
) *Supervisor {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	order := make([]string, 0, len(teams))
	for name := range teams {
		order = append(order, name)
	}
	sort.Strings(order)
	return &Supervisor{
		checkpoints: checkpoints,
		bus:         progressBus,
		memory:      mem,
		planner:     plan,
		teams:       teams,
		teamOrder:   order,
		formatter:   formatter,
		cfg:         cfg,
		logger:      logger,
		interrupts:  make(map[string]chan team.InterruptResponse),
		reuse:       make(map[string][]reuseEntry),
	}
}

// ProcessQuery drives one run end to end (§4.1). callback is registered on
// the bus for the lifetime of the run and unregistered before return,
// whatever the outcome. enableCheckpointing mirrors
// config.Supervisor.EnableCheckpointing per-call, so a caller can opt a
// specific session out.
func (s *Supervisor) ProcessQuery(ctx context.Context, sess session.Session, query string, requestSeq int64, enableCheckpointing bool, callback bus.Callback) (Run, error) {
	sub, err := s.bus.Register(sess.ID, callback)
	if err != nil {
		return Run{}, fmt.Errorf("supervisor: register progress callback: %w", err)
	}
	defer sub.Close()

	run := Run{
		RunID:            uuid.NewString(),
		SessionID:        sess.ID,
		UserID:           sess.UserID,
		Query:            query,
		RequestSeq:       requestSeq,
		Phase:            session.PhaseInitialization,
		TeamResults:      make(map[string]team.TeamState),
		StartedAt:        time.Now(),
		SessionExpiresAt: sess.ExpiresAt,
	}
	s.checkpoint(ctx, &run, enableCheckpointing)

	if err := s.planningNode(ctx, &run); err != nil {
		return s.failRun(ctx, run, enableCheckpointing, err), nil
	}
	s.checkpoint(ctx, &run, enableCheckpointing)

	if len(run.Plan.ExecutionSteps) == 0 {
		s.respondGuidance(ctx, &run)
		s.checkpoint(ctx, &run, enableCheckpointing)
		return run, nil
	}

	if err := s.executeNode(ctx, &run); err != nil {
		return s.failRun(ctx, run, enableCheckpointing, err), nil
	}
	s.checkpoint(ctx, &run, enableCheckpointing)

	s.aggregateNode(&run)
	s.checkpoint(ctx, &run, enableCheckpointing)
	if err := s.respondNode(ctx, &run); err != nil {
		return s.failRun(ctx, run, enableCheckpointing, err), nil
	}

	s.checkpoint(ctx, &run, enableCheckpointing)
	s.memory.SummarizeConversationBackground(run.SessionID, run.UserID)
	return run, nil
}

// planningNode implements §4.1's planning node.
func (s *Supervisor) planningNode(ctx context.Context, run *Run) error {
	run.Phase = session.PhasePlanning
	s.emit(ctx, bus.EventPlanningStart, run, map[string]any{"message": "analyzing your request"})

	tiered, err := s.memory.LoadTiered(ctx, run.UserID, run.SessionID)
	if err != nil {
		s.logger.Warn(ctx, "supervisor: load_tiered failed, proceeding without memory context", "session_id", run.SessionID, "error", err.Error())
	}
	memoryContext := summarizeForPrompt(tiered)

	intent, err := s.planner.AnalyzeIntent(ctx, run.Query, memoryContext)
	if err != nil {
		return fmt.Errorf("analyze_intent: %w", err)
	}

	var subQueries []planner.SubQuery
	if intent.IntentType == "comprehensive" {
		subQueries, err = s.planner.DecomposeQuery(ctx, run.Query, intent)
		if err != nil {
			s.logger.Warn(ctx, "supervisor: decompose_query failed, proceeding without decomposition", "session_id", run.SessionID, "error", err.Error())
			subQueries = nil
		}
	}

	plan, err := s.planner.CreatePlan(intent, subQueries)
	if err != nil {
		return fmt.Errorf("create_plan: %w", err)
	}
	run.Plan = &plan

	s.emit(ctx, bus.EventPlanReady, run, map[string]any{
		"intent":              plan.IntentType,
		"confidence":          plan.Confidence,
		"execution_steps":     plan.ExecutionSteps,
		"execution_strategy":  plan.ExecutionStrategy,
		"estimated_total_time": plan.EstimatedTotalTimeS,
		"keywords":            plan.Keywords,
	})
	return nil
}

// executeNode implements §4.1's execute node, dispatching teams according
// to the plan's execution_strategy.
func (s *Supervisor) executeNode(ctx context.Context, run *Run) error {
	run.Phase = session.PhaseExecuting
	s.emit(ctx, bus.EventExecutionStart, run, map[string]any{
		"execution_steps": run.Plan.ExecutionSteps,
		"intent":          run.Plan.IntentType,
		"confidence":      run.Plan.Confidence,
	})

	switch run.Plan.ExecutionStrategy {
	case planner.StrategyParallel:
		s.runParallel(ctx, run)
	default: // sequential and pipeline both chain outputs in plan order
		s.runSequential(ctx, run)
	}
	return nil
}

// runSequential drives §4.1 execute's sequential/pipeline branch: teams run
// in plan order, each step's output feeding the next step as input_data.
func (s *Supervisor) runSequential(ctx context.Context, run *Run) {
	var carry map[string]any

	for i := range run.Plan.ExecutionSteps {
		step := &run.Plan.ExecutionSteps[i]
		s.markStepStarted(run, step)

		state, wasReused := s.runTeam(ctx, run, step.Team, carry)
		run.TeamResults[step.Team] = state
		s.settleStep(ctx, run, step, state, wasReused)

		if state.Status != team.StatusFailed {
			carry = state.Output
		}
	}
}

// runParallel drives §4.1 execute's parallel branch: every team in the
// plan's single parallel group starts concurrently and the group completes
// when all teams terminate. Each goroutine only writes its own slot in the
// pre-sized results/reusedFlags slices; run.TeamResults and every step's
// status are only ever touched back on this (the calling) goroutine, after
// g.Wait(), so there is no concurrent map write.
func (s *Supervisor) runParallel(ctx context.Context, run *Run) {
	for i := range run.Plan.ExecutionSteps {
		s.markStepStarted(run, &run.Plan.ExecutionSteps[i])
	}

	results := make([]team.TeamState, len(run.Plan.ExecutionSteps))
	reusedFlags := make([]bool, len(run.Plan.ExecutionSteps))

	g, gctx := errgroup.WithContext(ctx)
	for i := range run.Plan.ExecutionSteps {
		i := i
		step := run.Plan.ExecutionSteps[i]
		g.Go(func() error {
			state, wasReused := s.runTeam(gctx, run, step.Team, nil)
			results[i] = state
			reusedFlags[i] = wasReused
			return nil
		})
	}
	_ = g.Wait()

	for i := range run.Plan.ExecutionSteps {
		step := &run.Plan.ExecutionSteps[i]
		run.TeamResults[step.Team] = results[i]
		s.settleStep(ctx, run, step, results[i], reusedFlags[i])
	}
}

// settleStep records a completed step's reuse notification, if any, then its
// completing todo_updated event — in that order, so a data_reuse_notification
// always precedes the corresponding todo_updated(completed, isReused=true)
// (testable property 10, scenario S6). Called only from the single goroutine
// driving runSequential or collecting runParallel's results, never
// concurrently.
func (s *Supervisor) settleStep(ctx context.Context, run *Run, step *planner.ExecutionStep, state team.TeamState, wasReused bool) {
	if wasReused {
		step.IsReused = true
		s.emit(ctx, bus.EventDataReuseNotification, run, map[string]any{"reused_teams": []string{step.Team}})
	}
	s.finishStep(run, step, state)
}

// runTeam invokes the named team, first checking the Option-A data-reuse
// cache (§4.5). The bool return reports whether the result came from reuse.
// For the document team, a required-approval outcome blocks here until an
// InterruptResponse resolves it (§5: "the HITL interrupt — blocks the run
// indefinitely until InterruptResponse arrives or the session expires").
// runTeam never touches run.TeamResults itself — callers assign the
// returned state back on their own (single) goroutine, since runParallel
// invokes runTeam from one goroutine per step and a shared map write here
// would race.
func (s *Supervisor) runTeam(ctx context.Context, run *Run, teamName string, inputData map[string]any) (team.TeamState, bool) {
	exec, ok := s.teams[teamName]
	if !ok {
		return team.TeamState{Team: teamName, Status: team.StatusFailed, Error: fmt.Sprintf("no executor registered for team %q", teamName)}, false
	}

	shared := team.SharedContext{Query: run.Query, SessionID: run.SessionID, UserID: run.UserID, Language: run.Language, Timestamp: time.Now()}

	if fp, ok := s.lookupReuse(run.SessionID, teamName, shared.Query, inputData); ok {
		return team.TeamState{Team: teamName, Status: team.StatusCompleted, Input: inputData, Output: fp.Output}, true
	}

	state := exec.Run(ctx, shared, inputData)
	if teamName == "document" && documentNeedsApproval(inputData, state) {
		state = s.runDocumentHITL(ctx, run, exec, state)
	}

	s.recordReuse(run.SessionID, teamName, shared.Query, inputData, state.Output)
	return state, false
}

// runDocumentHITL drives §4.2's HITL branch to a terminal outcome: approve,
// reject, or a bounded number of modify revisions.
func (s *Supervisor) runDocumentHITL(ctx context.Context, run *Run, exec *team.Executor, state team.TeamState) team.TeamState {
	maxRevisions := s.cfg.Supervisor.MaxRevisions
	if maxRevisions <= 0 {
		maxRevisions = 3
	}

	run.Phase = session.PhaseInterrupted
	for revision := 0; ; {
		s.emit(ctx, bus.EventWorkflowInterrupted, run, map[string]any{
			"interrupt_data": state.Output,
			"interrupted_by": "document",
			"interrupt_type": "document_review",
			"message":        "This document needs your approval before it can be finalized.",
		})

		resp, err := s.waitForInterrupt(ctx, run)
		if err != nil {
			// HITLExpired (§7): finalize the team as failed and let the
			// caller render a guidance answer explaining the cancellation.
			state.Status = team.StatusFailed
			state.Error = "hitl_expired"
			run.HITLExpired = true
			break
		}

		switch resp.Action {
		case team.InterruptApprove:
			// proceed to finalize with the current draft.
		case team.InterruptReject:
			state.Status = team.StatusSkipped
			state.Output = map[string]any{"generated_document": "", "review_result": "rejected", "final_document_markdown": ""}
		case team.InterruptModify:
			revision++
			if revision > maxRevisions {
				// Revision budget exhausted: finalize with the last draft
				// rather than looping forever.
				break
			}
			output, ok, regenErr := exec.Regenerate(ctx, state.Input, resp.Feedback)
			if ok && regenErr == nil {
				state.Output = output
				continue
			}
			if regenErr != nil {
				state.Status = team.StatusFailed
				state.Error = regenErr.Error()
			}
		}
		break
	}

	run.Phase = session.PhaseExecuting
	return state
}

// waitForInterrupt blocks until an InterruptResponse is delivered for
// run.SessionID or the session's expiry passes, whichever comes first (§5
// "HITL interrupts expire with the session").
func (s *Supervisor) waitForInterrupt(ctx context.Context, run *Run) (team.InterruptResponse, error) {
	ch := make(chan team.InterruptResponse, 1)
	s.mu.Lock()
	s.interrupts[run.SessionID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.interrupts, run.SessionID)
		s.mu.Unlock()
	}()

	waitCtx := ctx
	if !run.SessionExpiresAt.IsZero() {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, run.SessionExpiresAt)
		defer cancel()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-waitCtx.Done():
		return team.InterruptResponse{}, waitCtx.Err()
	}
}

// documentNeedsApproval inspects the document team's prepared input for the
// document_type it resolved and consults RequiresApproval (§4.2 HITL
// branch).
func documentNeedsApproval(inputData map[string]any, state team.TeamState) bool {
	if state.Status == team.StatusFailed || state.Status == team.StatusSkipped {
		return false
	}
	docType, _ := inputData["document_type"].(string)
	if docType == "" {
		docType, _ = state.Input["document_type"].(string)
	}
	return team.RequiresApproval(docType)
}

// ResumeInterrupt delivers resp to the paused run for sessionID (§3
// InterruptRequest: "the Run is paused until an InterruptResponse is
// delivered"). It is the supervisor's sole resume path after an
// EventWorkflowInterrupted.
func (s *Supervisor) ResumeInterrupt(sessionID string, resp team.InterruptResponse) error {
	s.mu.Lock()
	ch, ok := s.interrupts[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: no run interrupted for session %q", sessionID)
	}
	ch <- resp
	return nil
}

// aggregateNode implements §4.1's aggregate node by entering the aggregation
// phase. It merges nothing itself: respondNode collects each team's output
// into one map, and the formatter builds the typed projection.
func (s *Supervisor) aggregateNode(run *Run) {
	run.Phase = session.PhaseAggregation
}

// respondNode implements §4.1's respond node for non-short-circuit runs.
func (s *Supervisor) respondNode(ctx context.Context, run *Run) error {
	run.Phase = session.PhaseResponseGenerating
	s.emit(ctx, bus.EventResponseGeneratingStart, run, map[string]any{"phase": "aggregation"})

	if run.HITLExpired {
		ans := answer.HITLCancelled(run.Plan.IntentType)
		run.Answer = &ans
		s.finishRun(ctx, run)
		return nil
	}

	if answer.IsGuidance(run.Plan.IntentType) {
		s.respondGuidance(ctx, run)
		return nil
	}

	s.emit(ctx, bus.EventResponseGeneratingProgress, run, map[string]any{"phase": "response_generation"})

	aggregated := make(map[string]any, len(run.TeamResults))
	for name, state := range run.TeamResults {
		aggregated[name] = state.Output
	}

	confidence := run.Plan.Confidence
	ans, err := s.formatter.Synthesize(ctx, run.Plan.IntentType, confidence, aggregated)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	run.Answer = &ans
	s.finishRun(ctx, run)
	return nil
}

// respondGuidance implements the short-circuit path named in §4.1 planning:
// render a static guidance answer with no further LLM reasoning.
func (s *Supervisor) respondGuidance(ctx context.Context, run *Run) {
	run.Phase = session.PhaseResponseGenerating
	intentType := "unclear"
	if run.Plan != nil {
		intentType = run.Plan.IntentType
	}
	ans := answer.Guidance(intentType, "I can help with property search, market analysis, and document preparation — could you tell me more about what you need?")
	run.Answer = &ans
	s.finishRun(ctx, run)
}

func (s *Supervisor) finishRun(ctx context.Context, run *Run) {
	run.Phase = session.PhaseCompleted
	now := time.Now()
	run.CompletedAt = &now
	s.emit(ctx, bus.EventFinalResponse, run, map[string]any{"response": run.Answer})
}

func (s *Supervisor) failRun(ctx context.Context, run Run, enableCheckpointing bool, cause error) Run {
	run.Phase = session.PhaseError
	run.ErrorLog = append(run.ErrorLog, cause.Error())
	now := time.Now()
	run.CompletedAt = &now
	s.emit(ctx, bus.EventError, &run, map[string]any{"error": cause.Error()})
	s.checkpoint(ctx, &run, enableCheckpointing)
	return run
}

func (s *Supervisor) markStepStarted(run *Run, step *planner.ExecutionStep) {
	step.Status = planner.StepInProgress
	now := time.Now().UnixMilli()
	step.StartedAt = &now
	s.emit(context.Background(), bus.EventTodoUpdated, run, map[string]any{"execution_steps": run.Plan.ExecutionSteps})
}

func (s *Supervisor) finishStep(run *Run, step *planner.ExecutionStep, state team.TeamState) {
	now := time.Now().UnixMilli()
	step.CompletedAt = &now
	step.Result = state.Output
	step.Error = state.Error
	switch state.Status {
	case team.StatusCompleted:
		step.Status = planner.StepCompleted
		step.ProgressPercentage = 100
	case team.StatusFailed:
		step.Status = planner.StepFailed
	default:
		step.Status = planner.StepSkipped
	}
	s.emit(context.Background(), bus.EventTodoUpdated, run, map[string]any{"execution_steps": run.Plan.ExecutionSteps})
}

func (s *Supervisor) emit(ctx context.Context, eventType bus.EventType, run *Run, payload map[string]any) {
	err := s.bus.Emit(ctx, bus.Event{Type: eventType, SessionID: run.SessionID, RunID: run.RunID, Payload: payload})
	if err != nil && err != bus.ErrNoSubscriber {
		s.logger.Warn(ctx, "supervisor: emit failed", "session_id", run.SessionID, "event_type", string(eventType), "error", err.Error())
	}
}

// checkpoint serializes run and writes it via C1, when enabled (§4.1: every
// node writes a checkpoint at each phase transition). Failures are logged,
// never fatal to the turn — the run itself is the source of truth until the
// response is sent.
func (s *Supervisor) checkpoint(ctx context.Context, run *Run, enabled bool) {
	if !enabled || s.checkpoints == nil {
		return
	}
	data, err := json.Marshal(run)
	if err != nil {
		s.logger.Error(ctx, "supervisor: marshal run for checkpoint failed", "run_id", run.RunID, "error", err.Error())
		return
	}
	_, err = s.checkpoints.Write(ctx, checkpoint.RunState{
		RunID:     run.RunID,
		SessionID: run.SessionID,
		Phase:     string(run.Phase),
		Data:      data,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Error(ctx, "supervisor: write checkpoint failed", "run_id", run.RunID, "error", err.Error())
	}
}

// lookupReuse implements the read side of §4.5's Option-A optimization.
func (s *Supervisor) lookupReuse(sessionID, teamName, query string, inputData map[string]any) (reuseEntry, bool) {
	exec, ok := s.teams[teamName]
	if !ok || !exec.Reusable() {
		return reuseEntry{}, false
	}
	fp := fingerprint(teamName, query, inputData)

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.reuse[sessionID]
	window := s.cfg.Supervisor.DataReuseWindow
	start := 0
	if len(entries) > window {
		start = len(entries) - window
	}
	for i := len(entries) - 1; i >= start; i-- {
		if entries[i].Team == teamName && entries[i].Fingerprint == fp {
			return entries[i], true
		}
	}
	return reuseEntry{}, false
}

func (s *Supervisor) recordReuse(sessionID, teamName, query string, inputData, output map[string]any) {
	exec, ok := s.teams[teamName]
	if !ok || !exec.Reusable() {
		return
	}
	entry := reuseEntry{Team: teamName, Fingerprint: fingerprint(teamName, query, inputData), Output: output, RecordedAt: time.Now()}

	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append(s.reuse[sessionID], entry)
	window := s.cfg.Supervisor.DataReuseWindow
	if len(entries) > window {
		entries = entries[len(entries)-window:]
	}
	s.reuse[sessionID] = entries
}

// fingerprint canonicalizes a team's candidate input so equivalent requests
// hash identically regardless of map key ordering (§4.5: "team name +
// canonicalized inputs hash").
func fingerprint(teamName, query string, inputData map[string]any) string {
	canon, _ := json.Marshal(canonicalize(map[string]any{"team": teamName, "query": query, "input": inputData}))
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:])
}

func canonicalize(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]any, len(m))
	for _, k := range keys {
		out[k] = canonicalize(m[k])
	}
	return out
}

// summarizeForPrompt renders a tiered-memory load into a compact string the
// intent_analysis prompt can use as additional context.
func summarizeForPrompt(t memory.TieredMemories) string {
	if len(t.ShortTerm) == 0 && len(t.MidTerm) == 0 && len(t.LongTerm) == 0 {
		return ""
	}
	var summaries []string
	for _, s := range t.MidTerm {
		summaries = append(summaries, s.Summary)
	}
	for _, s := range t.LongTerm {
		summaries = append(summaries, s.Summary)
	}
	out, _ := json.Marshal(summaries)
	return string(out)
}
