// Package temporal contains the Temporal workflow engine adapter.
//
// This file defines the Temporal-backed implementation of engine.WorkflowContext.
// The runtime uses it to:
// - execute named activities with engine-owned defaults (queue, timeout, retry),
// - access deterministic time,
// - receive external signals in a replay-safe way.
//
// Contract:
//   - Activity option defaults are resolved by name and merged with per-call overrides.
//   - Temporal cancellation errors are normalized to context.Canceled for runtime-wide
//     classification that does not depend on Temporal types.
package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/estatecopilot/runtime/runtime/engine"
	"github.com/estatecopilot/runtime/runtime/telemetry"
)

type (
	temporalWorkflowContext struct {
		engine     *Engine
		ctx        workflow.Context
		workflowID string
		runID      string
		logger     telemetry.Logger
		metrics    telemetry.Metrics
		tracer     telemetry.Tracer
		baseCtx    context.Context
	}

	contextKey string

	temporalFuture struct {
		future workflow.Future
		ctx    workflow.Context
	}

	temporalSignalChannel struct {
		ctx workflow.Context
		ch  workflow.ReceiveChannel
	}
)

const (
	workflowIDKey contextKey = "temporal.workflow_id"
	runIDKey      contextKey = "temporal.run_id"
)

func newTemporalWorkflowContext(e *Engine, ctx workflow.Context) *temporalWorkflowContext {
	info := workflow.GetInfo(ctx)
	wfCtx := &temporalWorkflowContext{
		engine:     e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		logger:     e.logger,
		metrics:    e.metrics,
		tracer:     e.tracer,
		// NOTE: workflow execution is distributed and replayed; we cannot rely on
		// any process-local "base context registry" to initialize child workflows.
		// For deterministic behavior, build the base context from scratch and rely
		// on Temporal interceptors/propagators for trace context.
		baseCtx: context.Background(),
	}
	e.trackWorkflowContext(wfCtx.runID, wfCtx)
	return wfCtx
}

// normalizeTemporalError translates Temporal cancellation errors to context.Canceled.
//
// The runtime uses context cancellation to classify cancellations uniformly across
// engine backends without depending on Temporal SDK error types.
func normalizeTemporalError(err error) error {
	if err == nil {
		return nil
	}
	if temporal.IsCanceledError(err) {
		return context.Canceled
	}
	return err
}

func mergeRetryPolicies(base, override engine.RetryPolicy) engine.RetryPolicy {
	result := base
	if override.MaxAttempts != 0 {
		result.MaxAttempts = override.MaxAttempts
	}
	if override.InitialInterval != 0 {
		result.InitialInterval = override.InitialInterval
	}
	if override.BackoffCoefficient != 0 {
		result.BackoffCoefficient = override.BackoffCoefficient
	}
	return result
}

func convertRetryPolicy(r engine.RetryPolicy) *temporal.RetryPolicy {
	if r.MaxAttempts == 0 && r.InitialInterval == 0 && r.BackoffCoefficient == 0 {
		return nil
	}

	policy := &temporal.RetryPolicy{}
	if r.MaxAttempts > 0 {
		//nolint:gosec // MaxAttempts is validated at DSL eval time to be reasonable.
		policy.MaximumAttempts = int32(r.MaxAttempts)
	}
	if r.InitialInterval > 0 {
		policy.InitialInterval = r.InitialInterval
	}
	if r.BackoffCoefficient > 0 {
		policy.BackoffCoefficient = r.BackoffCoefficient
	}
	return policy
}

func (w *temporalWorkflowContext) Context() context.Context {
	ctx := context.WithValue(w.baseCtx, workflowIDKey, w.workflowID)
	ctx = context.WithValue(ctx, runIDKey, w.runID)
	return engine.WithWorkflowContext(ctx, w)
}

func (w *temporalWorkflowContext) WorkflowID() string {
	return w.workflowID
}

func (w *temporalWorkflowContext) RunID() string {
	return w.runID
}

// ExecuteActivity schedules a named activity and blocks for its result,
// resolving queue/timeout/retry defaults registered for that activity name
// and layering req's overrides on top.
func (w *temporalWorkflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(req.Name, engine.ActivityOptions{
		Queue:       req.Queue,
		RetryPolicy: req.RetryPolicy,
		Timeout:     req.Timeout,
	}))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	if err := fut.Get(actx, result); err != nil {
		return normalizeTemporalError(err)
	}
	return nil
}

// ExecuteActivityAsync schedules a named activity without blocking.
func (w *temporalWorkflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(req.Name, engine.ActivityOptions{
		Queue:       req.Queue,
		RetryPolicy: req.RetryPolicy,
		Timeout:     req.Timeout,
	}))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &temporalFuture{future: fut, ctx: actx}, nil
}

// SignalChannel returns the named signal channel, replay-safe per Temporal's
// workflow.GetSignalChannel.
func (w *temporalWorkflowContext) SignalChannel(name string) engine.SignalChannel {
	return &temporalSignalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

func (w *temporalWorkflowContext) Logger() telemetry.Logger {
	return w.logger
}

func (w *temporalWorkflowContext) Metrics() telemetry.Metrics {
	return w.metrics
}

func (w *temporalWorkflowContext) Tracer() telemetry.Tracer {
	return w.tracer
}

func (w *temporalWorkflowContext) Now() time.Time {
	return workflow.Now(w.ctx)
}

func (w *temporalWorkflowContext) activityOptionsFor(name string, override engine.ActivityOptions) workflow.ActivityOptions {
	defaults := w.engine.activityDefaultsFor(name)

	queue := override.Queue
	if queue == "" {
		queue = defaults.Queue
	}
	if queue == "" {
		queue = w.engine.defaultQueue
	}

	timeout := override.Timeout
	if timeout == 0 {
		timeout = defaults.Timeout
	}
	if timeout == 0 {
		timeout = time.Minute
	}

	retry := mergeRetryPolicies(defaults.RetryPolicy, override.RetryPolicy)

	return workflow.ActivityOptions{
		// Bound both queue wait time and execution time to the effective timeout.
		// Without ScheduleToStartTimeout, a workflow can block until its run timeout
		// when workers are unavailable, preventing deterministic deadline handling
		// in the runtime.
		ScheduleToStartTimeout: timeout,
		StartToCloseTimeout:    timeout,
		TaskQueue:              queue,
		RetryPolicy:            convertRetryPolicy(retry),
	}
}

func (f *temporalFuture) Get(_ context.Context, result any) error {
	if err := f.future.Get(f.ctx, result); err != nil {
		return normalizeTemporalError(err)
	}
	return nil
}

func (f *temporalFuture) IsReady() bool {
	return f.future.IsReady()
}

// Receive blocks until a signal value is delivered and decodes it into dest.
//
// Temporal receives signals on the workflow context (not the provided ctx). We still
// honor ctx cancellation before blocking so callers can enforce deadlines in a
// deterministic way.
func (r *temporalSignalChannel) Receive(ctx context.Context, dest any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.ch.Receive(r.ctx, dest)
	return nil
}

// ReceiveAsync attempts to receive a signal value without blocking.
func (r *temporalSignalChannel) ReceiveAsync(dest any) bool {
	return r.ch.ReceiveAsync(dest)
}

func (e *Engine) activityDefaultsFor(name string) engine.ActivityOptions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activityOptions[name]
}

var _ engine.WorkflowContext = (*temporalWorkflowContext)(nil)
