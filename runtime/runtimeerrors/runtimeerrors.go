// Package runtimeerrors tags the supervisor-level error kinds described by the
// error handling design: PlanInfeasible, SelectorFailure, HITLExpired, and
// Fatal. These are sentinel-wrapped so callers classify failures with
// errors.Is instead of string matching, mirroring how toolerrors lets tool
// boundaries chain causes.
package runtimeerrors

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Wrap one of these with fmt.Errorf("...: %w", Kind) (or use
// the New* constructors below) so errors.Is(err, runtimeerrors.ErrPlanInfeasible)
// keeps working across wrapping layers.
var (
	// ErrPlanInfeasible marks a plan that references unknown teams or forms a
	// cyclic dependency. Fatal for the run.
	ErrPlanInfeasible = errors.New("plan infeasible")

	// ErrSelectorFailure marks an LLM tool-selection call that failed after
	// retries. Never fatal: callers fall back to invoking every candidate tool.
	ErrSelectorFailure = errors.New("tool selector failure")

	// ErrHITLExpired marks an interrupt that outlived its session. The
	// affected team finalizes as failed with reason hitl_expired; the run
	// still completes with a guidance answer.
	ErrHITLExpired = errors.New("human-in-the-loop interrupt expired")

	// ErrFatal marks an unhandled exception surfacing from a supervisor node.
	ErrFatal = errors.New("fatal supervisor error")

	// ErrCancellation marks a run aborted because its session channel closed.
	// Never reported to the client; the channel is already gone.
	ErrCancellation = errors.New("run canceled")
)

// Kind classifies a runtime error for logging, metrics tags, and checkpoint
// metadata without requiring callers to errors.Is against every sentinel.
type Kind string

const (
	KindPlanInfeasible Kind = "plan_infeasible"
	KindSelectorFailure Kind = "selector_failure"
	KindHITLExpired     Kind = "hitl_expired"
	KindFatal           Kind = "fatal"
	KindCancellation    Kind = "cancellation"
	KindTransient       Kind = "transient_external"
	KindToolSemantic    Kind = "tool_semantic"
	KindUnknown         Kind = "unknown"
)

var sentinelKinds = map[error]Kind{
	ErrPlanInfeasible:  KindPlanInfeasible,
	ErrSelectorFailure: KindSelectorFailure,
	ErrHITLExpired:     KindHITLExpired,
	ErrFatal:           KindFatal,
	ErrCancellation:    KindCancellation,
}

// ClassifyKind walks err's chain and returns the Kind of the first sentinel it
// matches, or KindUnknown if none match. Use this at checkpoint-write and
// event-emission boundaries to tag the error without re-deriving the
// classification logic at every call site.
func ClassifyKind(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, kind := range sentinelKinds {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// PlanInfeasible builds an ErrPlanInfeasible failure carrying reason,
// e.g. when the planner emits execution_steps referencing an unregistered team.
func PlanInfeasible(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrPlanInfeasible)
}

// SelectorFailure wraps the underlying tool-selection failure so the team
// executor's fallback path can log the original cause while classifying it.
func SelectorFailure(cause error) error {
	if cause == nil {
		return ErrSelectorFailure
	}
	return fmt.Errorf("tool selection failed: %w: %w", cause, ErrSelectorFailure)
}

// HITLExpired reports that an interrupt for the given step outlived its
// session deadline.
func HITLExpired(stepID string) error {
	return fmt.Errorf("interrupt for step %s expired: %w", stepID, ErrHITLExpired)
}

// Fatal wraps an arbitrary node-level panic/error recovered by the supervisor.
func Fatal(cause error) error {
	if cause == nil {
		return ErrFatal
	}
	return fmt.Errorf("%w: %w", cause, ErrFatal)
}
