package runtimeerrors_test

import (
	"errors"
	"testing"

	"github.com/estatecopilot/runtime/runtime/runtimeerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyKind(t *testing.T) {
	cause := errors.New("boom")

	cases := []struct {
		name string
		err  error
		want runtimeerrors.Kind
	}{
		{"plan infeasible", runtimeerrors.PlanInfeasible("unknown team"), runtimeerrors.KindPlanInfeasible},
		{"selector failure", runtimeerrors.SelectorFailure(cause), runtimeerrors.KindSelectorFailure},
		{"hitl expired", runtimeerrors.HITLExpired("step-1"), runtimeerrors.KindHITLExpired},
		{"fatal", runtimeerrors.Fatal(cause), runtimeerrors.KindFatal},
		{"cancellation", runtimeerrors.ErrCancellation, runtimeerrors.KindCancellation},
		{"unknown", cause, runtimeerrors.KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, runtimeerrors.ClassifyKind(tc.err))
		})
	}
}

func TestSelectorFailureWrapsCause(t *testing.T) {
	cause := errors.New("llm timeout")
	err := runtimeerrors.SelectorFailure(cause)
	require.Error(t, err)
	assert.ErrorIs(t, err, runtimeerrors.ErrSelectorFailure)
	assert.ErrorIs(t, err, cause)
}

func TestSelectorFailureNilCause(t *testing.T) {
	err := runtimeerrors.SelectorFailure(nil)
	assert.ErrorIs(t, err, runtimeerrors.ErrSelectorFailure)
}
