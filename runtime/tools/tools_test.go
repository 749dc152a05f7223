package tools_test

import (
	"context"
	"testing"

	"github.com/estatecopilot/runtime/runtime/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type legalSearchInput struct {
	Keywords []string `json:"keywords" jsonschema:"required,description=search keywords"`
	Limit    int      `json:"limit,omitempty" jsonschema:"description=max results,minimum=1"`
}

func TestRegisterAndInvoke(t *testing.T) {
	reg := tools.NewRegistry()
	schema, err := tools.SchemaFor[legalSearchInput]()
	require.NoError(t, err)

	called := false
	err = reg.Register(tools.Spec{
		Name:           "search.legal.case_lookup",
		Team:           "search",
		Description:    "Looks up relevant legal cases",
		InputSchemaRaw: schema,
	}, tools.ToolFunc(func(ctx context.Context, input map[string]any) tools.Result {
		called = true
		return tools.Result{Status: tools.StatusSuccess, Data: []string{"case-1"}}
	}))
	require.NoError(t, err)

	result := reg.Invoke(context.Background(), "search.legal.case_lookup", map[string]any{
		"keywords": []any{"전세"},
	})
	assert.True(t, called)
	assert.Equal(t, tools.StatusSuccess, result.Status)
}

func TestInvokeUnknownTool(t *testing.T) {
	reg := tools.NewRegistry()
	result := reg.Invoke(context.Background(), "does.not.exist", nil)
	assert.Equal(t, tools.StatusError, result.Status)
}

func TestInvokeRejectsInvalidInput(t *testing.T) {
	reg := tools.NewRegistry()
	schema, err := tools.SchemaFor[legalSearchInput]()
	require.NoError(t, err)
	require.NoError(t, reg.Register(tools.Spec{
		Name:           "search.legal.case_lookup",
		InputSchemaRaw: schema,
	}, tools.ToolFunc(func(ctx context.Context, input map[string]any) tools.Result {
		return tools.Result{Status: tools.StatusSuccess}
	})))

	result := reg.Invoke(context.Background(), "search.legal.case_lookup", map[string]any{})
	assert.Equal(t, tools.StatusError, result.Status)
	assert.Contains(t, result.Error, "invalid input")
}

func TestInvokeRecoversPanic(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Spec{Name: "boom"}, tools.ToolFunc(func(ctx context.Context, input map[string]any) tools.Result {
		panic("kaboom")
	})))
	result := reg.Invoke(context.Background(), "boom", nil)
	assert.Equal(t, tools.StatusError, result.Status)
	assert.Contains(t, result.Error, "panicked")
}

func TestForTeamFiltersAndSorts(t *testing.T) {
	reg := tools.NewRegistry()
	noop := tools.ToolFunc(func(ctx context.Context, input map[string]any) tools.Result {
		return tools.Result{Status: tools.StatusSuccess}
	})
	require.NoError(t, reg.Register(tools.Spec{Name: "search.b", Team: "search"}, noop))
	require.NoError(t, reg.Register(tools.Spec{Name: "search.a", Team: "search"}, noop))
	require.NoError(t, reg.Register(tools.Spec{Name: "analysis.x", Team: "analysis"}, noop))

	specs := reg.ForTeam("search")
	require.Len(t, specs, 2)
	assert.Equal(t, "search.a", specs[0].Name)
	assert.Equal(t, "search.b", specs[1].Name)
}
