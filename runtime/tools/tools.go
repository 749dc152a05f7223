// Package tools implements the Tool Registry (C2): name→tool lookup and
// metadata introspection for LLM-driven tool selection (§4.2 step 2).
//
// Tools are registered once at process startup with a JSON Schema for their
// input, validated with santhosh-tekuri/jsonschema/v6 before dispatch, and a
// Go-native input struct whose schema may itself be derived with
// invopop/jsonschema at registration time. Registration and hot-reload are
// serialized; lookups never block on that lock for longer than a map read.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

type (
	// Status is the outcome of a single tool invocation, matching the
	// `{status: "success"|"error", data?, error?}` contract every tool must
	// honor (§4.2 step 4, §9 "Dynamic tool dispatch").
	Status string

	// Result is the return value of Tool.Execute. Exceptions raised inside a
	// tool implementation must be converted to an error Result before they
	// cross back into the team executor — no exception ever escapes a tool
	// call (§7 ToolSemantic).
	Result struct {
		Status Status `json:"status"`
		Data   any    `json:"data,omitempty"`
		Error  string `json:"error,omitempty"`
	}

	// Spec describes one registered tool's identity, prompt-facing metadata,
	// and input schema (§2 C2, §9 "Dynamic tool dispatch").
	Spec struct {
		// Name is the fully qualified tool identifier, e.g.
		// "search.legal.case_lookup".
		Name string
		// Team restricts which team executor may select this tool. Empty
		// means any team may select it.
		Team string
		// Description documents intent for the LLM tool-selection prompt.
		Description string
		// Tags carries filtering metadata (e.g. "privileged", "reused_ok").
		Tags []string
		// Reusable is carried on the spec only; neither the registry nor
		// the supervisor reads it. Option-A data reuse (§4.5) is switched on
		// per team by team.Definition.Reusable.
		Reusable bool
		// InputSchema is the compiled JSON Schema inputs are validated
		// against before Execute is invoked. May be nil for tools with no
		// structured input.
		InputSchema *jsonschema.Schema
		// InputSchemaRaw is the schema document InputSchema was compiled
		// from, retained for prompt-facing introspection (tool metadata is
		// passed to the LLM as JSON, §4.2 step 2).
		InputSchemaRaw json.RawMessage
	}

	// Tool is the executable behind a Spec.
	Tool interface {
		// Execute runs the tool against validated input and returns a
		// Result. Implementations must never panic across this boundary;
		// the registry recovers panics defensively but a well-behaved tool
		// reports Status "error" instead.
		Execute(ctx context.Context, input map[string]any) Result
	}

	// ToolFunc adapts a plain function to the Tool interface.
	ToolFunc func(ctx context.Context, input map[string]any) Result

	// Registry is the name→tool lookup described by C2. Safe for concurrent
	// use: reads never block on registration (§5 "read-mostly").
	Registry struct {
		mu    sync.RWMutex
		tools map[string]registeredTool
	}

	registeredTool struct {
		spec Spec
		tool Tool
	}
)

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Execute implements Tool for ToolFunc.
func (f ToolFunc) Execute(ctx context.Context, input map[string]any) Result {
	return f(ctx, input)
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds or replaces a tool under spec.Name. If spec.InputSchemaRaw is
// set, it is compiled immediately so malformed schemas fail at registration
// time rather than on the first call.
func (r *Registry) Register(spec Spec, tool Tool) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if tool == nil {
		return fmt.Errorf("tool %s: implementation is required", spec.Name)
	}
	if len(spec.InputSchemaRaw) > 0 && spec.InputSchema == nil {
		schema, err := compileSchema(spec.Name, spec.InputSchemaRaw)
		if err != nil {
			return err
		}
		spec.InputSchema = schema
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[spec.Name] = registeredTool{spec: spec, tool: tool}
	return nil
}

// Unregister removes a tool. Unregistering an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Lookup returns the tool and spec registered under name.
func (r *Registry) Lookup(name string) (Tool, Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.tools[name]
	if !ok {
		return nil, Spec{}, false
	}
	return rt.tool, rt.spec, true
}

// ForTeam returns metadata for every tool available to team, in a stable
// (name-sorted) order so prompt payloads are deterministic across calls —
// useful for golden tests on the tool-selection prompt.
func (r *Registry) ForTeam(team string) []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Spec
	for _, rt := range r.tools {
		if rt.spec.Team != "" && rt.spec.Team != team {
			continue
		}
		out = append(out, rt.spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate checks input against the tool's compiled schema, if any. Returns
// nil when the tool declares no schema (inputs are passed through as-is).
func (r *Registry) Validate(name string, input map[string]any) error {
	_, spec, ok := r.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if spec.InputSchema == nil {
		return nil
	}
	return spec.InputSchema.Validate(input)
}

// Invoke validates input (when a schema is registered) and executes the
// tool, converting a panic into an error Result so no tool failure ever
// escapes as a Go panic across the team boundary (§7 ToolSemantic).
func (r *Registry) Invoke(ctx context.Context, name string, input map[string]any) (result Result) {
	tool, spec, ok := r.Lookup(name)
	if !ok {
		return Result{Status: StatusError, Error: fmt.Sprintf("unknown tool %q", name)}
	}
	if spec.InputSchema != nil {
		if err := spec.InputSchema.Validate(input); err != nil {
			return Result{Status: StatusError, Error: fmt.Sprintf("invalid input: %s", err)}
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{Status: StatusError, Error: fmt.Sprintf("tool %s panicked: %v", name, rec)}
		}
	}()
	return tool.Execute(ctx, input)
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tool %s: invalid schema JSON: %w", name, err)
	}
	resourceURL := fmt.Sprintf("tool:%s.json", name)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceURL, doc); err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	schema, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("tool %s: compile schema: %w", name, err)
	}
	return schema, nil
}
