package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects a Go input struct into a JSON Schema document suitable
// for both Spec.InputSchemaRaw (validated at dispatch time by
// santhosh-tekuri/jsonschema/v6) and the tool metadata passed to the LLM
// tool-selection prompt (§4.2 step 2). Struct field tags follow the same
// `jsonschema:"..."` conventions used across the registered tool inputs.
func SchemaFor[T any]() (json.RawMessage, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("reflect schema: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("reflect schema: %w", err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("reflect schema: %w", err)
	}
	return out, nil
}
