// Package modelgw implements the LLM Gateway (C3): typed calls to
// chat-completion and embeddings, JSON-mode enforcement, retry, rate
// limiting, and context propagation (§2 C3, §7 TransientExternal). Concrete
// provider adapters (anthropic, openai, bedrock) implement Client; the
// gateway itself only knows the provider-agnostic Request/Response shape.
package modelgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// Role identifies the speaker of a Message.
	Role string

	// Message is a single chat turn. Content is plain text; this gateway
	// does not model multimodal parts (images, tool-use blocks) because the
	// supervisor only ever needs JSON-mode text completion (§1 Non-goals:
	// "specific LLM provider wire format").
	Message struct {
		Role    Role
		Content string
	}

	// Request captures one chat-completion invocation.
	Request struct {
		// Model is the concrete provider model id, resolved from
		// config.ModelMap by the caller before reaching the gateway.
		Model string
		// Messages is the ordered transcript, system message first when
		// present.
		Messages []Message
		// JSONMode forces the provider into strict JSON output when true.
		// Callers that decode a JSON reply set it (intent_analysis,
		// tool_selection_*, response_synthesis, ...); conversation summaries
		// are requested as plain text without it.
		JSONMode bool
		// Temperature controls sampling when supported by the provider.
		Temperature float32
		// MaxTokens caps output length when supported.
		MaxTokens int
	}

	// Response is the result of a non-streaming chat-completion call.
	Response struct {
		// Content is the assistant's raw text output. When JSONMode was
		// requested, this is a JSON document the caller unmarshals into
		// the prompt-specific result type.
		Content string
		Usage   Usage
	}

	// Usage reports token consumption for a single call.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// EmbedRequest captures one text-embedding invocation.
	EmbedRequest struct {
		Model string
		Input []string
	}

	// EmbedResponse is the result of an embedding call.
	EmbedResponse struct {
		Vectors [][]float32
	}

	// Client is the provider-agnostic contract every modelgw adapter
	// implements. The Gateway wraps a Client with retry/backoff and rate
	// limiting so adapters stay free of cross-cutting concerns.
	Client interface {
		Complete(ctx context.Context, req Request) (Response, error)
		Embed(ctx context.Context, req EmbedRequest) (EmbedResponse, error)
	}
)

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ErrJSONModeUnsupported indicates a provider adapter cannot guarantee
// strict JSON output for the requested model.
var ErrJSONModeUnsupported = errors.New("modelgw: JSON mode not supported by this provider")

// DecodeJSON unmarshals a JSON-mode Response.Content into out, wrapping
// decode failures with the raw content for diagnostics. Every JSON-mode
// prompt caller (intent_analysis, tool_selection_*, response_synthesis, ...)
// should route its response through this helper instead of calling
// json.Unmarshal directly, so malformed-JSON failures are classified
// consistently as a TransientExternal-shaped error (§7).
func DecodeJSON(resp Response, out any) error {
	if err := json.Unmarshal([]byte(resp.Content), out); err != nil {
		return fmt.Errorf("decode JSON-mode response: %w (content: %.200s)", err, resp.Content)
	}
	return nil
}
