// Package anthropic provides a modelgw.Client implementation backed by the
// Anthropic Claude Messages API via github.com/anthropics/anthropic-sdk-go.
// Anthropic exposes no embeddings endpoint, so Embed always returns
// ErrEmbedUnsupported; callers route embedding roles to a different model id
// in config.ModelMap.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/estatecopilot/runtime/runtime/modelgw"
)

// ErrEmbedUnsupported is returned by Client.Embed: Anthropic has no
// text-embedding endpoint.
var ErrEmbedUnsupported = errors.New("anthropic: embeddings are not supported by this provider")

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, so tests can substitute a fake in place of *sdk.MessageService.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements modelgw.Client on top of Anthropic Claude Messages.
type Client struct {
	msg       MessagesClient
	maxTokens int
}

// New builds an Anthropic-backed gateway client. maxTokens is the default
// output cap applied when a Request does not specify one.
func New(msg MessagesClient, maxTokens int) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic client is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{msg: msg, maxTokens: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the stock Anthropic HTTP client.
func NewFromAPIKey(apiKey string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, maxTokens)
}

// Complete implements modelgw.Client.
func (c *Client) Complete(ctx context.Context, req modelgw.Request) (modelgw.Response, error) {
	if len(req.Messages) == 0 {
		return modelgw.Response{}, errors.New("anthropic: messages are required")
	}
	if req.Model == "" {
		return modelgw.Response{}, errors.New("anthropic: model identifier is required")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}

	var msgParams []sdk.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case modelgw.RoleSystem:
			params.System = []sdk.TextBlockParam{{Text: m.Content}}
		case modelgw.RoleUser:
			msgParams = append(msgParams, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case modelgw.RoleAssistant:
			msgParams = append(msgParams, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if req.JSONMode {
		// Claude has no dedicated JSON-mode flag; the caller's prompt
		// template is expected to instruct the model to reply with JSON
		// only (§6.4 prompt roles all carry this instruction explicitly).
	}
	params.Messages = msgParams

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return modelgw.Response{}, translateError(err)
	}

	var content string
	for _, block := range msg.Content {
		if text := block.AsAny(); text != nil {
			if tb, ok := text.(sdk.TextBlock); ok {
				content += tb.Text
			}
		}
	}

	return modelgw.Response{
		Content: content,
		Usage: modelgw.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Embed implements modelgw.Client; Anthropic has no embeddings endpoint.
func (c *Client) Embed(ctx context.Context, req modelgw.EmbedRequest) (modelgw.EmbedResponse, error) {
	return modelgw.EmbedResponse{}, ErrEmbedUnsupported
}

func translateError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		kind := modelgw.KindUnknown
		retryable := false
		switch apiErr.StatusCode {
		case 429:
			kind, retryable = modelgw.KindRateLimited, true
		case 401, 403:
			kind = modelgw.KindAuthentication
		case 400, 422:
			kind = modelgw.KindInvalidRequest
		case 408, 504:
			kind, retryable = modelgw.KindTimeout, true
		case 500, 502, 503:
			kind, retryable = modelgw.KindUnavailable, true
		}
		return modelgw.NewProviderError("anthropic", "complete", kind, apiErr.StatusCode, "", apiErr.Message, "", retryable, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}

var _ modelgw.Client = (*Client)(nil)
