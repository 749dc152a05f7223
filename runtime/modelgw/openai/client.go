// Package openai provides a modelgw.Client implementation backed by the
// OpenAI Chat Completions and Embeddings APIs via
// github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/estatecopilot/runtime/runtime/modelgw"
)

// ChatClient captures the subset of the OpenAI SDK used for chat completion.
type ChatClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
}

// EmbeddingsClient captures the subset of the OpenAI SDK used for embeddings.
type EmbeddingsClient interface {
	New(ctx context.Context, body oai.EmbeddingNewParams, opts ...option.RequestOption) (*oai.CreateEmbeddingResponse, error)
}

// Client implements modelgw.Client on top of the OpenAI API.
type Client struct {
	chat   ChatClient
	embed  EmbeddingsClient
	maxTok int
}

// New builds an OpenAI-backed gateway client from the given chat and
// embeddings sub-clients.
func New(chat ChatClient, embed EmbeddingsClient, maxTokens int) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai chat client is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{chat: chat, embed: embed, maxTok: maxTokens}, nil
}

// NewFromAPIKey constructs a client using the stock OpenAI HTTP client.
func NewFromAPIKey(apiKey string, maxTokens int) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	c := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, &c.Embeddings, maxTokens)
}

// Complete implements modelgw.Client.
func (c *Client) Complete(ctx context.Context, req modelgw.Request) (modelgw.Response, error) {
	if len(req.Messages) == 0 {
		return modelgw.Response{}, errors.New("openai: messages are required")
	}
	if req.Model == "" {
		return modelgw.Response{}, errors.New("openai: model identifier is required")
	}

	params := oai.ChatCompletionNewParams{
		Model: shared.ChatModel(req.Model),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	} else {
		params.MaxTokens = oai.Int(int64(c.maxTok))
	}
	if req.Temperature > 0 {
		params.Temperature = oai.Float(float64(req.Temperature))
	}
	if req.JSONMode {
		params.ResponseFormat = oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case modelgw.RoleSystem:
			params.Messages = append(params.Messages, oai.SystemMessage(m.Content))
		case modelgw.RoleUser:
			params.Messages = append(params.Messages, oai.UserMessage(m.Content))
		case modelgw.RoleAssistant:
			params.Messages = append(params.Messages, oai.AssistantMessage(m.Content))
		}
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return modelgw.Response{}, translateError(err)
	}
	if len(resp.Choices) == 0 {
		return modelgw.Response{}, errors.New("openai: response had no choices")
	}

	return modelgw.Response{
		Content: resp.Choices[0].Message.Content,
		Usage: modelgw.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

// Embed implements modelgw.Client.
func (c *Client) Embed(ctx context.Context, req modelgw.EmbedRequest) (modelgw.EmbedResponse, error) {
	if c.embed == nil {
		return modelgw.EmbedResponse{}, errors.New("openai: embeddings client not configured")
	}
	if req.Model == "" {
		return modelgw.EmbedResponse{}, errors.New("openai: model identifier is required")
	}

	resp, err := c.embed.New(ctx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(req.Model),
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Input},
	})
	if err != nil {
		return modelgw.EmbedResponse{}, translateError(err)
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}
	return modelgw.EmbedResponse{Vectors: vectors}, nil
}

func translateError(err error) error {
	var apiErr *oai.Error
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
		return modelgw.NewProviderError("openai", "complete", kind, apiErr.StatusCode, "", apiErr.Message, "", retryable, err)
	}
	return fmt.Errorf("openai: %w", err)
}

var _ modelgw.Client = (*Client)(nil)
