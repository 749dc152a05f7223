// Package bedrock provides a modelgw.Client implementation backed by the AWS
// Bedrock Converse API via github.com/aws/aws-sdk-go-v2. It supports both
// chat completion (Converse) and embeddings (InvokeModel against a
// Titan-family embedding model id; the request body uses Titan's inputText
// shape).
package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/estatecopilot/runtime/runtime/modelgw"
)

// RuntimeClient mirrors the subset of the Bedrock runtime client the adapter
// needs, so tests can substitute a fake for *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Client implements modelgw.Client on top of AWS Bedrock.
type Client struct {
	runtime   RuntimeClient
	maxTokens int
}

// New builds a Bedrock-backed gateway client.
func New(runtime RuntimeClient, maxTokens int) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock runtime client is required")
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Client{runtime: runtime, maxTokens: maxTokens}, nil
}

// Complete implements modelgw.Client via the Bedrock Converse API.
func (c *Client) Complete(ctx context.Context, req modelgw.Request) (modelgw.Response, error) {
	if len(req.Messages) == 0 {
		return modelgw.Response{}, errors.New("bedrock: messages are required")
	}
	if req.Model == "" {
		return modelgw.Response{}, errors.New("bedrock: model identifier is required")
	}

	maxTokens := int32(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = int32(c.maxTokens)
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.Model),
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(maxTokens)},
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(req.Temperature)
	}

	for _, m := range req.Messages {
		switch m.Role {
		case modelgw.RoleSystem:
			input.System = append(input.System, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case modelgw.RoleUser:
			input.Messages = append(input.Messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case modelgw.RoleAssistant:
			input.Messages = append(input.Messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return modelgw.Response{}, translateError(err)
	}

	var content string
	var usage modelgw.Usage
	if out.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	if msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msgOut.Value.Content {
			if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
				content += text.Value
			}
		}
	}

	return modelgw.Response{Content: content, Usage: usage}, nil
}

// embeddingRequest is the Titan embedding model's InvokeModel request body.
type embeddingRequest struct {
	InputText string `json:"inputText"`
}

// embeddingResponse is the Titan embedding model's InvokeModel response body.
type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed implements modelgw.Client via InvokeModel against a Titan-family
// embedding model id, issuing one InvokeModel call per input (the Titan
// embedding API has no native batch endpoint).
func (c *Client) Embed(ctx context.Context, req modelgw.EmbedRequest) (modelgw.EmbedResponse, error) {
	if req.Model == "" {
		return modelgw.EmbedResponse{}, errors.New("bedrock: model identifier is required")
	}

	vectors := make([][]float32, 0, len(req.Input))
	for _, text := range req.Input {
		body, err := json.Marshal(embeddingRequest{InputText: text})
		if err != nil {
			return modelgw.EmbedResponse{}, fmt.Errorf("bedrock: encode embedding request: %w", err)
		}
		out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(req.Model),
			ContentType: aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			return modelgw.EmbedResponse{}, translateError(err)
		}
		var resp embeddingResponse
		if err := json.NewDecoder(bytes.NewReader(out.Body)).Decode(&resp); err != nil {
			return modelgw.EmbedResponse{}, fmt.Errorf("bedrock: decode embedding response: %w", err)
		}
		vectors = append(vectors, resp.Embedding)
	}
	return modelgw.EmbedResponse{Vectors: vectors}, nil
}

func translateError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		kind := modelgw.KindUnknown
		retryable := false
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			kind, retryable = modelgw.KindRateLimited, true
		case "AccessDeniedException", "UnauthorizedException":
			kind = modelgw.KindAuthentication
		case "ValidationException":
			kind = modelgw.KindInvalidRequest
		case "ModelTimeoutException":
			kind, retryable = modelgw.KindTimeout, true
		case "ServiceUnavailableException", "InternalServerException":
			kind, retryable = modelgw.KindUnavailable, true
		}
		return modelgw.NewProviderError("bedrock", "complete", kind, 0, apiErr.ErrorCode(), apiErr.ErrorMessage(), "", retryable, err)
	}
	return fmt.Errorf("bedrock: %w", err)
}

var _ modelgw.Client = (*Client)(nil)
