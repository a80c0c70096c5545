// Package openai adapts the OpenAI Chat Completions API to the provider
// interface. Custom base URLs route Azure and compatible gateways.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/openai/openai-go/v2/packages/ssestream"
	"github.com/openai/openai-go/v2/shared"

	"github.com/unifiedai/airelay/pkg/provider"
)

// Provider implements provider.Provider backed by the OpenAI SDK.
type Provider struct{}

var _ provider.Provider = (*Provider)(nil)

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "openai" }

func (p *Provider) RequiredAPIKeyName() string { return "OPENAI_API_KEY" }

func (p *Provider) RequiresAPIKey() bool { return true }

func (p *Provider) client(params provider.CallParams) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(params.APIKey)}
	if params.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(params.BaseURL))
	}
	return openai.NewClient(opts...)
}

func (p *Provider) GenerateText(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	client := p.client(params)

	completion, err := client.Chat.Completions.New(ctx, buildCompletionParams(params))
	if err != nil {
		return nil, wrapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in OpenAI response for model %q", params.ModelID)
	}

	return &provider.Result{
		Text: completion.Choices[0].Message.Content,
		Usage: &provider.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func (p *Provider) StreamText(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	client := p.client(params)

	stream := client.Chat.Completions.NewStreaming(ctx, buildCompletionParams(params))
	if err := stream.Err(); err != nil {
		return nil, wrapError(err)
	}
	return &provider.StreamResult{Stream: &chunkStream{stream: stream}}, nil
}

// GenerateObject requests structured output through the JSON-schema response
// format.
func (p *Provider) GenerateObject(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	client := p.client(params)

	completionParams := buildCompletionParams(params)
	attachResponseFormat(&completionParams, params)

	completion, err := client.Chat.Completions.New(ctx, completionParams)
	if err != nil {
		return nil, wrapError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in OpenAI response for model %q", params.ModelID)
	}

	content := completion.Choices[0].Message.Content
	if !json.Valid([]byte(content)) {
		return nil, fmt.Errorf("model %q returned invalid JSON for structured output", params.ModelID)
	}

	return &provider.Result{
		Object: json.RawMessage(content),
		Usage: &provider.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
		},
	}, nil
}

func (p *Provider) StreamObject(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	client := p.client(params)

	completionParams := buildCompletionParams(params)
	attachResponseFormat(&completionParams, params)

	stream := client.Chat.Completions.NewStreaming(ctx, completionParams)
	if err := stream.Err(); err != nil {
		return nil, wrapError(err)
	}
	return &provider.StreamResult{Stream: &chunkStream{stream: stream}}, nil
}

func buildCompletionParams(params provider.CallParams) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(params.Messages))
	for _, m := range params.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	completionParams := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    shared.ChatModel(params.ModelID),
	}
	if params.MaxTokens > 0 {
		completionParams.MaxCompletionTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.Temperature > 0 {
		completionParams.Temperature = openai.Float(params.Temperature)
	}
	return completionParams
}

func attachResponseFormat(completionParams *openai.ChatCompletionNewParams, params provider.CallParams) {
	completionParams.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
			JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   params.ObjectName,
				Schema: schemaValue(params),
				Strict: openai.Bool(true),
			},
		},
	}
}

// schemaValue renders the JSON schema into the loosely-typed map the SDK
// expects.
func schemaValue(params provider.CallParams) any {
	if params.Schema == nil {
		return map[string]any{"type": "object"}
	}
	data, err := json.Marshal(params.Schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return map[string]any{"type": "object"}
	}
	return asMap
}

func wrapError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return &provider.APIError{Status: apierr.StatusCode, Message: apierr.Error()}
	}
	return fmt.Errorf("OpenAI API error: %w", err)
}

// chunkStream adapts the SDK chunk stream to provider.Stream.
type chunkStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *chunkStream) Recv() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			return chunk.Choices[0].Delta.Content, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", wrapError(err)
	}
	return "", io.EOF
}

func (s *chunkStream) Close() error {
	return s.stream.Close()
}
