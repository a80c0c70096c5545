// Package anthropic adapts the Anthropic Messages API to the provider
// interface.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/unifiedai/airelay/pkg/provider"
)

const defaultMaxTokens = 8192

// Provider implements provider.Provider backed by the Anthropic SDK. The SDK
// client is built per call because the API key and base URL arrive with the
// call parameters.
type Provider struct{}

var _ provider.Provider = (*Provider)(nil)

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) RequiredAPIKeyName() string { return "ANTHROPIC_API_KEY" }

func (p *Provider) RequiresAPIKey() bool { return true }

func (p *Provider) client(params provider.CallParams) anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(params.APIKey)}
	if params.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(params.BaseURL))
	}
	return anthropic.NewClient(opts...)
}

func (p *Provider) GenerateText(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	client := p.client(params)

	msg, err := client.Messages.New(ctx, buildMessageParams(params))
	if err != nil {
		return nil, wrapError(err)
	}

	var text string
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += tb.Text
		}
	}

	return &provider.Result{
		Text: text,
		Usage: &provider.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (p *Provider) StreamText(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	client := p.client(params)

	stream := client.Messages.NewStreaming(ctx, buildMessageParams(params))
	if err := stream.Err(); err != nil {
		return nil, wrapError(err)
	}
	return &provider.StreamResult{Stream: &textStream{stream: stream}}, nil
}

// GenerateObject requests structured output via forced tool use: the schema
// becomes a tool definition and the model is required to call it.
func (p *Provider) GenerateObject(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	client := p.client(params)

	msgParams := buildMessageParams(params)
	attachSchemaTool(&msgParams, params)

	msg, err := client.Messages.New(ctx, msgParams)
	if err != nil {
		return nil, wrapError(err)
	}

	for _, block := range msg.Content {
		if tu, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
			return &provider.Result{
				Object: json.RawMessage(tu.Input),
				Usage: &provider.Usage{
					InputTokens:  int(msg.Usage.InputTokens),
					OutputTokens: int(msg.Usage.OutputTokens),
				},
			}, nil
		}
	}
	return nil, fmt.Errorf("model %q returned no tool_use block for structured output", params.ModelID)
}

// StreamObject streams the partial JSON of the forced tool call.
func (p *Provider) StreamObject(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	client := p.client(params)

	msgParams := buildMessageParams(params)
	attachSchemaTool(&msgParams, params)

	stream := client.Messages.NewStreaming(ctx, msgParams)
	if err := stream.Err(); err != nil {
		return nil, wrapError(err)
	}
	return &provider.StreamResult{Stream: &objectStream{stream: stream}}, nil
}

func buildMessageParams(params provider.CallParams) anthropic.MessageNewParams {
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(params.ModelID),
		MaxTokens: int64(maxTokens),
	}
	if params.Temperature > 0 {
		msgParams.Temperature = anthropic.Float(params.Temperature)
	}

	var messages []anthropic.MessageParam
	for _, m := range params.Messages {
		switch m.Role {
		case "system":
			msgParams.System = append(msgParams.System, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	msgParams.Messages = messages
	return msgParams
}

// attachSchemaTool adds the schema as the sole tool and forces the model to
// call it.
func attachSchemaTool(msgParams *anthropic.MessageNewParams, params provider.CallParams) {
	properties := schemaProperties(params)

	msgParams.Tools = []anthropic.ToolUnionParam{{
		OfTool: &anthropic.ToolParam{
			Name:        params.ObjectName,
			Description: anthropic.String("Produce the requested structured object."),
			InputSchema: anthropic.ToolInputSchemaParam{Properties: properties},
		},
	}}
	msgParams.ToolChoice = anthropic.ToolChoiceUnionParam{
		OfTool: &anthropic.ToolChoiceToolParam{Name: params.ObjectName},
	}
}

// schemaProperties extracts the "properties" member of the JSON schema as the
// loosely-typed value the SDK expects.
func schemaProperties(params provider.CallParams) any {
	if params.Schema == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(params.Schema)
	if err != nil {
		return map[string]any{}
	}
	var asMap map[string]any
	if err := json.Unmarshal(data, &asMap); err != nil {
		return map[string]any{}
	}
	if props, ok := asMap["properties"]; ok {
		return props
	}
	return asMap
}

func wrapError(err error) error {
	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		return &provider.APIError{Status: apierr.StatusCode, Message: apierr.Error()}
	}
	return fmt.Errorf("anthropic API error: %w", err)
}

// textStream adapts the SDK event stream to provider.Stream, yielding text
// deltas.
type textStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *textStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
				return text.Text, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", wrapError(err)
	}
	return "", io.EOF
}

func (s *textStream) Close() error {
	return s.stream.Close()
}

// objectStream yields the partial JSON fragments of a streamed tool call.
type objectStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *objectStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if j, ok := delta.Delta.AsAny().(anthropic.InputJSONDelta); ok && j.PartialJSON != "" {
				return j.PartialJSON, nil
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", wrapError(err)
	}
	return "", io.EOF
}

func (s *objectStream) Close() error {
	return s.stream.Close()
}
