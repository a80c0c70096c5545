// Package ollama adapts a local Ollama server to the provider interface.
// Ollama needs no credential; the base URL defaults to the local daemon.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/unifiedai/airelay/pkg/provider"
)

const defaultBaseURL = "http://localhost:11434"

// Provider implements provider.Provider backed by the Ollama HTTP API.
type Provider struct{}

var _ provider.Provider = (*Provider)(nil)

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "ollama" }

// RequiredAPIKeyName returns "" - Ollama is credential-less, so key
// resolution short-circuits entirely.
func (p *Provider) RequiredAPIKeyName() string { return "" }

func (p *Provider) RequiresAPIKey() bool { return false }

func (p *Provider) client(params provider.CallParams) (*api.Client, error) {
	base := params.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama base URL %q: %w", base, err)
	}
	return api.NewClient(parsed, http.DefaultClient), nil
}

func (p *Provider) GenerateText(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	return p.generate(ctx, params, nil)
}

// GenerateObject uses Ollama's structured output support: the JSON schema is
// passed through the request's format field.
func (p *Provider) GenerateObject(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	format, err := schemaFormat(params)
	if err != nil {
		return nil, err
	}
	result, err := p.generate(ctx, params, format)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(result.Text)) {
		return nil, fmt.Errorf("model %q returned invalid JSON for structured output", params.ModelID)
	}
	result.Object = json.RawMessage(result.Text)
	result.Text = ""
	return result, nil
}

func (p *Provider) StreamText(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	return p.stream(ctx, params, nil)
}

func (p *Provider) StreamObject(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	format, err := schemaFormat(params)
	if err != nil {
		return nil, err
	}
	return p.stream(ctx, params, format)
}

func (p *Provider) generate(ctx context.Context, params provider.CallParams, format json.RawMessage) (*provider.Result, error) {
	client, err := p.client(params)
	if err != nil {
		return nil, err
	}

	stream := false
	req := buildChatRequest(params, &stream, format)

	var text strings.Builder
	var usage provider.Usage
	err = client.Chat(ctx, req, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		if resp.Done {
			usage.InputTokens = resp.Metrics.PromptEvalCount
			usage.OutputTokens = resp.Metrics.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat failed: %w", err)
	}

	return &provider.Result{Text: text.String(), Usage: &usage}, nil
}

func (p *Provider) stream(ctx context.Context, params provider.CallParams, format json.RawMessage) (*provider.StreamResult, error) {
	client, err := p.client(params)
	if err != nil {
		return nil, err
	}

	streaming := true
	req := buildChatRequest(params, &streaming, format)

	ctx, cancel := context.WithCancel(ctx)
	s := &chanStream{
		chunks: make(chan string, 16),
		done:   make(chan error, 1),
		cancel: cancel,
	}

	go func() {
		defer close(s.chunks)
		err := client.Chat(ctx, req, func(resp api.ChatResponse) error {
			if resp.Message.Content != "" {
				select {
				case s.chunks <- resp.Message.Content:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return nil
		})
		if err != nil {
			s.done <- err
		}
		close(s.done)
	}()

	return &provider.StreamResult{Stream: s}, nil
}

func buildChatRequest(params provider.CallParams, stream *bool, format json.RawMessage) *api.ChatRequest {
	messages := make([]api.Message, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{}
	if params.MaxTokens > 0 {
		options["num_predict"] = params.MaxTokens
	}
	if params.Temperature > 0 {
		options["temperature"] = params.Temperature
	}

	return &api.ChatRequest{
		Model:    params.ModelID,
		Messages: messages,
		Stream:   stream,
		Options:  options,
		Format:   format,
	}
}

func schemaFormat(params provider.CallParams) (json.RawMessage, error) {
	if params.Schema == nil {
		return json.RawMessage(`"json"`), nil
	}
	data, err := json.Marshal(params.Schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema for Ollama format: %w", err)
	}
	return json.RawMessage(data), nil
}

// chanStream bridges Ollama's callback-based streaming to provider.Stream.
type chanStream struct {
	chunks chan string
	done   chan error
	cancel context.CancelFunc
}

func (s *chanStream) Recv() (string, error) {
	chunk, ok := <-s.chunks
	if ok {
		return chunk, nil
	}
	// chunks is closed; done either carries the terminal error or is closed
	if err := <-s.done; err != nil {
		return "", err
	}
	return "", io.EOF
}

func (s *chanStream) Close() error {
	s.cancel()
	return nil
}
