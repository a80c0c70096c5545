// Package gemini adapts Google's Gemini models to the provider interface.
// With an API key it targets the Gemini API; without one it can run against
// Vertex AI using ambient credentials plus project/location configuration.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"

	"github.com/unifiedai/airelay/pkg/provider"
)

// Provider implements provider.Provider backed by the google.golang.org/genai
// SDK.
type Provider struct{}

var _ provider.Provider = (*Provider)(nil)

func New() *Provider { return &Provider{} }

func (p *Provider) Name() string { return "google" }

func (p *Provider) RequiredAPIKeyName() string { return "GEMINI_API_KEY" }

// RequiresAPIKey returns false: a missing key is acceptable when Vertex
// configuration supplies ambient credentials instead.
func (p *Provider) RequiresAPIKey() bool { return false }

func (p *Provider) client(ctx context.Context, params provider.CallParams) (*genai.Client, error) {
	cfg := &genai.ClientConfig{}
	switch {
	case params.APIKey != "":
		cfg.APIKey = params.APIKey
		cfg.Backend = genai.BackendGeminiAPI
	case params.Vertex != nil && params.Vertex.UseVertex:
		cfg.Project = params.Vertex.ProjectID
		cfg.Location = params.Vertex.Location
		cfg.Backend = genai.BackendVertexAI
	default:
		return nil, fmt.Errorf("google provider needs either GEMINI_API_KEY or Vertex project configuration")
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return client, nil
}

func (p *Provider) GenerateText(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	client, err := p.client(ctx, params)
	if err != nil {
		return nil, err
	}

	contents, cfg := buildRequest(params, false)
	resp, err := client.Models.GenerateContent(ctx, params.ModelID, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	return &provider.Result{
		Text:  resp.Text(),
		Usage: usageOf(resp),
	}, nil
}

func (p *Provider) GenerateObject(ctx context.Context, params provider.CallParams) (*provider.Result, error) {
	client, err := p.client(ctx, params)
	if err != nil {
		return nil, err
	}

	contents, cfg := buildRequest(params, true)
	resp, err := client.Models.GenerateContent(ctx, params.ModelID, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini API error: %w", err)
	}

	text := resp.Text()
	if !json.Valid([]byte(text)) {
		return nil, fmt.Errorf("model %q returned invalid JSON for structured output", params.ModelID)
	}

	return &provider.Result{
		Object: json.RawMessage(text),
		Usage:  usageOf(resp),
	}, nil
}

func (p *Provider) StreamText(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	return p.stream(ctx, params, false)
}

func (p *Provider) StreamObject(ctx context.Context, params provider.CallParams) (*provider.StreamResult, error) {
	return p.stream(ctx, params, true)
}

func (p *Provider) stream(ctx context.Context, params provider.CallParams, structured bool) (*provider.StreamResult, error) {
	client, err := p.client(ctx, params)
	if err != nil {
		return nil, err
	}

	contents, cfg := buildRequest(params, structured)
	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, params.ModelID, contents, cfg))

	return &provider.StreamResult{Stream: &pullStream{next: next, stop: stop}}, nil
}

func buildRequest(params provider.CallParams, structured bool) ([]*genai.Content, *genai.GenerateContentConfig) {
	cfg := &genai.GenerateContentConfig{}
	if params.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(params.MaxTokens)
	}
	if params.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(params.Temperature))
	}

	var contents []*genai.Content
	for _, m := range params.Messages {
		switch m.Role {
		case "system":
			cfg.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	if structured {
		cfg.ResponseMIMEType = "application/json"
		// The schema rides in the system instruction; Gemini's native schema
		// type does not cover everything draft JSON schema can express.
		if params.Schema != nil {
			if data, err := json.Marshal(params.Schema); err == nil {
				directive := fmt.Sprintf("Respond with a single JSON object named %q conforming to this JSON schema:\n%s",
					params.ObjectName, string(data))
				if cfg.SystemInstruction != nil {
					cfg.SystemInstruction = genai.NewContentFromText(
						cfg.SystemInstruction.Parts[0].Text+"\n\n"+directive, genai.RoleUser)
				} else {
					cfg.SystemInstruction = genai.NewContentFromText(directive, genai.RoleUser)
				}
			}
		}
	}

	return contents, cfg
}

func usageOf(resp *genai.GenerateContentResponse) *provider.Usage {
	if resp.UsageMetadata == nil {
		return nil
	}
	return &provider.Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

// pullStream adapts the SDK's iterator-based streaming to provider.Stream.
type pullStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *pullStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("gemini streaming error: %w", err)
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *pullStream) Close() error {
	s.stop()
	return nil
}
