package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Message is a single conversation turn passed to a provider.
type Message struct {
	Role    string `json:"role"` // "system", "user" or "assistant"
	Content string `json:"content"`
}

// VertexConfig carries the extra structured configuration Google's Vertex AI
// backend needs when no API key is in play.
type VertexConfig struct {
	ProjectID string
	Location  string
	UseVertex bool
}

// CallParams holds everything a provider needs for one invocation. It is
// constructed fresh per attempt and never mutated after construction.
type CallParams struct {
	APIKey      string
	ModelID     string
	MaxTokens   int
	Temperature float64
	Messages    []Message
	BaseURL     string

	// Structured output fields, only set for object calls
	Schema     *jsonschema.Schema
	ObjectName string

	// Provider-specific extras
	Vertex *VertexConfig
}

// Usage reports token accounting for a single completed call. Providers that
// cannot report usage leave it nil on the result.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the raw outcome of a non-streaming provider call.
type Result struct {
	Text   string
	Object json.RawMessage
	Usage  *Usage
}

// Stream yields incremental chunks of a streaming response. Recv returns
// io.EOF after the final chunk.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// StreamResult is the raw outcome of a streaming provider call. Usage is
// best-effort and may stay nil.
type StreamResult struct {
	Stream Stream
	Usage  *Usage
}

// Provider abstracts a concrete AI backend. All four service methods accept
// the same CallParams; unsupported operations return a descriptive error.
type Provider interface {
	Name() string

	GenerateText(ctx context.Context, params CallParams) (*Result, error)
	StreamText(ctx context.Context, params CallParams) (*StreamResult, error)
	GenerateObject(ctx context.Context, params CallParams) (*Result, error)
	StreamObject(ctx context.Context, params CallParams) (*StreamResult, error)

	// RequiredAPIKeyName returns the environment variable holding this
	// provider's credential, or "" for credential-less providers.
	RequiredAPIKeyName() string

	// RequiresAPIKey reports whether a missing credential is an error.
	// Providers that can fall back to ambient credentials return false.
	RequiresAPIKey() bool
}

// APIError is a provider error that carries an HTTP status code and,
// when available, the raw response body for diagnostics.
type APIError struct {
	Status       int
	Message      string
	ResponseBody string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("provider API error (status %d)", e.Status)
}

// StatusCode returns the HTTP status associated with the error, 0 if unknown.
func (e *APIError) StatusCode() int {
	return e.Status
}
