// Package dispatch implements the unified AI provider dispatch layer: it
// resolves a logical role to a concrete provider/model/credential combination,
// executes the call with bounded retries, falls back across the configured
// role sequence on failure, and normalizes results and telemetry.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/unifiedai/airelay/pkg/logger"
	"github.com/unifiedai/airelay/pkg/provider"
)

type serviceKind int

const (
	kindGenerateText serviceKind = iota
	kindStreamText
	kindGenerateObject
	kindStreamObject
)

func (k serviceKind) String() string {
	switch k {
	case kindGenerateText:
		return "generateText"
	case kindStreamText:
		return "streamText"
	case kindGenerateObject:
		return "generateObject"
	case kindStreamObject:
		return "streamObject"
	default:
		return "unknown"
	}
}

func (k serviceKind) isObject() bool {
	return k == kindGenerateObject || k == kindStreamObject
}

// Request carries the caller's intent for one logical dispatch.
type Request struct {
	Role         Role
	Session      map[string]string // per-session credential values, consulted after the process environment; may be nil
	ProjectRoot  string
	SystemPrompt string
	Prompt       string
	Schema       any    // object calls: a *jsonschema.Schema or a struct to reflect one from
	ObjectName   string // object calls: tool/schema name, defaults to "generated_object"
	CommandName  string
	OutputType   string // "cli" or "mcp", defaults to "cli"
	MaxRetries   int    // optional per-call override of the retry budget; 0 keeps the default

	schema *jsonschema.Schema
}

// Response is the normalized success result of a dispatch.
type Response struct {
	// MainResult is the service-appropriate projection of the raw provider
	// response: string for GenerateText, json.RawMessage for GenerateObject,
	// *provider.StreamResult for the streaming variants.
	MainResult   any
	Telemetry    *TelemetryRecord
	TagInfo      TagInfo
	ProviderName string
	ModelID      string
}

// Text returns MainResult as a string for GenerateText responses.
func (r *Response) Text() string {
	if s, ok := r.MainResult.(string); ok {
		return s
	}
	return ""
}

// Service orchestrates provider dispatch. Construct one per process with the
// registry and configuration source; it holds no per-request state.
type Service struct {
	registry *provider.Registry
	settings SettingsLoader
	creds    CredentialResolver
	tags     TagReader
	costs    CostTable
	retry    RetryConfig
	sleep    sleepFunc
	log      *logger.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithCredentialResolver wires a layered credential lookup (env, session,
// .env file). The default checks the session then the process environment.
func WithCredentialResolver(r CredentialResolver) Option {
	return func(s *Service) { s.creds = r }
}

// WithTagReader wires the project tag collaborator.
func WithTagReader(r TagReader) Option {
	return func(s *Service) { s.tags = r }
}

// WithCostTable wires the pricing catalog used for telemetry.
func WithCostTable(t CostTable) Option {
	return func(s *Service) { s.costs = t }
}

// WithRetryConfig overrides the default retry policy.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// WithSleep injects the backoff sleep function. Intended for deterministic
// tests; the default honors context cancellation.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Service) { s.sleep = fn }
}

// WithLogger overrides the component logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// New creates a dispatch service backed by the given registry and settings
// loader.
func New(registry *provider.Registry, settings SettingsLoader, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		settings: settings,
		creds:    envOnlyCredentialResolver,
		costs:    zeroCostTable{},
		retry:    DefaultRetryConfig(),
		sleep:    defaultSleep,
		log:      logger.NewComponentLogger("dispatch"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateText resolves the requested role and returns the generated text as
// Response.MainResult, failing over across the role sequence as needed.
func (s *Service) GenerateText(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	return s.run(ctx, kindGenerateText, req)
}

// StreamText is GenerateText's streaming variant; MainResult holds the raw
// *provider.StreamResult.
func (s *Service) StreamText(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	return s.run(ctx, kindStreamText, req)
}

// GenerateObject produces a structured object conforming to req.Schema;
// MainResult holds the raw JSON object.
func (s *Service) GenerateObject(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if req.ObjectName == "" {
		req.ObjectName = "generated_object"
	}
	if err := reflectSchema(&req); err != nil {
		return nil, err
	}
	return s.run(ctx, kindGenerateObject, req)
}

// StreamObject is GenerateObject's streaming variant. A missing schema is a
// caller bug reported immediately, before any provider is attempted.
func (s *Service) StreamObject(ctx context.Context, req Request) (*Response, error) {
	if req.Schema == nil {
		return nil, errors.New("streamObject requires a schema")
	}
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	if req.ObjectName == "" {
		req.ObjectName = "generated_object"
	}
	if err := reflectSchema(&req); err != nil {
		return nil, err
	}
	return s.run(ctx, kindStreamObject, req)
}

// validateRequest enforces caller-input invariants and applies boundary
// defaults. Violations are immediate errors, never skips or retries.
func validateRequest(req *Request) error {
	if req.Prompt == "" {
		return errors.New("missing prompt: a user prompt is required")
	}
	if req.OutputType == "" {
		req.OutputType = "cli"
	}
	return nil
}

// reflectSchema turns req.Schema into a *jsonschema.Schema. Callers may pass
// an already-built schema or any struct value to reflect one from.
func reflectSchema(req *Request) error {
	if req.Schema == nil {
		return nil
	}
	if schema, ok := req.Schema.(*jsonschema.Schema); ok {
		req.schema = schema
		return nil
	}
	reflector := jsonschema.Reflector{DoNotReference: true}
	req.schema = reflector.Reflect(req.Schema)
	if req.schema == nil {
		return errors.New("could not reflect a JSON schema from the provided value")
	}
	return nil
}

// loggerFor returns the service logger, raised to debug level when the
// project's debug flag is set.
func (s *Service) loggerFor(settings *Settings) *logger.Logger {
	if settings != nil && settings.Debug {
		return logger.NewLogger(logger.LogLevelDebug)
	}
	return s.log
}

// retryConfigFor applies the per-call override when the caller set one.
// A zero MaxRetries keeps the service default.
func (s *Service) retryConfigFor(req Request) RetryConfig {
	cfg := s.retry
	if req.MaxRetries > 0 {
		cfg.MaxRetries = req.MaxRetries
	}
	return cfg
}
