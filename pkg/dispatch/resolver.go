package dispatch

import (
	"fmt"
	"os"
	"strings"

	"github.com/unifiedai/airelay/pkg/provider"
)

// Role is a logical calling context mapped to a concrete provider and model
// via configuration.
type Role string

const (
	RoleMain     Role = "main"
	RoleResearch Role = "research"
	RoleFallback Role = "fallback"
)

// RoleConfig is the per-role dispatch configuration resolved from settings.
// Immutable once read for a given attempt.
type RoleConfig struct {
	Provider    string
	ModelID     string
	MaxTokens   int
	Temperature float64
	BaseURL     string // role-specific override; empty falls back to the provider default
}

// Settings is the external configuration consumed by the dispatch layer. The
// config package produces one per project root; tests build them directly.
type Settings struct {
	Roles            map[Role]RoleConfig
	ResponseLanguage string
	KeylessProviders []string // providers that operate without an API key
	ProviderBaseURLs map[string]string
	Vertex           *provider.VertexConfig
	UserID           string
	Debug            bool
}

// SettingsLoader resolves settings for a project root.
type SettingsLoader func(projectRoot string) (*Settings, error)

// CredentialResolver returns the value for a credential environment variable,
// checking the process environment, the session and a project-local .env file
// as layered fallbacks. Empty string means not found.
type CredentialResolver func(envName string, session map[string]string, projectRoot string) string

// TagInfo annotates results with the project's current task tag context.
type TagInfo struct {
	CurrentTag    string
	AvailableTags []string
}

// TagReader reads tag information from the project task store.
type TagReader func(projectRoot string) (TagInfo, error)

func defaultTagInfo() TagInfo {
	return TagInfo{CurrentTag: "master", AvailableTags: []string{"master"}}
}

// envOnlyCredentialResolver is the default when no richer resolver is wired.
// Same precedence as the full resolver: process environment first, then the
// session.
func envOnlyCredentialResolver(envName string, session map[string]string, _ string) string {
	if v := os.Getenv(envName); v != "" {
		return v
	}
	if v, ok := session[envName]; ok && v != "" {
		return v
	}
	return ""
}

// failoverSequence returns the ordered roles attempted for one request:
// the requested role first, then the other two in a fixed fallback order.
func (s *Service) failoverSequence(role Role) []Role {
	switch role {
	case RoleMain:
		return []Role{RoleMain, RoleFallback, RoleResearch}
	case RoleResearch:
		return []Role{RoleResearch, RoleFallback, RoleMain}
	case RoleFallback:
		return []Role{RoleFallback, RoleMain, RoleResearch}
	default:
		s.log.Warn("unknown role, defaulting to main sequence", "role", string(role))
		return []Role{RoleMain, RoleFallback, RoleResearch}
	}
}

// roleConfig resolves the role's provider/model pair. A missing or incomplete
// mapping is a config-kind failure the orchestrator treats as a skip.
func roleConfig(settings *Settings, role Role) (RoleConfig, *ClassifiedError) {
	rc, ok := settings.Roles[role]
	if !ok {
		return RoleConfig{}, &ClassifiedError{
			Kind:    ErrorKindConfig,
			Message: fmt.Sprintf("no model configured for role %q", role),
		}
	}
	if rc.Provider == "" || rc.ModelID == "" {
		return RoleConfig{}, &ClassifiedError{
			Kind:    ErrorKindConfig,
			Message: fmt.Sprintf("incomplete configuration for role %q (provider=%q, model=%q)", role, rc.Provider, rc.ModelID),
		}
	}
	return rc, nil
}

// isKeylessProvider checks membership in the providers-without-API-keys
// allow-list, case-insensitively.
func isKeylessProvider(settings *Settings, name string) bool {
	for _, p := range settings.KeylessProviders {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

// resolveAPIKey looks up the provider's credential. Credential-less providers
// short-circuit to "". Providers that merely prefer a key resolve an absent
// value to "" rather than failing; otherwise absence is a config error.
func (s *Service) resolveAPIKey(p provider.Provider, session map[string]string, projectRoot string) (string, *ClassifiedError) {
	envName := p.RequiredAPIKeyName()
	if envName == "" {
		return "", nil
	}

	value := s.creds(envName, session, projectRoot)
	if value == "" {
		if !p.RequiresAPIKey() {
			return "", nil
		}
		return "", &ClassifiedError{
			Kind:    ErrorKindConfig,
			Message: fmt.Sprintf("required API key %s is not set for provider %q", envName, p.Name()),
		}
	}
	return value, nil
}

// resolveBaseURL applies precedence: role-specific override, then the
// provider-global default, otherwise empty (provider built-in default).
func resolveBaseURL(settings *Settings, rc RoleConfig) string {
	if rc.BaseURL != "" {
		return rc.BaseURL
	}
	if settings.ProviderBaseURLs != nil {
		return settings.ProviderBaseURLs[strings.ToLower(rc.Provider)]
	}
	return ""
}

// buildCallParams assembles the immutable per-attempt parameters. The system
// message always precedes the user prompt and carries the response-language
// directive.
func buildCallParams(settings *Settings, rc RoleConfig, apiKey string, req Request) provider.CallParams {
	language := settings.ResponseLanguage
	if language == "" {
		language = "English"
	}

	system := strings.TrimSpace(req.SystemPrompt)
	if system != "" {
		system += "\n\n"
	}
	system += fmt.Sprintf("Always respond in %s.", language)

	messages := []provider.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: req.Prompt},
	}

	params := provider.CallParams{
		APIKey:      apiKey,
		ModelID:     rc.ModelID,
		MaxTokens:   rc.MaxTokens,
		Temperature: rc.Temperature,
		Messages:    messages,
		BaseURL:     resolveBaseURL(settings, rc),
		ObjectName:  req.ObjectName,
	}

	if req.schema != nil {
		params.Schema = req.schema
	}
	if strings.EqualFold(rc.Provider, "google") && settings.Vertex != nil {
		params.Vertex = settings.Vertex
	}
	return params
}
