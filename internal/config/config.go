// Package config loads the role-to-model mapping and global dispatch
// preferences from the project's JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/unifiedai/airelay/pkg/dispatch"
	"github.com/unifiedai/airelay/pkg/provider"
)

const configDirName = ".airelay"

// ModelConfig maps one role to a provider/model pair with generation
// parameters.
type ModelConfig struct {
	Provider    string  `json:"provider"`
	ModelID     string  `json:"modelId"`
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	BaseURL     string  `json:"baseURL,omitempty"` // role-specific override
}

// GlobalConfig holds settings that apply across all roles.
type GlobalConfig struct {
	ResponseLanguage string            `json:"responseLanguage,omitempty"`
	Debug            bool              `json:"debug,omitempty"`
	UserID           string            `json:"userId,omitempty"`
	ProviderBaseURLs map[string]string `json:"providerBaseURLs,omitempty"`
	VertexProjectID  string            `json:"vertexProjectId,omitempty"`
	VertexLocation   string            `json:"vertexLocation,omitempty"`
	UseVertex        bool              `json:"useVertex,omitempty"`
}

// Config is the on-disk configuration shape.
type Config struct {
	Models map[string]ModelConfig `json:"models"` // keyed by role: main, research, fallback
	Global GlobalConfig           `json:"global"`
}

// providersWithoutAPIKeys is the allow-list of providers that dispatch may
// call without resolving a credential first.
var providersWithoutAPIKeys = []string{"ollama", "claude-cli"}

// Load reads configuration for a project root, searching the project
// directory first and the home directory second. A missing file yields
// defaults rather than an error.
func Load(projectRoot string) (*Config, error) {
	path := findConfigFile(projectRoot)
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the configuration to the project's config file.
func Save(projectRoot string, cfg *Config) error {
	dir := filepath.Join(projectRoot, configDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DefaultConfig returns the stock role mapping.
func DefaultConfig() *Config {
	return &Config{
		Models: map[string]ModelConfig{
			"main": {
				Provider:  "anthropic",
				ModelID:   "claude-sonnet-4-20250514",
				MaxTokens: 8192,
			},
			"research": {
				Provider:  "openai",
				ModelID:   "gpt-4o",
				MaxTokens: 8192,
			},
			"fallback": {
				Provider:  "anthropic",
				ModelID:   "claude-3-5-haiku-20241022",
				MaxTokens: 8192,
			},
		},
		Global: GlobalConfig{
			ResponseLanguage: "English",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Models == nil {
		cfg.Models = defaults.Models
	}
	if cfg.Global.ResponseLanguage == "" {
		cfg.Global.ResponseLanguage = defaults.Global.ResponseLanguage
	}
}

// Validate checks the configuration for completeness.
func Validate(cfg *Config) error {
	for _, role := range []string{"main", "research", "fallback"} {
		mc, ok := cfg.Models[role]
		if !ok {
			return fmt.Errorf("missing model configuration for role %q", role)
		}
		if mc.Provider == "" {
			return fmt.Errorf("provider is required for role %q", role)
		}
		if mc.ModelID == "" {
			return fmt.Errorf("modelId is required for role %q", role)
		}
	}
	return nil
}

// Settings converts the on-disk shape into the dispatch layer's settings.
func (c *Config) Settings() *dispatch.Settings {
	roles := make(map[dispatch.Role]dispatch.RoleConfig, len(c.Models))
	for role, mc := range c.Models {
		roles[dispatch.Role(role)] = dispatch.RoleConfig{
			Provider:    mc.Provider,
			ModelID:     mc.ModelID,
			MaxTokens:   mc.MaxTokens,
			Temperature: mc.Temperature,
			BaseURL:     mc.BaseURL,
		}
	}

	settings := &dispatch.Settings{
		Roles:            roles,
		ResponseLanguage: c.Global.ResponseLanguage,
		KeylessProviders: providersWithoutAPIKeys,
		ProviderBaseURLs: c.Global.ProviderBaseURLs,
		UserID:           c.Global.UserID,
		Debug:            c.Global.Debug,
	}
	if c.Global.VertexProjectID != "" {
		settings.Vertex = &provider.VertexConfig{
			ProjectID: c.Global.VertexProjectID,
			Location:  c.Global.VertexLocation,
			UseVertex: c.Global.UseVertex,
		}
	}
	return settings
}

// Loader adapts Load into the dispatch.SettingsLoader shape.
func Loader() dispatch.SettingsLoader {
	return func(projectRoot string) (*dispatch.Settings, error) {
		cfg, err := Load(projectRoot)
		if err != nil {
			return nil, err
		}
		return cfg.Settings(), nil
	}
}

// findConfigFile searches for config.json in order of preference:
// 1. <projectRoot>/.airelay/config.json
// 2. $HOME/.airelay/config.json
// Returns empty string if none found.
func findConfigFile(projectRoot string) string {
	if projectRoot == "" {
		projectRoot = "."
	}

	projectPath := filepath.Join(projectRoot, configDirName, "config.json")
	if _, err := os.Stat(projectPath); err == nil {
		return projectPath
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		homePath := filepath.Join(homeDir, configDirName, "config.json")
		if _, err := os.Stat(homePath); err == nil {
			return homePath
		}
	}

	return ""
}
