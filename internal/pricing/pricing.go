// Package pricing holds the static model cost catalog consumed by telemetry.
package pricing

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var embeddedCatalog []byte

// ModelCost is the per-million-token price pair for one model.
type ModelCost struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table resolves (provider, model) pairs to prices. Lookups are
// case-insensitive on the provider; a "*" entry matches any model.
type Table struct {
	providers map[string]map[string]ModelCost
}

// Load parses the embedded catalog.
func Load() (*Table, error) {
	var raw map[string]map[string]ModelCost
	if err := yaml.Unmarshal(embeddedCatalog, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse embedded cost catalog: %w", err)
	}

	providers := make(map[string]map[string]ModelCost, len(raw))
	for name, models := range raw {
		providers[strings.ToLower(name)] = models
	}
	return &Table{providers: providers}, nil
}

// Cost implements dispatch.CostTable.
func (t *Table) Cost(providerName, modelID string) (float64, float64, bool) {
	models, ok := t.providers[strings.ToLower(providerName)]
	if !ok {
		return 0, 0, false
	}
	if cost, ok := models[modelID]; ok {
		return cost.Input, cost.Output, true
	}
	if cost, ok := models["*"]; ok {
		return cost.Input, cost.Output, true
	}
	return 0, 0, false
}
