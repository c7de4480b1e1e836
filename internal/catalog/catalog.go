// Package catalog holds the static per-provider, per-model reference data
// used for candidate selection and cost estimation.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tier is the coarse capability classification used for selection.
type Tier string

const (
	TierSmall     Tier = "small"
	TierLarge     Tier = "large"
	TierReasoning Tier = "reasoning"
)

// ParseTier validates a tier string from the request surface.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierSmall:
		return TierSmall, nil
	case TierLarge:
		return TierLarge, nil
	case TierReasoning:
		return TierReasoning, nil
	case "":
		return TierLarge, nil
	default:
		return "", fmt.Errorf("unknown capability tier: %q", s)
	}
}

// Descriptor is the read-only reference data for one model on one provider.
type Descriptor struct {
	ID              string  `yaml:"id" json:"id"`
	Provider        string  `yaml:"provider" json:"provider"`
	Tier            Tier    `yaml:"tier" json:"tier"`
	ContextWindow   int     `yaml:"context_window" json:"context_window"`
	MaxOutputTokens int     `yaml:"max_output_tokens" json:"max_output_tokens"`
	InputPerMtok    float64 `yaml:"input_per_mtok" json:"input_per_mtok"`
	OutputPerMtok   float64 `yaml:"output_per_mtok" json:"output_per_mtok"`
	ToolUse         bool    `yaml:"tool_use" json:"tool_use"`
	Vision          bool    `yaml:"vision" json:"vision"`
	Streaming       bool    `yaml:"streaming" json:"streaming"`
	Deprecated      bool    `yaml:"deprecated" json:"deprecated"`
}

// Free reports whether the model has zero marginal cost.
func (d Descriptor) Free() bool {
	return d.InputPerMtok == 0 && d.OutputPerMtok == 0
}

//go:embed models.yaml
var modelsYAML []byte

// Catalog is an immutable set of model descriptors shared by all requests.
type Catalog struct {
	byKey  map[string]Descriptor // "provider/model" -> descriptor
	sorted []Descriptor
}

// Load parses the embedded model data. Called once at startup.
func Load() (*Catalog, error) {
	return Parse(modelsYAML)
}

// Parse builds a catalog from YAML descriptor data.
func Parse(data []byte) (*Catalog, error) {
	var raw struct {
		Models []Descriptor `yaml:"models"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse model catalog: %w", err)
	}
	if len(raw.Models) == 0 {
		return nil, fmt.Errorf("model catalog is empty")
	}

	c := &Catalog{byKey: make(map[string]Descriptor, len(raw.Models))}
	for _, d := range raw.Models {
		if d.ID == "" || d.Provider == "" {
			return nil, fmt.Errorf("model catalog entry missing id or provider")
		}
		c.byKey[d.Provider+"/"+d.ID] = d
	}

	c.sorted = make([]Descriptor, 0, len(c.byKey))
	for _, d := range c.byKey {
		c.sorted = append(c.sorted, d)
	}
	sort.Slice(c.sorted, func(i, j int) bool {
		if c.sorted[i].Provider != c.sorted[j].Provider {
			return c.sorted[i].Provider < c.sorted[j].Provider
		}
		return c.sorted[i].ID < c.sorted[j].ID
	})

	return c, nil
}

// Get returns the descriptor for (provider, model), if present.
func (c *Catalog) Get(provider, model string) (Descriptor, bool) {
	d, ok := c.byKey[provider+"/"+model]
	return d, ok
}

// List returns all descriptors, sorted by provider then model ID for
// consistent ordering across calls.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, len(c.sorted))
	copy(out, c.sorted)
	return out
}

// ByProvider returns the descriptors belonging to one provider type,
// preserving the catalog's sorted order.
func (c *Catalog) ByProvider(provider string) []Descriptor {
	var out []Descriptor
	for _, d := range c.sorted {
		if d.Provider == provider {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of descriptors in the catalog.
func (c *Catalog) Len() int {
	return len(c.sorted)
}
