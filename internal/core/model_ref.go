package core

import (
	"fmt"
	"strings"
)

// ModelRef is a normalized model reference. Model is always the raw upstream
// model ID; the provider prefix is stripped before any request leaves the
// gateway.
type ModelRef struct {
	Model    string
	Provider string
}

// Qualified returns "provider/model" when Provider is set, or only model
// otherwise.
func (r ModelRef) Qualified() string {
	if r.Provider == "" {
		return r.Model
	}
	return r.Provider + "/" + r.Model
}

// ParseModelRef normalizes model/provider routing input.
//
// Accepted forms:
//   - model only: "gpt-4o"
//   - model with prefix: "openai/gpt-4o"
//   - explicit provider field: provider="openai", model="gpt-4o"
//
// If provider is present in both places, values must match.
func ParseModelRef(model, provider string) (ModelRef, error) {
	model = strings.TrimSpace(model)
	provider = strings.TrimSpace(provider)

	if model == "" {
		return ModelRef{}, fmt.Errorf("model is required")
	}

	prefix, rest, ok := strings.Cut(model, "/")
	if ok {
		prefix = strings.TrimSpace(prefix)
		rest = strings.TrimSpace(rest)
		if prefix != "" && rest != "" {
			if provider != "" && provider != prefix {
				return ModelRef{}, fmt.Errorf("provider field %q conflicts with model prefix %q", provider, prefix)
			}
			provider = prefix
			model = rest
		}
	}

	return ModelRef{Model: model, Provider: provider}, nil
}
