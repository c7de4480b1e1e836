// Package groq provides Groq API integration. Groq speaks the OpenAI chat
// completions dialect, so the implementation is shared with the openai
// package; only the endpoint and provider type differ.
package groq

import (
	"llmgate/internal/core"
	"llmgate/internal/providers"
	"llmgate/internal/providers/openai"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

func init() {
	providers.Register("groq", func(cfg core.ProviderConfig) (core.Provider, error) {
		return New(cfg), nil
	})
}

// New creates a Groq provider from a credential pool entry.
func New(cfg core.ProviderConfig) core.Provider {
	return openai.NewCompat("groq", defaultBaseURL, cfg)
}
