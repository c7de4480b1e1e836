package catalog

import (
	"llmgate/internal/core"
)

// charsPerToken is the rough ratio used when a provider has not yet reported
// real usage. Good enough for context-window admission checks.
const charsPerToken = 4

// messageOverheadTokens accounts for per-message framing the tokenizer adds.
const messageOverheadTokens = 4

// EstimateTokens estimates the token footprint of a message history,
// including tool call payloads.
func EstimateTokens(messages []core.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverheadTokens
		total += len(m.Content) / charsPerToken
		for _, tc := range m.ToolCalls {
			total += (len(tc.Name) + len(tc.Arguments)) / charsPerToken
		}
	}
	return total
}

// EstimateRequestTokens estimates the full request footprint: message history
// plus tool definition schemas, which count against the context window.
func EstimateRequestTokens(req *core.ChatRequest) int {
	total := EstimateTokens(req.Messages)
	for _, t := range req.Tools {
		total += (len(t.Name) + len(t.Description) + len(t.Parameters)) / charsPerToken
	}
	return total
}

// EstimateCost computes the dollar cost for a token count against a
// descriptor's pricing.
func EstimateCost(d Descriptor, inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*d.InputPerMtok/1_000_000 +
		float64(outputTokens)*d.OutputPerMtok/1_000_000
}

// Fits reports whether a request of the given estimated size can be served by
// the model: the context window must hold the prompt plus room for output.
func Fits(d Descriptor, promptTokens int) bool {
	return promptTokens+d.MaxOutputTokens <= d.ContextWindow
}
