package gemini

import (
	"encoding/json"

	"github.com/google/uuid"

	"llmgate/internal/core"
)

// Wire types for the Gemini generateContent API.

type generateRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *functionCall     `json:"functionCall,omitempty"`
	FunctionResponse *functionResponse `json:"functionResponse,omitempty"`
}

type functionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type functionResponse struct {
	Name     string          `json:"name"`
	Response json.RawMessage `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations"`
}

type functionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type generationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string         `json:"modelVersion,omitempty"`
	ResponseID    string         `json:"responseId,omitempty"`
}

type candidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// toWireRequest converts the canonical request into the Gemini shape.
// System messages become systemInstruction; tool-result turns become
// functionResponse parts keyed by tool name.
func toWireRequest(req *core.ChatRequest) *generateRequest {
	out := &generateRequest{}

	if req.Temperature != nil || req.MaxTokens != nil {
		out.GenerationConfig = &generationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		}
	}

	if len(req.Tools) > 0 {
		tool := geminiTool{}
		for _, t := range req.Tools {
			tool.FunctionDeclarations = append(tool.FunctionDeclarations, functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		out.Tools = []geminiTool{tool}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem:
			if out.SystemInstruction == nil {
				out.SystemInstruction = &geminiContent{}
			}
			out.SystemInstruction.Parts = append(out.SystemInstruction.Parts, geminiPart{Text: m.Content})

		case core.RoleAssistant:
			var parts []geminiPart
			if m.Content != "" {
				parts = append(parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, geminiPart{FunctionCall: &functionCall{
					Name: tc.Name,
					Args: json.RawMessage(tc.Arguments),
				}})
			}
			if len(parts) == 0 {
				parts = []geminiPart{{Text: ""}}
			}
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: parts})

		case core.RoleTool:
			out.Contents = append(out.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &functionResponse{
					Name:     m.Name,
					Response: wrapResponse(m.Content),
				}}},
			})

		default:
			out.Contents = append(out.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}

	return out
}

// wrapResponse ensures the tool result is a JSON object, as the API requires.
// Non-object results are wrapped under a "content" key.
func wrapResponse(content string) json.RawMessage {
	trimmed := json.RawMessage(content)
	if json.Valid(trimmed) {
		var probe map[string]any
		if err := json.Unmarshal(trimmed, &probe); err == nil {
			return trimmed
		}
	}
	wrapped, _ := json.Marshal(map[string]string{"content": content})
	return wrapped
}

// fromWireResponse converts a Gemini response into canonical form. Gemini
// does not assign tool call IDs, so the gateway mints them.
func fromWireResponse(resp *generateResponse, model string) *core.ChatResult {
	out := &core.ChatResult{
		ID:       resp.ResponseID,
		Model:    model,
		Provider: "gemini",
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		out.Usage = core.Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	if len(resp.Candidates) == 0 {
		return out
	}
	cand := resp.Candidates[0]
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			args := string(part.FunctionCall.Args)
			if args == "" {
				args = "{}"
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:        "call_" + uuid.NewString(),
				Name:      part.FunctionCall.Name,
				Arguments: args,
			})
		}
	}

	out.FinishReason = mapFinishReason(cand.FinishReason, len(out.ToolCalls) > 0)
	return out
}

// mapFinishReason translates Gemini finish reasons into the canonical
// vocabulary. A turn with function calls always reports tool_calls.
func mapFinishReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_calls"
	}
	switch reason {
	case "STOP":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "":
		return ""
	default:
		return "stop"
	}
}
